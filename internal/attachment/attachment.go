// Package attachment builds multipart/form-data bodies for a single file.
//
// The byte layout is produced by hand rather than through mime/multipart so
// the exact framing the tracker APIs expect stays under test:
//
//	--B\r\n
//	Content-Disposition: form-data; name="file"; filename="F"\r\n
//	Content-Type: T\r\n
//	\r\n
//	<bytes>\r\n
//	--B--\r\n
package attachment

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/feedbackkit/fb/internal/validation"
)

// DefaultField is the form field name used by Encode.
const DefaultField = "file"

// DefaultContentType is used when neither the caller nor a data URL names one.
const DefaultContentType = "application/octet-stream"

const (
	boundaryPrefix   = "----FormBoundary"
	boundaryAttempts = 8
)

// Content is raw bytes or an encoded string. Use Bytes or String to build one.
type Content struct {
	raw     []byte
	encoded string
	isText  bool
}

// Bytes wraps a raw payload.
func Bytes(b []byte) Content { return Content{raw: b} }

// String wraps a data: URL or bare base64 string.
func String(s string) Content { return Content{encoded: s, isText: true} }

// Body is an encoded multipart payload.
type Body struct {
	Bytes    []byte
	Boundary string
}

// ContentType returns the header value announcing b's boundary.
func (b *Body) ContentType() string {
	return "multipart/form-data; boundary=" + b.Boundary
}

// Encode builds a multipart body holding one file under the "file" field.
func Encode(filename string, content Content, contentType string) (*Body, error) {
	return EncodeField(DefaultField, filename, content, contentType)
}

// EncodeField is Encode with a custom form field name.
func EncodeField(field, filename string, content Content, contentType string) (*Body, error) {
	if strings.TrimSpace(field) == "" {
		return nil, validation.Required("field")
	}
	if strings.TrimSpace(filename) == "" {
		return nil, validation.Required("filename")
	}
	if strings.ContainsAny(filename, "\"\r\n") || strings.ContainsAny(field, "\"\r\n") {
		return nil, validation.New("filename", "must not contain quotes or line breaks")
	}

	data, mediaType, err := content.decode()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, validation.New("content", "decoded attachment is empty")
	}

	if contentType == "" {
		contentType = mediaType
	}
	if contentType == "" {
		contentType = DetectContentType(filename)
	}
	if _, _, err := mime.ParseMediaType(contentType); err != nil {
		return nil, validation.New("contentType", "unsupported content type %q", contentType)
	}

	boundary, err := pickBoundary(data)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(data) + 256)
	buf.WriteString("--" + boundary + "\r\n")
	fmt.Fprintf(&buf, "Content-Disposition: form-data; name=%q; filename=%q\r\n", field, filename)
	buf.WriteString("Content-Type: " + contentType + "\r\n\r\n")
	buf.Write(data)
	buf.WriteString("\r\n--" + boundary + "--\r\n")

	return &Body{Bytes: buf.Bytes(), Boundary: boundary}, nil
}

// NewBoundary returns a random boundary token. Randomness is for collision
// avoidance only.
func NewBoundary() string {
	return boundaryPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func pickBoundary(data []byte) (string, error) {
	for i := 0; i < boundaryAttempts; i++ {
		b := NewBoundary()
		if !bytes.Contains(data, []byte(b)) {
			return b, nil
		}
	}
	return "", fmt.Errorf("could not generate a boundary absent from the payload")
}

func (c Content) decode() ([]byte, string, error) {
	if !c.isText {
		return c.raw, "", nil
	}
	return DecodeString(c.encoded)
}

// DecodeString decodes a data: URL (everything after the first comma is
// base64) or a bare base64 string. It returns the bytes and, for data URLs,
// the declared media type.
func DecodeString(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	mediaType := ""
	if strings.HasPrefix(strings.ToLower(s), "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, "", validation.New("content", "data URL has no payload")
		}
		meta := s[len("data:"):comma]
		if semi := strings.IndexByte(meta, ';'); semi >= 0 {
			meta = meta[:semi]
		}
		mediaType = strings.TrimSpace(meta)
		s = s[comma+1:]
	}
	data, err := decodeBase64(s)
	if err != nil {
		return nil, "", validation.New("content", "invalid base64: %v", err)
	}
	return data, mediaType, nil
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, nil
	}
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var firstErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

var extensionTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".webm": "video/webm",
	".mp4":  "video/mp4",
	".json": "application/json",
	".txt":  "text/plain",
	".log":  "text/plain",
}

// DetectContentType guesses a media type from the file extension.
func DetectContentType(filename string) string {
	if ct, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return DefaultContentType
}
