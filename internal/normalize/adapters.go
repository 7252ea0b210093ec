package normalize

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
)

// MaxFormMemory bounds the in-memory portion of a multipart body.
const MaxFormMemory = 32 << 20

// HTTPRequest adapts a net/http request. It reads JSON when the content type
// says so and form data otherwise.
func HTTPRequest(r *http.Request) interface{} {
	return &httpRequest{r: r}
}

type httpRequest struct {
	r *http.Request
}

func (h *httpRequest) ContentType() string {
	return h.r.Header.Get("Content-Type")
}

func (h *httpRequest) ReadJSON(v interface{}) error {
	if h.r.Body == nil {
		return fmt.Errorf("empty body")
	}
	defer func() { _ = h.r.Body.Close() }()
	return json.NewDecoder(h.r.Body).Decode(v)
}

func (h *httpRequest) ReadForm() (*Form, error) {
	mt, _, _ := mime.ParseMediaType(h.ContentType())
	switch mt {
	case "multipart/form-data":
		if err := h.r.ParseMultipartForm(MaxFormMemory); err != nil {
			return nil, err
		}
		return FromMultipart(h.r.MultipartForm)
	case "application/x-www-form-urlencoded":
		if err := h.r.ParseForm(); err != nil {
			return nil, err
		}
		return &Form{Values: h.r.PostForm, Files: map[string][][]byte{}}, nil
	}
	return nil, fmt.Errorf("unsupported content type %q", h.ContentType())
}

// FromMultipart reads every file part of a parsed multipart form into memory.
func FromMultipart(mf *multipart.Form) (*Form, error) {
	form := &Form{Values: map[string][]string{}, Files: map[string][][]byte{}}
	if mf == nil {
		return form, nil
	}
	for k, v := range mf.Value {
		form.Values[k] = v
	}
	for k, headers := range mf.File {
		for _, fh := range headers {
			b, err := readFileHeader(fh)
			if err != nil {
				return nil, fmt.Errorf("read form file %s: %w", k, err)
			}
			form.Files[k] = append(form.Files[k], b)
		}
	}
	return form, nil
}

func readFileHeader(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// Prebound wraps a body some middleware already decoded. body may be a JSON
// string or bytes, a map, or any JSON-marshalable value.
func Prebound(body interface{}) interface{} {
	return prebound{body: body}
}

type prebound struct {
	body interface{}
}

func (p prebound) ParsedBody() interface{} { return p.body }

// FormRequest wraps an already-split form, for hosts that hand over fields
// and files directly.
func FormRequest(values map[string][]string, files map[string][][]byte) interface{} {
	if values == nil {
		values = map[string][]string{}
	}
	if files == nil {
		files = map[string][][]byte{}
	}
	return formRequest{form: &Form{Values: values, Files: files}}
}

type formRequest struct {
	form *Form
}

func (f formRequest) ReadForm() (*Form, error) { return f.form, nil }
