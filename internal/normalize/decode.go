package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/feedbackkit/fb/internal/attachment"
	"github.com/feedbackkit/fb/internal/debug"
	"github.com/feedbackkit/fb/internal/types"
	"github.com/feedbackkit/fb/internal/validation"
)

// decodeSubmission maps the feedbackData object. Binary fields may arrive as
// byte slices (form parts) or as data URL / base64 strings (JSON).
func (p *Parser) decodeSubmission(d map[string]interface{}) (*types.FeedbackSubmission, error) {
	sub := &types.FeedbackSubmission{
		ID:       str(d, "id"),
		Feedback: str(d, "feedback", "description", "text"),
		Title:    str(d, "title"),
		Category: types.Category(strings.ToLower(str(d, "category", "type"))),
		Status:   types.Status(strings.ToLower(str(d, "status"))),
		Priority: types.Priority(strings.ToLower(str(d, "priority"))),
		Reporter: reporter(d["reporter"]),
	}

	sub.Environment = environment(d)

	shots, err := screenshots(d)
	if err != nil {
		return nil, err
	}
	sub.Screenshots = shots

	if v, ok := d["video"]; ok && v != nil {
		b, err := blob("video", v)
		if err != nil {
			return nil, err
		}
		sub.Video = b
	}

	sub.EventLogs = p.eventLogs(d["eventLogs"])

	if m, ok := d["metadata"].(map[string]interface{}); ok && len(m) > 0 {
		sub.Metadata = m
	}

	created, err := timestamp(d["createdAt"])
	if err != nil {
		return nil, validation.New("createdAt", "%v", err)
	}
	sub.CreatedAt = created

	return sub, nil
}

func environment(d map[string]interface{}) types.Environment {
	env := types.Environment{}
	src := d
	if e, ok := d["environment"].(map[string]interface{}); ok {
		src = e
	}
	env.URL = str(src, "url", "pageUrl")
	env.UserAgent = str(src, "userAgent")
	env.Platform = str(src, "platform")
	env.Language = str(src, "language")
	env.Timezone = str(src, "timezone")
	env.ScreenResolution = str(src, "screenResolution")
	env.PixelRatio = floatVal(src["pixelRatio"])
	env.Viewport = viewport(src["viewport"])

	// Flattened fallbacks on the submission itself.
	if env.URL == "" {
		env.URL = str(d, "url", "pageUrl")
	}
	if env.UserAgent == "" {
		env.UserAgent = str(d, "userAgent")
	}
	if env.Viewport == (types.Viewport{}) {
		env.Viewport = viewport(d["viewport"])
	}
	return env
}

func viewport(v interface{}) types.Viewport {
	switch vp := v.(type) {
	case map[string]interface{}:
		return types.Viewport{Width: intVal(vp["width"]), Height: intVal(vp["height"])}
	case string:
		var w, h int
		if _, err := fmt.Sscanf(strings.ToLower(vp), "%dx%d", &w, &h); err == nil {
			return types.Viewport{Width: w, Height: h}
		}
		var m map[string]interface{}
		if json.Unmarshal([]byte(vp), &m) == nil {
			return viewport(m)
		}
	}
	return types.Viewport{}
}

func reporter(v interface{}) string {
	switch r := v.(type) {
	case string:
		return r
	case map[string]interface{}:
		return str(r, "email", "name")
	}
	return ""
}

func screenshots(d map[string]interface{}) ([][]byte, error) {
	var items []interface{}
	switch s := d["screenshots"].(type) {
	case []interface{}:
		items = append(items, s...)
	case nil:
	default:
		items = append(items, s)
	}
	if single, ok := d["screenshot"]; ok && single != nil {
		items = append(items, single)
	}

	var out [][]byte
	for i, item := range items {
		b, err := blob(fmt.Sprintf("screenshots[%d]", i), item)
		if err != nil {
			return nil, err
		}
		if len(b) > 0 {
			out = append(out, b)
		}
	}
	return out, nil
}

// blob materializes a binary field.
func blob(field string, v interface{}) ([]byte, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		if strings.TrimSpace(b) == "" {
			return nil, nil
		}
		data, _, err := attachment.DecodeString(b)
		if err != nil {
			return nil, validation.New(field, "%v", err)
		}
		return data, nil
	case nil:
		return nil, nil
	}
	return nil, validation.New(field, "unsupported binary value %T", v)
}

// eventLogs never fails: anything unparseable becomes an empty list.
func (p *Parser) eventLogs(v interface{}) []types.EventLogEntry {
	var items []interface{}
	switch l := v.(type) {
	case nil:
		return nil
	case []interface{}:
		items = l
	case string, []byte:
		var raw []byte
		if s, ok := l.(string); ok {
			raw = []byte(s)
		} else {
			raw = l.([]byte)
		}
		if err := json.Unmarshal(raw, &items); err != nil {
			debug.Or(p.Log).WithError(err).Warn("event logs are not valid JSON, using empty list")
			return []types.EventLogEntry{}
		}
	default:
		debug.Or(p.Log).Warnf("event logs have unexpected type %T, using empty list", v)
		return []types.EventLogEntry{}
	}

	out := make([]types.EventLogEntry, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		entry := types.EventLogEntry{
			Kind:      types.EventKind(strings.ToLower(str(m, "type", "kind"))),
			Level:     str(m, "level"),
			Message:   str(m, "message"),
			Timestamp: int64(floatVal(m["timestamp"])),
		}
		if data, ok := m["data"]; ok && data != nil {
			if b, err := json.Marshal(data); err == nil {
				entry.Data = b
			}
		}
		out = append(out, entry)
	}
	return out
}

// timestamp accepts RFC 3339 strings or Unix milliseconds.
func timestamp(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case string:
		if t == "" {
			return time.Time{}, nil
		}
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q", t)
		}
		return parsed.UTC(), nil
	case float64:
		return time.UnixMilli(int64(t)).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp type %T", v)
}

// str returns the first key holding a non-empty scalar, rendered as a string.
func str(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func floatVal(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func intVal(v interface{}) int {
	return int(math.Round(floatVal(v)))
}
