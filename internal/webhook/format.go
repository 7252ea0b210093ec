// Package webhook reshapes submissions into flat JSON payloads for generic
// automation consumers (Zapier, Make, n8n and the like). Nothing here makes
// network calls.
package webhook

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/sjson"

	"github.com/feedbackkit/fb/internal/types"
)

// Options tunes Format.
type Options struct {
	// Rename maps a flat field name to the name the consumer expects.
	Rename map[string]string
	// Extra fields are set verbatim after the submission fields.
	Extra map[string]interface{}
}

type field struct {
	key   string
	value interface{}
}

// fields lists the flattened submission in output order.
func fields(sub *types.FeedbackSubmission) []field {
	env := sub.Environment
	out := []field{
		{"id", sub.ID},
		{"text", sub.Feedback},
		{"title", sub.Summary(0)},
		{"type", string(sub.Category)},
		{"status", string(sub.Status)},
		{"priority", string(sub.Priority)},
		{"page_url", env.URL},
		{"user_agent", env.UserAgent},
		{"viewport_width", env.Viewport.Width},
		{"viewport_height", env.Viewport.Height},
		{"viewport", env.Viewport.String()},
		{"platform", env.Platform},
		{"language", env.Language},
		{"timezone", env.Timezone},
		{"reporter", sub.Reporter},
		{"screenshot_count", len(sub.Screenshots)},
		{"has_video", len(sub.Video) > 0},
		{"event_log_count", len(sub.EventLogs)},
		{"error_count", sub.ErrorCount()},
	}
	created := ""
	if !sub.CreatedAt.IsZero() {
		created = sub.CreatedAt.UTC().Format(time.RFC3339)
	}
	out = append(out, field{"created_at", created})

	keys := make([]string, 0, len(sub.Metadata))
	for k := range sub.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := scalar(sub.Metadata[k]); ok {
			out = append(out, field{"meta_" + k, v})
		}
	}
	return out
}

// scalar keeps strings, numbers and booleans; nested values are dropped.
func scalar(v interface{}) (interface{}, bool) {
	switch v.(type) {
	case string, bool, float64, float32, int, int64, int32, uint, uint64, uint32:
		return v, true
	}
	return nil, false
}

// Flatten returns the flat payload as a map.
func Flatten(sub *types.FeedbackSubmission) map[string]interface{} {
	fs := fields(sub)
	out := make(map[string]interface{}, len(fs))
	for _, f := range fs {
		out[f.key] = f.value
	}
	return out
}

// Format renders the flat payload as a JSON object.
func Format(sub *types.FeedbackSubmission, opts Options) ([]byte, error) {
	doc := []byte(`{}`)
	var err error
	for _, f := range fields(sub) {
		key := f.key
		if r, ok := opts.Rename[key]; ok && r != "" {
			key = r
		}
		if doc, err = sjson.SetBytes(doc, escapePath(key), f.value); err != nil {
			return nil, fmt.Errorf("set %s: %w", key, err)
		}
	}

	extra := make([]string, 0, len(opts.Extra))
	for k := range opts.Extra {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	for _, k := range extra {
		if doc, err = sjson.SetBytes(doc, escapePath(k), opts.Extra[k]); err != nil {
			return nil, fmt.Errorf("set %s: %w", k, err)
		}
	}
	return doc, nil
}

// FormatStatusChange renders a status transition event.
func FormatStatusChange(ref types.ExternalIssueRef, from, to types.Status) ([]byte, error) {
	doc := []byte(`{}`)
	var err error
	for _, f := range []field{
		{"event", "status_changed"},
		{"id", ref.LocalID},
		{"external_id", ref.ExternalID},
		{"url", ref.URL},
		{"external_status", ref.Status},
		{"from", string(from)},
		{"to", string(to)},
	} {
		if doc, err = sjson.SetBytes(doc, f.key, f.value); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

var pathEscaper = strings.NewReplacer(
	`\`, `\\`, `.`, `\.`, `*`, `\*`, `?`, `\?`, `|`, `\|`, `#`, `\#`, `@`, `\@`, `:`, `\:`,
)

// escapePath makes key a literal sjson path component.
func escapePath(key string) string {
	return pathEscaper.Replace(key)
}
