package sheets

import (
	"fmt"
	"sort"
	"time"

	"github.com/feedbackkit/fb/internal/types"
)

// Column binds a row value key to its header text.
type Column struct {
	Key    string `json:"key" yaml:"key"`
	Header string `json:"header" yaml:"header"`
}

// DefaultColumns is the stock layout, in sheet order.
func DefaultColumns() []Column {
	return []Column{
		{Key: "id", Header: "ID"},
		{Key: "created_at", Header: "Created At"},
		{Key: "category", Header: "Category"},
		{Key: "status", Header: "Status"},
		{Key: "priority", Header: "Priority"},
		{Key: "title", Header: "Title"},
		{Key: "feedback", Header: "Feedback"},
		{Key: "url", Header: "Page URL"},
		{Key: "user_agent", Header: "User Agent"},
		{Key: "viewport", Header: "Viewport"},
		{Key: "screenshots", Header: "Screenshots"},
		{Key: "event_logs", Header: "Event Logs"},
	}
}

// MergeColumns applies overrides (key -> header) to defaults. An override
// for an existing key renames it in place; unknown keys are appended after
// the defaults in key order.
func MergeColumns(defaults []Column, overrides map[string]string) []Column {
	out := make([]Column, 0, len(defaults)+len(overrides))
	known := make(map[string]bool, len(defaults))
	for _, col := range defaults {
		if h, ok := overrides[col.Key]; ok && h != "" {
			col.Header = h
		}
		known[col.Key] = true
		out = append(out, col)
	}

	var extras []string
	for k := range overrides {
		if !known[k] {
			extras = append(extras, k)
		}
	}
	sort.Strings(extras)
	for _, k := range extras {
		h := overrides[k]
		if h == "" {
			h = k
		}
		out = append(out, Column{Key: k, Header: h})
	}
	return out
}

// Headers returns the header row for the client's layout.
func (c *Client) Headers() []string {
	out := make([]string, len(c.columns))
	for i, col := range c.columns {
		out[i] = col.Header
	}
	return out
}

func (c *Client) columnIndex(key string) int {
	for i, col := range c.columns {
		if col.Key == key {
			return i
		}
	}
	return -1
}

// RowValues flattens sub into the keyed values written by AppendRow.
// Metadata entries are included so extra columns can pick them up.
func (c *Client) RowValues(sub *types.FeedbackSubmission) map[string]interface{} {
	v := map[string]interface{}{}
	for k, m := range sub.Metadata {
		v[k] = fmt.Sprint(m)
	}

	created := sub.CreatedAt
	if created.IsZero() {
		created = c.now()
	}
	status := sub.Status
	if status == "" {
		status = types.StatusNew
	}
	category := sub.Category
	if category == "" {
		category = types.CategoryBug
	}

	v["id"] = sub.ID
	v["created_at"] = created.UTC().Format(time.RFC3339)
	v["category"] = string(category)
	v["status"] = c.statuses.ToExternal(status)
	v["priority"] = string(sub.Priority)
	v["title"] = sub.Summary(0)
	v["feedback"] = sub.Feedback
	v["url"] = sub.Environment.URL
	v["user_agent"] = sub.Environment.UserAgent
	v["viewport"] = sub.Environment.Viewport.String()
	v["screenshots"] = len(sub.Screenshots)
	v["event_logs"] = eventLogSummary(sub)
	v["reporter"] = sub.Reporter
	return v
}

func eventLogSummary(sub *types.FeedbackSubmission) string {
	if len(sub.EventLogs) == 0 {
		return ""
	}
	return fmt.Sprintf("%d entries (%d errors)", len(sub.EventLogs), sub.ErrorCount())
}

// row orders values by the column layout. Missing keys become empty cells.
func (c *Client) row(values map[string]interface{}) []interface{} {
	row := make([]interface{}, len(c.columns))
	for i, col := range c.columns {
		if v, ok := values[col.Key]; ok && v != nil {
			row[i] = v
		} else {
			row[i] = ""
		}
	}
	return row
}
