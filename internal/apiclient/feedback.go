package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/feedbackkit/fb/internal/types"
	"github.com/feedbackkit/fb/internal/validation"
)

const feedbackPath = "/api/feedback"

// Feedback is a stored feedback item as the server returns it.
type Feedback struct {
	ID          string            `json:"id"`
	Title       string            `json:"title,omitempty"`
	Feedback    string            `json:"feedback"`
	Category    types.Category    `json:"category,omitempty"`
	Status      types.Status      `json:"status,omitempty"`
	Priority    types.Priority    `json:"priority,omitempty"`
	Environment types.Environment `json:"environment"`
	Reporter    string            `json:"reporter,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
	Screenshots int               `json:"screenshotCount,omitempty"`
	HasVideo    bool              `json:"hasVideo,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt,omitempty"`
}

// ListOptions filters a list call. Zero values are omitted.
type ListOptions struct {
	Status   types.Status
	Category types.Category
	Priority types.Priority
	Search   string
	Since    time.Time
	Limit    int
	Offset   int
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.Status != "" {
		q.Set("status", string(o.Status))
	}
	if o.Category != "" {
		q.Set("category", string(o.Category))
	}
	if o.Priority != "" {
		q.Set("priority", string(o.Priority))
	}
	if o.Search != "" {
		q.Set("search", o.Search)
	}
	if !o.Since.IsZero() {
		q.Set("since", o.Since.UTC().Format(time.RFC3339))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		q.Set("offset", strconv.Itoa(o.Offset))
	}
	return q
}

// ListResult is one page of feedback.
type ListResult struct {
	Items []Feedback `json:"items"`
	Total int        `json:"total"`
}

// CreateRequest is the body of a create call.
type CreateRequest struct {
	Feedback    string            `json:"feedback"`
	Title       string            `json:"title,omitempty"`
	Category    types.Category    `json:"category,omitempty"`
	Priority    types.Priority    `json:"priority,omitempty"`
	Environment types.Environment `json:"environment"`
	Reporter    string            `json:"reporter,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

// UpdateRequest carries the fields to change. Nil fields are left alone.
type UpdateRequest struct {
	Title    *string         `json:"title,omitempty"`
	Feedback *string         `json:"feedback,omitempty"`
	Category *types.Category `json:"category,omitempty"`
	Status   *types.Status   `json:"status,omitempty"`
	Priority *types.Priority `json:"priority,omitempty"`
}

// Stats summarizes the stored feedback.
type Stats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"byStatus"`
	ByCategory map[string]int `json:"byCategory"`
	ByPriority map[string]int `json:"byPriority"`
}

// List returns one page of feedback. The server may answer with a bare
// array or with an envelope keyed feedback, items or data.
func (c *Client) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, feedbackPath, opts.query(), nil, &raw); err != nil {
		return nil, err
	}

	doc := gjson.ParseBytes(raw)
	items := doc
	if !doc.IsArray() {
		items = gjson.Result{}
		for _, key := range []string{"feedback", "items", "data"} {
			if r := doc.Get(key); r.IsArray() {
				items = r
				break
			}
		}
	}

	out := &ListResult{Items: []Feedback{}}
	if items.Exists() {
		if err := json.Unmarshal([]byte(items.Raw), &out.Items); err != nil {
			return nil, fmt.Errorf("decode feedback list: %w", err)
		}
	}
	out.Total = len(out.Items)
	for _, path := range []string{"total", "pagination.total"} {
		if r := doc.Get(path); r.Type == gjson.Number {
			out.Total = int(r.Int())
			break
		}
	}
	return out, nil
}

// Get fetches one item.
func (c *Client) Get(ctx context.Context, id string) (*Feedback, error) {
	if id == "" {
		return nil, validation.Required("id")
	}
	var fb Feedback
	if err := c.getItem(ctx, http.MethodGet, itemPath(id), nil, &fb); err != nil {
		return nil, err
	}
	return &fb, nil
}

// Create stores a new item and returns it as saved.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Feedback, error) {
	if req.Feedback == "" && req.Title == "" {
		return nil, validation.Required("feedback")
	}
	if req.Category != "" && !req.Category.IsValid() {
		return nil, validation.New("category", "invalid category %q", req.Category)
	}
	if req.Priority != "" && !req.Priority.IsValid() {
		return nil, validation.New("priority", "invalid priority %q", req.Priority)
	}
	var fb Feedback
	if err := c.getItem(ctx, http.MethodPost, feedbackPath, req, &fb); err != nil {
		return nil, err
	}
	return &fb, nil
}

// Update patches an item.
func (c *Client) Update(ctx context.Context, id string, req UpdateRequest) (*Feedback, error) {
	if id == "" {
		return nil, validation.Required("id")
	}
	if req.Status != nil && !req.Status.IsValid() {
		return nil, validation.New("status", "invalid status %q", *req.Status)
	}
	var fb Feedback
	if err := c.getItem(ctx, http.MethodPatch, itemPath(id), req, &fb); err != nil {
		return nil, err
	}
	return &fb, nil
}

// UpdateStatus moves an item to status.
func (c *Client) UpdateStatus(ctx context.Context, id string, status types.Status) (*Feedback, error) {
	if id == "" {
		return nil, validation.Required("id")
	}
	if !status.IsValid() {
		return nil, validation.New("status", "invalid status %q", status)
	}
	var fb Feedback
	body := map[string]types.Status{"status": status}
	if err := c.getItem(ctx, http.MethodPatch, itemPath(id)+"/status", body, &fb); err != nil {
		return nil, err
	}
	return &fb, nil
}

// Delete removes an item.
func (c *Client) Delete(ctx context.Context, id string) error {
	if id == "" {
		return validation.Required("id")
	}
	return c.do(ctx, http.MethodDelete, itemPath(id), nil, nil, nil)
}

// Stats returns aggregate counts.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	if err := c.getItem(ctx, http.MethodGet, feedbackPath+"/stats", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// getItem unwraps single-object responses that arrive either bare or inside
// a {"feedback": ...} / {"data": ...} envelope.
func (c *Client) getItem(ctx context.Context, method, path string, in, out interface{}) error {
	var raw json.RawMessage
	if err := c.do(ctx, method, path, nil, in, &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}
	doc := gjson.ParseBytes(raw)
	for _, key := range []string{"feedback", "data", "stats"} {
		if r := doc.Get(key); r.IsObject() {
			return json.Unmarshal([]byte(r.Raw), out)
		}
	}
	return json.Unmarshal(raw, out)
}

func itemPath(id string) string {
	return feedbackPath + "/" + url.PathEscape(id)
}
