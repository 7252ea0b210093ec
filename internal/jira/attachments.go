package jira

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/feedbackkit/fb/internal/attachment"
	"github.com/feedbackkit/fb/internal/transport"
	"github.com/feedbackkit/fb/internal/validation"
)

// Attachment describes an uploaded file.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
	Content  string `json:"content"`
}

// Comment is a created comment.
type Comment struct {
	ID      string `json:"id"`
	Created string `json:"created"`
}

// CreatedAt parses Created, returning the zero time when absent.
func (c *Comment) CreatedAt() time.Time {
	t, _ := ParseTime(c.Created)
	return t
}

// AddAttachment uploads one file to key. contentType may be empty.
func (c *Client) AddAttachment(ctx context.Context, key, filename string, content attachment.Content, contentType string) ([]Attachment, error) {
	body, err := attachment.Encode(filename, content, contentType)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set("Content-Type", body.ContentType())
	// Jira rejects multipart uploads without this XSRF opt-out.
	h.Set("X-Atlassian-Token", "no-check")

	resp, err := c.http.Execute(ctx, http.MethodPost, c.api("issue", key, "attachments"), transport.RequestOptions{
		Headers: h,
		Body:    body.Bytes,
	})
	if err != nil {
		return nil, fmt.Errorf("attach %s to %s: %w", filename, key, err)
	}
	var out []Attachment
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddComment posts text as a single-paragraph comment.
func (c *Client) AddComment(ctx context.Context, key, text string) (*Comment, error) {
	if strings.TrimSpace(text) == "" {
		return nil, validation.Required("comment")
	}
	body := map[string]interface{}{"body": Doc(Paragraph(Text(text)))}
	var out Comment
	if err := c.http.DoJSON(ctx, http.MethodPost, c.api("issue", key, "comment"), body, &out, transport.RequestOptions{}); err != nil {
		return nil, fmt.Errorf("comment on %s: %w", key, err)
	}
	return &out, nil
}
