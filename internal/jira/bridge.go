package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/feedbackkit/fb/internal/attachment"
	"github.com/feedbackkit/fb/internal/bridge"
	"github.com/feedbackkit/fb/internal/types"
	"github.com/feedbackkit/fb/internal/validation"
)

// Name implements bridge.Bridge.
func (c *Client) Name() string { return "jira" }

// Handle implements bridge.Bridge.
func (c *Client) Handle(ctx context.Context, ps *types.ParsedSubmission) (*bridge.Result, error) {
	switch ps.Action {
	case types.ActionCreate:
		return c.handleCreate(ctx, &ps.Submission)
	case types.ActionUpdateStatus:
		return c.handleUpdateStatus(ctx, ps)
	case types.ActionGetStatus:
		return c.handleGetStatus(ctx, ps)
	case types.ActionAddComment:
		if ps.IssueKey == "" {
			return nil, validation.Required("issueKey")
		}
		if _, err := c.AddComment(ctx, ps.IssueKey, ps.Comment); err != nil {
			return nil, err
		}
		return &bridge.Result{Action: ps.Action, Ref: c.ref(ps.IssueKey, "")}, nil
	}
	return nil, validation.New("action", "unsupported action %q", ps.Action)
}

func (c *Client) ref(key, status string) *types.ExternalIssueRef {
	return &types.ExternalIssueRef{ExternalID: key, URL: c.BrowseURL(key), Status: status}
}

func (c *Client) handleCreate(ctx context.Context, sub *types.FeedbackSubmission) (*bridge.Result, error) {
	ref, warnings, err := c.createIssue(ctx, sub)
	if ref == nil {
		return nil, err
	}
	res := &bridge.Result{
		Action:      types.ActionCreate,
		Ref:         ref,
		Status:      ref.Status,
		LocalStatus: c.statuses.ToLocal(ref.Status),
		Warnings:    warnings,
	}
	if err != nil {
		return res, err
	}

	for _, f := range Files(sub) {
		if _, err := c.AddAttachment(ctx, ref.ExternalID, f.Name, attachment.Bytes(f.Data), f.ContentType); err != nil {
			return res, fmt.Errorf("issue %s created but upload failed: %w", ref.ExternalID, err)
		}
		res.Attachments++
	}
	return res, nil
}

func (c *Client) handleUpdateStatus(ctx context.Context, ps *types.ParsedSubmission) (*bridge.Result, error) {
	if ps.IssueKey == "" {
		return nil, validation.Required("issueKey")
	}
	// A local status name is mapped; anything else is taken as a Jira name.
	target := ps.TargetStatus
	if local := types.Status(target); local.IsValid() {
		target = c.statuses.ToExternal(local)
	}
	t, err := c.TransitionIssue(ctx, ps.IssueKey, target)
	if err != nil {
		return nil, err
	}
	return &bridge.Result{
		Action:      ps.Action,
		Ref:         c.ref(ps.IssueKey, t.To.Name),
		Status:      t.To.Name,
		LocalStatus: c.statuses.ToLocal(t.To.Name),
	}, nil
}

func (c *Client) handleGetStatus(ctx context.Context, ps *types.ParsedSubmission) (*bridge.Result, error) {
	if ps.IssueKey == "" {
		return nil, validation.Required("issueKey")
	}
	name, err := c.GetIssueStatus(ctx, ps.IssueKey)
	if err != nil {
		return nil, err
	}
	return &bridge.Result{
		Action:      ps.Action,
		Ref:         c.ref(ps.IssueKey, name),
		Status:      name,
		LocalStatus: c.statuses.ToLocal(name),
	}, nil
}

// File is one upload derived from a submission.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Files lists the screenshots, recording and event log of sub as uploads.
func Files(sub *types.FeedbackSubmission) []File {
	var files []File
	for i, shot := range sub.Screenshots {
		if len(shot) == 0 {
			continue
		}
		ct := http.DetectContentType(shot)
		files = append(files, File{
			Name:        fmt.Sprintf("screenshot-%d%s", i+1, extensionFor(ct, ".png")),
			ContentType: ct,
			Data:        shot,
		})
	}
	if len(sub.Video) > 0 {
		ct := http.DetectContentType(sub.Video)
		if ct == "application/octet-stream" {
			ct = "video/webm"
		}
		files = append(files, File{Name: "recording" + extensionFor(ct, ".webm"), ContentType: ct, Data: sub.Video})
	}
	if len(sub.EventLogs) > 0 {
		if data, err := json.MarshalIndent(sub.EventLogs, "", "  "); err == nil {
			files = append(files, File{Name: "event-logs.json", ContentType: "application/json", Data: data})
		}
	}
	return files
}

func extensionFor(contentType, fallback string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/webm":
		return ".webm"
	case "video/mp4":
		return ".mp4"
	}
	return fallback
}

var _ bridge.Bridge = (*Client)(nil)
