package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/feedbackkit/fb/internal/transport"
	"github.com/feedbackkit/fb/internal/types"
	"github.com/feedbackkit/fb/internal/validation"
)

// Issue represents a Jira issue from the REST API.
type Issue struct {
	ID     string      `json:"id"`
	Key    string      `json:"key"`
	Self   string      `json:"self"`
	Fields IssueFields `json:"fields"`
}

// IssueFields contains the fields of a Jira issue.
type IssueFields struct {
	Summary     string          `json:"summary"`
	Description json.RawMessage `json:"description"` // ADF (Atlassian Document Format) or plain text
	Status      *NamedField     `json:"status"`
	Priority    *NamedField     `json:"priority"`
	IssueType   *NamedField     `json:"issuetype"`
	Labels      []string        `json:"labels"`
	Created     string          `json:"created"`
	Updated     string          `json:"updated"`
}

// NamedField is the {id, name} shape shared by status, priority and issue type.
type NamedField struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// DescriptionText returns the description with ADF markup stripped.
func (i *Issue) DescriptionText() string {
	return DescriptionToPlainText(i.Fields.Description)
}

// UpdatedAt parses Fields.Updated, returning the zero time when absent.
func (i *Issue) UpdatedAt() time.Time {
	t, _ := ParseTime(i.Fields.Updated)
	return t
}

// StatusName returns the issue's current status, or "".
func (i *Issue) StatusName() string {
	if i.Fields.Status == nil {
		return ""
	}
	return i.Fields.Status.Name
}

// IssuePayload is the body of a create request. Status is not a creatable
// field in Jira; it is the mapped initial status applied by a transition
// after creation.
type IssuePayload struct {
	Fields map[string]interface{} `json:"fields"`
	Status string                 `json:"-"`
}

type createdIssue struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Self string `json:"self"`
}

var categoryIssueTypes = map[types.Category]string{
	types.CategoryBug:         "Bug",
	types.CategoryFeature:     "Story",
	types.CategoryImprovement: "Improvement",
	types.CategoryQuestion:    "Task",
}

// IssueTypeFor returns the issue type used for a category.
func (c *Client) IssueTypeFor(cat types.Category) string {
	if c.issueType != "" {
		return c.issueType
	}
	if t, ok := categoryIssueTypes[cat]; ok {
		return t
	}
	return "Task"
}

// BuildIssuePayload maps a submission onto create fields.
func (c *Client) BuildIssuePayload(sub *types.FeedbackSubmission) IssuePayload {
	fields := map[string]interface{}{
		"project":     map[string]string{"key": c.projectKey},
		"summary":     sub.Summary(maxSummary),
		"issuetype":   map[string]string{"name": c.IssueTypeFor(sub.Category)},
		"description": Description(sub),
		"labels":      c.labelsFor(sub),
	}
	if sub.Priority != "" {
		if name, ok := c.priorities[sub.Priority]; ok {
			fields["priority"] = map[string]string{"name": name}
		}
	}

	status := sub.Status
	if status == "" {
		status = types.StatusNew
	}
	return IssuePayload{Fields: fields, Status: c.statuses.ToExternal(status)}
}

func (c *Client) labelsFor(sub *types.FeedbackSubmission) []string {
	labels := []string{"feedback"}
	if sub.Category != "" {
		labels = append(labels, string(sub.Category))
	}
	seen := map[string]bool{}
	for _, l := range labels {
		seen[l] = true
	}
	for _, l := range c.labels {
		// Jira labels cannot contain spaces.
		l = strings.ReplaceAll(strings.TrimSpace(l), " ", "-")
		if l != "" && !seen[l] {
			seen[l] = true
			labels = append(labels, l)
		}
	}
	return labels
}

// Description renders the submission as an ADF document: the feedback text,
// an environment list, recent console errors and metadata.
func Description(sub *types.FeedbackSubmission) Node {
	var blocks []Node
	if text := strings.TrimSpace(sub.Feedback); text != "" {
		blocks = append(blocks, paragraphs(text)...)
	}
	if sub.Reporter != "" {
		blocks = append(blocks, Paragraph(Text("Reported by: ", "strong"), Text(sub.Reporter)))
	}

	env := sub.Environment
	var items [][]Node
	add := func(label, value string) {
		if value != "" {
			items = append(items, []Node{Text(label+": ", "strong"), Text(value)})
		}
	}
	add("Page URL", env.URL)
	add("User agent", env.UserAgent)
	add("Viewport", env.Viewport.String())
	add("Platform", env.Platform)
	add("Language", env.Language)
	add("Timezone", env.Timezone)
	add("Screen", env.ScreenResolution)
	if env.PixelRatio > 0 {
		add("Pixel ratio", fmt.Sprintf("%g", env.PixelRatio))
	}
	if len(items) > 0 {
		blocks = append(blocks, Heading(3, "Environment"), BulletList(items...))
	}

	if n := len(sub.EventLogs); n > 0 {
		blocks = append(blocks, Heading(3, "Event logs"),
			Paragraph(Text(fmt.Sprintf("%d entries, %d errors. Full log attached as event-logs.json.", n, sub.ErrorCount()))))
		var errs []string
		for _, e := range sub.EventLogs {
			if e.Kind == types.EventConsole && strings.EqualFold(e.Level, "error") {
				errs = append(errs, fmt.Sprintf("[%dms] %s", e.Timestamp, e.Message))
			}
		}
		if len(errs) > maxLoggedErrors {
			errs = errs[len(errs)-maxLoggedErrors:]
		}
		if len(errs) > 0 {
			blocks = append(blocks, CodeBlock("text", strings.Join(errs, "\n")))
		}
	}

	if len(sub.Metadata) > 0 {
		keys := make([]string, 0, len(sub.Metadata))
		for k := range sub.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var meta [][]Node
		for _, k := range keys {
			meta = append(meta, []Node{Text(k+": ", "strong"), Text(fmt.Sprint(sub.Metadata[k]))})
		}
		blocks = append(blocks, Heading(3, "Metadata"), BulletList(meta...))
	}

	if len(blocks) == 0 {
		blocks = append(blocks, Paragraph(Text("(no description)")))
	}
	return Doc(blocks...)
}

const maxLoggedErrors = 20

// CreateIssue creates an issue for sub and moves it to the mapped initial
// status when Jira created it elsewhere.
func (c *Client) CreateIssue(ctx context.Context, sub *types.FeedbackSubmission) (*types.ExternalIssueRef, error) {
	ref, _, err := c.createIssue(ctx, sub)
	return ref, err
}

// createIssue also reports non-fatal problems met while aligning the status.
func (c *Client) createIssue(ctx context.Context, sub *types.FeedbackSubmission) (*types.ExternalIssueRef, []string, error) {
	if c.projectKey == "" {
		return nil, nil, validation.Required("projectKey")
	}
	payload := c.BuildIssuePayload(sub)

	var created createdIssue
	if err := c.http.DoJSON(ctx, http.MethodPost, c.api("issue"), payload, &created, transport.RequestOptions{}); err != nil {
		return nil, nil, fmt.Errorf("create issue: %w", err)
	}
	if created.Key == "" {
		return nil, nil, fmt.Errorf("create issue: response carried no key")
	}
	c.log.WithField("key", created.Key).Info("created issue")

	ref := &types.ExternalIssueRef{
		LocalID:    sub.ID,
		ExternalID: created.Key,
		URL:        c.BrowseURL(created.Key),
	}

	var warnings []string
	status, err := c.GetIssueStatus(ctx, created.Key)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("read status of %s: %v", created.Key, err))
		ref.Status = payload.Status
		return ref, warnings, nil
	}
	ref.Status = status

	if payload.Status != "" && !strings.EqualFold(status, payload.Status) {
		t, err := c.TransitionIssue(ctx, created.Key, payload.Status)
		switch {
		case errors.Is(err, ErrTransitionNotFound):
			c.log.WithField("key", created.Key).Warnf("initial status not applied: %v", err)
			warnings = append(warnings, err.Error())
		case err != nil:
			return ref, warnings, fmt.Errorf("apply initial status to %s: %w", created.Key, err)
		default:
			ref.Status = t.To.Name
		}
	}
	return ref, warnings, nil
}

// GetIssue fetches a single issue by key.
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	resp, err := c.http.Execute(ctx, http.MethodGet, c.api("issue", key), transport.RequestOptions{})
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", key, err)
	}
	var issue Issue
	if err := resp.JSON(&issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// GetIssueStatus returns the current status name of key.
func (c *Client) GetIssueStatus(ctx context.Context, key string) (string, error) {
	resp, err := c.http.Execute(ctx, http.MethodGet, c.api("issue", key)+"?fields=status", transport.RequestOptions{})
	if err != nil {
		return "", fmt.Errorf("get issue %s: %w", key, err)
	}
	name := gjson.GetBytes(resp.Body, "fields.status.name")
	if !name.Exists() {
		return "", fmt.Errorf("issue %s: response carried no status", key)
	}
	return name.String(), nil
}

// GetLocalStatus returns the status of key in local terms.
func (c *Client) GetLocalStatus(ctx context.Context, key string) (types.Status, error) {
	name, err := c.GetIssueStatus(ctx, key)
	if err != nil {
		return "", err
	}
	return c.statuses.ToLocal(name), nil
}
