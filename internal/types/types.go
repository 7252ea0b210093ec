// Package types defines the core data structures shared by the feedback bridges.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FeedbackSubmission is a single feedback item as captured by the widget.
// Bridges read it but never modify it.
type FeedbackSubmission struct {
	ID          string          `json:"id,omitempty"`
	Feedback    string          `json:"feedback"`
	Title       string          `json:"title,omitempty"`
	Category    Category        `json:"category,omitempty"`
	Status      Status          `json:"status,omitempty"`
	Priority    Priority        `json:"priority,omitempty"`
	Environment Environment     `json:"environment"`
	Screenshots [][]byte        `json:"screenshots,omitempty"`
	Video       []byte          `json:"video,omitempty"`
	EventLogs   []EventLogEntry `json:"eventLogs,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	Reporter    string          `json:"reporter,omitempty"`
	CreatedAt   time.Time       `json:"createdAt,omitempty"`
}

// Validate checks that the submission carries enough data to be relayed.
func (s *FeedbackSubmission) Validate() error {
	if strings.TrimSpace(s.Feedback) == "" && strings.TrimSpace(s.Title) == "" {
		return fmt.Errorf("feedback text is required")
	}
	if s.Category != "" && !s.Category.IsValid() {
		return fmt.Errorf("invalid category: %s", s.Category)
	}
	if s.Priority != "" && !s.Priority.IsValid() {
		return fmt.Errorf("invalid priority: %s", s.Priority)
	}
	return nil
}

// SetDefaults fills in the lifecycle defaults for a freshly captured submission.
func (s *FeedbackSubmission) SetDefaults() {
	if s.Category == "" {
		s.Category = CategoryBug
	}
	if s.Status == "" {
		s.Status = StatusNew
	}
	if s.Priority == "" {
		s.Priority = PriorityMedium
	}
}

// Summary returns the title, or the first line of the feedback text when no
// title was given, truncated to max runes (0 means no limit).
func (s *FeedbackSubmission) Summary(max int) string {
	summary := strings.TrimSpace(s.Title)
	if summary == "" {
		summary = strings.TrimSpace(s.Feedback)
		if i := strings.IndexAny(summary, "\r\n"); i >= 0 {
			summary = strings.TrimSpace(summary[:i])
		}
	}
	if summary == "" {
		summary = "Feedback"
	}
	if max > 0 {
		r := []rune(summary)
		if len(r) > max {
			summary = string(r[:max-3]) + "..."
		}
	}
	return summary
}

// ErrorCount returns the number of console entries logged at error level.
func (s *FeedbackSubmission) ErrorCount() int {
	n := 0
	for _, e := range s.EventLogs {
		if e.Kind == EventConsole && strings.EqualFold(e.Level, "error") {
			n++
		}
	}
	return n
}

// Environment is the browser snapshot taken when feedback was captured.
type Environment struct {
	URL              string   `json:"url,omitempty"`
	UserAgent        string   `json:"userAgent,omitempty"`
	Viewport         Viewport `json:"viewport"`
	Platform         string   `json:"platform,omitempty"`
	Language         string   `json:"language,omitempty"`
	Timezone         string   `json:"timezone,omitempty"`
	ScreenResolution string   `json:"screenResolution,omitempty"`
	PixelRatio       float64  `json:"pixelRatio,omitempty"`
}

// Viewport is the visible browser area in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (v Viewport) String() string {
	if v.Width == 0 && v.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// EventKind tags where an event log entry was recorded.
type EventKind string

const (
	EventConsole   EventKind = "console"
	EventNetwork   EventKind = "network"
	EventStorage   EventKind = "storage"
	EventIndexedDB EventKind = "indexeddb"
)

// EventLogEntry is one structured record from the page session.
// Timestamp is milliseconds relative to the start of capture.
type EventLogEntry struct {
	Kind      EventKind       `json:"type"`
	Level     string          `json:"level,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Category classifies a submission.
type Category string

const (
	CategoryBug         Category = "bug"
	CategoryFeature     Category = "feature"
	CategoryImprovement Category = "improvement"
	CategoryQuestion    Category = "question"
)

// IsValid checks if the category value is valid
func (c Category) IsValid() bool {
	switch c {
	case CategoryBug, CategoryFeature, CategoryImprovement, CategoryQuestion:
		return true
	}
	return false
}

// Status is the local lifecycle state of a submission.
type Status string

const (
	StatusNew        Status = "new"
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
	StatusWontFix    Status = "wont_fix"
)

// AllStatuses lists the local lifecycle in order.
var AllStatuses = []Status{
	StatusNew, StatusOpen, StatusInProgress, StatusResolved, StatusClosed, StatusWontFix,
}

// IsValid checks if the status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusOpen, StatusInProgress, StatusResolved, StatusClosed, StatusWontFix:
		return true
	}
	return false
}

// Priority is the reporter-assigned urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// IsValid checks if the priority value is valid
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Action is the verb carried by an inbound bridge request.
type Action string

const (
	ActionCreate       Action = "create"
	ActionUpdateStatus Action = "updateStatus"
	ActionGetStatus    Action = "getStatus"
	ActionAddComment   Action = "addComment"
)

// IsValid checks if the action value is valid
func (a Action) IsValid() bool {
	switch a {
	case ActionCreate, ActionUpdateStatus, ActionGetStatus, ActionAddComment:
		return true
	}
	return false
}

// ParsedSubmission is the canonical form of an inbound bridge request,
// independent of how the host runtime delivered it. Binary fields of
// Submission are already decoded into byte buffers.
type ParsedSubmission struct {
	Action       Action             `json:"action"`
	Submission   FeedbackSubmission `json:"submission"`
	IssueKey     string             `json:"issueKey,omitempty"`
	TargetStatus string             `json:"status,omitempty"`
	Comment      string             `json:"comment,omitempty"`
	RowIndex     int                `json:"rowIndex,omitempty"`
}

// ExternalIssueRef pairs a local submission with its record in an external
// system. ExternalID is an issue key or a spreadsheet row index.
type ExternalIssueRef struct {
	LocalID    string `json:"localId,omitempty"`
	ExternalID string `json:"externalId"`
	URL        string `json:"url,omitempty"`
	Status     string `json:"status,omitempty"`
}
