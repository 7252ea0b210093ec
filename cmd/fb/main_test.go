package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedbackkit/fb/internal/apiclient"
	"github.com/feedbackkit/fb/internal/credentials"
	"github.com/feedbackkit/fb/internal/jira"
	"github.com/feedbackkit/fb/internal/sheets"
	"github.com/feedbackkit/fb/internal/statusmap"
	"github.com/feedbackkit/fb/internal/testutil"
	"github.com/feedbackkit/fb/internal/transport"
	"github.com/feedbackkit/fb/internal/types"
	"github.com/feedbackkit/fb/internal/ui"
	"github.com/feedbackkit/fb/internal/validation"
)

// mapSettings stands in for the config package.
type mapSettings map[string]string

func (m mapSettings) GetString(key string) string { return m[key] }
func (m mapSettings) GetBool(key string) bool     { return m[key] == "true" }

func (m mapSettings) GetStringSlice(key string) []string {
	var out []string
	for _, s := range strings.Split(m[key], ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (m mapSettings) Flat(prefix string) map[string]string {
	out := map[string]string{}
	for k, v := range m {
		if k == prefix || strings.HasPrefix(k, prefix+".") {
			out[k] = v
		}
	}
	return out
}

func testDeps() bridgeDeps {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return bridgeDeps{Logger: l, Lookup: credentials.MapLookup(nil)}
}

func TestListOptionsFromFlags(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		args      []string
		wantField string
		check     func(t *testing.T, o apiclient.ListOptions)
	}{
		{
			name: "filters",
			args: []string{"--status", "open", "-c", "bug", "--priority", "high", "--search", "checkout", "-n", "10"},
			check: func(t *testing.T, o apiclient.ListOptions) {
				assert.Equal(t, types.StatusOpen, o.Status)
				assert.Equal(t, types.CategoryBug, o.Category)
				assert.Equal(t, types.PriorityHigh, o.Priority)
				assert.Equal(t, "checkout", o.Search)
				assert.Equal(t, 10, o.Limit)
				assert.True(t, o.Since.IsZero())
			},
		},
		{
			name: "compact since",
			args: []string{"--since", "-2d"},
			check: func(t *testing.T, o apiclient.ListOptions) {
				assert.Equal(t, now.AddDate(0, 0, -2), o.Since)
			},
		},
		{
			name: "unsigned since counts back",
			args: []string{"--since", "3h"},
			check: func(t *testing.T, o apiclient.ListOptions) {
				assert.Equal(t, now.Add(-3*time.Hour), o.Since)
			},
		},
		{
			name: "absolute since",
			args: []string{"--since", "2026-03-01T00:00:00Z"},
			check: func(t *testing.T, o apiclient.ListOptions) {
				assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), o.Since.UTC())
			},
		},
		{name: "bad status", args: []string{"--status", "pending"}, wantField: "status"},
		{name: "bad category", args: []string{"--category", "rant"}, wantField: "category"},
		{name: "bad priority", args: []string{"--priority", "urgent"}, wantField: "priority"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := &cobra.Command{Use: "list"}
			registerListFlags(cmd)
			require.NoError(t, cmd.ParseFlags(tt.args))

			opts, err := listOptionsFromFlags(cmd, now)
			if tt.wantField != "" {
				var verr *validation.Error
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.wantField, verr.Field)
				return
			}
			require.NoError(t, err)
			tt.check(t, opts)
		})
	}
}

func TestCreateRequestFromFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "create"}
	registerCreateFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"-c", "feature", "--meta", "team=web", "--url", "https://app.example.com/cart"}))

	req, err := createRequestFromFlags(cmd, []string{"-"}, strings.NewReader("  Dark mode please\n"))
	require.NoError(t, err)

	assert.Equal(t, "Dark mode please", req.Feedback)
	assert.Equal(t, types.CategoryFeature, req.Category)
	assert.Equal(t, "https://app.example.com/cart", req.Environment.URL)
	assert.Equal(t, "web", req.Metadata["team"])
	assert.Equal(t, "cli", req.Metadata["source"])
	assert.NotEmpty(t, req.Metadata["clientRequestId"])

	other, err := createRequestFromFlags(cmd, []string{"again"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, req.Metadata["clientRequestId"], other.Metadata["clientRequestId"])
}

func TestUpdateRequestSetsOnlyChangedFlags(t *testing.T) {
	cmd := &cobra.Command{Use: "update"}
	registerUpdateFlags(cmd)
	require.NoError(t, cmd.ParseFlags([]string{"--priority", "critical", "--title", ""}))

	req, err := updateRequestFromFlags(cmd)
	require.NoError(t, err)
	require.NotNil(t, req.Priority)
	assert.Equal(t, types.PriorityCritical, *req.Priority)
	require.NotNil(t, req.Title, "an explicitly empty title still counts as a change")
	assert.Nil(t, req.Status)
	assert.Nil(t, req.Category)
	assert.Nil(t, req.Feedback)

	empty := &cobra.Command{Use: "update"}
	registerUpdateFlags(empty)
	_, err = updateRequestFromFlags(empty)
	assert.True(t, validation.Is(err))

	bad := &cobra.Command{Use: "update"}
	registerUpdateFlags(bad)
	require.NoError(t, bad.ParseFlags([]string{"--status", "done"}))
	_, err = updateRequestFromFlags(bad)
	assert.True(t, validation.Is(err))
}

func TestStatusMapLayers(t *testing.T) {
	file := filepath.Join(t.TempDir(), "statuses.yaml")
	require.NoError(t, os.WriteFile(file, []byte("to_external:\n  open: Triaged\n  resolved: Shipped\n"), 0o600))

	s := mapSettings{
		"status_map.new":           "Inbox",
		"status_map.open":          "Inbox",
		"jira.status_map_file":     file,
		"jira.status_map.resolved": "Done",
	}

	m, err := statusMapFor(s, "jira")
	require.NoError(t, err)
	assert.Equal(t, "Inbox", m.ToExternal(types.StatusNew))
	assert.Equal(t, "Triaged", m.ToExternal(types.StatusOpen))
	assert.Equal(t, "Done", m.ToExternal(types.StatusResolved))

	other, err := statusMapFor(s, "sheets")
	require.NoError(t, err)
	assert.Equal(t, "Inbox", other.ToExternal(types.StatusOpen))
	assert.Equal(t, "resolved", other.ToExternal(types.StatusResolved))

	s["jira.status_map_file"] = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = statusMapFor(s, "jira")
	assert.Error(t, err)
}

func TestBuildRegistrySkipsIncompleteBridges(t *testing.T) {
	reg, skipped, err := buildRegistry(mapSettings{
		"jira.domain":      "acme",
		"jira.email":       "dev@example.com",
		"jira.api_token":   "secret",
		"jira.project_key": "FB",
	}, testDeps())
	require.NoError(t, err)

	assert.Equal(t, []string{"jira"}, reg.List())
	require.Len(t, skipped, 1)
	assert.Contains(t, skipped[0], "sheets")
	assert.Contains(t, skipped[0], "spreadsheetId")

	reg, skipped, err = buildRegistry(mapSettings{}, testDeps())
	require.NoError(t, err)
	assert.Empty(t, reg.List())
	assert.Len(t, skipped, 2)
}

func TestBuildRegistryRejectsBadPriorityMap(t *testing.T) {
	_, skipped, err := buildRegistry(mapSettings{
		"jira.domain":             "acme",
		"jira.email":              "dev@example.com",
		"jira.api_token":          "secret",
		"jira.priority_map.panic": "Blocker",
	}, testDeps())
	require.NoError(t, err)
	require.NotEmpty(t, skipped)
	assert.Contains(t, skipped[0], "jira.priority_map")
}

func TestSheetsBridgeFromSettings(t *testing.T) {
	deps := testDeps()

	_, err := newSheetsBridge(mapSettings{
		"sheets.spreadsheet_id": "sheet-1",
		"sheets.oauth":          "true",
		"sheets.client_id":      "cid",
		"sheets.client_secret":  "csecret",
	}, deps)
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "sheets.refresh_token", verr.Field)

	c, err := newSheetsBridge(mapSettings{
		"sheets.spreadsheet_id":   "sheet-1",
		"sheets.oauth":            "true",
		"sheets.client_id":        "cid",
		"sheets.client_secret":    "csecret",
		"sheets.refresh_token":    "r1",
		"sheets.columns.reporter": "Reported By",
	}, deps)
	require.NoError(t, err)
	assert.Equal(t, "sheets", c.Name())
	assert.Contains(t, c.Headers(), "Reported By")

	_, err = newSheetsBridge(mapSettings{
		"sheets.spreadsheet_id":       "sheet-1",
		"sheets.service_account_file": filepath.Join(t.TempDir(), "nope.json"),
	}, deps)
	require.Error(t, err)
	assert.False(t, validation.Is(err))
}

func TestSeededTokenStore(t *testing.T) {
	ctx := context.Background()
	inner := sheets.NewMemoryTokenStore(nil)
	store := seeded(inner, "refresh-1")

	tok, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "refresh-1", tok.RefreshToken)
	assert.False(t, tok.Valid())

	saved := credentials.NewOAuthToken("access-2", "refresh-2", time.Hour)
	require.NoError(t, store.Save(ctx, saved))

	tok, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, "refresh-2", tok.RefreshToken)
}

func TestRelayJiraFromSettings(t *testing.T) {
	mock := testutil.NewJiraMockServer("FB")
	defer mock.Close()

	reg, _, err := buildRegistry(mapSettings{
		"jira.domain":           mock.URL(),
		"jira.email":            "dev@example.com",
		"jira.api_token":        "secret",
		"jira.project_key":      "FB",
		"jira.status_map.new":   "To Do",
		"jira.status_map.fixed": "Done",
	}, testDeps())
	require.NoError(t, err)

	res, err := reg.Dispatch(context.Background(), "jira", &types.ParsedSubmission{
		Action:     types.ActionCreate,
		Submission: types.FeedbackSubmission{Feedback: "Search is slow", Status: types.StatusNew},
	})
	require.NoError(t, err)
	assert.Equal(t, "FB-101", res.Ref.ExternalID)

	_, err = reg.Dispatch(context.Background(), "jira", &types.ParsedSubmission{
		Action:       types.ActionUpdateStatus,
		IssueKey:     "FB-101",
		TargetStatus: "Nowhere",
	})
	assert.True(t, errors.Is(err, jira.ErrTransitionNotFound))
}

func TestWebhookOptions(t *testing.T) {
	opts := webhookOptions(mapSettings{
		"webhook.secret":          "ignored",
		"webhook.rename.feedback": "text",
		"webhook.extra.source":    "widget",
	})
	assert.Equal(t, map[string]string{"feedback": "text"}, opts.Rename)
	assert.Equal(t, map[string]interface{}{"source": "widget"}, opts.Extra)

	assert.Nil(t, webhookOptions(mapSettings{}).Extra)
}

func TestRedact(t *testing.T) {
	tests := map[string][2]string{
		"api.key":              {"abcdef123456", "****3456"},
		"jira.api_token":       {"tok", "****"},
		"sheets.client_secret": {"s3cr3tvalue", "****alue"},
		"sheets.private_key":   {"-----BEGIN", "****EGIN"},
		"session.token":        {"", ""},
		"api.url":              {"http://localhost:3001", "http://localhost:3001"},
		"jira.domain":          {"acme", "acme"},
	}
	for key, tc := range tests {
		assert.Equal(t, tc[1], redact(key, tc[0]), key)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{validation.Required("feedback"), "invalid"},
		{&apiclient.APIError{StatusCode: 401}, "unauthorized"},
		{&apiclient.APIError{StatusCode: 404}, "not_found"},
		{&jira.TransitionNotFoundError{Key: "FB-1", Target: "Done"}, "no_transition"},
		{&transport.HTTPError{Method: "GET", URL: "u", StatusCode: 503}, "unavailable"},
		{&transport.HTTPError{Method: "GET", URL: "u", StatusCode: 400}, "upstream"},
		{errors.New("boom"), ""},
	}
	for _, tt := range tests {
		code, _ := classify(tt.err)
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}

func TestIssueDetail(t *testing.T) {
	ui.ApplyColorProfile(true)

	issue := &jira.Issue{
		Key: "FB-7",
		Fields: jira.IssueFields{
			Summary:     "Export fails",
			Description: []byte(`{"type":"doc","version":1,"content":[{"type":"paragraph","content":[{"type":"text","text":"Export fails on Safari"}]}]}`),
			Status:      &jira.NamedField{Name: "In Progress"},
			Updated:     "2025-01-15T10:00:00.000+0000",
		},
	}
	var buf bytes.Buffer
	writeIssueDetail(&buf, issue, types.StatusInProgress, "https://acme.atlassian.net/browse/FB-7", 80)
	out := buf.String()

	assert.Contains(t, out, "FB-7 In Progress (in_progress)")
	assert.Contains(t, out, "Export fails\n")
	assert.Contains(t, out, "Updated ")
	assert.Contains(t, out, "  Export fails on Safari")
	assert.NotContains(t, out, `"type"`)
}

func TestTransitionHint(t *testing.T) {
	m := statusmap.New(map[types.Status]string{types.StatusResolved: "Done", types.StatusNew: "To Do"}, nil)

	hint := transitionHint(&jira.TransitionNotFoundError{Key: "FB-1", Target: "Closed", Available: []string{"Start Progress", "Done"}}, m)
	assert.Equal(t, "offered from the current status: Start Progress, Done; mapped Jira statuses: Done, To Do", hint)

	hint = transitionHint(&jira.TransitionNotFoundError{Key: "FB-1", Target: "Closed"}, nil)
	assert.Equal(t, "no moves are offered from the current status", hint)
}

func TestFeedbackTableAndDetail(t *testing.T) {
	ui.ApplyColorProfile(true)

	items := []apiclient.Feedback{
		{ID: "f1", Title: "Checkout broken", Status: types.StatusOpen, Priority: types.PriorityHigh, Category: types.CategoryBug},
		{ID: "f2", Feedback: "First line of a long report\nsecond line", Status: types.StatusNew},
	}
	var buf bytes.Buffer
	writeFeedbackTable(&buf, items, 200)
	out := buf.String()

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "Checkout broken")
	assert.Contains(t, lines[2], "First line of a long report")
	assert.NotContains(t, out, "second line")

	buf.Reset()
	writeFeedbackDetail(&buf, &apiclient.Feedback{
		ID:          "f3",
		Feedback:    "The export button does nothing on Safari.",
		Status:      types.StatusInProgress,
		Environment: types.Environment{URL: "https://app.example.com", Viewport: types.Viewport{Width: 1280, Height: 720}},
		Metadata:    map[string]any{"team": "web"},
	}, 80)
	detail := buf.String()
	assert.Contains(t, detail, "f3")
	assert.Contains(t, detail, "1280x720")
	assert.Contains(t, detail, "https://app.example.com")
	assert.Contains(t, detail, "team: web")
	assert.Contains(t, detail, "  The export button")
}

func TestWriteStats(t *testing.T) {
	ui.ApplyColorProfile(true)

	var buf bytes.Buffer
	writeStats(&buf, &apiclient.Stats{
		Total:    5,
		ByStatus: map[string]int{"open": 3, "new": 2},
	})
	out := buf.String()
	assert.Contains(t, out, "5")
	assert.Less(t, strings.Index(out, "new"), strings.Index(out, "open"))
	assert.NotContains(t, out, "CATEGORY")
}
