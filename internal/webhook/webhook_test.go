package webhook

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/feedbackkit/fb/internal/types"
)

func sample() *types.FeedbackSubmission {
	return &types.FeedbackSubmission{
		ID:       "fb-1",
		Feedback: "Search is slow\nTakes 10s",
		Category: types.CategoryImprovement,
		Status:   types.StatusNew,
		Priority: types.PriorityHigh,
		Environment: types.Environment{
			URL:       "https://app.example.com/search",
			UserAgent: "Mozilla/5.0",
			Viewport:  types.Viewport{Width: 1440, Height: 900},
		},
		Screenshots: [][]byte{{1}, {2}},
		EventLogs: []types.EventLogEntry{
			{Kind: types.EventConsole, Level: "error", Message: "x"},
			{Kind: types.EventNetwork},
		},
		Metadata: map[string]any{
			"plan":     "pro",
			"seats":    12.0,
			"app.ver":  "2.1",
			"settings": map[string]any{"dark": true},
		},
		CreatedAt: time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC),
	}
}

func TestFormat(t *testing.T) {
	out, err := Format(sample(), Options{})
	require.NoError(t, err)
	require.True(t, gjson.ValidBytes(out))

	get := func(path string) gjson.Result { return gjson.GetBytes(out, path) }
	assert.Equal(t, "fb-1", get("id").String())
	assert.Equal(t, "Search is slow", get("title").String())
	assert.Equal(t, "Search is slow\nTakes 10s", get("text").String())
	assert.Equal(t, "improvement", get("type").String())
	assert.Equal(t, "https://app.example.com/search", get("page_url").String())
	assert.Equal(t, int64(1440), get("viewport_width").Int())
	assert.Equal(t, "1440x900", get("viewport").String())
	assert.Equal(t, int64(2), get("screenshot_count").Int())
	assert.False(t, get("has_video").Bool())
	assert.Equal(t, int64(2), get("event_log_count").Int())
	assert.Equal(t, int64(1), get("error_count").Int())
	assert.Equal(t, "2025-02-03T04:05:06Z", get("created_at").String())
	assert.Equal(t, "pro", get("meta_plan").String())
	assert.Equal(t, 12.0, get("meta_seats").Float())
	assert.Equal(t, "2.1", get(`meta_app\.ver`).String(), "dotted keys stay flat")
	assert.False(t, get("meta_settings").Exists(), "nested metadata is dropped")
}

func TestFormatRenameAndExtra(t *testing.T) {
	out, err := Format(sample(), Options{
		Rename: map[string]string{"text": "description", "page_url": "url"},
		Extra:  map[string]interface{}{"source": "widget", "version": 2},
	})
	require.NoError(t, err)

	assert.False(t, gjson.GetBytes(out, "text").Exists())
	assert.Equal(t, "Search is slow\nTakes 10s", gjson.GetBytes(out, "description").String())
	assert.Equal(t, "https://app.example.com/search", gjson.GetBytes(out, "url").String())
	assert.Equal(t, "widget", gjson.GetBytes(out, "source").String())
	assert.Equal(t, int64(2), gjson.GetBytes(out, "version").Int())
}

func TestFlattenMatchesFormat(t *testing.T) {
	sub := sample()
	flat := Flatten(sub)
	out, err := Format(sub, Options{})
	require.NoError(t, err)

	for k, v := range flat {
		got := gjson.GetBytes(out, escapePath(k))
		require.True(t, got.Exists(), k)
		assert.EqualValues(t, gjson.Parse(mustJSON(t, v)).Value(), got.Value(), k)
	}
}

func TestFormatStatusChange(t *testing.T) {
	out, err := FormatStatusChange(types.ExternalIssueRef{
		LocalID: "fb-1", ExternalID: "FB-12", URL: "https://acme.atlassian.net/browse/FB-12", Status: "Done",
	}, types.StatusInProgress, types.StatusResolved)
	require.NoError(t, err)

	assert.Equal(t, "status_changed", gjson.GetBytes(out, "event").String())
	assert.Equal(t, "FB-12", gjson.GetBytes(out, "external_id").String())
	assert.Equal(t, "in_progress", gjson.GetBytes(out, "from").String())
	assert.Equal(t, "resolved", gjson.GetBytes(out, "to").String())
}

func TestSignVerify(t *testing.T) {
	body := []byte(`{"id":"fb-1"}`)
	secret := []byte("s3cret")

	sig := Sign(body, secret)
	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)
	assert.True(t, Verify(body, sig, secret))
	assert.False(t, Verify(body, sig, []byte("other")))
	assert.False(t, Verify([]byte(`{"id":"fb-2"}`), sig, secret))
	assert.False(t, Verify(body, "md5=abc", secret))
	assert.False(t, Verify(body, "sha256=zz", secret))
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	out, err := json.Marshal(v)
	require.NoError(t, err)
	return string(out)
}
