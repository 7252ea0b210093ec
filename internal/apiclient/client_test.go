package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedbackkit/fb/internal/credentials"
	"github.com/feedbackkit/fb/internal/testutil"
	"github.com/feedbackkit/fb/internal/types"
	"github.com/feedbackkit/fb/internal/validation"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func stored(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func newTestClient(t *testing.T, srv *testutil.MockServer, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = srv.URL()
	cfg.BaseDelay = time.Millisecond
	cfg.Logger = quietLogger()
	if cfg.Lookup == nil {
		cfg.Lookup = credentials.MapLookup(nil)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestBaseURLResolution(t *testing.T) {
	tests := []struct {
		name   string
		flag   string
		stored map[string]string
		want   string
	}{
		{"flag wins", "http://flag:1/", map[string]string{KeyURL: "http://stored:2"}, "http://flag:1"},
		{"stored config", "", map[string]string{KeyURL: "http://stored:2"}, "http://stored:2"},
		{"default", "", nil, DefaultBaseURL},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(Config{BaseURL: tt.flag, Get: stored(tt.stored), Lookup: credentials.MapLookup(nil)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.BaseURL())
		})
	}

	_, err := New(Config{BaseURL: "not a url", Lookup: credentials.MapLookup(nil)})
	assert.Error(t, err)
}

func TestCredentialOrder(t *testing.T) {
	all := map[string]string{KeyAPIKey: "stored-key", KeySessionToken: "session"}
	tests := []struct {
		name     string
		explicit string
		env      map[string]string
		stored   map[string]string
		header   string
		value    string
	}{
		{"explicit bearer", "tok", map[string]string{EnvAPIKey: "env-key"}, all, "Authorization", "Bearer tok"},
		{"env api key", "", map[string]string{EnvAPIKey: "env-key"}, all, "X-API-Key", "env-key"},
		{"stored api key", "", nil, all, "X-API-Key", "stored-key"},
		{"session token", "", nil, map[string]string{KeySessionToken: "session"}, "Authorization", "Bearer session"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewMockServer()
			defer srv.Close()
			srv.SetResponse("GET /api/feedback/stats", http.StatusOK, map[string]int{"total": 0})

			c := newTestClient(t, srv, Config{
				Token:  tt.explicit,
				Get:    stored(tt.stored),
				Lookup: credentials.MapLookup(tt.env),
			})
			_, err := c.Stats(context.Background())
			require.NoError(t, err)

			reqs := srv.GetRequests()
			require.Len(t, reqs, 1)
			assert.Equal(t, tt.value, reqs[0].Headers.Get(tt.header))
		})
	}

	t.Run("nothing resolves", func(t *testing.T) {
		srv := testutil.NewMockServer()
		defer srv.Close()
		srv.SetResponse("/api/feedback/stats", http.StatusOK, map[string]int{"total": 0})

		c := newTestClient(t, srv, Config{})
		_, err := c.Stats(context.Background())
		require.NoError(t, err)
		h := srv.GetRequests()[0].Headers
		assert.Empty(t, h.Get("Authorization"))
		assert.Empty(t, h.Get("X-API-Key"))
	})
}

func TestRetryPolicy(t *testing.T) {
	t.Run("5xx retried then succeeds", func(t *testing.T) {
		srv := testutil.NewMockServer()
		defer srv.Close()
		srv.SetResponse("/api/feedback/stats", http.StatusOK, map[string]int{"total": 7})
		srv.FailNext(2)

		c := newTestClient(t, srv, Config{})
		st, err := c.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 7, st.Total)
		assert.Equal(t, 3, srv.GetRequestCount())
	})

	t.Run("exhaustion surfaces the last status", func(t *testing.T) {
		srv := testutil.NewMockServer()
		defer srv.Close()
		srv.FailNext(100)

		c := newTestClient(t, srv, Config{MaxRetries: 2})
		_, err := c.Stats(context.Background())
		require.Error(t, err)
		assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
		assert.Equal(t, 3, srv.GetRequestCount())
	})

	t.Run("4xx is not retried", func(t *testing.T) {
		srv := testutil.NewMockServer()
		defer srv.Close()
		srv.SetResponse("/api/feedback/abc", http.StatusNotFound, map[string]string{"error": "feedback not found"})

		c := newTestClient(t, srv, Config{})
		_, err := c.Get(context.Background(), "abc")
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
		assert.Equal(t, 1, srv.GetRequestCount())

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "feedback not found", apiErr.Message)
	})

	t.Run("retries disabled", func(t *testing.T) {
		srv := testutil.NewMockServer()
		defer srv.Close()
		srv.FailNext(100)

		c := newTestClient(t, srv, Config{MaxRetries: -1})
		_, err := c.Stats(context.Background())
		require.Error(t, err)
		assert.Equal(t, 1, srv.GetRequestCount())
	})
}

func TestCallerHTTPClientKeepsItsTimeout(t *testing.T) {
	srv := testutil.NewMockServer()
	defer srv.Close()
	srv.SetResponse("/api/feedback/stats", http.StatusOK, map[string]int{"total": 1})

	shared := &http.Client{Timeout: 3 * time.Minute}
	c := newTestClient(t, srv, Config{HTTPClient: shared, Timeout: 5 * time.Second})
	_, err := c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3*time.Minute, shared.Timeout, "caller's client is not modified")
	assert.Equal(t, 1, srv.GetRequestCount(), "requests still go through the supplied transport")
}

func TestAPIErrorMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"error":"bad input"}`, "bad input"},
		{`{"message":"nope"}`, "nope"},
		{`{"error":{"message":"nested"}}`, "nested"},
		{`plain text`, "plain text"},
		{``, "Bad Request"},
	}
	for _, tt := range tests {
		err := newAPIError(http.StatusBadRequest, []byte(tt.body))
		assert.Equal(t, tt.want, err.Message, "body %q", tt.body)
	}
	assert.True(t, IsUnauthorized(newAPIError(http.StatusForbidden, nil)))
}

func TestList(t *testing.T) {
	srv := testutil.NewMockServer()
	defer srv.Close()

	c := newTestClient(t, srv, Config{})
	since := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)

	t.Run("envelope with total", func(t *testing.T) {
		srv.SetResponse("GET /api/feedback", http.StatusOK, json.RawMessage(`{
			"feedback": [{"id":"a","feedback":"one","status":"new"},{"id":"b","feedback":"two","status":"open"}],
			"total": 12
		}`))
		res, err := c.List(context.Background(), ListOptions{
			Status:   types.StatusNew,
			Category: types.CategoryBug,
			Search:   "button",
			Since:    since,
			Limit:    2,
		})
		require.NoError(t, err)
		require.Len(t, res.Items, 2)
		assert.Equal(t, "a", res.Items[0].ID)
		assert.Equal(t, types.StatusOpen, res.Items[1].Status)
		assert.Equal(t, 12, res.Total)

		reqs := srv.RequestsTo("GET", "/api/feedback")
		q, err := url.ParseQuery(reqs[len(reqs)-1].Query)
		require.NoError(t, err)
		assert.Equal(t, "new", q.Get("status"))
		assert.Equal(t, "bug", q.Get("category"))
		assert.Equal(t, "button", q.Get("search"))
		assert.Equal(t, "2025-01-10T08:00:00Z", q.Get("since"))
		assert.Equal(t, "2", q.Get("limit"))
		assert.False(t, q.Has("offset"))
	})

	t.Run("bare array", func(t *testing.T) {
		srv.SetResponse("GET /api/feedback", http.StatusOK, json.RawMessage(`[{"id":"x","feedback":"only"}]`))
		res, err := c.List(context.Background(), ListOptions{})
		require.NoError(t, err)
		require.Len(t, res.Items, 1)
		assert.Equal(t, 1, res.Total)
	})

	t.Run("empty envelope", func(t *testing.T) {
		srv.SetResponse("GET /api/feedback", http.StatusOK, json.RawMessage(`{"data":[],"pagination":{"total":0}}`))
		res, err := c.List(context.Background(), ListOptions{})
		require.NoError(t, err)
		assert.Empty(t, res.Items)
		assert.NotNil(t, res.Items)
	})
}

func TestCRUD(t *testing.T) {
	srv := testutil.NewMockServer()
	defer srv.Close()
	c := newTestClient(t, srv, Config{})
	ctx := context.Background()

	srv.SetResponse("POST /api/feedback", http.StatusCreated, json.RawMessage(`{"feedback":{"id":"n1","feedback":"broken","status":"new"}}`))
	created, err := c.Create(ctx, CreateRequest{Feedback: "broken", Category: types.CategoryBug})
	require.NoError(t, err)
	assert.Equal(t, "n1", created.ID)

	posted := srv.RequestsTo("POST", "/api/feedback")[0]
	assert.Equal(t, "application/json", posted.Headers.Get("Content-Type"))
	assert.JSONEq(t, `{"feedback":"broken","category":"bug","environment":{"viewport":{"width":0,"height":0}}}`, string(posted.Body))

	srv.SetResponse("GET /api/feedback/n1", http.StatusOK, json.RawMessage(`{"id":"n1","feedback":"broken","status":"open"}`))
	got, err := c.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusOpen, got.Status)

	title := "Broken button"
	srv.SetResponse("PATCH /api/feedback/n1", http.StatusOK, json.RawMessage(`{"id":"n1","title":"Broken button"}`))
	updated, err := c.Update(ctx, "n1", UpdateRequest{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.JSONEq(t, `{"title":"Broken button"}`, string(srv.RequestsTo("PATCH", "/api/feedback/n1")[0].Body))

	srv.SetResponse("PATCH /api/feedback/n1/status", http.StatusOK, json.RawMessage(`{"data":{"id":"n1","status":"resolved"}}`))
	moved, err := c.UpdateStatus(ctx, "n1", types.StatusResolved)
	require.NoError(t, err)
	assert.Equal(t, types.StatusResolved, moved.Status)

	srv.SetResponse("DELETE /api/feedback/n1", http.StatusNoContent, nil)
	require.NoError(t, c.Delete(ctx, "n1"))

	srv.SetResponse("GET /api/feedback/stats", http.StatusOK, json.RawMessage(`{"total":3,"byStatus":{"new":2,"open":1}}`))
	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.ByStatus["new"])
}

func TestValidationBeforeNetwork(t *testing.T) {
	srv := testutil.NewMockServer()
	defer srv.Close()
	c := newTestClient(t, srv, Config{})
	ctx := context.Background()

	_, err := c.Get(ctx, "")
	assert.True(t, validation.Is(err))
	_, err = c.Create(ctx, CreateRequest{})
	assert.True(t, validation.Is(err))
	_, err = c.Create(ctx, CreateRequest{Feedback: "x", Category: "nonsense"})
	assert.True(t, validation.Is(err))
	_, err = c.UpdateStatus(ctx, "n1", "done")
	assert.True(t, validation.Is(err))
	assert.True(t, validation.Is(c.Delete(ctx, "")))

	assert.Zero(t, srv.GetRequestCount())
}
