package normalize

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedbackkit/fb/internal/types"
	"github.com/feedbackkit/fb/internal/validation"
)

const eventLogsJSON = `[{"type":"console","level":"error","message":"boom","timestamp":12,"data":{"line":3}}]`

func submissionFields() map[string]interface{} {
	return map[string]interface{}{
		"id":       "fb-1",
		"feedback": "button broken",
		"title":    "Save button",
		"category": "bug",
		"status":   "new",
		"priority": "high",
		"environment": map[string]interface{}{
			"url":       "https://app.test/settings",
			"userAgent": "Mozilla/5.0",
			"viewport":  map[string]interface{}{"width": 1280, "height": 720},
		},
		"metadata":  map[string]interface{}{"plan": "pro"},
		"createdAt": "2025-01-15T10:00:00Z",
	}
}

func jsonEnvelope(t *testing.T) []byte {
	t.Helper()
	data := submissionFields()
	data["screenshots"] = []string{"data:image/png;base64,AAAA"}
	data["video"] = "aGVsbG8="
	var logs []interface{}
	require.NoError(t, json.Unmarshal([]byte(eventLogsJSON), &logs))
	data["eventLogs"] = logs

	body, err := json.Marshal(map[string]interface{}{
		"action":       "create",
		"feedbackData": data,
	})
	require.NoError(t, err)
	return body
}

func multipartRequest(t *testing.T, extra map[string]string, eventLogs []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	meta, err := json.Marshal(submissionFields())
	require.NoError(t, err)
	require.NoError(t, w.WriteField("metadata", string(meta)))
	for k, v := range extra {
		require.NoError(t, w.WriteField(k, v))
	}

	writeFile := func(field, name string, data []byte) {
		fw, err := w.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	writeFile("screenshot", "shot.png", []byte{0, 0, 0})
	writeFile("video", "clip.webm", []byte("hello"))
	writeFile("eventLogs", "events.json", eventLogs)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/integrations/jira", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func quietParser() *Parser {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Parser{Log: l}
}

func TestCrossShapeEquivalence(t *testing.T) {
	body := jsonEnvelope(t)
	p := quietParser()

	jsonReq := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	jsonReq.Header.Set("Content-Type", "application/json; charset=utf-8")
	fromJSON, err := p.Parse(HTTPRequest(jsonReq))
	require.NoError(t, err)

	fromForm, err := p.Parse(HTTPRequest(multipartRequest(t, nil, []byte(eventLogsJSON))))
	require.NoError(t, err)

	fromPrebound, err := p.Parse(Prebound(string(body)))
	require.NoError(t, err)

	var asMap map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &asMap))
	fromMapBody, err := p.Parse(Prebound(asMap))
	require.NoError(t, err)

	assert.Equal(t, fromJSON, fromForm, "JSON vs multipart")
	assert.Equal(t, fromJSON, fromPrebound, "JSON vs pre-parsed string")
	assert.Equal(t, fromJSON, fromMapBody, "JSON vs pre-parsed map")

	sub := fromJSON.Submission
	assert.Equal(t, types.ActionCreate, fromJSON.Action)
	assert.Equal(t, "button broken", sub.Feedback)
	assert.Equal(t, types.StatusNew, sub.Status)
	assert.Equal(t, types.Viewport{Width: 1280, Height: 720}, sub.Environment.Viewport)
	assert.Equal(t, [][]byte{{0, 0, 0}}, sub.Screenshots)
	assert.Equal(t, []byte("hello"), sub.Video)
	require.Len(t, sub.EventLogs, 1)
	assert.Equal(t, types.EventConsole, sub.EventLogs[0].Kind)
	assert.Equal(t, int64(12), sub.EventLogs[0].Timestamp)
	assert.JSONEq(t, `{"line":3}`, string(sub.EventLogs[0].Data))
	assert.Equal(t, "pro", sub.Metadata["plan"])
	assert.Equal(t, time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC), sub.CreatedAt)
}

func TestFormJSONTextFieldsMatchObjects(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value interface{}
		check func(t *testing.T, sub *types.FeedbackSubmission)
	}{
		{
			name: "environment",
			key:  "environment",
			value: map[string]interface{}{
				"url":       "https://app.example.com/cart",
				"userAgent": "UA/1",
				"viewport":  map[string]interface{}{"width": 1280, "height": 720},
			},
			check: func(t *testing.T, sub *types.FeedbackSubmission) {
				assert.Equal(t, "https://app.example.com/cart", sub.Environment.URL)
				assert.Equal(t, "UA/1", sub.Environment.UserAgent)
				assert.Equal(t, types.Viewport{Width: 1280, Height: 720}, sub.Environment.Viewport)
			},
		},
		{
			name:  "reporter object",
			key:   "reporter",
			value: map[string]interface{}{"email": "ann@example.com", "name": "Ann"},
			check: func(t *testing.T, sub *types.FeedbackSubmission) {
				assert.Equal(t, "ann@example.com", sub.Reporter)
			},
		},
		{
			name:  "viewport object",
			key:   "viewport",
			value: map[string]interface{}{"width": 390, "height": 844},
			check: func(t *testing.T, sub *types.FeedbackSubmission) {
				assert.Equal(t, types.Viewport{Width: 390, Height: 844}, sub.Environment.Viewport)
			},
		},
		{
			name:  "screenshots array",
			key:   "screenshots",
			value: []interface{}{"data:image/png;base64,AAAA", "data:image/png;base64,AQID"},
			check: func(t *testing.T, sub *types.FeedbackSubmission) {
				assert.Equal(t, [][]byte{{0, 0, 0}, {1, 2, 3}}, sub.Screenshots)
			},
		},
	}

	p := quietParser()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fromBody, err := p.Parse(Prebound(map[string]interface{}{
				"feedbackData": map[string]interface{}{"feedback": "button broken", tt.key: tt.value},
			}))
			require.NoError(t, err)

			text, err := json.Marshal(tt.value)
			require.NoError(t, err)
			fromForm, err := p.Parse(FormRequest(map[string][]string{
				"feedback": {"button broken"},
				tt.key:     {string(text)},
			}, nil))
			require.NoError(t, err)

			assert.Equal(t, fromBody, fromForm)
			tt.check(t, &fromForm.Submission)
		})
	}
}

func TestFormPlainTextFieldsStayStrings(t *testing.T) {
	ps, err := quietParser().Parse(FormRequest(map[string][]string{
		"feedback": {"button broken"},
		"reporter": {"ann@example.com"},
		"viewport": {"800x600"},
	}, nil))
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", ps.Submission.Reporter)
	assert.Equal(t, types.Viewport{Width: 800, Height: 600}, ps.Submission.Environment.Viewport)
}

func TestFormDefaultsActionToCreate(t *testing.T) {
	ps, err := quietParser().Parse(HTTPRequest(multipartRequest(t, nil, []byte(eventLogsJSON))))
	require.NoError(t, err)
	assert.Equal(t, types.ActionCreate, ps.Action)
}

func TestFormEventLogsParseFailureYieldsEmptyList(t *testing.T) {
	ps, err := quietParser().Parse(HTTPRequest(multipartRequest(t, nil, []byte("{not json"))))
	require.NoError(t, err)
	assert.NotNil(t, ps.Submission.EventLogs)
	assert.Empty(t, ps.Submission.EventLogs)
	assert.Equal(t, "button broken", ps.Submission.Feedback)
}

func TestFormEnvelopeFields(t *testing.T) {
	ps, err := quietParser().Parse(HTTPRequest(multipartRequest(t, map[string]string{
		"action":   "updateStatus",
		"issueKey": "FB-7",
		"status":   "resolved",
	}, []byte("[]"))))
	require.NoError(t, err)
	assert.Equal(t, types.ActionUpdateStatus, ps.Action)
	assert.Equal(t, "FB-7", ps.IssueKey)
	assert.Equal(t, "resolved", ps.TargetStatus)
	assert.Equal(t, types.StatusNew, ps.Submission.Status, "submission status comes from metadata")
}

func TestURLEncodedForm(t *testing.T) {
	form := url.Values{
		"feedback":  {"typo on pricing page"},
		"category":  {"improvement"},
		"url":       {"https://app.test/pricing"},
		"viewport":  {"800x600"},
		"eventLogs": {"garbage"},
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	ps, err := quietParser().Parse(HTTPRequest(req))
	require.NoError(t, err)
	assert.Equal(t, types.ActionCreate, ps.Action)
	assert.Equal(t, "typo on pricing page", ps.Submission.Feedback)
	assert.Equal(t, types.CategoryImprovement, ps.Submission.Category)
	assert.Equal(t, "https://app.test/pricing", ps.Submission.Environment.URL)
	assert.Equal(t, types.Viewport{Width: 800, Height: 600}, ps.Submission.Environment.Viewport)
	assert.Empty(t, ps.Submission.EventLogs)
}

func TestScreenshotOrdering(t *testing.T) {
	ps, err := quietParser().Parse(FormRequest(
		map[string][]string{"feedback": {"x"}, "screenshot10": {"Cg=="}},
		map[string][][]byte{
			"screenshot2": {{2}},
			"screenshot":  {{0}},
			"screenshot1": {{1}},
		},
	))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0}, {1}, {2}, {'\n'}}, ps.Submission.Screenshots)
}

func TestJSONShapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		check   func(t *testing.T, ps *types.ParsedSubmission)
		wantErr string
	}{
		{
			name: "body alias",
			body: `{"action":"create","body":{"feedback":"hi","url":"https://x.test","userAgent":"UA","viewport":{"width":1,"height":2}}}`,
			check: func(t *testing.T, ps *types.ParsedSubmission) {
				assert.Equal(t, "hi", ps.Submission.Feedback)
				assert.Equal(t, "https://x.test", ps.Submission.Environment.URL)
				assert.Equal(t, "UA", ps.Submission.Environment.UserAgent)
				assert.Equal(t, 2, ps.Submission.Environment.Viewport.Height)
			},
		},
		{
			name: "feedbackData as string",
			body: `{"feedbackData":"{\"feedback\":\"nested\",\"type\":\"Feature\"}"}`,
			check: func(t *testing.T, ps *types.ParsedSubmission) {
				assert.Equal(t, types.ActionCreate, ps.Action)
				assert.Equal(t, "nested", ps.Submission.Feedback)
				assert.Equal(t, types.CategoryFeature, ps.Submission.Category)
			},
		},
		{
			name: "event logs as JSON string",
			body: `{"feedbackData":{"feedback":"x","eventLogs":"[{\"type\":\"network\",\"timestamp\":5}]"}}`,
			check: func(t *testing.T, ps *types.ParsedSubmission) {
				require.Len(t, ps.Submission.EventLogs, 1)
				assert.Equal(t, types.EventNetwork, ps.Submission.EventLogs[0].Kind)
			},
		},
		{
			name: "get status",
			body: `{"action":"getStatus","issueKey":"FB-1"}`,
			check: func(t *testing.T, ps *types.ParsedSubmission) {
				assert.Equal(t, "FB-1", ps.IssueKey)
			},
		},
		{
			name: "add comment",
			body: `{"action":"addComment","issueKey":"FB-1","comment":"thanks"}`,
			check: func(t *testing.T, ps *types.ParsedSubmission) {
				assert.Equal(t, "thanks", ps.Comment)
			},
		},
		{
			name: "row index as number",
			body: `{"action":"updateStatus","rowIndex":7,"status":"closed"}`,
			check: func(t *testing.T, ps *types.ParsedSubmission) {
				assert.Equal(t, 7, ps.RowIndex)
			},
		},
		{name: "unknown action", body: `{"action":"delete","issueKey":"FB-1"}`, wantErr: "action"},
		{name: "create without data", body: `{"action":"create"}`, wantErr: "feedbackData"},
		{name: "update without status", body: `{"action":"updateStatus","issueKey":"FB-1"}`, wantErr: "status"},
		{name: "comment without text", body: `{"action":"addComment","issueKey":"FB-1","comment":" "}`, wantErr: "comment"},
		{name: "bad screenshot", body: `{"feedbackData":{"feedback":"x","screenshots":["%%%"]}}`, wantErr: "screenshots[0]"},
		{name: "bad createdAt", body: `{"feedbackData":{"feedback":"x","createdAt":"yesterday"}}`, wantErr: "createdAt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps, err := quietParser().Parse(Prebound(tt.body))
			if tt.wantErr != "" {
				var ve *validation.Error
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, tt.wantErr, ve.Field)
				return
			}
			require.NoError(t, err)
			tt.check(t, ps)
		})
	}
}

type jsonOnly struct {
	ct   string
	body string
}

func (j jsonOnly) ContentType() string { return j.ct }
func (j jsonOnly) ReadJSON(v interface{}) error {
	return json.Unmarshal([]byte(j.body), v)
}

func TestUnparseableRequests(t *testing.T) {
	tests := []struct {
		name  string
		req   interface{}
		field string
	}{
		{"plain struct", struct{}{}, "request"},
		{"nil", nil, "request"},
		{"json reader with wrong content type", jsonOnly{ct: "text/plain", body: `{}`}, "request"},
		{"invalid prebound JSON", Prebound("{nope"), "body"},
		{"empty prebound", Prebound(nil), "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.req)
			var ve *validation.Error
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestHTTPRequestUnsupportedContentType(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("hello"))
	req.Header.Set("Content-Type", "text/plain")
	_, err := Parse(HTTPRequest(req))
	assert.True(t, validation.Is(err))
}

func TestJSONReaderWithVendorType(t *testing.T) {
	ps, err := quietParser().Parse(jsonOnly{ct: "application/vnd.api+json", body: `{"feedbackData":{"feedback":"v"}}`})
	require.NoError(t, err)
	assert.Equal(t, "v", ps.Submission.Feedback)
}
