// Package testutil provides recording HTTP fakes for the external APIs the
// bridges talk to.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// RecordedRequest stores information about a request made to the mock server.
type RecordedRequest struct {
	Method  string
	Path    string
	Query   string
	Headers http.Header
	Body    []byte
}

// MockResponse represents a configured response for the mock server.
type MockResponse struct {
	StatusCode int
	Body       interface{}
	Headers    map[string]string
}

// MockServer records every request and answers from configured responses,
// a fallback handler, or simulated failures.
type MockServer struct {
	Server *httptest.Server
	mu     sync.RWMutex

	requests []RecordedRequest

	// keyed by "METHOD /path" or "/path"
	responses      map[string]MockResponse
	defaultHandler http.HandlerFunc

	authError       bool
	serverErrorsFor int
	serverErrorHits int
}

// NewMockServer creates and starts a mock server.
func NewMockServer() *MockServer {
	m := &MockServer{
		requests:  []RecordedRequest{},
		responses: make(map[string]MockResponse),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handleRequest))
	return m
}

func (m *MockServer) handleRequest(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Headers: r.Header.Clone(),
		Body:    body,
	})
	authError := m.authError
	failNow := m.serverErrorHits < m.serverErrorsFor
	if failNow {
		m.serverErrorHits++
	}
	resp, found := m.responses[r.Method+" "+r.URL.Path]
	if !found {
		resp, found = m.responses[r.URL.Path]
	}
	handler := m.defaultHandler
	m.mu.Unlock()

	if authError {
		WriteJSON(w, http.StatusUnauthorized, map[string]interface{}{"errorMessages": []string{"Unauthorized"}})
		return
	}
	if failNow {
		WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}

	if found {
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		status := resp.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		if resp.Body == nil {
			w.WriteHeader(status)
			return
		}
		WriteJSON(w, status, resp.Body)
		return
	}

	if handler != nil {
		// Handlers read the body themselves.
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		handler(w, r)
		return
	}

	WriteJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
}

// URL returns the mock server URL.
func (m *MockServer) URL() string {
	return m.Server.URL
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	m.Server.Close()
}

// SetResponse configures a response for a path, optionally prefixed with a
// method ("POST /rest/api/3/issue").
func (m *MockServer) SetResponse(key string, statusCode int, body interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[key] = MockResponse{StatusCode: statusCode, Body: body}
}

// SetDefaultHandler sets a custom handler for unmatched requests.
func (m *MockServer) SetDefaultHandler(handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultHandler = handler
}

// SetAuthError enables/disables 401 Unauthorized responses.
func (m *MockServer) SetAuthError(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authError = enabled
}

// FailNext makes the next n requests answer 500.
func (m *MockServer) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.serverErrorsFor = n
	m.serverErrorHits = 0
}

// GetRequests returns all recorded requests.
func (m *MockServer) GetRequests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]RecordedRequest, len(m.requests))
	copy(result, m.requests)
	return result
}

// RequestsTo returns recorded requests matching method and path.
func (m *MockServer) RequestsTo(method, path string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range m.GetRequests() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// GetRequestCount returns the number of recorded requests.
func (m *MockServer) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// ClearRequests clears all recorded requests.
func (m *MockServer) ClearRequests() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = []RecordedRequest{}
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
