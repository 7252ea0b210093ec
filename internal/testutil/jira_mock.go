package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
)

// JiraTransition is a transition offered from a status.
type JiraTransition struct {
	ID   string
	Name string
	To   string
}

// JiraIssue is the fake's view of an issue.
type JiraIssue struct {
	Key         string
	Status      string
	Fields      map[string]interface{}
	Comments    []json.RawMessage
	Attachments []JiraUpload
}

// JiraUpload is a received attachment part.
type JiraUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// JiraMockServer is a small in-memory Jira Cloud REST v3.
type JiraMockServer struct {
	*MockServer

	mu          sync.Mutex
	project     string
	nextID      int
	issues      map[string]*JiraIssue
	transitions map[string][]JiraTransition // keyed by lower-cased status
	initial     string
}

// NewJiraMockServer creates a fake whose issues start in "To Do" with a
// simple To Do -> In Progress -> Done workflow.
func NewJiraMockServer(project string) *JiraMockServer {
	m := &JiraMockServer{
		MockServer: NewMockServer(),
		project:    project,
		nextID:     100,
		issues:     map[string]*JiraIssue{},
		initial:    "To Do",
		transitions: map[string][]JiraTransition{
			"to do":       {{ID: "11", Name: "Start Progress", To: "In Progress"}, {ID: "31", Name: "Done", To: "Done"}},
			"in progress": {{ID: "21", Name: "Stop Progress", To: "To Do"}, {ID: "31", Name: "Done", To: "Done"}},
			"done":        {{ID: "41", Name: "Reopen", To: "To Do"}},
			"backlog":     {{ID: "51", Name: "Selected for Development", To: "To Do"}},
		},
	}
	m.SetDefaultHandler(m.handle)
	return m
}

// SetInitialStatus changes the status new issues are created in.
func (m *JiraMockServer) SetInitialStatus(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initial = status
}

// SetTransitions replaces the transitions offered from status.
func (m *JiraMockServer) SetTransitions(status string, ts []JiraTransition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[strings.ToLower(status)] = ts
}

// AddIssue seeds an issue.
func (m *JiraMockServer) AddIssue(key, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues[key] = &JiraIssue{Key: key, Status: status, Fields: map[string]interface{}{"summary": key}}
}

// Issue returns a copy of the stored issue.
func (m *JiraMockServer) Issue(key string) (JiraIssue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	is, ok := m.issues[key]
	if !ok {
		return JiraIssue{}, false
	}
	return *is, true
}

func (m *JiraMockServer) handle(w http.ResponseWriter, r *http.Request) {
	const base = "/rest/api/3/issue"
	path := strings.TrimSuffix(r.URL.Path, "/")

	if path == base && r.Method == http.MethodPost {
		m.createIssue(w, r)
		return
	}
	if !strings.HasPrefix(path, base+"/") {
		WriteJSON(w, http.StatusNotFound, map[string]interface{}{"errorMessages": []string{"Not found"}})
		return
	}

	parts := strings.Split(strings.TrimPrefix(path, base+"/"), "/")
	key := parts[0]
	m.mu.Lock()
	issue, ok := m.issues[key]
	m.mu.Unlock()
	if !ok {
		WriteJSON(w, http.StatusNotFound, map[string]interface{}{
			"errorMessages": []string{"Issue does not exist or you do not have permission to see it."},
		})
		return
	}

	sub := ""
	if len(parts) > 1 {
		sub = parts[1]
	}
	switch {
	case sub == "" && r.Method == http.MethodGet:
		m.getIssue(w, issue)
	case sub == "transitions" && r.Method == http.MethodGet:
		m.listTransitions(w, issue)
	case sub == "transitions" && r.Method == http.MethodPost:
		m.doTransition(w, r, issue)
	case sub == "comment" && r.Method == http.MethodPost:
		m.addComment(w, r, issue)
	case sub == "attachments" && r.Method == http.MethodPost:
		m.addAttachments(w, r, issue)
	default:
		WriteJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "unsupported"})
	}
}

func (m *JiraMockServer) createIssue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fields map[string]interface{} `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Fields["summary"] == nil {
		WriteJSON(w, http.StatusBadRequest, map[string]interface{}{
			"errorMessages": []string{},
			"errors":        map[string]string{"summary": "You must specify a summary of the issue."},
		})
		return
	}

	m.mu.Lock()
	m.nextID++
	key := fmt.Sprintf("%s-%d", m.project, m.nextID)
	m.issues[key] = &JiraIssue{Key: key, Status: m.initial, Fields: req.Fields}
	id := m.nextID
	m.mu.Unlock()

	WriteJSON(w, http.StatusCreated, map[string]string{
		"id":   fmt.Sprintf("%d", 10000+id),
		"key":  key,
		"self": m.URL() + "/rest/api/3/issue/" + key,
	})
}

func (m *JiraMockServer) getIssue(w http.ResponseWriter, issue *JiraIssue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fields := map[string]interface{}{}
	for k, v := range issue.Fields {
		fields[k] = v
	}
	fields["status"] = map[string]string{"id": "1", "name": issue.Status}
	if _, ok := fields["updated"]; !ok {
		fields["updated"] = "2025-01-15T10:00:00.000+0000"
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"id":     "1" + issue.Key,
		"key":    issue.Key,
		"self":   m.URL() + "/rest/api/3/issue/" + issue.Key,
		"fields": fields,
	})
}

func (m *JiraMockServer) listTransitions(w http.ResponseWriter, issue *JiraIssue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]interface{}
	for _, t := range m.transitions[strings.ToLower(issue.Status)] {
		out = append(out, map[string]interface{}{
			"id":   t.ID,
			"name": t.Name,
			"to":   map[string]string{"id": t.ID + "0", "name": t.To},
		})
	}
	if out == nil {
		out = []map[string]interface{}{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"transitions": out})
}

func (m *JiraMockServer) doTransition(w http.ResponseWriter, r *http.Request, issue *JiraIssue) {
	var req struct {
		Transition struct {
			ID string `json:"id"`
		} `json:"transition"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transitions[strings.ToLower(issue.Status)] {
		if t.ID == req.Transition.ID {
			issue.Status = t.To
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	WriteJSON(w, http.StatusBadRequest, map[string]interface{}{
		"errorMessages": []string{"Transition id '" + req.Transition.ID + "' is not valid for this issue."},
	})
}

func (m *JiraMockServer) addComment(w http.ResponseWriter, r *http.Request, issue *JiraIssue) {
	var req struct {
		Body json.RawMessage `json:"body"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	m.mu.Lock()
	issue.Comments = append(issue.Comments, req.Body)
	n := len(issue.Comments)
	m.mu.Unlock()

	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"id":      fmt.Sprintf("%d", 20000+n),
		"body":    req.Body,
		"created": "2025-01-15T10:00:00.000+0000",
	})
}

func (m *JiraMockServer) addAttachments(w http.ResponseWriter, r *http.Request, issue *JiraIssue) {
	if r.Header.Get("X-Atlassian-Token") != "no-check" {
		WriteJSON(w, http.StatusForbidden, map[string]string{"error": "XSRF check failed"})
		return
	}
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	body, _ := io.ReadAll(r.Body)
	mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])

	var created []map[string]interface{}
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		data, _ := io.ReadAll(part)
		up := JiraUpload{Filename: part.FileName(), ContentType: part.Header.Get("Content-Type"), Data: data}

		m.mu.Lock()
		issue.Attachments = append(issue.Attachments, up)
		n := len(issue.Attachments)
		m.mu.Unlock()

		created = append(created, map[string]interface{}{
			"id":       fmt.Sprintf("%d", 30000+n),
			"filename": up.Filename,
			"mimeType": up.ContentType,
			"size":     len(data),
			"content":  m.URL() + fmt.Sprintf("/secure/attachment/%d/%s", 30000+n, up.Filename),
		})
	}
	WriteJSON(w, http.StatusOK, created)
}
