package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SheetsMockServer is an in-memory Sheets v4 values API plus an OAuth token
// endpoint. Mount points: APIBase() and TokenURL().
type SheetsMockServer struct {
	*MockServer

	mu         sync.Mutex
	grid       [][]string
	accepted   map[string]bool
	issued     int
	grants     map[string]int
	assertions []string
	refreshes  []string
	tokenDelay time.Duration
	expiresIn  int
}

// NewSheetsMockServer creates an empty sheet.
func NewSheetsMockServer() *SheetsMockServer {
	m := &SheetsMockServer{
		MockServer: NewMockServer(),
		accepted:   map[string]bool{},
		grants:     map[string]int{},
		expiresIn:  3600,
	}
	m.SetDefaultHandler(m.handle)
	return m
}

// APIBase is the value for the client's API base URL.
func (m *SheetsMockServer) APIBase() string { return m.URL() + "/v4" }

// TokenURL is the token endpoint.
func (m *SheetsMockServer) TokenURL() string { return m.URL() + "/token" }

// AcceptToken marks an access token as valid for the values API.
func (m *SheetsMockServer) AcceptToken(tok string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accepted[tok] = true
}

// SetTokenDelay slows down token exchanges, to widen race windows.
func (m *SheetsMockServer) SetTokenDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenDelay = d
}

// SetExpiresIn sets the lifetime reported for issued tokens, in seconds.
func (m *SheetsMockServer) SetExpiresIn(sec int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiresIn = sec
}

// Exchanges returns how many token grants of grantType were served.
func (m *SheetsMockServer) Exchanges(grantType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grants[grantType]
}

// Assertions returns the JWT assertions received.
func (m *SheetsMockServer) Assertions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.assertions...)
}

// RefreshTokens returns the refresh tokens received.
func (m *SheetsMockServer) RefreshTokens() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.refreshes...)
}

// SetRows replaces the sheet contents.
func (m *SheetsMockServer) SetRows(rows [][]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grid = nil
	for _, r := range rows {
		m.grid = append(m.grid, append([]string(nil), r...))
	}
}

// Rows returns a copy of the sheet contents.
func (m *SheetsMockServer) Rows() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.grid))
	for i, r := range m.grid {
		out[i] = append([]string(nil), r...)
	}
	return out
}

func (m *SheetsMockServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/token" {
		m.token(w, r)
		return
	}

	m.mu.Lock()
	ok := m.accepted[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	m.mu.Unlock()
	if !ok {
		WriteJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"error": map[string]interface{}{"code": 401, "message": "Request had invalid authentication credentials."},
		})
		return
	}

	// /v4/spreadsheets/{id}/values...
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/"), "/", 2)
	if len(parts) < 2 {
		WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	rest := parts[1]

	switch {
	case rest == "values:batchUpdate" && r.Method == http.MethodPost:
		m.batchUpdate(w, r)
	case strings.HasPrefix(rest, "values/") && strings.HasSuffix(rest, ":append") && r.Method == http.MethodPost:
		m.appendRow(w, r, strings.TrimSuffix(strings.TrimPrefix(rest, "values/"), ":append"))
	case strings.HasPrefix(rest, "values/") && r.Method == http.MethodGet:
		m.read(w, strings.TrimPrefix(rest, "values/"))
	case strings.HasPrefix(rest, "values/") && r.Method == http.MethodPut:
		m.write(w, r, strings.TrimPrefix(rest, "values/"))
	default:
		WriteJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

func (m *SheetsMockServer) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	grant := r.PostForm.Get("grant_type")

	m.mu.Lock()
	delay := m.tokenDelay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch grant {
	case "urn:ietf:params:oauth:grant-type:jwt-bearer":
		m.assertions = append(m.assertions, r.PostForm.Get("assertion"))
	case "refresh_token":
		if r.PostForm.Get("refresh_token") == "" {
			WriteJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid_grant", "error_description": "Missing refresh token",
			})
			return
		}
		m.refreshes = append(m.refreshes, r.PostForm.Get("refresh_token"))
	default:
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	m.grants[grant]++
	m.issued++
	tok := fmt.Sprintf("access-%d", m.issued)
	m.accepted[tok] = true
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": tok,
		"expires_in":   m.expiresIn,
		"token_type":   "Bearer",
	})
}

type a1Ref struct {
	col int // -1 when unspecified
	row int // 0 when unspecified
}

// parseA1 splits "Sheet!A1:C3" into its sheet and corner references.
func parseA1(rng string) (sheet string, start, end a1Ref) {
	if i := strings.LastIndex(rng, "!"); i >= 0 {
		sheet, rng = rng[:i], rng[i+1:]
	}
	lo, hi := rng, rng
	if i := strings.Index(rng, ":"); i >= 0 {
		lo, hi = rng[:i], rng[i+1:]
	}
	return sheet, parseRef(lo), parseRef(hi)
}

func parseRef(s string) a1Ref {
	ref := a1Ref{col: -1}
	i := 0
	col := 0
	for i < len(s) && s[i] >= 'A' && s[i] <= 'Z' {
		col = col*26 + int(s[i]-'A'+1)
		i++
	}
	if i > 0 {
		ref.col = col - 1
	}
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		ref.row = ref.row*10 + int(s[i]-'0')
	}
	return ref
}

func columnName(i int) string {
	var b []byte
	for i++; i > 0; i = (i - 1) / 26 {
		b = append([]byte{byte('A' + (i-1)%26)}, b...)
	}
	return string(b)
}

func (m *SheetsMockServer) read(w http.ResponseWriter, rng string) {
	_, start, end := parseA1(rng)

	m.mu.Lock()
	defer m.mu.Unlock()

	r0, r1 := start.row, end.row
	if r0 == 0 {
		r0 = 1
	}
	if r1 == 0 || r1 > len(m.grid) {
		r1 = len(m.grid)
	}
	c0, c1 := start.col, end.col
	if c0 < 0 {
		c0 = 0
	}

	values := [][]string{}
	for r := r0; r <= r1; r++ {
		src := m.grid[r-1]
		hi := len(src) - 1
		if c1 >= 0 && c1 < hi {
			hi = c1
		}
		var row []string
		for c := c0; c <= hi; c++ {
			row = append(row, src[c])
		}
		for len(row) > 0 && row[len(row)-1] == "" {
			row = row[:len(row)-1]
		}
		values = append(values, row)
	}
	for len(values) > 0 && len(values[len(values)-1]) == 0 {
		values = values[:len(values)-1]
	}

	resp := map[string]interface{}{"range": rng, "majorDimension": "ROWS"}
	if len(values) > 0 {
		for i, v := range values {
			if v == nil {
				values[i] = []string{}
			}
		}
		resp["values"] = values
	}
	WriteJSON(w, http.StatusOK, resp)
}

type mockValueRange struct {
	Range  string          `json:"range"`
	Values [][]interface{} `json:"values"`
}

// put writes values with their top-left cell at ref. Caller holds mu.
func (m *SheetsMockServer) put(ref a1Ref, values [][]interface{}) {
	r0 := ref.row
	if r0 == 0 {
		r0 = 1
	}
	c0 := ref.col
	if c0 < 0 {
		c0 = 0
	}
	for i, row := range values {
		r := r0 + i
		for len(m.grid) < r {
			m.grid = append(m.grid, nil)
		}
		for j, v := range row {
			c := c0 + j
			for len(m.grid[r-1]) <= c {
				m.grid[r-1] = append(m.grid[r-1], "")
			}
			m.grid[r-1][c] = fmt.Sprint(v)
		}
	}
}

func (m *SheetsMockServer) write(w http.ResponseWriter, r *http.Request, rng string) {
	var body mockValueRange
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	_, start, _ := parseA1(rng)
	m.mu.Lock()
	m.put(start, body.Values)
	m.mu.Unlock()
	WriteJSON(w, http.StatusOK, map[string]interface{}{"updatedRange": rng, "updatedRows": len(body.Values)})
}

func (m *SheetsMockServer) batchUpdate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Data []mockValueRange `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	m.mu.Lock()
	for _, d := range body.Data {
		_, start, _ := parseA1(d.Range)
		m.put(start, d.Values)
	}
	m.mu.Unlock()
	WriteJSON(w, http.StatusOK, map[string]interface{}{"totalUpdatedCells": len(body.Data)})
}

func (m *SheetsMockServer) appendRow(w http.ResponseWriter, r *http.Request, rng string) {
	var body mockValueRange
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	sheet, _, _ := parseA1(rng)

	m.mu.Lock()
	row := len(m.grid) + 1
	m.put(a1Ref{col: 0, row: row}, body.Values)
	m.mu.Unlock()

	width := 1
	if len(body.Values) > 0 && len(body.Values[0]) > 0 {
		width = len(body.Values[0])
	}
	prefix := ""
	if sheet != "" {
		prefix = sheet + "!"
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"updates": map[string]interface{}{
			"updatedRange": fmt.Sprintf("%sA%d:%s%d", prefix, row, columnName(width-1), row),
			"updatedRows":  len(body.Values),
		},
	})
}
