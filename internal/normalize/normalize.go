// Package normalize turns inbound bridge requests into a canonical
// types.ParsedSubmission regardless of how the host delivered them.
//
// A request is probed for capabilities in a fixed order:
//
//  1. JSONReader whose content type is JSON
//  2. FormReader (multipart or urlencoded)
//  3. BodyCarrier holding an already-parsed body
//
// Every arm is reduced to the same generic map before decoding, so logically
// equivalent inputs produce identical output.
package normalize

import (
	"encoding/json"
	"fmt"
	"mime"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/feedbackkit/fb/internal/debug"
	"github.com/feedbackkit/fb/internal/types"
	"github.com/feedbackkit/fb/internal/validation"
)

// JSONReader is a request that can decode its own JSON body.
type JSONReader interface {
	ContentType() string
	ReadJSON(v interface{}) error
}

// FormReader is a request that can parse form fields and file parts.
type FormReader interface {
	ReadForm() (*Form, error)
}

// BodyCarrier is a request whose body was parsed before it reached us.
type BodyCarrier interface {
	ParsedBody() interface{}
}

// Form holds text fields and file parts. Repeated fields keep their order.
type Form struct {
	Values map[string][]string
	Files  map[string][][]byte
}

// Value returns the first value for key.
func (f *Form) Value(key string) string {
	if f == nil || len(f.Values[key]) == 0 {
		return ""
	}
	return f.Values[key][0]
}

// File returns the first file part for key.
func (f *Form) File(key string) []byte {
	if f == nil || len(f.Files[key]) == 0 {
		return nil
	}
	return f.Files[key][0]
}

// Parser normalizes requests. The zero value logs through debug.Log.
type Parser struct {
	Log logrus.FieldLogger
}

// Parse normalizes req with a default Parser.
func Parse(req interface{}) (*types.ParsedSubmission, error) {
	return (&Parser{}).Parse(req)
}

// Parse normalizes req. Requests matching no capability are rejected with a
// validation error.
func (p *Parser) Parse(req interface{}) (*types.ParsedSubmission, error) {
	log := debug.Or(p.Log)

	if jr, ok := req.(JSONReader); ok && isJSON(jr.ContentType()) {
		var raw map[string]interface{}
		if err := jr.ReadJSON(&raw); err != nil {
			return nil, validation.New("body", "invalid JSON: %v", err)
		}
		log.Debug("normalized request via JSON reader")
		return p.fromMap(raw)
	}

	if fr, ok := req.(FormReader); ok {
		form, err := fr.ReadForm()
		if err != nil {
			return nil, validation.New("body", "invalid form data: %v", err)
		}
		raw := p.formToMap(form)
		log.Debug("normalized request via form reader")
		return p.fromMap(raw)
	}

	if bc, ok := req.(BodyCarrier); ok {
		raw, err := bodyToMap(bc.ParsedBody())
		if err != nil {
			return nil, err
		}
		log.Debug("normalized request via pre-parsed body")
		return p.fromMap(raw)
	}

	return nil, &validation.Error{Field: "request", Message: "unable to parse request"}
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "json")
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// bodyToMap accepts a string or []byte holding JSON, a generic map, or any
// JSON-marshalable value.
func bodyToMap(body interface{}) (map[string]interface{}, error) {
	var data []byte
	switch b := body.(type) {
	case nil:
		return nil, validation.New("body", "request body is empty")
	case map[string]interface{}:
		return b, nil
	case string:
		data = []byte(b)
	case []byte:
		data = b
	case json.RawMessage:
		data = b
	default:
		var err error
		if data, err = json.Marshal(b); err != nil {
			return nil, validation.New("body", "unsupported body type %T", body)
		}
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, validation.New("body", "invalid JSON: %v", err)
	}
	if raw == nil {
		return nil, validation.New("body", "request body is empty")
	}
	return raw, nil
}

// Top-level fields that are request verbs or targets, not submission data.
var envelopeFields = map[string]bool{
	"action": true, "issueKey": true, "status": true, "comment": true, "rowIndex": true,
	"metadata": true, "feedbackData": true, "body": true,
}

// formToMap reshapes a form into the same envelope a JSON client sends:
// metadata becomes feedbackData, loose text fields fill gaps, and the
// screenshot, video and eventLogs blobs are attached as raw bytes.
func (p *Parser) formToMap(form *Form) map[string]interface{} {
	log := debug.Or(p.Log)
	raw := map[string]interface{}{}

	action := form.Value("action")
	if action == "" {
		action = string(types.ActionCreate)
	}
	raw["action"] = action
	for _, k := range []string{"issueKey", "status", "comment", "rowIndex"} {
		if v := form.Value(k); v != "" {
			raw[k] = v
		}
	}

	data := map[string]interface{}{}
	if meta := form.Value("metadata"); meta != "" {
		if err := json.Unmarshal([]byte(meta), &data); err != nil {
			log.WithError(err).Warn("ignoring unparseable metadata field")
			data = map[string]interface{}{}
		}
	}
	for k := range form.Values {
		if envelopeFields[k] || isBlobField(k) {
			continue
		}
		if _, set := data[k]; !set {
			data[k] = looseValue(k, form.Value(k))
		}
	}

	if shots := formScreenshots(form); len(shots) > 0 {
		data["screenshots"] = shots
		delete(data, "screenshot")
	}
	if v := formBlob(form, "video"); v != nil {
		data["video"] = v
	}
	if logs := formBlob(form, "eventLogs"); logs != nil {
		data["eventLogs"] = logs
	}

	raw["feedbackData"] = data
	return raw
}

// Form text fields that hold an object in the JSON shape.
var structuredFields = map[string]bool{
	"environment": true, "reporter": true, "viewport": true,
}

// looseValue decodes JSON text sent for a structured field. Anything that
// does not decode stays a string.
func looseValue(k, v string) interface{} {
	if !structuredFields[k] {
		return v
	}
	t := strings.TrimSpace(v)
	if !strings.HasPrefix(t, "{") && !strings.HasPrefix(t, "[") {
		return v
	}
	var out interface{}
	if err := json.Unmarshal([]byte(t), &out); err != nil {
		return v
	}
	return out
}

// textShots splits a text screenshot field, which may be a JSON array of
// data URLs.
func textShots(v string) []interface{} {
	if v == "" {
		return nil
	}
	if t := strings.TrimSpace(v); strings.HasPrefix(t, "[") {
		var items []interface{}
		if json.Unmarshal([]byte(t), &items) == nil {
			return items
		}
	}
	return []interface{}{v}
}

func isBlobField(k string) bool {
	return k == "video" || k == "eventLogs" || strings.HasPrefix(k, "screenshot")
}

// formBlob returns a file part, or a text field carrying the same data.
func formBlob(form *Form, key string) interface{} {
	if b := form.File(key); b != nil {
		return b
	}
	if v := form.Value(key); v != "" {
		return v
	}
	return nil
}

// formScreenshots gathers screenshot, screenshots and screenshotN parts in
// that order.
func formScreenshots(form *Form) []interface{} {
	var shots []interface{}
	add := func(key string) {
		for _, b := range form.Files[key] {
			shots = append(shots, b)
		}
		for _, v := range form.Values[key] {
			shots = append(shots, textShots(v)...)
		}
	}
	add("screenshot")
	add("screenshots")

	var indexed []int
	seen := map[int]bool{}
	collect := func(k string) {
		if n, err := strconv.Atoi(strings.TrimPrefix(k, "screenshot")); err == nil && strings.HasPrefix(k, "screenshot") && !seen[n] {
			seen[n] = true
			indexed = append(indexed, n)
		}
	}
	for k := range form.Files {
		collect(k)
	}
	for k := range form.Values {
		collect(k)
	}
	sort.Ints(indexed)
	for _, n := range indexed {
		add(fmt.Sprintf("screenshot%d", n))
	}
	return shots
}

// fromMap decodes the canonical envelope.
func (p *Parser) fromMap(raw map[string]interface{}) (*types.ParsedSubmission, error) {
	if raw == nil {
		return nil, validation.New("body", "request body is empty")
	}

	out := &types.ParsedSubmission{
		Action:       types.Action(str(raw, "action")),
		IssueKey:     str(raw, "issueKey"),
		TargetStatus: str(raw, "status"),
		Comment:      str(raw, "comment"),
		RowIndex:     intVal(raw["rowIndex"]),
	}
	if out.Action == "" {
		out.Action = types.ActionCreate
	}
	if !out.Action.IsValid() {
		return nil, validation.New("action", "unknown action %q", out.Action)
	}

	data, err := submissionData(raw)
	if err != nil {
		return nil, err
	}
	if data != nil {
		sub, err := p.decodeSubmission(data)
		if err != nil {
			return nil, err
		}
		out.Submission = *sub
	}

	if err := checkAction(out, data != nil); err != nil {
		return nil, err
	}
	return out, nil
}

func submissionData(raw map[string]interface{}) (map[string]interface{}, error) {
	for _, key := range []string{"feedbackData", "body"} {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch d := v.(type) {
		case map[string]interface{}:
			return d, nil
		case string:
			if strings.TrimSpace(d) == "" {
				continue
			}
			var m map[string]interface{}
			if err := json.Unmarshal([]byte(d), &m); err != nil {
				return nil, validation.New(key, "invalid JSON: %v", err)
			}
			return m, nil
		default:
			return nil, validation.New(key, "expected an object, got %T", v)
		}
	}
	return nil, nil
}

func checkAction(ps *types.ParsedSubmission, hasData bool) error {
	switch ps.Action {
	case types.ActionCreate:
		if !hasData {
			return validation.Required("feedbackData")
		}
	case types.ActionUpdateStatus:
		if ps.IssueKey == "" && ps.RowIndex == 0 {
			return validation.Required("issueKey")
		}
		if ps.TargetStatus == "" {
			return validation.Required("status")
		}
	case types.ActionGetStatus:
		if ps.IssueKey == "" && ps.RowIndex == 0 {
			return validation.Required("issueKey")
		}
	case types.ActionAddComment:
		if ps.IssueKey == "" {
			return validation.Required("issueKey")
		}
		if strings.TrimSpace(ps.Comment) == "" {
			return validation.Required("comment")
		}
	}
	return nil
}
