package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/feedbackkit/fb/internal/transport"
	"github.com/feedbackkit/fb/internal/validation"
)

// ErrRowNotFound is returned by FindRow when no row carries the id.
var ErrRowNotFound = errors.New("row not found")

type valueRange struct {
	Range  string          `json:"range,omitempty"`
	Values [][]interface{} `json:"values"`
}

// rowFromRange extracts the first row number of an A1 range like
// "Feedback!A5:L5" or "'My Sheet'!A12".
var rowFromRange = regexp.MustCompile(`![A-Z]*([0-9]+)`)

// ParseRow returns the first row number in an A1 range, or 0.
func ParseRow(a1 string) int {
	m := rowFromRange.FindStringSubmatch(a1)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// AppendRow writes values as a new row after the last one and returns its
// 1-based row number.
func (c *Client) AppendRow(ctx context.Context, values map[string]interface{}) (int, error) {
	q := url.Values{
		"valueInputOption": {"USER_ENTERED"},
		"insertDataOption": {"INSERT_ROWS"},
	}
	body := valueRange{Values: [][]interface{}{c.row(values)}}
	var resp json.RawMessage
	if err := c.http.DoJSON(ctx, http.MethodPost, c.valuesURL(c.a1("A1"), ":append", q), body, &resp, transport.RequestOptions{}); err != nil {
		return 0, fmt.Errorf("append row: %w", err)
	}
	updated := gjson.GetBytes(resp, "updates.updatedRange").String()
	row := ParseRow(updated)
	if row == 0 {
		return 0, fmt.Errorf("append row: unexpected updatedRange %q", updated)
	}
	c.log.WithField("row", row).Debug("appended row")
	return row, nil
}

// ReadRange returns the cells of an A1 range relative to the sheet.
func (c *Client) ReadRange(ctx context.Context, ref string) ([][]string, error) {
	resp, err := c.http.Execute(ctx, http.MethodGet, c.valuesURL(c.a1(ref), "", nil), transport.RequestOptions{})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	var out [][]string
	gjson.GetBytes(resp.Body, "values").ForEach(func(_, row gjson.Result) bool {
		var cells []string
		row.ForEach(func(_, cell gjson.Result) bool {
			cells = append(cells, cell.String())
			return true
		})
		out = append(out, cells)
		return true
	})
	return out, nil
}

// EnsureHeaders writes expected into row 1 unless it is already there. It
// reports whether a write happened.
func (c *Client) EnsureHeaders(ctx context.Context, expected []string) (bool, error) {
	rows, err := c.ReadRange(ctx, "1:1")
	if err != nil {
		return false, err
	}
	if len(rows) > 0 && equalRow(rows[0], expected) {
		return false, nil
	}

	cells := make([]interface{}, len(expected))
	for i, h := range expected {
		cells[i] = h
	}
	q := url.Values{"valueInputOption": {"RAW"}}
	body := valueRange{Values: [][]interface{}{cells}}
	if err := c.http.DoJSON(ctx, http.MethodPut, c.valuesURL(c.a1("A1"), "", q), body, nil, transport.RequestOptions{}); err != nil {
		return false, fmt.Errorf("write headers: %w", err)
	}
	c.log.Info("wrote header row")
	return true, nil
}

func equalRow(got, want []string) bool {
	// Trailing empty cells are not returned by the API.
	for len(got) > len(want) && got[len(got)-1] == "" {
		got = got[:len(got)-1]
	}
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// UpdateRow overwrites the cells named by values in a 1-based row, leaving
// other cells untouched. Keys outside the layout are rejected.
func (c *Client) UpdateRow(ctx context.Context, row int, values map[string]interface{}) error {
	if row < 2 {
		return validation.New("rowIndex", "must address a data row (>= 2), got %d", row)
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	data := make([]valueRange, 0, len(keys))
	for _, k := range keys {
		i := c.columnIndex(k)
		if i < 0 {
			return validation.New(k, "no such column")
		}
		data = append(data, valueRange{
			Range:  c.a1(fmt.Sprintf("%s%d", ColumnLetter(i), row)),
			Values: [][]interface{}{{values[k]}},
		})
	}
	if len(data) == 0 {
		return nil
	}

	body := map[string]interface{}{"valueInputOption": "USER_ENTERED", "data": data}
	if err := c.http.DoJSON(ctx, http.MethodPost, c.batchUpdateURL(), body, nil, transport.RequestOptions{}); err != nil {
		return fmt.Errorf("update row %d: %w", row, err)
	}
	return nil
}

// FindRow returns the row whose id column equals id.
func (c *Client) FindRow(ctx context.Context, id string) (int, error) {
	i := c.columnIndex("id")
	if i < 0 {
		return 0, validation.New("id", "layout has no id column")
	}
	col := ColumnLetter(i)
	rows, err := c.ReadRange(ctx, col+":"+col)
	if err != nil {
		return 0, err
	}
	// Row 1 holds headers.
	for n := 1; n < len(rows); n++ {
		if len(rows[n]) > 0 && rows[n][0] == id {
			return n + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: id %q", ErrRowNotFound, id)
}

// Cell reads the value of column key in a 1-based row.
func (c *Client) Cell(ctx context.Context, row int, key string) (string, error) {
	i := c.columnIndex(key)
	if i < 0 {
		return "", validation.New(key, "no such column")
	}
	rows, err := c.ReadRange(ctx, fmt.Sprintf("%s%d", ColumnLetter(i), row))
	if err != nil {
		return "", err
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return "", nil
	}
	return rows[0][0], nil
}
