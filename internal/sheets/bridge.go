package sheets

import (
	"context"
	"strconv"

	"github.com/feedbackkit/fb/internal/bridge"
	"github.com/feedbackkit/fb/internal/types"
	"github.com/feedbackkit/fb/internal/validation"
)

// Handle implements bridge.Bridge. Rows are addressed by RowIndex, or by
// IssueKey holding either a row number or a submission id.
func (c *Client) Handle(ctx context.Context, ps *types.ParsedSubmission) (*bridge.Result, error) {
	switch ps.Action {
	case types.ActionCreate:
		return c.handleCreate(ctx, &ps.Submission)
	case types.ActionUpdateStatus:
		row, err := c.resolveRow(ctx, ps)
		if err != nil {
			return nil, err
		}
		status := ps.TargetStatus
		if local := types.Status(status); local.IsValid() {
			status = c.statuses.ToExternal(local)
		}
		if err := c.UpdateRow(ctx, row, map[string]interface{}{"status": status}); err != nil {
			return nil, err
		}
		return c.result(ps.Action, row, status), nil
	case types.ActionGetStatus:
		row, err := c.resolveRow(ctx, ps)
		if err != nil {
			return nil, err
		}
		status, err := c.Cell(ctx, row, "status")
		if err != nil {
			return nil, err
		}
		return c.result(ps.Action, row, status), nil
	}
	return nil, validation.New("action", "%s is not supported by the sheets bridge", ps.Action)
}

func (c *Client) handleCreate(ctx context.Context, sub *types.FeedbackSubmission) (*bridge.Result, error) {
	if !c.headersOK.Load() {
		if _, err := c.EnsureHeaders(ctx, c.Headers()); err != nil {
			return nil, err
		}
		c.headersOK.Store(true)
	}
	values := c.RowValues(sub)
	row, err := c.AppendRow(ctx, values)
	if err != nil {
		return nil, err
	}
	res := c.result(types.ActionCreate, row, values["status"].(string))
	res.Ref.LocalID = sub.ID
	return res, nil
}

func (c *Client) result(action types.Action, row int, status string) *bridge.Result {
	return &bridge.Result{
		Action: action,
		Ref: &types.ExternalIssueRef{
			ExternalID: strconv.Itoa(row),
			URL:        c.SheetURL(),
			Status:     status,
		},
		Status:      status,
		LocalStatus: c.statuses.ToLocal(status),
	}
}

func (c *Client) resolveRow(ctx context.Context, ps *types.ParsedSubmission) (int, error) {
	if ps.RowIndex > 0 {
		return ps.RowIndex, nil
	}
	if ps.IssueKey == "" {
		return 0, validation.Required("rowIndex")
	}
	if n, err := strconv.Atoi(ps.IssueKey); err == nil {
		return n, nil
	}
	return c.FindRow(ctx, ps.IssueKey)
}

var _ bridge.Bridge = (*Client)(nil)
