package jira

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/feedbackkit/fb/internal/transport"
	"github.com/feedbackkit/fb/internal/types"
)

// ErrTransitionNotFound matches any TransitionNotFoundError via errors.Is.
var ErrTransitionNotFound = errors.New("transition not found")

// TransitionNotFoundError means no currently offered transition leads to
// the requested status. It is terminal.
type TransitionNotFoundError struct {
	Key       string
	Target    string
	Available []string
}

func (e *TransitionNotFoundError) Error() string {
	return fmt.Sprintf("no transition to %q available for %s (available: %s)",
		e.Target, e.Key, strings.Join(e.Available, ", "))
}

// Is makes errors.Is(err, ErrTransitionNotFound) work.
func (e *TransitionNotFoundError) Is(target error) bool {
	return target == ErrTransitionNotFound
}

// Transition is a move Jira currently allows from an issue's status.
type Transition struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	To   NamedField `json:"to"`
}

// Matches reports whether target names this transition or its destination.
func (t Transition) Matches(target string) bool {
	target = strings.TrimSpace(target)
	return strings.EqualFold(t.Name, target) || strings.EqualFold(t.To.Name, target)
}

// GetTransitions lists the transitions offered from the current status.
func (c *Client) GetTransitions(ctx context.Context, key string) ([]Transition, error) {
	var out struct {
		Transitions []Transition `json:"transitions"`
	}
	if err := c.http.DoJSON(ctx, http.MethodGet, c.api("issue", key, "transitions"), nil, &out, transport.RequestOptions{}); err != nil {
		return nil, fmt.Errorf("list transitions for %s: %w", key, err)
	}
	return out.Transitions, nil
}

// TransitionIssue moves key to target, matched case-insensitively against
// each offered transition's name and destination status. When nothing
// matches no transition is attempted.
func (c *Client) TransitionIssue(ctx context.Context, key, target string) (*Transition, error) {
	available, err := c.GetTransitions(ctx, key)
	if err != nil {
		return nil, err
	}

	var match *Transition
	for i := range available {
		if available[i].Matches(target) {
			match = &available[i]
			break
		}
	}
	if match == nil {
		names := make([]string, 0, len(available))
		for _, t := range available {
			names = append(names, t.To.Name)
		}
		return nil, &TransitionNotFoundError{Key: key, Target: target, Available: names}
	}

	body := map[string]interface{}{"transition": map[string]string{"id": match.ID}}
	if err := c.http.DoJSON(ctx, http.MethodPost, c.api("issue", key, "transitions"), body, nil, transport.RequestOptions{}); err != nil {
		return nil, fmt.Errorf("transition %s via %q: %w", key, match.Name, err)
	}
	c.log.WithField("key", key).Infof("transitioned to %s", match.To.Name)
	return match, nil
}

// UpdateStatus moves key to the external status mapped from local.
func (c *Client) UpdateStatus(ctx context.Context, key string, local types.Status) (*Transition, error) {
	return c.TransitionIssue(ctx, key, c.statuses.ToExternal(local))
}
