// Package bridge defines the contract shared by every external integration
// and a registry for looking them up by name.
package bridge

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/feedbackkit/fb/internal/types"
)

// Bridge relays a normalized submission to one external system.
type Bridge interface {
	// Name is the lowercase registry key (e.g. "jira", "sheets").
	Name() string
	// Handle dispatches on ps.Action.
	Handle(ctx context.Context, ps *types.ParsedSubmission) (*Result, error)
}

// Result is what a bridge reports back to its caller.
type Result struct {
	Action      types.Action            `json:"action"`
	Ref         *types.ExternalIssueRef `json:"ref,omitempty"`
	Status      string                  `json:"status,omitempty"`
	LocalStatus types.Status            `json:"localStatus,omitempty"`
	Attachments int                     `json:"attachments,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
}

// Registry holds configured bridges by name.
type Registry struct {
	mu      sync.RWMutex
	bridges map[string]Bridge
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{bridges: make(map[string]Bridge)}
}

// Register adds b under b.Name(), replacing any previous entry.
func (r *Registry) Register(b Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bridges[b.Name()] = b
}

// Get returns the bridge registered under name, or nil.
func (r *Registry) Get(name string) Bridge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bridges[name]
}

// List returns the names of all registered bridges, sorted alphabetically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.bridges))
	for name := range r.bridges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UnknownBridgeError is returned by Dispatch for unregistered names.
type UnknownBridgeError struct {
	Name      string
	Available []string
}

func (e *UnknownBridgeError) Error() string {
	return fmt.Sprintf("unknown bridge %q (available: %v)", e.Name, e.Available)
}

// Dispatch routes ps to the named bridge.
func (r *Registry) Dispatch(ctx context.Context, name string, ps *types.ParsedSubmission) (*Result, error) {
	b := r.Get(name)
	if b == nil {
		return nil, &UnknownBridgeError{Name: name, Available: r.List()}
	}
	return b.Handle(ctx, ps)
}
