package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/feedbackkit/fb/internal/apiclient"
	"github.com/feedbackkit/fb/internal/bridge"
	"github.com/feedbackkit/fb/internal/jira"
	"github.com/feedbackkit/fb/internal/transport"
	"github.com/feedbackkit/fb/internal/validation"
)

// FatalError writes an error message to stderr and exits with code 1.
func FatalError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// FatalErrorWithHint writes an error message with a hint to stderr and exits.
func FatalErrorWithHint(message, hint string) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", message)
	fmt.Fprintf(os.Stderr, "Hint: %s\n", hint)
	os.Exit(1)
}

// WarnError writes a warning message to stderr and returns.
func WarnError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}

// fail reports err in the selected output mode and exits.
func fail(err error) {
	code, hint := classify(err)
	if jsonOutput {
		outputJSONError(err, code)
	}
	if hint != "" {
		FatalErrorWithHint(err.Error(), hint)
	}
	FatalError("%v", err)
}

// failWithHint is fail with a caller-supplied hint for text output.
func failWithHint(err error, hint string) {
	if jsonOutput {
		code, _ := classify(err)
		outputJSONError(err, code)
	}
	FatalErrorWithHint(err.Error(), hint)
}

// classify returns a stable error code and an optional hint for err.
func classify(err error) (code, hint string) {
	var verr *validation.Error
	var unknown *bridge.UnknownBridgeError
	switch {
	case errors.As(err, &verr):
		return "invalid", ""
	case apiclient.IsUnauthorized(err):
		return "unauthorized", "set FB_API_KEY or run 'fb config set api.key <key>'"
	case apiclient.IsNotFound(err):
		return "not_found", ""
	case errors.Is(err, jira.ErrTransitionNotFound):
		return "no_transition", "run 'fb jira status <key>' to see the current status"
	case errors.As(err, &unknown):
		return "unknown_bridge", ""
	case transport.IsRetryable(err):
		return "unavailable", "the upstream service may be down; try again later"
	case transport.StatusCode(err) >= 400:
		return "upstream", ""
	}
	return "", ""
}
