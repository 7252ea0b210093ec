package validation

import (
	"fmt"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{Required("jira.domain"), "jira.domain: is required"},
		{New("content", "decoded attachment is empty"), "content: decoded attachment is empty"},
		{&Error{Message: "unable to parse request"}, "unable to parse request"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestIs(t *testing.T) {
	wrapped := fmt.Errorf("create bridge: %w", Required("email"))
	if !Is(wrapped) {
		t.Error("Is should see through wrapping")
	}
	if Is(fmt.Errorf("plain")) {
		t.Error("plain error is not a validation error")
	}
	if Is(nil) {
		t.Error("nil is not a validation error")
	}
}

func TestRequireAll(t *testing.T) {
	if err := RequireAll([2]string{"a", "x"}, [2]string{"b", "y"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := RequireAll([2]string{"a", "x"}, [2]string{"b", " "}, [2]string{"c", ""})
	ve, ok := err.(*Error)
	if !ok || ve.Field != "b" {
		t.Fatalf("want first missing field b, got %v", err)
	}
}
