package jira

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var issueKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*-[0-9]+$`)

// IsIssueKey reports whether s looks like PROJ-123.
func IsIssueKey(s string) bool {
	return issueKeyPattern.MatchString(s)
}

// IsBrowseURL checks if ref is a /browse/PROJ-123 URL. When baseURL is set the
// host must match too.
func IsBrowseURL(ref, baseURL string) bool {
	if !strings.Contains(ref, "/browse/") {
		return false
	}
	if baseURL != "" {
		baseURL = strings.TrimSuffix(baseURL, "/")
		if !strings.HasPrefix(ref, baseURL+"/") {
			return false
		}
	}
	return true
}

// KeyFromURL extracts the issue key from a browse URL.
// For example, "https://acme.atlassian.net/browse/FB-12" returns "FB-12".
func KeyFromURL(ref string) string {
	idx := strings.LastIndex(ref, "/browse/")
	if idx == -1 {
		return ""
	}
	key := ref[idx+len("/browse/"):]
	if i := strings.IndexAny(key, "?#/"); i >= 0 {
		key = key[:i]
	}
	return key
}

// ResolveKey accepts either an issue key or a browse URL. A URL must point at
// baseURL when one is given.
func ResolveKey(arg, baseURL string) (string, error) {
	arg = strings.TrimSpace(arg)
	if IsIssueKey(strings.ToUpper(arg)) {
		return strings.ToUpper(arg), nil
	}
	key := KeyFromURL(arg)
	if key == "" {
		return "", fmt.Errorf("not an issue key or browse URL: %q", arg)
	}
	if !IsBrowseURL(arg, baseURL) {
		return "", fmt.Errorf("%s is not an issue on %s", arg, baseURL)
	}
	return key, nil
}

// Jira writes zones as +0000 without a colon; RFC 3339 covers "Z" with or
// without fractional seconds.
var timeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	time.RFC3339Nano,
}

// ParseTime parses a created/updated value from the REST API.
func ParseTime(ts string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("jira: bad timestamp %q", ts)
}
