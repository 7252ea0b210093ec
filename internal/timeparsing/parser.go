// Package timeparsing turns user-typed time expressions into instants.
//
// Expressions are tried in layers, first match wins:
//  1. Compact duration (+6h, -1d, 2w)
//  2. Absolute timestamp (RFC3339, date-only)
//  3. Natural language (yesterday, 3 days ago, next monday)
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// compactDurationRe matches [+-]?(\d+)([hdwmy]), e.g. +6h, -1d, 2w, 3m, 1y.
var compactDurationRe = regexp.MustCompile(`^([+-]?)(\d+)([hdwmy])$`)

// ParseCompactDuration applies a compact duration to now. Units are h(ours),
// d(ays), w(eeks), m(onths) and y(ears); no sign means forward.
func ParseCompactDuration(s string, now time.Time) (time.Time, error) {
	amount, unit, err := compact(s)
	if err != nil {
		return time.Time{}, err
	}
	return applyDuration(now, amount, unit), nil
}

func compact(s string) (int, string, error) {
	m := compactDurationRe.FindStringSubmatch(s)
	if m == nil {
		return 0, "", fmt.Errorf("not a compact duration: %q", s)
	}
	amount, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, "", fmt.Errorf("invalid duration amount: %q", m[2])
	}
	if m[1] == "-" {
		amount = -amount
	}
	return amount, m[3], nil
}

func applyDuration(base time.Time, amount int, unit string) time.Time {
	switch unit {
	case "h":
		return base.Add(time.Duration(amount) * time.Hour)
	case "d":
		return base.AddDate(0, 0, amount)
	case "w":
		return base.AddDate(0, 0, amount*7)
	case "m":
		return base.AddDate(0, amount, 0)
	case "y":
		return base.AddDate(amount, 0, 0)
	}
	return base
}

// IsCompactDuration reports whether s is compact duration syntax.
func IsCompactDuration(s string) bool {
	return compactDurationRe.MatchString(s)
}

// ParseAbsolute accepts RFC3339 or a bare date in now's location.
func ParseAbsolute(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("not an absolute timestamp: %q", s)
}

// ParseRelativeTime runs every layer in order.
func ParseRelativeTime(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}
	if IsCompactDuration(s) {
		return ParseCompactDuration(s, now)
	}
	if t, err := ParseAbsolute(s, now); err == nil {
		return t, nil
	}
	if t, err := ParseNaturalLanguage(s, now); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q (try -2d, yesterday or 2025-01-31)", s)
}

// ParseSince is ParseRelativeTime for lower bounds: an unsigned compact
// duration counts backwards, so "2d" means two days ago.
func ParseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if IsCompactDuration(s) && !strings.HasPrefix(s, "+") {
		amount, unit, err := compact(s)
		if err != nil {
			return time.Time{}, err
		}
		if amount > 0 {
			amount = -amount
		}
		return applyDuration(now, amount, unit), nil
	}
	return ParseRelativeTime(s, now)
}
