package timeparsing

import (
	"testing"
	"time"
)

func TestParseCompactDuration(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{"+6h", time.Date(2025, 6, 15, 18, 0, 0, 0, time.UTC), false},
		{"-1d", time.Date(2025, 6, 14, 12, 0, 0, 0, time.UTC), false},
		{"2w", time.Date(2025, 6, 29, 12, 0, 0, 0, time.UTC), false},
		{"+3m", time.Date(2025, 9, 15, 12, 0, 0, 0, time.UTC), false},
		{"-1y", time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC), false},
		{"6", time.Time{}, true},
		{"+6x", time.Time{}, true},
		{"1.5d", time.Time{}, true},
		{"", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCompactDuration(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCompactDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseCompactDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseCompactDuration_MonthBoundary(t *testing.T) {
	now := time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC)
	got, err := ParseCompactDuration("+1m", now)
	if err != nil {
		t.Fatal(err)
	}
	// Go normalizes Feb 31 to Mar 3.
	if want := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseNaturalLanguage(t *testing.T) {
	// Wednesday, January 15, 2025, 10:00
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.Local)

	tests := []struct {
		input    string
		wantDay  int
		wantHour int // -1 means don't check
	}{
		{"tomorrow", 16, -1},
		{"yesterday", 14, -1},
		{"tomorrow at 9am", 16, 9},
		{"in 3 days", 18, -1},
		{"3 days ago", 12, -1},
		{"next monday", 20, -1},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseNaturalLanguage(tt.input, now)
			if err != nil {
				t.Fatalf("ParseNaturalLanguage(%q) error = %v", tt.input, err)
			}
			if got.Year() != 2025 || got.Month() != time.January || got.Day() != tt.wantDay {
				t.Errorf("ParseNaturalLanguage(%q) = %v, want Jan %d", tt.input, got, tt.wantDay)
			}
			if tt.wantHour >= 0 && got.Hour() != tt.wantHour {
				t.Errorf("ParseNaturalLanguage(%q) hour = %d, want %d", tt.input, got.Hour(), tt.wantHour)
			}
		})
	}

	for _, bad := range []string{"", "   ", "not a date at all"} {
		if _, err := ParseNaturalLanguage(bad, now); err == nil {
			t.Errorf("ParseNaturalLanguage(%q) expected error", bad)
		}
	}
}

func TestParseRelativeTime(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.Local)

	t.Run("compact keeps time of day", func(t *testing.T) {
		got, err := ParseRelativeTime("+1d", now)
		if err != nil {
			t.Fatal(err)
		}
		if !got.Equal(now.AddDate(0, 0, 1)) {
			t.Errorf("got %v", got)
		}
	})

	t.Run("date-only is midnight local", func(t *testing.T) {
		got, err := ParseRelativeTime("2025-02-01", now)
		if err != nil {
			t.Fatal(err)
		}
		if want := time.Date(2025, 2, 1, 0, 0, 0, 0, time.Local); !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("RFC3339", func(t *testing.T) {
		got, err := ParseRelativeTime("2025-03-15T14:30:00Z", now)
		if err != nil {
			t.Fatal(err)
		}
		if want := time.Date(2025, 3, 15, 14, 30, 0, 0, time.UTC); !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("natural language", func(t *testing.T) {
		got, err := ParseRelativeTime("yesterday", now)
		if err != nil {
			t.Fatal(err)
		}
		if got.Day() != 14 {
			t.Errorf("got %v", got)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		if _, err := ParseRelativeTime("not-a-date", now); err == nil {
			t.Error("expected error")
		}
	})
}

func TestParseSince(t *testing.T) {
	now := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		input string
		want  time.Time
	}{
		{"2d", now.AddDate(0, 0, -2)},
		{"-2d", now.AddDate(0, 0, -2)},
		{"+1h", now.Add(time.Hour)},
		{"2025-01-01T00:00:00Z", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseSince(tt.input, now)
		if err != nil {
			t.Fatalf("ParseSince(%q): %v", tt.input, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("ParseSince(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
