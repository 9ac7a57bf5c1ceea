package journal

import (
	"testing"
	"time"
)

func TestDayOf(t *testing.T) {
	instant := time.Date(2026, 3, 14, 23, 59, 59, 0, time.UTC)
	if got := DayOf(instant); got != "2026-03-14" {
		t.Fatalf("unexpected day: %s", got)
	}
}

func TestDayBeforeCrossesMonthAndYearBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		instant time.Time
		want    string
	}{
		{name: "mid-month", instant: time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC), want: "2026-03-13"},
		{name: "first-of-month", instant: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), want: "2026-02-28"},
		{name: "new-year", instant: time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC), want: "2025-12-31"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DayBefore(tt.instant); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
