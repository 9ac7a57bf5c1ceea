package journal

import "time"

// dayLayout renders calendar days in the server's local zone; all streak
// and daily-flag decisions compare these strings.
const dayLayout = "2006-01-02"

// DayOf formats an instant as a calendar-day string.
func DayOf(instant time.Time) string {
	return instant.Format(dayLayout)
}

// DayBefore formats the calendar day preceding the given instant.
func DayBefore(instant time.Time) string {
	return instant.AddDate(0, 0, -1).Format(dayLayout)
}
