package campaign

import "time"

const clockLayout = "15:04"

// WithinDailyWindow reports whether now's time of day falls inside
// [first, last). Empty bounds mean the side is unbounded. Malformed bounds
// fail closed so a bad campaign row cannot dial around the clock.
func WithinDailyWindow(now time.Time, first, last string) bool {
	minuteOfDay := now.Hour()*60 + now.Minute()

	if first != "" {
		parsed, err := time.Parse(clockLayout, first)
		if err != nil {
			return false
		}

		if minuteOfDay < parsed.Hour()*60+parsed.Minute() {
			return false
		}
	}

	if last != "" {
		parsed, err := time.Parse(clockLayout, last)
		if err != nil {
			return false
		}

		if minuteOfDay >= parsed.Hour()*60+parsed.Minute() {
			return false
		}
	}

	return true
}

// WithinDateRange reports whether today falls inside the campaign's start
// and end dates, both inclusive and both optional.
func WithinDateRange(now time.Time, start, end *time.Time) bool {
	today := now.Truncate(24 * time.Hour)

	if start != nil && today.Before(start.Truncate(24*time.Hour)) {
		return false
	}

	if end != nil && today.After(end.Truncate(24*time.Hour)) {
		return false
	}

	return true
}
