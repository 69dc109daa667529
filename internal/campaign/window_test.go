package campaign

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clockAt(hour, minute int) time.Time {
	return time.Date(2025, 6, 15, hour, minute, 0, 0, time.UTC)
}

func TestWithinDailyWindow(t *testing.T) {
	require.True(t, WithinDailyWindow(clockAt(9, 0), "09:00", "17:00"))
	require.True(t, WithinDailyWindow(clockAt(16, 59), "09:00", "17:00"))
	require.False(t, WithinDailyWindow(clockAt(17, 0), "09:00", "17:00"))
	require.False(t, WithinDailyWindow(clockAt(8, 59), "09:00", "17:00"))
}

func TestWithinDailyWindowUnboundedSides(t *testing.T) {
	require.True(t, WithinDailyWindow(clockAt(3, 0), "", "17:00"))
	require.True(t, WithinDailyWindow(clockAt(23, 30), "09:00", ""))
	require.True(t, WithinDailyWindow(clockAt(12, 0), "", ""))
}

func TestWithinDailyWindowMalformedBoundsFailClosed(t *testing.T) {
	require.False(t, WithinDailyWindow(clockAt(12, 0), "9am", "17:00"))
	require.False(t, WithinDailyWindow(clockAt(12, 0), "09:00", "five"))
}

func TestWithinDateRange(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

	require.True(t, WithinDateRange(now, &start, &end))
	require.True(t, WithinDateRange(now, nil, nil))
	require.True(t, WithinDateRange(now, &start, nil))

	onStart := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	require.True(t, WithinDateRange(onStart, &start, &end))

	onEnd := time.Date(2025, 6, 30, 23, 0, 0, 0, time.UTC)
	require.True(t, WithinDateRange(onEnd, &start, &end))

	before := time.Date(2025, 5, 31, 12, 0, 0, 0, time.UTC)
	require.False(t, WithinDateRange(before, &start, &end))

	after := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	require.False(t, WithinDateRange(after, &start, &end))
}
