package utils

import "time"

const sqlTimeLayout = "2006-01-02 15:04:05"

func TimeToString(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.Format(sqlTimeLayout)
}

// ParseFlexibleTime accepts RFC3339 first, then the common SQL layout.
func ParseFlexibleTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse(sqlTimeLayout, s)
		if err != nil {
			return nil, err
		}
	}

	return &t, nil
}
