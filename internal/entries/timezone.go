package entries

import (
	"fmt"
	"strings"
	"time"
)

// LoadTimezone resolves an IANA timezone name, defaulting to UTC for empty input.
func LoadTimezone(name string) (*time.Location, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return time.UTC, nil
	}
	location, err := time.LoadLocation(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, name)
	}
	return location, nil
}

// DayBounds returns the half-open interval [midnight, next midnight) that
// contains the given instant in the provided timezone.
func DayBounds(at time.Time, location *time.Location) (time.Time, time.Time) {
	local := at.In(location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, location)
	return start, start.AddDate(0, 0, 1)
}
