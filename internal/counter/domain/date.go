package domain

import (
	"fmt"
	"time"
)

// DateLayout is the civil date format used for all counter keys.
const DateLayout = "2006-01-02"

// ParseDate validates a civil date string and returns it in canonical form.
func ParseDate(s string) (string, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t.Format(DateLayout), nil
}

// DateOf returns the civil date of t in UTC.
func DateOf(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// HourOf returns the UTC hour bucket for t, in [0,23].
func HourOf(t time.Time) int {
	return t.UTC().Hour()
}
