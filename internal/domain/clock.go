package domain

import (
	"fmt"
	"strconv"
	"strings"
)

const secondsPerDay = 24 * 60 * 60

// ParseClock converts "HH:MM" or "HH:MM:SS" to seconds from midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("parse clock %q: want HH:MM[:SS]", s)
	}

	limits := []int{23, 59, 59}
	total := 0
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > limits[i] {
			return 0, fmt.Errorf("parse clock %q: invalid component %q", s, p)
		}
		total = total*60 + n
	}
	if len(parts) == 2 {
		total *= 60
	}

	return total, nil
}

// FormatClock renders seconds from midnight as HH:MM:SS. Negative values
// clamp to midnight; hours wrap past 24.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := (seconds / 3600) % 24
	m := (seconds % 3600) / 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// NormalizeClock returns s as HH:MM:SS.
func NormalizeClock(s string) (string, error) {
	secs, err := ParseClock(s)
	if err != nil {
		return "", err
	}
	return FormatClock(secs % secondsPerDay), nil
}
