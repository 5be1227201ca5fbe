package index

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/starford/ansuz/internal/apperr"
)

var relativeRangeRe = regexp.MustCompile(`^(\d+)([dwmy])$`)

// ParseDateRange resolves a date filter token to a point in time relative to
// now. Relative tokens count backwards: "7d" is seven days ago, "2m" two
// months, "1y" one year, "3w" three weeks. Absolute dates ("2025-01-15" or a
// full RFC 3339 timestamp) parse as written.
func ParseDateRange(token string, now time.Time) (time.Time, error) {
	if m := relativeRangeRe.FindStringSubmatch(token); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("index: date range %q: %w", token, err)
		}
		switch m[2] {
		case "d":
			return now.AddDate(0, 0, -n), nil
		case "w":
			return now.AddDate(0, 0, -7*n), nil
		case "m":
			return now.AddDate(0, -n, 0), nil
		default:
			return now.AddDate(-n, 0, 0), nil
		}
	}
	if t, ok := parseDateLiteral(token); ok {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("index: invalid date range %q (want <n>d|w|m|y or an absolute date): %w", token, apperr.ErrInvalidInput)
}
