package definition

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gantryci/gantry/internal/gantry/domain"
)

// unitDurations maps human duration units to their lengths. Months and
// years use the fixed 30/365 day conventions.
var unitDurations = map[string]time.Duration{
	"second": time.Second, "seconds": time.Second, "sec": time.Second, "secs": time.Second,
	"minute": time.Minute, "minutes": time.Minute, "min": time.Minute, "mins": time.Minute,
	"hour": time.Hour, "hours": time.Hour, "hr": time.Hour, "hrs": time.Hour,
	"day": 24 * time.Hour, "days": 24 * time.Hour,
	"week": 7 * 24 * time.Hour, "weeks": 7 * 24 * time.Hour, "wk": 7 * 24 * time.Hour, "wks": 7 * 24 * time.Hour,
	"month": 30 * 24 * time.Hour, "months": 30 * 24 * time.Hour, "mo": 30 * 24 * time.Hour, "mos": 30 * 24 * time.Hour,
	"year": 365 * 24 * time.Hour, "years": 365 * 24 * time.Hour, "yr": 365 * 24 * time.Hour, "yrs": 365 * 24 * time.Hour,
}

// ParseHumanDuration parses a duration in Go syntax ("90m", "1h30m") or
// human units ("30 minutes", "1 day 6 hours", "2 weeks"). A bare number is
// seconds.
func ParseHumanDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	fields := strings.Fields(s)

	if len(fields) == 1 {
		secs, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		if secs < 0 {
			return 0, fmt.Errorf("duration %q must not be negative", s)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}

	if len(fields)%2 != 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	var total time.Duration
	for i := 0; i < len(fields); i += 2 {
		amount, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: bad amount %q", s, fields[i])
		}
		if amount < 0 {
			return 0, fmt.Errorf("duration %q must not be negative", s)
		}
		unit, ok := unitDurations[fields[i+1]]
		if !ok {
			return 0, fmt.Errorf("invalid duration %q: unknown unit %q", s, fields[i+1])
		}
		total += time.Duration(amount * float64(unit))
	}

	return total, nil
}

// ParseExpiry parses an artifact expire_in value. Empty means the server
// default retention; "never" disables expiry.
func ParseExpiry(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, nil
	}
	if s == "never" {
		return domain.NeverExpire, nil
	}
	return ParseHumanDuration(s)
}
