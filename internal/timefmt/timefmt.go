// Package timefmt parses and formats the time values kube-janitor exchanges
// through annotations: relative TTLs, absolute expiry timestamps, and
// human-readable ages for log and event messages.
package timefmt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Forever is the TTL literal that disables deletion for an object.
const Forever = "forever"

// Timestamp is the layout used for expiry and deployment-time annotations
// and for timestamps embedded in notification messages.
const Timestamp = "2006-01-02T15:04:05Z"

var ttlPattern = regexp.MustCompile(`^(\d+)([smhdw])$`)

var ttlUnits = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
}

// ParseTTL parses a TTL value like "60s", "5m", "8h", "7d" or "2w".
// The literal "forever" yields a negative duration, which callers treat as a
// disabled TTL.
func ParseTTL(value string) (time.Duration, error) {
	if value == Forever {
		return -1, nil
	}
	match := ttlPattern.FindStringSubmatch(value)
	if match == nil {
		return 0, fmt.Errorf("TTL value %q does not match format (e.g. 60s, 5m, 8h, 7d, 2w)", value)
	}
	n, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("TTL value %q out of range", value)
	}
	return time.Duration(n) * ttlUnits[match[2]], nil
}

var expiryLayouts = []string{
	Timestamp,
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseExpiry parses an absolute expiry timestamp. All layouts are UTC.
func ParseExpiry(value string) (time.Time, error) {
	for _, layout := range expiryLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("expiry value %q does not match format %s", value, Timestamp)
}

// ParseTimestamp parses a timestamp in the annotation layout only.
func ParseTimestamp(value string) (time.Time, error) {
	t, err := time.Parse(Timestamp, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q does not match format %s", value, Timestamp)
	}
	return t.UTC(), nil
}

// FormatDuration renders a duration compactly using its two most significant
// units, e.g. "45s", "15m", "1d6h". Sub-second durations render as "0s".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "-" + FormatDuration(-d)
	}
	seconds := int64(d / time.Second)
	if seconds == 0 {
		return "0s"
	}

	units := []struct {
		suffix  string
		seconds int64
	}{
		{"w", 7 * 24 * 3600},
		{"d", 24 * 3600},
		{"h", 3600},
		{"m", 60},
		{"s", 1},
	}

	var b strings.Builder
	parts := 0
	for _, u := range units {
		if parts == 2 {
			break
		}
		if n := seconds / u.seconds; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, u.suffix)
			seconds -= n * u.seconds
			parts++
		} else if parts > 0 {
			// stop at the first gap so "1d0h5m" never happens
			break
		}
	}
	return b.String()
}
