package util

import (
	"strconv"
	"strings"
	"time"
)

// unixMilliFloor separates unix milliseconds from unix seconds: second
// timestamps stay below it until the year 33658.
const unixMilliFloor = 1e12

// ParseInstant reads an absolute instant: RFC3339 with an optional
// fraction, unix seconds, or unix milliseconds. Wall clocks without a zone
// are rejected so the caller can apply the right location.
func ParseInstant(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	if n >= unixMilliFloor {
		return time.UnixMilli(n), true
	}
	return time.Unix(n, 0), true
}
