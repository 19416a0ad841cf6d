package calendar

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"MarketPulse/internal/domain/models"
)

const (
	endOfDay    = 24 * 60 * 60
	EndOfDayStr = "24:00:00"
	dateLayout  = "2006-01-02"
	Wildcard    = "*"
)

var datePatternRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// IsDatePattern reports whether p names a specific calendar date.
func IsDatePattern(p string) bool { return datePatternRe.MatchString(p) }

// parseClock converts "HH:MM:SS" (or "HH:MM") into seconds since midnight.
// "24:00:00" yields endOfDay.
func parseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("malformed time %q", s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("malformed time %q", s)
		}
		v[i] = n
	}
	h, m, sec := v[0], v[1], v[2]
	if m > 59 || sec > 59 {
		return 0, fmt.Errorf("malformed time %q", s)
	}
	total := h*3600 + m*60 + sec
	if h > 24 || total > endOfDay {
		return 0, fmt.Errorf("malformed time %q", s)
	}
	return total, nil
}

// clockOf returns seconds since midnight of t in its own location.
func clockOf(t time.Time) int {
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// window is a rule with its times parsed.
type window struct {
	rule  models.TradingRule
	start int
	end   int
}

func parseWindow(r models.TradingRule) (window, error) {
	start, err := parseClock(r.StartTime)
	if err != nil {
		return window{}, fmt.Errorf("start: %w", err)
	}
	end, err := parseClock(r.EndTime)
	if err != nil {
		return window{}, fmt.Errorf("end: %w", err)
	}
	if start == endOfDay {
		return window{}, fmt.Errorf("start: malformed time %q", r.StartTime)
	}
	return window{rule: r, start: start, end: end}, nil
}

// contains applies half-open window semantics. An end of 24:00:00 covers the
// last second of the day; start > end wraps past midnight.
func (w window) contains(t int) bool {
	if w.start <= w.end {
		return t >= w.start && t < w.end
	}
	return t >= w.start || t < w.end
}

// spansDay reports whether the window covers the whole day.
func (w window) spansDay() bool {
	return w.start == 0 && w.end == endOfDay
}
