package calendar

import (
	"fmt"
	"time"
)

// Window is a daily time-of-day range [Start, End). When End is not after
// Start the window wraps past midnight.
type Window struct {
	Start time.Duration
	End   time.Duration
}

// DefaultWindow is 15:30 to 02:00 the next morning
var DefaultWindow = Window{
	Start: 15*time.Hour + 30*time.Minute,
	End:   2 * time.Hour,
}

// ParseWindow builds a window from HH:MM bounds
func ParseWindow(start, end string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e}, nil
}

// Contains reports whether the time of day of t falls inside the window
func (w Window) Contains(t time.Time) bool {
	tod := TimeOfDay(t)
	if w.Start < w.End {
		return tod >= w.Start && tod < w.End
	}
	return tod >= w.Start || tod < w.End
}

// ShouldRefreshNow is true only on a trading day inside the refresh window
func ShouldRefreshNow(cal Calendar, win Window, now time.Time) bool {
	return cal.IsTradingDay(now) && win.Contains(now)
}

// TimeOfDay returns the offset of t from its local midnight
func TimeOfDay(t time.Time) time.Duration {
	h, m, s := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
}

// ParseClock parses an HH:MM string into an offset from midnight
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
