// Package calendar decides when fund NAVs are expected to publish.
package calendar

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed default_calendar.toml
var defaultCalendar []byte

// Calendar reports whether a date is a trading day
type Calendar interface {
	IsTradingDay(date time.Time) bool
}

// StaticCalendar is a weekday calendar with fixed holiday and make-up workday
// exceptions. Make-up workdays are trading days even on a weekend.
type StaticCalendar struct {
	holidays map[civilDate]struct{}
	workdays map[civilDate]struct{}
}

type civilDate struct {
	year  int
	month time.Month
	day   int
}

func civilOf(t time.Time) civilDate {
	y, m, d := t.Date()
	return civilDate{y, m, d}
}

type calendarFile struct {
	Years map[string]struct {
		Holidays []toml.LocalDate `toml:"holidays"`
		Workdays []toml.LocalDate `toml:"workdays"`
	} `toml:"years"`
}

// NewStaticCalendar builds a calendar from explicit exception dates
func NewStaticCalendar(holidays, workdays []time.Time) *StaticCalendar {
	c := &StaticCalendar{
		holidays: make(map[civilDate]struct{}, len(holidays)),
		workdays: make(map[civilDate]struct{}, len(workdays)),
	}
	for _, d := range holidays {
		c.holidays[civilOf(d)] = struct{}{}
	}
	for _, d := range workdays {
		c.workdays[civilOf(d)] = struct{}{}
	}
	return c
}

// Parse reads a TOML calendar with one table per year under [years]
func Parse(data []byte) (*StaticCalendar, error) {
	var f calendarFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse calendar: %w", err)
	}

	c := &StaticCalendar{
		holidays: make(map[civilDate]struct{}),
		workdays: make(map[civilDate]struct{}),
	}
	for _, year := range f.Years {
		for _, d := range year.Holidays {
			c.holidays[civilDate{d.Year, time.Month(d.Month), d.Day}] = struct{}{}
		}
		for _, d := range year.Workdays {
			c.workdays[civilDate{d.Year, time.Month(d.Month), d.Day}] = struct{}{}
		}
	}
	return c, nil
}

// Load reads a calendar file, or the embedded default when path is empty
func Load(path string) (*StaticCalendar, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the embedded mainland China calendar
func Default() *StaticCalendar {
	c, err := Parse(defaultCalendar)
	if err != nil {
		panic(err)
	}
	return c
}

// IsTradingDay uses the wall-clock date of t in its own location
func (c *StaticCalendar) IsTradingDay(t time.Time) bool {
	d := civilOf(t)
	if _, ok := c.workdays[d]; ok {
		return true
	}
	if _, ok := c.holidays[d]; ok {
		return false
	}
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// DateOf returns the wall-clock date of t as midnight UTC, the form dates are
// stored and compared in.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
