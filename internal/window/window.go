// Package window schedules the half-open yearly windows a run iterates over.
package window

import (
	"errors"
	"fmt"
	"iter"
	"time"
)

// Finite stand-ins for open-ended validity bounds. Both fit in a float64
// without loss so they survive projection as numeric properties.
const (
	OpenStartMs int64 = -62135596800000 // 0001-01-01T00:00:00Z
	OpenEndMs   int64 = 253402300799000 // 9999-12-31T23:59:59Z
)

var ErrInvalidSchedule = errors.New("invalid window schedule")

type Window struct {
	StartMs          int64
	EndMs            int64
	StartYear        int
	EndYearInclusive int
	GraphName        string
	ParamsHash       string
}

func (w Window) String() string {
	return fmt.Sprintf("%s [%d,%d)", w.GraphName, w.StartYear, w.EndYearInclusive+1)
}

// Overlaps reports whether the closed interval [startMs, endMs] overlaps the window.
func (w Window) Overlaps(startMs, endMs float64) bool {
	return startMs < float64(w.EndMs) && endMs >= float64(w.StartMs)
}

type Schedule struct {
	StartYear        int
	EndYearExclusive int
	WindowYears      int
	StepYears        int
	ParamsHash       string
}

func NewSchedule(startYear, endYearExclusive, windowYears, stepYears int) (Schedule, error) {
	s := Schedule{
		StartYear:        startYear,
		EndYearExclusive: endYearExclusive,
		WindowYears:      windowYears,
		StepYears:        stepYears,
	}
	if err := s.validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

func (s Schedule) WithParamsHash(hash string) Schedule {
	s.ParamsHash = hash
	return s
}

func (s Schedule) validate() error {
	if s.WindowYears <= 0 {
		return fmt.Errorf("%w: window_years must be positive", ErrInvalidSchedule)
	}
	if s.StepYears <= 0 {
		return fmt.Errorf("%w: step_years must be positive", ErrInvalidSchedule)
	}
	if s.EndYearExclusive <= s.StartYear {
		return fmt.Errorf("%w: end year %d must be after start year %d", ErrInvalidSchedule, s.EndYearExclusive, s.StartYear)
	}
	return nil
}

// Count is floor((end-start-window)/step)+1, or zero when no window fits.
func (s Schedule) Count() int {
	span := s.EndYearExclusive - s.StartYear - s.WindowYears
	if span < 0 || s.StepYears <= 0 {
		return 0
	}
	return span/s.StepYears + 1
}

// Windows yields windows in chronological order. The sequence is lazy and can
// be ranged over any number of times.
func (s Schedule) Windows() iter.Seq[Window] {
	return func(yield func(Window) bool) {
		if s.StepYears <= 0 || s.WindowYears <= 0 {
			return
		}
		for y := s.StartYear; y+s.WindowYears <= s.EndYearExclusive; y += s.StepYears {
			if !yield(s.at(y)) {
				return
			}
		}
	}
}

func (s Schedule) All() []Window {
	out := make([]Window, 0, s.Count())
	for w := range s.Windows() {
		out = append(out, w)
	}
	return out
}

func (s Schedule) at(year int) Window {
	endExclusive := year + s.WindowYears
	return Window{
		StartMs:          YearStartMs(year),
		EndMs:            YearStartMs(endExclusive),
		StartYear:        year,
		EndYearInclusive: endExclusive - 1,
		GraphName:        fmt.Sprintf("rw_%d_%d", year, endExclusive-1),
		ParamsHash:       s.ParamsHash,
	}
}

func YearStartMs(year int) int64 {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
}
