package tariff

import (
	"fmt"
	"time"
)

// Day is the length of the simulated day.
const Day = 24 * time.Hour

// Window is a daily interval described as offsets from midnight. Start is
// inclusive and End is exclusive.
type Window struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Contains checks if the offset from midnight is inside the window.
func (w Window) Contains(offset time.Duration) bool {
	return offset >= w.Start && offset < w.End
}

// Validate checks that the window fits in a single day.
func (w Window) Validate() error {
	if w.Start < 0 || w.End > Day {
		return fmt.Errorf("window %s-%s must be within a day", w.Start, w.End)
	}
	if w.End <= w.Start {
		return fmt.Errorf("window end %s must be after start %s", w.End, w.Start)
	}
	return nil
}

// Schedule is a two-tier time-of-use tariff with a single daily peak window.
type Schedule struct {
	Peak                 Window  `json:"peak"`
	PeakDollarsPerKWH    float64 `json:"peakDollarsPerKWH"`
	OffPeakDollarsPerKWH float64 `json:"offPeakDollarsPerKWH"`
}

// Default returns the evening peak tariff: 18:00-22:00 at 0.30, otherwise 0.10.
func Default() Schedule {
	return Schedule{
		Peak: Window{
			Start: 18 * time.Hour,
			End:   22 * time.Hour,
		},
		PeakDollarsPerKWH:    0.30,
		OffPeakDollarsPerKWH: 0.10,
	}
}

// Validate checks the peak window and rates.
func (s Schedule) Validate() error {
	if err := s.Peak.Validate(); err != nil {
		return fmt.Errorf("invalid peak window: %w", err)
	}
	if s.PeakDollarsPerKWH < 0 || s.OffPeakDollarsPerKWH < 0 {
		return fmt.Errorf("rates must not be negative")
	}
	return nil
}

// IsPeak reports whether the offset from midnight falls in the peak window.
func (s Schedule) IsPeak(offset time.Duration) bool {
	return s.Peak.Contains(offset)
}

// DollarsPerKWH returns the rate in effect at the offset from midnight.
func (s Schedule) DollarsPerKWH(offset time.Duration) float64 {
	if s.IsPeak(offset) {
		return s.PeakDollarsPerKWH
	}
	return s.OffPeakDollarsPerKWH
}

// OffsetOf returns how far t is past its local midnight.
func OffsetOf(t time.Time) time.Duration {
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return t.Sub(midnight)
}

// FormatOffset renders an offset from midnight as HH:MM.
func FormatOffset(offset time.Duration) string {
	minutes := int(offset / time.Minute)
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
