package energy

import (
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

const (
	sunriseHour = 6.0
	sunsetHour  = 18.0
	noonHour    = 12.0
)

// Solar models rooftop generation as a bell curve centered at noon.
type Solar struct {
	PeakKW     float64 `json:"peakKW"`
	WidthHours float64 `json:"widthHours"`
}

// Potential returns the clear-sky generation (kW) at the fractional hour of
// the day. It is zero at or outside of the daylight window.
func (s Solar) Potential(hour float64) float64 {
	if hour <= sunriseHour || hour >= sunsetHour || s.WidthHours <= 0 {
		return 0
	}
	x := (hour - noonHour) / s.WidthHours
	return s.PeakKW * math.Exp(-x*x)
}

// Generate returns the generation (kW) at the fractional hour of the day with
// a cloud factor in [0.8, 1.0) drawn from src. A nil src uses the global
// source.
func (s Solar) Generate(hour float64, src rand.Source) float64 {
	potential := s.Potential(hour)
	if potential == 0 {
		return 0
	}
	clouds := distuv.Uniform{Min: 0.8, Max: 1.0, Src: src}
	return math.Max(potential*clouds.Rand(), 0)
}

// Profile holds one generation sample (kW) per simulation step of a day.
type Profile []float64

// NewProfile samples the solar model once per step, starting at midnight.
func NewProfile(s Solar, src rand.Source, steps int, step time.Duration) Profile {
	p := make(Profile, steps)
	for i := range p {
		hour := (time.Duration(i) * step).Hours()
		p[i] = s.Generate(hour, src)
	}
	return p
}

// At returns the sample for the given step or 0 when out of range.
func (p Profile) At(step int) float64 {
	if step < 0 || step >= len(p) {
		return 0
	}
	return p[step]
}
