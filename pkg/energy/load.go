package energy

import (
	"math"
	"math/rand/v2"

	"github.com/raterudder/hems/pkg/types"
	"gonum.org/v1/gonum/stat/distuv"
)

// Load models household consumption: an always-on base load plus whatever
// devices the controller lets run.
type Load struct {
	BaseKW float64 `json:"baseKW"`
	// Random fluctuation range, only applied when a source is given.
	NoiseMinKW float64 `json:"noiseMinKW"`
	NoiseMaxKW float64 `json:"noiseMaxKW"`
}

// Consumption returns the total draw (kW) of the running devices plus extraKW
// (rebound load). Noise is added only when src is non-nil, so batch runs stay
// deterministic for a given device state. The result is never negative.
func (l Load) Consumption(running []types.Device, extraKW float64, src rand.Source) float64 {
	total := l.BaseKW + extraKW
	for _, d := range running {
		total += d.PowerRatingKW
	}
	if src != nil && l.NoiseMaxKW > l.NoiseMinKW {
		total += distuv.Uniform{Min: l.NoiseMinKW, Max: l.NoiseMaxKW, Src: src}.Rand()
	}
	return math.Max(total, 0)
}
