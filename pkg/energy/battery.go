package energy

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Flows is the split of one step's net energy between the battery and the
// grid. All values are non-negative (kW).
type Flows struct {
	ChargeKW    float64 `json:"chargeKW"`
	DischargeKW float64 `json:"dischargeKW"`
	ImportKW    float64 `json:"importKW"`
	ExportKW    float64 `json:"exportKW"`
}

// Arbiter routes surplus into the battery before exporting and covers
// deficits from the battery before importing, up to MaxRateKW either way.
// A zero rate means no storage and every kW goes to or comes from the grid.
type Arbiter struct {
	MaxRateKW float64 `json:"maxRateKW"`
}

// Split divides generation minus consumption into battery and grid flows such
// that generation+discharge+import == consumption+charge+export.
func (a Arbiter) Split(generation, consumption float64) Flows {
	limit := math.Max(a.MaxRateKW, 0)
	net := generation - consumption
	if net > 0 {
		charge := math.Min(net, limit)
		return Flows{
			ChargeKW: charge,
			ExportKW: net - charge,
		}
	}
	deficit := -net
	discharge := math.Min(deficit, limit)
	return Flows{
		DischargeKW: discharge,
		ImportKW:    deficit - discharge,
	}
}

// MockSOC returns a state of charge hovering around 50%. The battery is not
// simulated beyond its rate limit.
func MockSOC(src rand.Source) float64 {
	return 50 + distuv.Uniform{Min: -1, Max: 1, Src: src}.Rand()
}

// Model bundles the physical models used by a simulation run.
type Model struct {
	Solar   Solar   `json:"solar"`
	Load    Load    `json:"load"`
	Battery Arbiter `json:"battery"`
}

// DefaultModel returns the household used by the live simulation.
func DefaultModel() Model {
	return Model{
		Solar: Solar{
			PeakKW:     2.0,
			WidthHours: 3.0,
		},
		Load: Load{
			BaseKW:     0.1,
			NoiseMinKW: -0.1,
			NoiseMaxKW: 0.3,
		},
		Battery: Arbiter{
			MaxRateKW: 3.0,
		},
	}
}
