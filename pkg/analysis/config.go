package analysis

import (
	"fmt"
	"math/rand/v2"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/hems/pkg/controller"
	"github.com/raterudder/hems/pkg/metrics"
	"github.com/raterudder/hems/pkg/storage"
)

// Configured registers the analysis flags and returns a Simulator that is
// ready once flags are parsed. The controller setup supplies the priority
// threshold and rebound duration.
func Configured(devices storage.DeviceStore, reports ReportWriter, rec metrics.Recorder, ctrl *controller.Setup) *Simulator {
	batteryKW := 0.0
	lflag.JSON(&batteryKW, "analysis-battery-kw", batteryKW, "Battery charge/discharge limit (kW) used by the analysis, 0 for none")
	seed := lflag.Int("analysis-seed", 0, "Seed for the analysis solar profile, 0 for a random seed")

	s := NewSimulator(DefaultConfig(), devices, reports, rec, nil)
	lflag.Do(func() {
		if batteryKW < 0 {
			panic(fmt.Sprintf("analysis-battery-kw must not be negative: %v", batteryKW))
		}
		s.cfg.Model.Battery.MaxRateKW = batteryKW
		if ctrl != nil {
			s.cfg.Controller.PriorityThreshold = ctrl.Config.PriorityThreshold
			s.cfg.Controller.ReboundDuration = ctrl.Config.ReboundDuration
		}
		if *seed != 0 {
			s.src = rand.NewPCG(uint64(*seed), uint64(*seed))
		}
	})
	return s
}
