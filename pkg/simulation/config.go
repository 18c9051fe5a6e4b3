package simulation

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/hems/pkg/controller"
	"github.com/raterudder/hems/pkg/energy"
	"github.com/raterudder/hems/pkg/metrics"
)

// Configured registers the live simulation flags. The returned Loop shares
// the override registry and mode of ctrl.
func Configured(store Store, ctrl *controller.Setup, rec metrics.Recorder) *Loop {
	tick := lflag.Duration("sim-tick", 2*time.Second, "Wall-clock interval between simulation steps")
	step := lflag.Duration("sim-step", 30*time.Minute, "Simulated time advanced per step")
	seed := lflag.Int("sim-seed", 0, "Seed for the simulation noise, 0 for a random seed")
	model := energy.DefaultModel()
	lflag.JSON(&model, "sim-model", model, "JSON household model (solar, load and battery parameters)")

	l := &Loop{}
	lflag.Do(func() {
		cfg := Config{
			Tick:  *tick,
			Step:  *step,
			Model: model,
		}
		if err := cfg.Validate(); err != nil {
			panic(fmt.Sprintf("invalid simulation config: %v", err))
		}
		ctrlCfg := ctrl.Config
		ctrlCfg.Step = cfg.Step
		if err := ctrlCfg.Validate(); err != nil {
			panic(fmt.Sprintf("invalid simulation controller config: %v", err))
		}
		var src rand.Source
		if *seed != 0 {
			src = rand.NewPCG(uint64(*seed), uint64(*seed))
		}
		l.init(cfg, store, ctrlCfg, ctrl.Overrides, ctrl.Mode, rec, src)
	})
	return l
}
