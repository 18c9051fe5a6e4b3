package controller

import (
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/hems/pkg/types"
)

// Setup is the flag-configured controller state shared by the live
// simulation and the API.
type Setup struct {
	Config    Config
	Overrides *Overrides
	Mode      *Mode
}

// Configured registers the demand-response flags. The returned Setup is
// populated once flags are parsed.
func Configured() *Setup {
	threshold := lflag.Int("priority-threshold", types.DefaultPriorityThreshold, "Devices with a priority below this are deferrable during peak")
	overrideTTL := lflag.Duration("override-ttl", 5*time.Minute, "How long a manual device change suppresses automatic control")
	rebound := lflag.Duration("rebound-duration", 2*time.Hour, "How long after the peak window deferred energy is repaid")
	loadShifting := lflag.Bool("load-shifting", true, "Initial state of peak load shifting")

	s := &Setup{Config: DefaultConfig()}
	lflag.Do(func() {
		s.Config.PriorityThreshold = *threshold
		s.Config.ReboundDuration = *rebound
		if err := s.Config.Validate(); err != nil {
			panic(fmt.Sprintf("invalid controller config: %v", err))
		}
		if *overrideTTL <= 0 {
			panic(fmt.Sprintf("override-ttl must be positive: %s", *overrideTTL))
		}
		s.Overrides = NewOverrides(*overrideTTL)
		s.Mode = NewMode(*loadShifting)
	})
	return s
}
