package controller

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/raterudder/hems/pkg/tariff"
	"github.com/raterudder/hems/pkg/types"
)

// Config holds the demand-response parameters.
type Config struct {
	PriorityThreshold int
	// Step is the simulated time covered by a single call to Step.
	Step time.Duration
	// ReboundDuration is how long after the peak window deferred energy is
	// repaid.
	ReboundDuration time.Duration
	Tariff          tariff.Schedule
}

// DefaultConfig returns the half-hour step controller with a two hour rebound.
func DefaultConfig() Config {
	return Config{
		PriorityThreshold: types.DefaultPriorityThreshold,
		Step:              30 * time.Minute,
		ReboundDuration:   2 * time.Hour,
		Tariff:            tariff.Default(),
	}
}

// Validate checks that the config is usable.
func (c Config) Validate() error {
	if c.Step <= 0 {
		return fmt.Errorf("step must be positive: %s", c.Step)
	}
	if c.ReboundDuration < 0 {
		return fmt.Errorf("rebound duration must not be negative: %s", c.ReboundDuration)
	}
	if err := c.Tariff.Validate(); err != nil {
		return err
	}
	if c.Tariff.Peak.End+c.ReboundDuration > tariff.Day {
		return fmt.Errorf("rebound window must end by midnight")
	}
	return nil
}

// ReboundWindow is the interval right after the peak in which the ledger is
// repaid.
func (c Config) ReboundWindow() tariff.Window {
	return tariff.Window{
		Start: c.Tariff.Peak.End,
		End:   c.Tariff.Peak.End + c.ReboundDuration,
	}
}

// OverrideChecker reports manual overrides. *Overrides implements it.
type OverrideChecker interface {
	IsActive(deviceID int64, now time.Time) bool
}

// Input is everything the controller looks at for one step.
type Input struct {
	// Offset is the simulated time of day.
	Offset time.Duration
	// Now is the wall-clock time used for override expiry.
	Now          time.Time
	Devices      []types.Device
	LoadShifting bool
	// Overrides may be nil.
	Overrides OverrideChecker
}

// Decision is the outcome of a single step.
type Decision struct {
	IsPeak bool
	// Running are the devices that draw power this step, with IsOn set.
	Running []types.Device
	// Shed lists devices reported on that must be switched off.
	Shed []int64
	// Restore lists devices the controller shed earlier that must be switched
	// back on.
	Restore []int64

	DeferredKWH float64
	DrainedKWH  float64
	// ReboundKW is the extra load from repaying deferred energy.
	ReboundKW float64
	// LedgerKWH is the balance still owed after this step.
	LedgerKWH float64
}

// Controller decides which deferrable devices run during the peak window and
// when the energy they would have used is consumed. It keeps state across
// steps and is not safe for concurrent use.
type Controller struct {
	cfg    Config
	ledger Ledger
	shed   map[int64]struct{}
}

// NewController creates a Controller with an empty ledger.
func NewController(cfg Config) *Controller {
	return &Controller{
		cfg:  cfg,
		shed: make(map[int64]struct{}),
	}
}

// Config returns the controller's configuration.
func (c *Controller) Config() Config {
	return c.cfg
}

// Ledger returns a copy of the deferred-energy ledger.
func (c *Controller) Ledger() Ledger {
	return c.ledger
}

// IsShed reports whether the controller is currently holding the device off.
func (c *Controller) IsShed(deviceID int64) bool {
	_, ok := c.shed[deviceID]
	return ok
}

// Step runs the controller for the step starting at in.Offset.
func (c *Controller) Step(ctx context.Context, in Input) Decision {
	stepHours := c.cfg.Step.Hours()
	peak := c.cfg.Tariff.IsPeak(in.Offset)
	shedding := peak && in.LoadShifting
	d := Decision{IsPeak: peak}

	seen := make(map[int64]struct{}, len(in.Devices))
	for _, dev := range in.Devices {
		seen[dev.ID] = struct{}{}
		_, wasShed := c.shed[dev.ID]

		if !dev.Deferrable(c.cfg.PriorityThreshold) {
			delete(c.shed, dev.ID)
			if dev.IsOn {
				d.Running = append(d.Running, dev)
			}
			continue
		}

		// looked up once so the decision is consistent within the step
		if in.Overrides != nil && in.Overrides.IsActive(dev.ID, in.Now) {
			if wasShed {
				slog.DebugContext(ctx, "manual override releases shed device", slog.Int64("deviceID", dev.ID))
				delete(c.shed, dev.ID)
			}
			if dev.IsOn {
				d.Running = append(d.Running, dev)
			}
			continue
		}

		wantsOn := dev.IsOn || wasShed
		if shedding {
			if !wantsOn {
				continue
			}
			if !wasShed {
				c.shed[dev.ID] = struct{}{}
				slog.DebugContext(ctx, "shedding device for peak", slog.Int64("deviceID", dev.ID), slog.String("name", dev.Name))
			}
			if dev.IsOn {
				d.Shed = append(d.Shed, dev.ID)
			}
			kwh := dev.PowerRatingKW * stepHours
			c.ledger.Defer(kwh)
			d.DeferredKWH += kwh
			continue
		}

		if wasShed {
			delete(c.shed, dev.ID)
			if !dev.IsOn {
				d.Restore = append(d.Restore, dev.ID)
			}
		}
		if wantsOn {
			dev.IsOn = true
			d.Running = append(d.Running, dev)
		}
	}
	for id := range c.shed {
		if _, ok := seen[id]; !ok {
			delete(c.shed, id)
		}
	}

	if !peak && c.ledger.BalanceKWH() > 0 {
		remaining := 1
		rebound := c.cfg.ReboundWindow()
		if c.cfg.ReboundDuration > 0 && rebound.Contains(in.Offset) {
			remaining = int(math.Ceil(float64(rebound.End-in.Offset) / float64(c.cfg.Step)))
		}
		d.DrainedKWH = c.ledger.Drain(remaining)
		d.ReboundKW = d.DrainedKWH / stepHours
		slog.DebugContext(ctx, "repaying deferred energy",
			slog.Float64("drainedKWH", d.DrainedKWH),
			slog.Int("remainingSteps", remaining),
		)
	}
	d.LedgerKWH = c.ledger.BalanceKWH()
	return d
}
