package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/raterudder/hems/pkg/controller"
	"github.com/raterudder/hems/pkg/energy"
	"github.com/raterudder/hems/pkg/log"
	"github.com/raterudder/hems/pkg/metrics"
	"github.com/raterudder/hems/pkg/storage"
	"github.com/raterudder/hems/pkg/tariff"
	"github.com/raterudder/hems/pkg/types"
)

// Store is the storage the live loop reads devices from and writes records
// to.
type Store interface {
	storage.DeviceStore
	storage.EnergySink
	GetLatestEnergyRecord(ctx context.Context) (*types.EnergyRecord, error)
}

// Config holds the live loop parameters.
type Config struct {
	// Tick is the wall-clock interval between steps.
	Tick time.Duration
	// Step is how far the virtual clock advances per tick.
	Step  time.Duration
	Model energy.Model
}

// DefaultConfig ticks every 2s and advances the virtual clock 30 minutes.
func DefaultConfig() Config {
	return Config{
		Tick:  2 * time.Second,
		Step:  30 * time.Minute,
		Model: energy.DefaultModel(),
	}
}

// Validate checks that the config is usable.
func (c Config) Validate() error {
	if c.Tick <= 0 {
		return fmt.Errorf("tick must be positive: %s", c.Tick)
	}
	if c.Step <= 0 {
		return fmt.Errorf("step must be positive: %s", c.Step)
	}
	return nil
}

// Loop advances a virtual clock on a fixed tick, applies the demand-response
// controller to the stored devices and appends one energy record per tick.
type Loop struct {
	cfg       Config
	store     Store
	ctrl      *controller.Controller
	overrides controller.OverrideChecker
	mode      *controller.Mode
	metrics   metrics.Recorder
	wallNow   func() time.Time

	// serializes ticks; guards ctrl and src
	tickLock sync.Mutex
	src      rand.Source

	clockLock sync.RWMutex
	clock     time.Time
}

// NewLoop creates a Loop. ctrlCfg.Step is replaced with cfg.Step. A nil
// overrides disables manual override handling, a nil recorder discards
// metrics and a nil src seeds from the current time.
func NewLoop(cfg Config, store Store, ctrlCfg controller.Config, overrides controller.OverrideChecker, mode *controller.Mode, rec metrics.Recorder, src rand.Source) *Loop {
	l := &Loop{}
	l.init(cfg, store, ctrlCfg, overrides, mode, rec, src)
	return l
}

func (l *Loop) init(cfg Config, store Store, ctrlCfg controller.Config, overrides controller.OverrideChecker, mode *controller.Mode, rec metrics.Recorder, src rand.Source) {
	ctrlCfg.Step = cfg.Step
	if rec == nil {
		rec = metrics.Nop{}
	}
	if mode == nil {
		mode = controller.NewMode(true)
	}
	if src == nil {
		seed := uint64(time.Now().UnixNano())
		src = rand.NewPCG(seed, seed>>1)
	}
	l.cfg = cfg
	l.store = store
	l.ctrl = controller.NewController(ctrlCfg)
	l.overrides = overrides
	l.mode = mode
	l.metrics = rec
	l.wallNow = time.Now
	l.src = src
}

// Now returns the virtual clock.
func (l *Loop) Now() time.Time {
	l.clockLock.RLock()
	defer l.clockLock.RUnlock()
	return l.clock
}

// Resume sets the virtual clock to the latest stored record, or the current
// step-aligned wall-clock time if nothing was stored yet.
func (l *Loop) Resume(ctx context.Context) error {
	latest, err := l.store.GetLatestEnergyRecord(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest energy record: %w", err)
	}
	start := l.wallNow().UTC().Truncate(l.cfg.Step)
	if latest != nil && !latest.Timestamp.IsZero() {
		start = latest.Timestamp.UTC()
	}
	l.clockLock.Lock()
	l.clock = start
	l.clockLock.Unlock()
	log.Ctx(ctx).InfoContext(ctx, "simulation clock set", slog.Time("clock", start), slog.Bool("resumed", latest != nil))
	return nil
}

func (l *Loop) advance() time.Time {
	l.clockLock.Lock()
	defer l.clockLock.Unlock()
	l.clock = l.clock.Add(l.cfg.Step)
	return l.clock
}

// LoadShiftingEnabled reports the current mode.
func (l *Loop) LoadShiftingEnabled() bool {
	return l.mode.LoadShiftingEnabled()
}

// SetLoadShifting changes the mode for subsequent ticks.
func (l *Loop) SetLoadShifting(enabled bool) {
	l.mode.SetLoadShifting(enabled)
}

func (l *Loop) switchDevice(ctx context.Context, deviceID int64, on bool, reason string) {
	if _, err := l.store.SetDeviceOn(ctx, deviceID, on); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to switch device",
			slog.Int64("deviceID", deviceID),
			slog.Bool("on", on),
			slog.Any("error", err),
		)
		return
	}
	if err := l.metrics.RecordDeviceSwitch(ctx, deviceID, on, reason); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to record device switch", slog.Any("error", err))
	}
}

// Tick advances the clock by one step and produces one record. A failure to
// read devices skips the record, a failure to switch a device is logged and
// the tick continues.
func (l *Loop) Tick(ctx context.Context) (types.EnergyRecord, error) {
	l.tickLock.Lock()
	defer l.tickLock.Unlock()

	now := l.advance()
	devices, err := l.store.ListDevices(ctx)
	if err != nil {
		return types.EnergyRecord{}, fmt.Errorf("failed to list devices: %w", err)
	}

	offset := tariff.OffsetOf(now)
	d := l.ctrl.Step(ctx, controller.Input{
		Offset:       offset,
		Now:          l.wallNow(),
		Devices:      devices,
		LoadShifting: l.mode.LoadShiftingEnabled(),
		Overrides:    l.overrides,
	})
	for _, id := range d.Shed {
		l.switchDevice(ctx, id, false, metrics.ReasonShed)
	}
	for _, id := range d.Restore {
		l.switchDevice(ctx, id, true, metrics.ReasonRestore)
	}

	solar := l.cfg.Model.Solar.Generate(offset.Hours(), l.src)
	consumption := l.cfg.Model.Load.Consumption(d.Running, d.ReboundKW, l.src)
	flows := l.cfg.Model.Battery.Split(solar, consumption)
	rec := types.EnergyRecord{
		ID:                 types.EnergyRecordID(now),
		Timestamp:          now,
		GridImportKW:       flows.ImportKW,
		GridExportKW:       flows.ExportKW,
		SolarGenerationKW:  solar,
		BatteryChargeKW:    flows.ChargeKW,
		BatteryDischargeKW: flows.DischargeKW,
		HomeConsumptionKW:  consumption,
		BatterySOC:         energy.MockSOC(l.src),
		IsPeak:             d.IsPeak,
		DeferredKWH:        d.LedgerKWH,
	}
	if err := l.store.AppendEnergyRecord(ctx, rec, types.CurrentEnergyRecordVersion); err != nil {
		return rec, fmt.Errorf("failed to append energy record: %w", err)
	}
	if err := l.metrics.RecordEnergy(ctx, rec); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to record energy metrics", slog.Any("error", err))
	}

	log.Ctx(ctx).InfoContext(ctx, "generated energy record",
		slog.Time("clock", now),
		slog.Float64("solarKW", solar),
		slog.Float64("loadKW", consumption),
		slog.Float64("soc", rec.BatterySOC),
		slog.Bool("peak", d.IsPeak),
		slog.Int("shed", len(d.Shed)),
		slog.Int("restored", len(d.Restore)),
		slog.Float64("deferredKWH", d.LedgerKWH),
	)
	return rec, nil
}

// Run resumes the clock and ticks until the context is canceled. Failed ticks
// are logged and not retried.
func (l *Loop) Run(ctx context.Context) error {
	ctx = log.Component(ctx, "simulation")
	if err := l.Resume(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(l.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Ctx(ctx).InfoContext(ctx, "simulation stopped", slog.Time("clock", l.Now()))
			return nil
		case <-ticker.C:
			if _, err := l.Tick(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					continue
				}
				log.Ctx(ctx).ErrorContext(ctx, "simulation tick failed", slog.Any("error", err))
			}
		}
	}
}
