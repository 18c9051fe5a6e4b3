package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/raterudder/hems/pkg/controller"
	"github.com/raterudder/hems/pkg/energy"
	"github.com/raterudder/hems/pkg/log"
	"github.com/raterudder/hems/pkg/metrics"
	"github.com/raterudder/hems/pkg/storage"
	"github.com/raterudder/hems/pkg/tariff"
	"github.com/raterudder/hems/pkg/types"
	"gonum.org/v1/gonum/floats"
)

// Strategy is one way of running the household for a day.
type Strategy int

const (
	// Baseline has no solar and runs every device as reported.
	Baseline Strategy = iota
	// Solar adds generation but still runs every device as reported.
	Solar
	// SmartShift adds generation and defers low priority load out of the peak.
	SmartShift
)

// Strategies lists every strategy in report order.
func Strategies() []Strategy {
	return []Strategy{Baseline, Solar, SmartShift}
}

func (s Strategy) String() string {
	switch s {
	case Baseline:
		return "Baseline"
	case Solar:
		return "Solar"
	case SmartShift:
		return "SmartShift"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// Totals aggregates a strategy's day.
type Totals struct {
	CostDollars    float64 `json:"totalCost"`
	GridImportKWH  float64 `json:"totalGridImportKWH"`
	GridExportKWH  float64 `json:"totalGridExportKWH"`
	ConsumptionKWH float64 `json:"totalConsumptionKWH"`
	DeferredKWH    float64 `json:"deferredKWH"`
	DrainedKWH     float64 `json:"drainedKWH"`
}

// Result is the outcome of simulating one strategy.
type Result struct {
	Strategy Strategy
	Records  []types.AnalysisRecord
	Totals   Totals
}

// StrategyReport is a strategy's entry in the Summary.
type StrategyReport struct {
	Strategy string `json:"strategy"`
	Totals
	File string `json:"file"`
}

// Summary describes one completed run.
type Summary struct {
	RunID      string           `json:"runID"`
	Started    time.Time        `json:"started"`
	Strategies []StrategyReport `json:"strategies"`
	// SavingsDollars is the Baseline cost minus the SmartShift cost.
	SavingsDollars float64 `json:"savings"`
}

// FilePaths returns the report file of every strategy.
func (s Summary) FilePaths() []string {
	paths := make([]string, 0, len(s.Strategies))
	for _, r := range s.Strategies {
		paths = append(paths, r.File)
	}
	return paths
}

// String renders the human readable summary.
func (s Summary) String() string {
	var b strings.Builder
	for _, r := range s.Strategies {
		fmt.Fprintf(&b, "\nScenario: %s\nTotal Cost: $%.2f\nTotal Grid Import: %.2f kWh\n", r.Strategy, r.CostDollars, r.GridImportKWH)
	}
	return b.String()
}

// ReportWriter persists a run's records and summary.
type ReportWriter interface {
	// Write stores the strategy's records and returns where they went.
	Write(strategy string, records []types.AnalysisRecord) (string, error)
	WriteSummary(summary Summary) (string, error)
}

// RunError is returned when a run is aborted.
type RunError struct {
	Stage    string
	Strategy string
	Err      error
}

func (e *RunError) Error() string {
	if e.Strategy != "" {
		return fmt.Sprintf("analysis %s failed for %s: %v", e.Stage, e.Strategy, e.Err)
	}
	return fmt.Sprintf("analysis %s failed: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Config holds the batch parameters.
type Config struct {
	Controller controller.Config
	Model      energy.Model
}

// DefaultConfig returns the half-hour, 48 step day without storage.
func DefaultConfig() Config {
	model := energy.DefaultModel()
	model.Battery = energy.Arbiter{}
	return Config{
		Controller: controller.DefaultConfig(),
		Model:      model,
	}
}

// Steps is the number of steps in the simulated day.
func (c Config) Steps() int {
	return int(tariff.Day / c.Controller.Step)
}

// SimulateDay runs a single strategy over the day. All strategies given the
// same devices and profile do the same total work.
func SimulateDay(ctx context.Context, strategy Strategy, cfg Config, devices []types.Device, profile energy.Profile) Result {
	step := cfg.Controller.Step
	stepHours := step.Hours()
	steps := cfg.Steps()

	var ctrl *controller.Controller
	if strategy == SmartShift {
		ctrl = controller.NewController(cfg.Controller)
	}
	var running []types.Device
	for _, d := range devices {
		if d.IsOn {
			running = append(running, d)
		}
	}

	res := Result{
		Strategy: strategy,
		Records:  make([]types.AnalysisRecord, 0, steps),
	}
	cost := make([]float64, steps)
	imported := make([]float64, steps)
	exported := make([]float64, steps)
	consumed := make([]float64, steps)
	for i := 0; i < steps; i++ {
		offset := time.Duration(i) * step

		solar := 0.0
		if strategy != Baseline {
			solar = profile.At(i)
		}

		load := running
		extraKW := 0.0
		isPeak := cfg.Controller.Tariff.IsPeak(offset)
		if ctrl != nil {
			d := ctrl.Step(ctx, controller.Input{
				Offset:       offset,
				Devices:      devices,
				LoadShifting: true,
			})
			load = d.Running
			extraKW = d.ReboundKW
			res.Totals.DeferredKWH += d.DeferredKWH
			res.Totals.DrainedKWH += d.DrainedKWH
		}

		consumption := cfg.Model.Load.Consumption(load, extraKW, nil)
		flows := cfg.Model.Battery.Split(solar, consumption)
		stepCost := flows.ImportKW * stepHours * cfg.Controller.Tariff.DollarsPerKWH(offset)

		cost[i] = stepCost
		imported[i] = flows.ImportKW * stepHours
		exported[i] = flows.ExportKW * stepHours
		consumed[i] = consumption * stepHours
		res.Records = append(res.Records, types.AnalysisRecord{
			TimeStep:        tariff.FormatOffset(offset),
			Scenario:        strategy.String(),
			SolarGeneration: solar,
			HomeConsumption: consumption,
			GridImport:      flows.ImportKW,
			GridExport:      flows.ExportKW,
			Cost:            stepCost,
			IsPeak:          isPeak,
		})
	}
	res.Totals.CostDollars = floats.Sum(cost)
	res.Totals.GridImportKWH = floats.Sum(imported)
	res.Totals.GridExportKWH = floats.Sum(exported)
	res.Totals.ConsumptionKWH = floats.Sum(consumed)
	return res
}

// Simulator runs every strategy against the stored devices and writes the
// reports.
type Simulator struct {
	cfg     Config
	devices storage.DeviceStore
	reports ReportWriter
	metrics metrics.Recorder

	// guards src, which is shared across concurrent runs
	srcLock sync.Mutex
	src     rand.Source
}

// NewSimulator creates a Simulator. A nil src seeds from the current time
// and a nil recorder discards metrics.
func NewSimulator(cfg Config, devices storage.DeviceStore, reports ReportWriter, rec metrics.Recorder, src rand.Source) *Simulator {
	if src == nil {
		seed := uint64(time.Now().UnixNano())
		src = rand.NewPCG(seed, seed>>1)
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Simulator{
		cfg:     cfg,
		devices: devices,
		reports: reports,
		metrics: rec,
		src:     src,
	}
}

// Profile samples one solar profile for the day.
func (s *Simulator) Profile() energy.Profile {
	s.srcLock.Lock()
	defer s.srcLock.Unlock()
	return energy.NewProfile(s.cfg.Model.Solar, s.src, s.cfg.Steps(), s.cfg.Controller.Step)
}

// Run simulates all strategies over one shared solar profile and writes a
// report per strategy. Any failure aborts the run with a *RunError.
func (s *Simulator) Run(ctx context.Context) (Summary, []Result, error) {
	summary := Summary{
		RunID:   uuid.NewString(),
		Started: time.Now(),
	}
	ctx = log.Component(ctx, "analysis")
	ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("runID", summary.RunID)))

	devices, err := s.devices.ListDevices(ctx)
	if err != nil {
		return Summary{}, nil, &RunError{Stage: "devices", Err: err}
	}
	profile := s.Profile()

	results := make([]Result, 0, len(Strategies()))
	for _, strategy := range Strategies() {
		results = append(results, SimulateDay(ctx, strategy, s.cfg, devices, profile))
	}

	for _, r := range results {
		path, err := s.reports.Write(r.Strategy.String(), r.Records)
		if err != nil {
			return Summary{}, nil, &RunError{Stage: "report", Strategy: r.Strategy.String(), Err: err}
		}
		summary.Strategies = append(summary.Strategies, StrategyReport{
			Strategy: r.Strategy.String(),
			Totals:   r.Totals,
			File:     path,
		})
	}
	summary.SavingsDollars = results[Baseline].Totals.CostDollars - results[SmartShift].Totals.CostDollars

	if _, err := s.reports.WriteSummary(summary); err != nil {
		return Summary{}, nil, &RunError{Stage: "summary", Err: err}
	}

	for _, r := range results {
		if err := s.metrics.RecordAnalysis(ctx, r.Strategy.String(), r.Totals.CostDollars, r.Totals.GridImportKWH); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to record analysis metrics", slog.Any("error", err))
		}
	}
	log.Ctx(ctx).InfoContext(ctx, "analysis complete",
		slog.Int("devices", len(devices)),
		slog.Float64("savings", summary.SavingsDollars),
	)
	return summary, results, nil
}
