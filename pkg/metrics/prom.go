package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/raterudder/hems/pkg/types"
)

// Prom exposes the latest energy record and controller activity as
// Prometheus metrics.
type Prom struct {
	power    *prometheus.GaugeVec
	soc      prometheus.Gauge
	deferred prometheus.Gauge
	peak     prometheus.Gauge
	records  prometheus.Counter
	switches *prometheus.CounterVec
	cost     *prometheus.GaugeVec
	imported *prometheus.GaugeVec
}

// NewProm registers metrics on the default Prometheus registerer.
func NewProm() (*Prom, error) {
	return NewPromWithRegistry(prometheus.DefaultRegisterer)
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// NewPromWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromWithRegistry(reg prometheus.Registerer) (*Prom, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prom{}
	var err error
	if p.power, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hems_power_kw",
		Help: "Power flows of the latest energy record",
	}, []string{"flow"})); err != nil {
		return nil, err
	}
	if p.soc, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hems_battery_soc_percent",
		Help: "Battery state of charge of the latest energy record",
	})); err != nil {
		return nil, err
	}
	if p.deferred, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hems_deferred_kwh",
		Help: "Deferred energy still owed by shed devices",
	})); err != nil {
		return nil, err
	}
	if p.peak, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hems_peak",
		Help: "1 while the simulated clock is in the peak window",
	})); err != nil {
		return nil, err
	}
	if p.records, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hems_energy_records_total",
		Help: "Total number of energy records produced",
	})); err != nil {
		return nil, err
	}
	if p.switches, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hems_device_switches_total",
		Help: "Total number of device state changes",
	}, []string{"reason", "on"})); err != nil {
		return nil, err
	}
	if p.cost, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hems_analysis_cost_dollars",
		Help: "Daily cost of the last analysis run per strategy",
	}, []string{"strategy"})); err != nil {
		return nil, err
	}
	if p.imported, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hems_analysis_grid_import_kwh",
		Help: "Daily grid import of the last analysis run per strategy",
	}, []string{"strategy"})); err != nil {
		return nil, err
	}
	return p, nil
}

// RecordEnergy sets the gauges to the record's values.
func (p *Prom) RecordEnergy(_ context.Context, rec types.EnergyRecord) error {
	p.power.WithLabelValues("solar").Set(rec.SolarGenerationKW)
	p.power.WithLabelValues("consumption").Set(rec.HomeConsumptionKW)
	p.power.WithLabelValues("grid_import").Set(rec.GridImportKW)
	p.power.WithLabelValues("grid_export").Set(rec.GridExportKW)
	p.power.WithLabelValues("battery_charge").Set(rec.BatteryChargeKW)
	p.power.WithLabelValues("battery_discharge").Set(rec.BatteryDischargeKW)
	p.soc.Set(rec.BatterySOC)
	p.deferred.Set(rec.DeferredKWH)
	if rec.IsPeak {
		p.peak.Set(1)
	} else {
		p.peak.Set(0)
	}
	p.records.Inc()
	return nil
}

// RecordDeviceSwitch counts a device state change.
func (p *Prom) RecordDeviceSwitch(_ context.Context, _ int64, on bool, reason string) error {
	p.switches.WithLabelValues(reason, strconv.FormatBool(on)).Inc()
	return nil
}

// RecordAnalysis sets the per-strategy totals.
func (p *Prom) RecordAnalysis(_ context.Context, strategy string, costDollars, gridImportKWH float64) error {
	p.cost.WithLabelValues(strategy).Set(costDollars)
	p.imported.WithLabelValues(strategy).Set(gridImportKWH)
	return nil
}
