package metrics

import (
	"context"
	"log/slog"

	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/raterudder/hems/pkg/log"
	"github.com/raterudder/hems/pkg/types"
)

// Switch reasons.
const (
	ReasonShed    = "shed"
	ReasonRestore = "restore"
	ReasonManual  = "manual"
)

// Recorder receives what the simulations produce.
type Recorder interface {
	RecordEnergy(ctx context.Context, rec types.EnergyRecord) error
	RecordDeviceSwitch(ctx context.Context, deviceID int64, on bool, reason string) error
	RecordAnalysis(ctx context.Context, strategy string, costDollars, gridImportKWH float64) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordEnergy(context.Context, types.EnergyRecord) error { return nil }

func (Nop) RecordDeviceSwitch(context.Context, int64, bool, string) error { return nil }

func (Nop) RecordAnalysis(context.Context, string, float64, float64) error { return nil }

// Multi fans out to multiple recorders, returning the first error encountered.
type Multi []Recorder

func (m Multi) RecordEnergy(ctx context.Context, rec types.EnergyRecord) error {
	for _, r := range m {
		if err := r.RecordEnergy(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) RecordDeviceSwitch(ctx context.Context, deviceID int64, on bool, reason string) error {
	for _, r := range m {
		if err := r.RecordDeviceSwitch(ctx, deviceID, on, reason); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) RecordAnalysis(ctx context.Context, strategy string, costDollars, gridImportKWH float64) error {
	for _, r := range m {
		if err := r.RecordAnalysis(ctx, strategy, costDollars, gridImportKWH); err != nil {
			return err
		}
	}
	return nil
}

// Configured registers the Prometheus collectors and, when --influx-url is
// set, mirrors everything to InfluxDB.
func Configured() Recorder {
	influxURL := lflag.String("influx-url", "", "InfluxDB URL to mirror energy records to (disabled when empty)")
	influxToken := lflag.String("influx-token", "", "InfluxDB API token")
	influxOrg := lflag.String("influx-org", "", "InfluxDB organization")
	influxBucket := lflag.String("influx-bucket", "hems", "InfluxDB bucket")

	m := &Multi{}
	lflag.Do(func() {
		prom, err := NewPromWithRegistry(prometheus.DefaultRegisterer)
		if err != nil {
			panic("failed to register prometheus metrics: " + err.Error())
		}
		*m = append(*m, prom)
		if *influxURL != "" {
			influx := NewInfluxWithFallback(*influxURL, *influxToken, *influxOrg, *influxBucket)
			if _, ok := influx.(Nop); ok {
				log.Ctx(context.Background()).Warn("influx unavailable, not mirroring records", slog.String("url", *influxURL))
				return
			}
			*m = append(*m, influx)
		}
	})
	return m
}
