package metrics

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/raterudder/hems/pkg/common"
	"github.com/raterudder/hems/pkg/log"
	"github.com/raterudder/hems/pkg/types"
)

// Influx writes energy records and controller events to InfluxDB.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	now      func() time.Time
}

// NewInflux creates a recorder for the given InfluxDB endpoint.
func NewInflux(url, token, org, bucket string) *Influx {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(common.HTTPClient(5*time.Second)))
	return &Influx{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		now:      time.Now,
	}
}

// NewInfluxWithFallback pings the InfluxDB instance and returns Nop if the
// health check fails.
func NewInfluxWithFallback(url, token, org, bucket string) Recorder {
	i := NewInflux(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := i.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "influx health check error", slog.Any("error", err))
		} else {
			log.Ctx(ctx).ErrorContext(ctx, "influx health check failed", slog.String("status", string(health.Status)))
		}
		i.client.Close()
		return Nop{}
	}
	return i
}

// Close releases the client.
func (i *Influx) Close() {
	i.client.Close()
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// RecordEnergy writes the record as an "energy_record" point at its
// simulated timestamp.
func (i *Influx) RecordEnergy(ctx context.Context, rec types.EnergyRecord) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("energy_record").
		AddTag("peak", strconv.FormatBool(rec.IsPeak)).
		AddField("grid_import_kw", round3(rec.GridImportKW)).
		AddField("grid_export_kw", round3(rec.GridExportKW)).
		AddField("solar_kw", round3(rec.SolarGenerationKW)).
		AddField("battery_charge_kw", round3(rec.BatteryChargeKW)).
		AddField("battery_discharge_kw", round3(rec.BatteryDischargeKW)).
		AddField("home_kw", round3(rec.HomeConsumptionKW)).
		AddField("battery_soc", round3(rec.BatterySOC)).
		AddField("deferred_kwh", round3(rec.DeferredKWH)).
		SetTime(rec.Timestamp)
	return i.writeAPI.WritePoint(ctx, p)
}

// RecordDeviceSwitch writes a "device_switch" point.
func (i *Influx) RecordDeviceSwitch(ctx context.Context, deviceID int64, on bool, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("device_switch").
		AddTag("device_id", strconv.FormatInt(deviceID, 10)).
		AddTag("reason", reason).
		AddField("on", on).
		SetTime(i.now())
	return i.writeAPI.WritePoint(ctx, p)
}

// RecordAnalysis writes an "analysis_run" point.
func (i *Influx) RecordAnalysis(ctx context.Context, strategy string, costDollars, gridImportKWH float64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("analysis_run").
		AddTag("strategy", strategy).
		AddField("cost_dollars", round3(costDollars)).
		AddField("grid_import_kwh", round3(gridImportKWH)).
		SetTime(i.now())
	return i.writeAPI.WritePoint(ctx, p)
}
