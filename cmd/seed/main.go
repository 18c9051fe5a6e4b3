package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/hems/pkg/log"
	"github.com/raterudder/hems/pkg/storage"
	"github.com/raterudder/hems/pkg/types"
)

// defaultDevices is a typical household. Priority 1 devices are deferrable
// with the default threshold of 2.
var defaultDevices = []types.Device{
	{Name: "Refrigerator", DeviceType: "refrigerator", PowerRatingKW: 0.15, IsOn: true, Priority: 3},
	{Name: "Lights", DeviceType: "lighting", PowerRatingKW: 0.3, IsOn: true, Priority: 3},
	{Name: "HVAC", DeviceType: "hvac", PowerRatingKW: 3.0, IsOn: true, Priority: 2},
	{Name: "Washing Machine", DeviceType: "washing_machine", PowerRatingKW: 0.5, IsOn: true, Priority: 1},
	{Name: "Dishwasher", DeviceType: "dishwasher", PowerRatingKW: 1.2, IsOn: false, Priority: 1},
	{Name: "EV Charger", DeviceType: "ev_charger", PowerRatingKW: 7.2, IsOn: true, Priority: 1},
}

func main() {
	s := storage.Configured()
	reset := lflag.Bool("reset", false, "Overwrite devices that already exist with the same name")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	existing, err := s.ListDevices(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list devices", slog.Any("error", err))
		os.Exit(1)
	}
	byName := make(map[string]types.Device, len(existing))
	for _, d := range existing {
		byName[d.Name] = d
	}

	log.Ctx(ctx).InfoContext(ctx, "seeding devices", slog.Int("existing", len(existing)))
	for _, d := range defaultDevices {
		if prev, ok := byName[d.Name]; ok {
			if !*reset {
				log.Ctx(ctx).InfoContext(ctx, "device exists, skipping", slog.String("name", d.Name), slog.Int64("id", prev.ID))
				continue
			}
			d.ID = prev.ID
		}
		saved, err := s.UpsertDevice(ctx, d)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to upsert device", slog.String("name", d.Name), slog.Any("error", err))
			os.Exit(1)
		}
		log.Ctx(ctx).InfoContext(ctx, "seeded device", slog.String("name", saved.Name), slog.Int64("id", saved.ID))
	}
}
