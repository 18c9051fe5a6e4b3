package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/hems/pkg/types"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
)

// DeviceStore is the device registry the simulations and API read and switch.
type DeviceStore interface {
	ListDevices(ctx context.Context) ([]types.Device, error)
	// SetDeviceOn updates the on/off state and returns the updated device.
	SetDeviceOn(ctx context.Context, deviceID int64, on bool) (types.Device, error)
}

// EnergySink receives the records produced by the live simulation.
type EnergySink interface {
	AppendEnergyRecord(ctx context.Context, rec types.EnergyRecord, version int) error
}

// Database defines the interface for persisting data and retrieving settings.
type Database interface {
	DeviceStore
	EnergySink

	// Settings
	GetSettings(ctx context.Context) (types.Settings, int, error)
	SetSettings(ctx context.Context, settings types.Settings, version int) error

	// Devices
	// UpsertDevice inserts the device, assigning an ID when it is 0, or
	// replaces the device with the same ID.
	UpsertDevice(ctx context.Context, device types.Device) (types.Device, error)

	// History
	// GetLatestEnergyRecord returns nil when nothing was recorded yet.
	GetLatestEnergyRecord(ctx context.Context) (*types.EnergyRecord, error)
	// GetEnergyHistory returns records with start <= timestamp < end, oldest
	// first.
	GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.EnergyRecord, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "sqlite", "Storage provider to use (available: sqlite, firestore)")

	var p struct{ Database }

	fs := configuredFirestore()
	sq := configuredSQLite()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "sqlite":
			if err := sq.Validate(); err != nil {
				panic(fmt.Sprintf("sqlite validation failed: %v", err))
			}
			p.Database = sq
			if err := sq.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("sqlite init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
