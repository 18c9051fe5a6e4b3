package storagemock

import (
	"context"
	"time"

	"github.com/raterudder/hems/pkg/storage"
	"github.com/raterudder/hems/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context) (types.Settings, int, error) {
	args := m.Called(ctx)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	args := m.Called(ctx, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) ListDevices(ctx context.Context) ([]types.Device, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		devices, _ := args.Get(0).([]types.Device)
		return devices, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) SetDeviceOn(ctx context.Context, deviceID int64, on bool) (types.Device, error) {
	args := m.Called(ctx, deviceID, on)
	if len(args) > 0 {
		return args.Get(0).(types.Device), args.Error(1)
	}
	return types.Device{}, nil
}

func (m *MockDatabase) UpsertDevice(ctx context.Context, device types.Device) (types.Device, error) {
	args := m.Called(ctx, device)
	if len(args) > 0 {
		return args.Get(0).(types.Device), args.Error(1)
	}
	return device, nil
}

func (m *MockDatabase) AppendEnergyRecord(ctx context.Context, rec types.EnergyRecord, version int) error {
	args := m.Called(ctx, rec, version)
	return args.Error(0)
}

func (m *MockDatabase) GetLatestEnergyRecord(ctx context.Context) (*types.EnergyRecord, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		rec, _ := args.Get(0).(*types.EnergyRecord)
		return rec, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.EnergyRecord, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		records, _ := args.Get(0).([]types.EnergyRecord)
		return records, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
