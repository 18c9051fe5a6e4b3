package simulation

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/raterudder/hems/pkg/controller"
	"github.com/raterudder/hems/pkg/storage/storagemock"
	"github.com/raterudder/hems/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func washer(on bool) types.Device {
	return types.Device{ID: 1, Name: "Washer", DeviceType: "washing_machine", PowerRatingKW: 1.0, IsOn: on, Priority: 1}
}

func fridge() types.Device {
	return types.Device{ID: 2, Name: "Fridge", DeviceType: "refrigerator", PowerRatingKW: 0.2, IsOn: true, Priority: 3}
}

func newTestLoop(db *storagemock.MockDatabase, overrides controller.OverrideChecker, mode *controller.Mode) *Loop {
	return NewLoop(DefaultConfig(), db, controller.DefaultConfig(), overrides, mode, nil, rand.NewPCG(1, 2))
}

func resumeAt(t *testing.T, l *Loop, db *storagemock.MockDatabase, ts time.Time) {
	t.Helper()
	db.On("GetLatestEnergyRecord", mock.Anything).Return(&types.EnergyRecord{Timestamp: ts}, nil).Once()
	require.NoError(t, l.Resume(context.Background()))
}

func TestResume(t *testing.T) {
	t.Run("From Latest Record", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		l := newTestLoop(db, nil, nil)
		resumeAt(t, l, db, day.Add(17*time.Hour))
		assert.Equal(t, day.Add(17*time.Hour), l.Now())
	})

	t.Run("Empty Store Uses Wall Clock", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		l := newTestLoop(db, nil, nil)
		l.wallNow = func() time.Time { return day.Add(9*time.Hour + 47*time.Minute) }
		db.On("GetLatestEnergyRecord", mock.Anything).Return(nil, nil).Once()
		require.NoError(t, l.Resume(context.Background()))
		assert.Equal(t, day.Add(9*time.Hour+30*time.Minute), l.Now())
	})

	t.Run("Store Failure", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		l := newTestLoop(db, nil, nil)
		db.On("GetLatestEnergyRecord", mock.Anything).Return(nil, errors.New("unavailable")).Once()
		assert.Error(t, l.Resume(context.Background()))
	})
}

func TestTick(t *testing.T) {
	ctx := context.Background()

	t.Run("Off Peak Record", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		l := newTestLoop(db, nil, nil)
		resumeAt(t, l, db, day.Add(11*time.Hour+30*time.Minute))

		db.On("ListDevices", mock.Anything).Return([]types.Device{washer(true), fridge()}, nil).Once()
		db.On("AppendEnergyRecord", mock.Anything, mock.MatchedBy(func(r types.EnergyRecord) bool {
			return r.Timestamp.Equal(day.Add(12 * time.Hour))
		}), types.CurrentEnergyRecordVersion).Return(nil).Once()

		rec, err := l.Tick(ctx)
		require.NoError(t, err)
		db.AssertExpectations(t)
		db.AssertNotCalled(t, "SetDeviceOn", mock.Anything, mock.Anything, mock.Anything)

		assert.Equal(t, day.Add(12*time.Hour), l.Now())
		assert.Equal(t, day.Add(12*time.Hour).UnixNano(), rec.ID)
		assert.False(t, rec.IsPeak)
		assert.Greater(t, rec.SolarGenerationKW, 1.5)
		// base 0.1 + devices 1.2 + noise in [-0.1, 0.3)
		assert.GreaterOrEqual(t, rec.HomeConsumptionKW, 1.2)
		assert.Less(t, rec.HomeConsumptionKW, 1.6)
		assert.InDelta(t, rec.SolarGenerationKW+rec.BatteryDischargeKW+rec.GridImportKW,
			rec.HomeConsumptionKW+rec.BatteryChargeKW+rec.GridExportKW, 1e-9)
		assert.InDelta(t, 50, rec.BatterySOC, 1)
	})

	t.Run("Shed Then Restore", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		l := newTestLoop(db, nil, nil)
		resumeAt(t, l, db, day.Add(21*time.Hour))

		// 21:30 is peak: the washer is switched off
		db.On("ListDevices", mock.Anything).Return([]types.Device{washer(true), fridge()}, nil).Once()
		db.On("SetDeviceOn", mock.Anything, int64(1), false).Return(washer(false), nil).Once()
		db.On("AppendEnergyRecord", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		rec, err := l.Tick(ctx)
		require.NoError(t, err)
		assert.True(t, rec.IsPeak)
		assert.InDelta(t, 0.5, rec.DeferredKWH, 1e-9)
		assert.Less(t, rec.HomeConsumptionKW, 0.6)

		// 22:00 is the rebound: it is switched back on and the ledger drains
		db.On("ListDevices", mock.Anything).Return([]types.Device{washer(false), fridge()}, nil).Once()
		db.On("SetDeviceOn", mock.Anything, int64(1), true).Return(washer(true), nil).Once()
		rec, err = l.Tick(ctx)
		require.NoError(t, err)
		assert.False(t, rec.IsPeak)
		assert.InDelta(t, 0.375, rec.DeferredKWH, 1e-9)
		// base + devices + 0.125 kWh over half an hour
		assert.Greater(t, rec.HomeConsumptionKW, 1.4)
		db.AssertExpectations(t)
	})

	t.Run("Load Shifting Disabled", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		mode := controller.NewMode(false)
		l := newTestLoop(db, nil, mode)
		resumeAt(t, l, db, day.Add(18*time.Hour))

		db.On("ListDevices", mock.Anything).Return([]types.Device{washer(true), fridge()}, nil).Once()
		db.On("AppendEnergyRecord", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
		rec, err := l.Tick(ctx)
		require.NoError(t, err)
		assert.True(t, rec.IsPeak)
		assert.Zero(t, rec.DeferredKWH)
		db.AssertNotCalled(t, "SetDeviceOn", mock.Anything, mock.Anything, mock.Anything)
		assert.False(t, l.LoadShiftingEnabled())
		l.SetLoadShifting(true)
		assert.True(t, mode.LoadShiftingEnabled())
	})

	t.Run("Manual Override", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		overrides := controller.NewOverrides(5 * time.Minute)
		l := newTestLoop(db, overrides, nil)
		wall := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
		l.wallNow = func() time.Time { return wall }
		overrides.Record(1, wall.Add(-time.Minute))
		resumeAt(t, l, db, day.Add(18*time.Hour))

		db.On("ListDevices", mock.Anything).Return([]types.Device{washer(true), fridge()}, nil).Once()
		db.On("AppendEnergyRecord", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
		rec, err := l.Tick(ctx)
		require.NoError(t, err)
		assert.True(t, rec.IsPeak)
		assert.Zero(t, rec.DeferredKWH)
		db.AssertNotCalled(t, "SetDeviceOn", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("List Failure Skips Tick", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		l := newTestLoop(db, nil, nil)
		resumeAt(t, l, db, day)

		db.On("ListDevices", mock.Anything).Return(nil, errors.New("db down")).Once()
		_, err := l.Tick(ctx)
		assert.ErrorContains(t, err, "db down")
		db.AssertNotCalled(t, "AppendEnergyRecord", mock.Anything, mock.Anything, mock.Anything)
		assert.Equal(t, day.Add(30*time.Minute), l.Now(), "clock still advances")
	})

	t.Run("Switch Failure Continues", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		l := newTestLoop(db, nil, nil)
		resumeAt(t, l, db, day.Add(18*time.Hour))

		db.On("ListDevices", mock.Anything).Return([]types.Device{washer(true)}, nil).Once()
		db.On("SetDeviceOn", mock.Anything, int64(1), false).Return(types.Device{}, errors.New("locked")).Once()
		db.On("AppendEnergyRecord", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
		rec, err := l.Tick(ctx)
		require.NoError(t, err)
		assert.InDelta(t, 0.5, rec.DeferredKWH, 1e-9)
		db.AssertExpectations(t)
	})

	t.Run("Append Failure", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		l := newTestLoop(db, nil, nil)
		resumeAt(t, l, db, day)

		db.On("ListDevices", mock.Anything).Return([]types.Device{fridge()}, nil).Once()
		db.On("AppendEnergyRecord", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()
		_, err := l.Tick(ctx)
		assert.ErrorContains(t, err, "disk full")
		db.AssertExpectations(t)
	})
}

// Manual control and settings updates arrive from request goroutines while
// the loop is ticking.
func TestTickConcurrentControl(t *testing.T) {
	ctx := context.Background()
	db := &storagemock.MockDatabase{}
	overrides := controller.NewOverrides(5 * time.Minute)
	mode := controller.NewMode(true)
	l := newTestLoop(db, overrides, mode)
	resumeAt(t, l, db, day.Add(17*time.Hour))

	db.On("ListDevices", mock.Anything).Return([]types.Device{washer(true), fridge()}, nil)
	db.On("SetDeviceOn", mock.Anything, mock.Anything, mock.Anything).Return(washer(false), nil).Maybe()
	db.On("AppendEnergyRecord", mock.Anything, mock.Anything, types.CurrentEnergyRecordVersion).Return(nil)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			overrides.Record(1, time.Now())
			_ = overrides.IsActive(1, time.Now())
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			default:
			}
			mode.SetLoadShifting(i%2 == 0)
			_ = l.LoadShiftingEnabled()
			_ = l.Now()
		}
	}()

	prev := l.Now()
	for range 8 {
		rec, err := l.Tick(ctx)
		require.NoError(t, err)
		assert.True(t, rec.Timestamp.After(prev))
		prev = rec.Timestamp
	}
	close(done)
	wg.Wait()

	assert.Equal(t, day.Add(21*time.Hour), l.Now())
	db.AssertNumberOfCalls(t, "AppendEnergyRecord", 8)
}

func TestRun(t *testing.T) {
	db := &storagemock.MockDatabase{}
	cfg := DefaultConfig()
	cfg.Tick = 5 * time.Millisecond
	l := NewLoop(cfg, db, controller.DefaultConfig(), nil, nil, nil, rand.NewPCG(1, 1))

	db.On("GetLatestEnergyRecord", mock.Anything).Return(nil, nil).Once()
	db.On("ListDevices", mock.Anything).Return([]types.Device{fridge()}, nil)
	db.On("AppendEnergyRecord", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Run(ctx)
	}()

	start := time.Now().UTC().Truncate(cfg.Step)
	assert.Eventually(t, func() bool {
		return !l.Now().Before(start.Add(3 * cfg.Step))
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
