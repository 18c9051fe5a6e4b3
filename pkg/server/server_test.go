package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/raterudder/hems/pkg/analysis"
	"github.com/raterudder/hems/pkg/controller"
	"github.com/raterudder/hems/pkg/metrics"
	"github.com/raterudder/hems/pkg/storage"
	"github.com/raterudder/hems/pkg/storage/storagemock"
	"github.com/raterudder/hems/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type mockAnalyzer struct {
	mock.Mock
}

func (m *mockAnalyzer) Run(ctx context.Context) (analysis.Summary, []analysis.Result, error) {
	args := m.Called(ctx)
	results, _ := args.Get(1).([]analysis.Result)
	return args.Get(0).(analysis.Summary), results, args.Error(2)
}

func newTestServer(db *storagemock.MockDatabase, a Analyzer) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{Name: "hems_test_gauge"}))
	return &Server{
		storage:   db,
		overrides: controller.NewOverrides(5 * time.Minute),
		mode:      controller.NewMode(true),
		analyzer:  a,
		metrics:   metrics.Nop{},
		gatherer:  reg,
		now:       func() time.Time { return testNow },
	}
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	return resp["error"]
}

func TestBasicRoutes(t *testing.T) {
	h := newTestServer(&storagemock.MockDatabase{}, nil).setupHandler()

	t.Run("Root", func(t *testing.T) {
		rr := serve(h, http.MethodGet, "/", "")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "HEMS Backend Running", rr.Body.String())
		assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	})

	t.Run("Unknown Path", func(t *testing.T) {
		rr := serve(h, http.MethodGet, "/nope", "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Healthz", func(t *testing.T) {
		rr := serve(h, http.MethodGet, "/healthz", "")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "ok", rr.Body.String())
	})

	t.Run("Preflight", func(t *testing.T) {
		rr := serve(h, http.MethodOptions, "/api/devices/1/control", "")
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), "POST")
	})

	t.Run("Metrics", func(t *testing.T) {
		rr := serve(h, http.MethodGet, "/metrics", "")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "hems_test_gauge")
	})
}

func TestEnergyHandlers(t *testing.T) {
	t.Run("Latest Empty", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetLatestEnergyRecord", mock.Anything).Return(nil, nil).Once()
		rr := serve(newTestServer(db, nil).setupHandler(), http.MethodGet, "/api/energy", "")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "null", strings.TrimSpace(rr.Body.String()))
	})

	t.Run("Latest", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetLatestEnergyRecord", mock.Anything).Return(&types.EnergyRecord{
			ID:           types.EnergyRecordID(testNow),
			Timestamp:    testNow,
			GridImportKW: 1.25,
			IsPeak:       true,
		}, nil).Once()
		rr := serve(newTestServer(db, nil).setupHandler(), http.MethodGet, "/api/energy", "")
		require.Equal(t, http.StatusOK, rr.Code)
		var rec types.EnergyRecord
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&rec))
		assert.Equal(t, testNow.UnixNano(), rec.ID)
		assert.Equal(t, 1.25, rec.GridImportKW)
		assert.True(t, rec.IsPeak)
		assert.True(t, testNow.Equal(rec.Timestamp))
	})

	t.Run("Latest Failure", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetLatestEnergyRecord", mock.Anything).Return(nil, errors.New("db down")).Once()
		rr := serve(newTestServer(db, nil).setupHandler(), http.MethodGet, "/api/energy", "")
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "failed to get latest energy record", decodeError(t, rr))
	})

	t.Run("History Default Range", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("GetEnergyHistory", mock.Anything, testNow.Add(-24*time.Hour), testNow).
			Return([]types.EnergyRecord{{Timestamp: testNow}}, nil).Once()
		rr := serve(newTestServer(db, nil).setupHandler(), http.MethodGet, "/api/energy/history", "")
		require.Equal(t, http.StatusOK, rr.Code)
		var records []types.EnergyRecord
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&records))
		assert.Len(t, records, 1)
		db.AssertExpectations(t)
	})

	t.Run("History Explicit Range", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		end := start.Add(6 * time.Hour)
		db.On("GetEnergyHistory", mock.Anything, mock.MatchedBy(start.Equal), mock.MatchedBy(end.Equal)).
			Return([]types.EnergyRecord{}, nil).Once()
		rr := serve(newTestServer(db, nil).setupHandler(), http.MethodGet,
			"/api/energy/history?start=2025-06-01T00:00:00Z&end=2025-06-01T06:00:00Z", "")
		assert.Equal(t, http.StatusOK, rr.Code)
		db.AssertExpectations(t)
	})

	t.Run("History Invalid Range", func(t *testing.T) {
		h := newTestServer(&storagemock.MockDatabase{}, nil).setupHandler()
		for name, query := range map[string]string{
			"Too Long":  "start=2025-06-01T00:00:00Z&end=2025-06-02T00:00:01Z",
			"Reversed":  "start=2025-06-01T06:00:00Z&end=2025-06-01T00:00:00Z",
			"Bad Start": "start=yesterday&end=2025-06-01T00:00:00Z",
		} {
			t.Run(name, func(t *testing.T) {
				rr := serve(h, http.MethodGet, "/api/energy/history?"+query, "")
				assert.Equal(t, http.StatusBadRequest, rr.Code)
				assert.Contains(t, decodeError(t, rr), "invalid time range")
			})
		}
	})
}

func TestDeviceHandlers(t *testing.T) {
	washer := types.Device{ID: 1, Name: "Washer", DeviceType: "washing_machine", PowerRatingKW: 0.5, IsOn: true, Priority: 1}

	t.Run("List", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("ListDevices", mock.Anything).Return([]types.Device{washer}, nil).Once()
		rr := serve(newTestServer(db, nil).setupHandler(), http.MethodGet, "/api/devices", "")
		require.Equal(t, http.StatusOK, rr.Code)
		var devices []map[string]any
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&devices))
		require.Len(t, devices, 1)
		assert.Equal(t, "Washer", devices[0]["name"])
		assert.Equal(t, 0.5, devices[0]["power_rating"])
		assert.Equal(t, true, devices[0]["is_on"])
	})

	t.Run("List Empty", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		db.On("ListDevices", mock.Anything).Return(nil, nil).Once()
		rr := serve(newTestServer(db, nil).setupHandler(), http.MethodGet, "/api/devices", "")
		assert.Equal(t, "[]", strings.TrimSpace(rr.Body.String()))
	})

	t.Run("Control", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil)
		off := washer
		off.IsOn = false
		db.On("SetDeviceOn", mock.Anything, int64(1), false).Return(off, nil).Once()

		rr := serve(srv.setupHandler(), http.MethodPost, "/api/devices/1/control", `{"is_on":false}`)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "true", strings.TrimSpace(rr.Body.String()))
		assert.True(t, srv.overrides.IsActive(1, testNow.Add(time.Minute)))
		assert.False(t, srv.overrides.IsActive(1, testNow.Add(5*time.Minute)))
		db.AssertExpectations(t)
	})

	t.Run("Control Write Failure Keeps Override", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil)
		db.On("SetDeviceOn", mock.Anything, int64(1), true).Return(types.Device{}, errors.New("locked")).Once()

		rr := serve(srv.setupHandler(), http.MethodPost, "/api/devices/1/control", `{"is_on":true}`)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "failed to control device", decodeError(t, rr))
		assert.True(t, srv.overrides.IsActive(1, testNow))
	})

	t.Run("Control Unknown Device", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil)
		db.On("SetDeviceOn", mock.Anything, int64(9), true).Return(types.Device{}, storage.ErrDeviceNotFound).Once()
		rr := serve(srv.setupHandler(), http.MethodPost, "/api/devices/9/control", `{"is_on":true}`)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.False(t, srv.overrides.IsActive(9, testNow))
		assert.Zero(t, srv.overrides.Len())
	})

	t.Run("Control Bad Request", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil)
		h := srv.setupHandler()
		for name, tc := range map[string]struct{ path, body string }{
			"Bad ID":       {"/api/devices/abc/control", `{"is_on":true}`},
			"Missing Flag": {"/api/devices/1/control", `{}`},
			"Bad JSON":     {"/api/devices/1/control", `{`},
		} {
			t.Run(name, func(t *testing.T) {
				rr := serve(h, http.MethodPost, tc.path, tc.body)
				assert.Equal(t, http.StatusBadRequest, rr.Code)
			})
		}
		db.AssertNotCalled(t, "SetDeviceOn", mock.Anything, mock.Anything, mock.Anything)
		assert.False(t, srv.overrides.IsActive(1, testNow))
	})

	t.Run("Control Wrong Method", func(t *testing.T) {
		rr := serve(newTestServer(&storagemock.MockDatabase{}, nil).setupHandler(), http.MethodGet, "/api/devices/1/control", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})
}

func TestSettingsHandlers(t *testing.T) {
	t.Run("Get Uses Running Mode", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil)
		srv.mode.SetLoadShifting(false)
		db.On("GetSettings", mock.Anything).Return(types.Settings{LoadShifting: true}, types.CurrentSettingsVersion, nil).Once()

		rr := serve(srv.setupHandler(), http.MethodGet, "/api/settings", "")
		require.Equal(t, http.StatusOK, rr.Code)
		var got types.Settings
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.False(t, got.LoadShifting)
	})

	t.Run("Update", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil)
		// nothing stored yet
		db.On("GetSettings", mock.Anything).Return(types.Settings{}, 0, nil).Once()
		db.On("SetSettings", mock.Anything, types.Settings{LoadShifting: false}, types.CurrentSettingsVersion).Return(nil).Once()

		rr := serve(srv.setupHandler(), http.MethodPost, "/api/settings", `{"loadShifting":false}`)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.False(t, srv.mode.LoadShiftingEnabled())
		db.AssertExpectations(t)
	})

	t.Run("Update Save Failure", func(t *testing.T) {
		db := &storagemock.MockDatabase{}
		srv := newTestServer(db, nil)
		db.On("GetSettings", mock.Anything).Return(types.Settings{LoadShifting: true}, 1, nil).Once()
		db.On("SetSettings", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("read only")).Once()

		rr := serve(srv.setupHandler(), http.MethodPost, "/api/settings", `{"loadShifting":false}`)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.True(t, srv.mode.LoadShiftingEnabled(), "mode unchanged")
	})

	t.Run("Update Missing Field", func(t *testing.T) {
		rr := serve(newTestServer(&storagemock.MockDatabase{}, nil).setupHandler(), http.MethodPost, "/api/settings", `{}`)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "loadShifting is required", decodeError(t, rr))
	})
}

func TestAnalysisHandler(t *testing.T) {
	summary := analysis.Summary{
		RunID: "run-1",
		Strategies: []analysis.StrategyReport{
			{Strategy: "Baseline", Totals: analysis.Totals{CostDollars: 5.12, GridImportKWH: 20}, File: "reports/analysis_Baseline.csv"},
			{Strategy: "SmartShift", Totals: analysis.Totals{CostDollars: 3.5, GridImportKWH: 18}, File: "reports/analysis_SmartShift.csv"},
		},
		SavingsDollars: 1.62,
	}
	results := []analysis.Result{
		{Strategy: analysis.Baseline, Records: []types.AnalysisRecord{
			{TimeStep: "00:00", Scenario: "Baseline", GridImport: 1},
			{TimeStep: "00:30", Scenario: "Baseline", GridImport: 2},
		}},
		{Strategy: analysis.SmartShift, Records: []types.AnalysisRecord{
			{TimeStep: "00:00", Scenario: "SmartShift", GridImport: 0.5},
		}},
	}

	type response struct {
		Success bool                   `json:"success"`
		Files   []string               `json:"files"`
		Summary string                 `json:"summary"`
		Data    []types.AnalysisRecord `json:"data"`
		Report  struct {
			RunID   string  `json:"runID"`
			Savings float64 `json:"savings"`
		} `json:"report"`
	}

	for _, target := range []string{"/api/analysis/generate", "/api/analysis"} {
		t.Run("Success "+target, func(t *testing.T) {
			a := &mockAnalyzer{}
			a.On("Run", mock.Anything).Return(summary, results, nil).Once()

			rr := serve(newTestServer(&storagemock.MockDatabase{}, a).setupHandler(), http.MethodPost, target, "")
			require.Equal(t, http.StatusOK, rr.Code)
			var got response
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
			assert.True(t, got.Success)
			assert.Equal(t, []string{"reports/analysis_Baseline.csv", "reports/analysis_SmartShift.csv"}, got.Files)
			assert.Equal(t, summary.String(), got.Summary)
			assert.Contains(t, got.Summary, "Scenario: Baseline\nTotal Cost: $5.12\nTotal Grid Import: 20.00 kWh")
			require.Len(t, got.Data, 3)
			assert.Equal(t, "Baseline", got.Data[0].Scenario)
			assert.Equal(t, "00:30", got.Data[1].TimeStep)
			assert.Equal(t, "SmartShift", got.Data[2].Scenario)
			assert.Equal(t, "run-1", got.Report.RunID)
			assert.Equal(t, 1.62, got.Report.Savings)
			a.AssertExpectations(t)
		})
	}

	t.Run("No Records", func(t *testing.T) {
		a := &mockAnalyzer{}
		a.On("Run", mock.Anything).Return(analysis.Summary{RunID: "run-2"}, nil, nil).Once()

		rr := serve(newTestServer(&storagemock.MockDatabase{}, a).setupHandler(), http.MethodPost, "/api/analysis/generate", "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"data":[]`)
	})

	t.Run("Failure", func(t *testing.T) {
		a := &mockAnalyzer{}
		a.On("Run", mock.Anything).Return(analysis.Summary{}, nil, &analysis.RunError{Stage: "devices", Err: errors.New("db down")}).Once()

		rr := serve(newTestServer(&storagemock.MockDatabase{}, a).setupHandler(), http.MethodPost, "/api/analysis/generate", "")
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		var got struct {
			Success bool   `json:"success"`
			Error   string `json:"error"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
		assert.False(t, got.Success)
		assert.Equal(t, "analysis failed at devices", got.Error)
	})

	t.Run("Wrong Method", func(t *testing.T) {
		rr := serve(newTestServer(&storagemock.MockDatabase{}, &mockAnalyzer{}).setupHandler(), http.MethodGet, "/api/analysis/generate", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})
}
