package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/raterudder/hems/pkg/log"
)

func (s *Server) handleLatestEnergy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	latest, err := s.storage.GetLatestEnergyRecord(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get latest energy record", slog.Any("error", err))
		writeJSONError(w, "failed to get latest energy record", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	// a nil record encodes as null
	writeJSON(w, latest)
}

func (s *Server) handleEnergyHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, end, err := s.parseTimeRange(r)
	if err != nil {
		writeJSONError(w, "invalid time range: "+err.Error(), http.StatusBadRequest)
		return
	}

	records, err := s.storage.GetEnergyHistory(ctx, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get energy history", slog.Time("start", start), slog.Time("end", end), slog.Any("error", err))
		writeJSONError(w, "failed to get energy history", http.StatusInternalServerError)
		return
	}

	// records are keyed on the simulated clock which can be far from the wall
	// clock, so only cache briefly
	w.Header().Set("Cache-Control", "private, max-age=5")
	writeJSON(w, records)
}

// parseTimeRange reads the RFC3339 start and end query parameters. Without
// them the last 24 hours of wall-clock time is used.
func (s *Server) parseTimeRange(r *http.Request) (time.Time, time.Time, error) {
	startStr := r.URL.Query().Get("start")
	endStr := r.URL.Query().Get("end")

	if startStr == "" || endStr == "" {
		end := s.now()
		start := end.Add(-24 * time.Hour)
		return start, end, nil
	}

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start time: %w", err)
	}

	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end time: %w", err)
	}

	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("start time must be before end time")
	}

	if end.Sub(start) > 24*time.Hour {
		return time.Time{}, time.Time{}, fmt.Errorf("time range cannot exceed 24 hours")
	}

	return start, end, nil
}
