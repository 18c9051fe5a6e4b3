package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/raterudder/hems/pkg/log"
	"github.com/raterudder/hems/pkg/metrics"
	"github.com/raterudder/hems/pkg/storage"
	"github.com/raterudder/hems/pkg/types"
)

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	devices, err := s.storage.ListDevices(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to list devices", slog.Any("error", err))
		writeJSONError(w, "failed to list devices", http.StatusInternalServerError)
		return
	}
	if devices == nil {
		devices = []types.Device{}
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, devices)
}

// handleControlDevice switches a device on behalf of the user. The override
// is recorded before the write so the controller leaves the device alone even
// if the write fails. Unknown devices are not kept in the registry.
func (s *Server) handleControlDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSONError(w, "invalid device id", http.StatusBadRequest)
		return
	}

	var req struct {
		IsOn *bool `json:"is_on"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode device control", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.IsOn == nil {
		writeJSONError(w, "is_on is required", http.StatusBadRequest)
		return
	}

	s.overrides.Record(id, s.now())

	if _, err := s.storage.SetDeviceOn(ctx, id, *req.IsOn); err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			s.overrides.Forget(id)
			writeJSONError(w, "device not found", http.StatusNotFound)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to control device", slog.Int64("deviceID", id), slog.Any("error", err))
		writeJSONError(w, "failed to control device", http.StatusInternalServerError)
		return
	}
	if err := s.metrics.RecordDeviceSwitch(ctx, id, *req.IsOn, metrics.ReasonManual); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to record device switch", slog.Any("error", err))
	}
	log.Ctx(ctx).InfoContext(ctx, "device manually switched", slog.Int64("deviceID", id), slog.Bool("on", *req.IsOn))

	writeJSON(w, true)
}
