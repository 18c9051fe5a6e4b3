package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/raterudder/hems/pkg/analysis"
	"github.com/raterudder/hems/pkg/log"
	"github.com/raterudder/hems/pkg/types"
)

// analysisRes is what the dashboard's analysis panel reads. Data holds every
// strategy's records in run order.
type analysisRes struct {
	Success bool                   `json:"success"`
	Files   []string               `json:"files"`
	Summary string                 `json:"summary"`
	Data    []types.AnalysisRecord `json:"data"`
	Report  analysis.Summary       `json:"report"`
}

type analysisErrorRes struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) handleRunAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	summary, results, err := s.analyzer.Run(ctx)
	if err != nil {
		msg := "analysis failed"
		var runErr *analysis.RunError
		if errors.As(err, &runErr) {
			msg = "analysis failed at " + runErr.Stage
		}
		log.Ctx(ctx).ErrorContext(ctx, "failed to run analysis", slog.Any("error", err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		writeJSON(w, analysisErrorRes{Error: msg})
		return
	}

	var n int
	for _, res := range results {
		n += len(res.Records)
	}
	data := make([]types.AnalysisRecord, 0, n)
	for _, res := range results {
		data = append(data, res.Records...)
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, analysisRes{
		Success: true,
		Files:   summary.FilePaths(),
		Summary: summary.String(),
		Data:    data,
		Report:  summary,
	})
}
