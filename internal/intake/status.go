package intake

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/hostexec/agent/internal/stats"
)

// StatusServer exposes GET /v1/status, a host-health snapshot alongside the
// command intake edge.
type StatusServer struct {
	logger    *zap.Logger
	collector *stats.Collector
}

// NewStatusServer builds a StatusServer backed by collector.
func NewStatusServer(logger *zap.Logger, collector *stats.Collector) *StatusServer {
	return &StatusServer{logger: logger, collector: collector}
}

// RegisterRoutes attaches the status handler to mux.
func (s *StatusServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/status", s.handleStatus)
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.collector.Collect()
	if err != nil {
		s.logger.Warn("status: collect failed", zap.Error(err))
		http.Error(w, "failed to collect status", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}
