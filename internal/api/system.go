package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/osm-bridge/internal/history"
)

// handleHealth reports bridge health, mirror availability and dependency checks.
// It returns 503 when any check fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	devices := s.instance.Devices()
	unavailable := 0
	for _, d := range devices {
		if !d.Available() {
			unavailable++
		}
	}

	writeJSON(w, code, map[string]any{
		"status":              status,
		"version":             s.version,
		"uptime_seconds":      int64(time.Since(s.started).Seconds()),
		"checks":              checks,
		"devices":             len(devices),
		"devices_unavailable": unavailable,
		"core_available":      s.instance.Core().Available(),
	})
}

// handleDeviceHistory returns recorded snapshots of one device, newest first.
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	s.writeHistory(w, r, d.Name(), history.KindDevice)
}

// handleCoreHistory returns recorded core snapshots, newest first.
func (s *Server) handleCoreHistory(w http.ResponseWriter, r *http.Request) {
	s.writeHistory(w, r, history.CoreMirror, history.KindCore)
}

func (s *Server) writeHistory(w http.ResponseWriter, r *http.Request, mirror, kind string) {
	if s.history == nil {
		writeUnavailable(w, "history is not enabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.history.History(r.Context(), mirror, kind, limit)
	if err != nil {
		s.logger.Error("reading history", "mirror", mirror, "error", err)
		writeInternalError(w, "failed to read history")
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mirror":  mirror,
		"entries": entries,
		"count":   len(entries),
	})
}
