package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/osm-bridge/internal/mirror"
)

// DeviceResponse is the JSON view of one device mirror.
// Value fields are null while the mirror is unknown.
type DeviceResponse struct {
	Name                string   `json:"name"`
	Available           bool     `json:"available"`
	Ready               bool     `json:"ready"`
	Consumption         *float64 `json:"consumption"`
	Powered             *bool    `json:"powered"`
	Enabled             *bool    `json:"enabled"`
	MaxConsumption      *float64 `json:"max_consumption"`
	ExpectedConsumption *float64 `json:"expected_consumption"`
	Cooldown            *int     `json:"cooldown"`
}

// CoreResponse is the JSON view of the core mirror.
type CoreResponse struct {
	Available     bool     `json:"available"`
	Ready         bool     `json:"ready"`
	Surplus       *float64 `json:"surplus"`
	GridMargin    *float64 `json:"grid_margin"`
	SurplusMargin *float64 `json:"surplus_margin"`
	IdlePower     *float64 `json:"idle_power"`
}

// SetRequest is the body of every PUT setter.
type SetRequest struct {
	Value *float64 `json:"value"`
}

func deviceResponse(d *mirror.Device) DeviceResponse {
	resp := DeviceResponse{Name: d.Name(), Ready: d.Ready()}
	state, ok := d.Snapshot()
	if !ok {
		return resp
	}
	resp.Available = true
	resp.Consumption = &state.Consumption
	resp.Powered = &state.Powered
	resp.Enabled = &state.Enabled
	resp.MaxConsumption = &state.MaxConsumption
	resp.ExpectedConsumption = &state.ExpectedConsumption
	resp.Cooldown = &state.Cooldown
	return resp
}

func coreResponse(c *mirror.Core) CoreResponse {
	resp := CoreResponse{Ready: c.Ready()}
	state, ok := c.Snapshot()
	if !ok {
		return resp
	}
	resp.Available = true
	resp.Surplus = &state.Surplus
	resp.GridMargin = &state.GridMargin
	resp.SurplusMargin = &state.SurplusMargin
	resp.IdlePower = &state.IdlePower
	return resp
}

// handleGetCore returns the cached core state.
func (s *Server) handleGetCore(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, coreResponse(s.instance.Core()))
}

// handleListDevices returns every device mirror in OSM's listing order.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.instance.Devices()
	out := make([]DeviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

// handleGetDevice returns one cached device state.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, deviceResponse(d))
}

// handleSetDevice forwards a device setter to OSM.
func (s *Server) handleSetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	field := chi.URLParam(r, "field")
	if !s.set(w, r, d.Name()+"_"+field, field) {
		return
	}
	d.Refresh(r.Context())
	writeJSON(w, http.StatusOK, deviceResponse(d))
}

// handleSetCore forwards a core setter to OSM.
func (s *Server) handleSetCore(w http.ResponseWriter, r *http.Request) {
	field := chi.URLParam(r, "field")
	if !s.set(w, r, field, field) {
		return
	}
	c := s.instance.Core()
	c.Refresh(r.Context())
	writeJSON(w, http.StatusOK, coreResponse(c))
}

// handleRefresh refreshes every mirror and reports the outcome.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.instance.RefreshAll(r.Context()); err != nil {
		writeInternalError(w, "refresh interrupted")
		return
	}

	devices := s.instance.Devices()
	unavailable := 0
	for _, d := range devices {
		if !d.Available() {
			unavailable++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"devices":             len(devices),
		"devices_unavailable": unavailable,
		"core_available":      s.instance.Core().Available(),
	})
}

// lookupDevice resolves the {name} URL parameter, writing a 404 when unknown.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*mirror.Device, bool) {
	name, err := url.PathUnescape(chi.URLParam(r, "name"))
	if err != nil {
		writeBadRequest(w, "invalid device name")
		return nil, false
	}
	d, ok := s.instance.Device(name)
	if !ok {
		writeNotFound(w, fmt.Sprintf("device %q not found", name))
		return nil, false
	}
	return d, true
}

// set decodes the request body and applies it to the number entity uid.
// It writes the error response itself and reports whether the write succeeded.
func (s *Server) set(w http.ResponseWriter, r *http.Request, uid, field string) bool {
	n, ok := s.numbers[uid]
	if !ok {
		writeValidationError(w, fmt.Sprintf("field %q is not writable", field))
		return false
	}

	var req SetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return false
	}

	err := n.Set(r.Context(), *req.Value)
	if err == nil {
		s.logger.Info("setter applied", "entity", uid, "value", *req.Value)
		return true
	}

	status, code := setErrorStatus(err)
	switch status {
	case http.StatusBadGateway:
		s.logger.Warn("setter rejected upstream", "entity", uid, "error", err)
		writeError(w, status, code, err.Error())
	case http.StatusInternalServerError:
		s.logger.Error("setter failed", "entity", uid, "error", err)
		writeInternalError(w, "setter failed")
	default:
		writeError(w, status, code, err.Error())
	}
	return false
}
