package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tailnet-monitor/internal/audit"
)

// handleListEntityDevices returns the devices an entity's poller last saw.
// With ?live=true the Tailscale API is queried directly instead.
func (s *Server) handleListEntityDevices(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	live := false
	if v := r.URL.Query().Get("live"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "live must be a boolean")
			return
		}
		live = parsed
	}

	if live {
		client, err := s.entities.Client(id)
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		devices, err := client.ListDevices(r.Context())
		if err != nil {
			s.writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices), "live": true})
		return
	}

	snap, err := s.entities.Snapshot(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": snap.Devices, "count": len(snap.Devices), "live": false})
}

// handleDeleteDevice removes a device from the tailnet. The poller reports
// it as device_left on its next cycle.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	nodeID := chi.URLParam(r, "nodeId")

	client, err := s.entities.Client(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := client.DeleteDevice(r.Context(), nodeID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.logger.Info("tailnet device deleted via API",
		"entity_id", id,
		"node_id", nodeID,
		"by", subjectOf(r),
	)
	s.auditLog(r, audit.ActionDeleteDevice, id, map[string]any{"node_id": nodeID})
	w.WriteHeader(http.StatusNoContent)
}

// handleDeviceRoutes returns the advertised and enabled subnet routes of a device.
func (s *Server) handleDeviceRoutes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	nodeID := chi.URLParam(r, "nodeId")

	client, err := s.entities.Client(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	routes, err := client.GetDeviceRoutes(r.Context(), nodeID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, routes)
}

// handleListUsers returns the users of an entity's tailnet.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	client, err := s.entities.Client(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	users, err := client.ListUsers(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}
