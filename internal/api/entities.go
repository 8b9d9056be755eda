package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/tailnet-monitor/internal/audit"
	"github.com/nerrad567/tailnet-monitor/internal/entity"
	"github.com/nerrad567/tailnet-monitor/internal/tracker"
)

// entityView is an entity with its runtime state and, for single-entity
// reads, its poller snapshot.
type entityView struct {
	entity.Entity
	State entity.State      `json:"state"`
	Poll  *tracker.Snapshot `json:"poll,omitempty"`
}

// renameRequest is the body of PATCH /entities/{id}.
type renameRequest struct {
	Name string `json:"name"`
}

// handleListEntities returns every tracked entity with its state.
func (s *Server) handleListEntities(w http.ResponseWriter, _ *http.Request) {
	entities := s.entities.Entities()
	views := make([]entityView, 0, len(entities))
	for _, e := range entities {
		views = append(views, entityView{Entity: e, State: s.state.State(e.ID)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": views, "count": len(views)})
}

// handleGetEntity returns one entity with its state and poller snapshot.
func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e, err := s.entities.Entity(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	snap, err := s.entities.Snapshot(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, entityView{Entity: *e, State: s.state.State(id), Poll: &snap})
}

// handleRenameEntity changes an entity's display name.
func (s *Server) handleRenameEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeBadRequest(w, "name is required")
		return
	}

	e, err := s.entities.Rename(r.Context(), id, name)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.auditLog(r, audit.ActionRename, id, map[string]any{"name": name})
	writeJSON(w, http.StatusOK, e)
}

// handleDeleteEntity stops tracking an entity and forgets it.
func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.entities.Remove(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.logger.Info("entity removed via API", "entity_id", id, "by", subjectOf(r))
	s.auditLog(r, audit.ActionRemove, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleRefreshEntity runs a poll cycle immediately and returns the
// resulting snapshot. A failed fetch still counts as a cycle.
func (s *Server) handleRefreshEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.entities.Refresh(r.Context(), id); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.auditLog(r, audit.ActionRefresh, id, nil)
	snap, err := s.entities.Snapshot(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "refreshed", "poll": snap})
}

// handleEntityOnline answers "is this device online" for a single-device
// entity, from the onoff capability its poller last wrote.
func (s *Server) handleEntityOnline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	e, err := s.entities.Entity(id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if e.Kind != tracker.KindDevice {
		writeBadRequest(w, "online state is only tracked for device entities")
		return
	}

	state := s.state.State(id)
	online, known := state.Capabilities[tracker.CapabilityOnOff].(bool)
	writeJSON(w, http.StatusOK, map[string]any{
		"entity_id": id,
		"online":    online,
		"known":     known,
		"available": state.Available,
	})
}

// subjectOf returns the authenticated caller's subject for logging.
func subjectOf(r *http.Request) string {
	if claims := claimsFromContext(r.Context()); claims != nil {
		return claims.Subject
	}
	return ""
}
