package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/tailnet-monitor/internal/audit"
	"github.com/nerrad567/tailnet-monitor/internal/pairing"
	"github.com/nerrad567/tailnet-monitor/internal/tailscale"
	"github.com/nerrad567/tailnet-monitor/internal/tracker"
)

// credentialsRequest is the body of the pairing validate and candidates calls.
type credentialsRequest struct {
	TailnetID string       `json:"tailnet_id"`
	APIKey    string       `json:"api_key"`
	Kind      tracker.Kind `json:"kind,omitempty"`
}

func (c credentialsRequest) credentials() tailscale.Credentials {
	return tailscale.Credentials{TailnetID: c.TailnetID, APIKey: c.APIKey}
}

// handleValidateCredentials checks a tailnet ID and API key against the
// Tailscale API (the login step of pairing).
func (s *Server) handleValidateCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.pairing.Validate(r.Context(), req.credentials()); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

// handleListCandidates returns what could be paired for the given
// credentials: the tailnet itself, or each device on it.
func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Kind == "" {
		req.Kind = tracker.KindTailnet
	}
	if !req.Kind.Valid() {
		writeBadRequest(w, "kind must be tailnet or device")
		return
	}

	candidates, err := s.pairing.ListCandidates(r.Context(), req.credentials(), req.Kind)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates, "count": len(candidates)})
}

// handlePair stores a new entity and starts tracking it.
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	var req pairing.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	e, err := s.pairing.Pair(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.logger.Info("entity paired via API",
		"entity_id", e.ID,
		"kind", e.Kind,
		"tailnet", e.TailnetID,
		"by", subjectOf(r),
	)
	s.auditLog(r, audit.ActionPair, e.ID, map[string]any{
		"kind":    string(e.Kind),
		"tailnet": e.TailnetID,
		"node_id": e.NodeID,
	})
	writeJSON(w, http.StatusCreated, e)
}
