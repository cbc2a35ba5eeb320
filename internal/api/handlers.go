package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/clashxw/clashxw-core/internal/controlplane"
	"github.com/clashxw/clashxw-core/internal/journal"
	"github.com/clashxw/clashxw-core/internal/profile"
)

// endpointResponse is the control-plane endpoint without its secret.
type endpointResponse struct {
	controlplane.APIDetails
	HasSecret bool `json:"has_secret"`
}

// profileResponse is one entry of the profile listing.
type profileResponse struct {
	profile.Profile
	Current bool `json:"current"`
}

// selectProfileRequest is the body of PUT /profiles/current.
type selectProfileRequest struct {
	Profile string `json:"profile"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleEndpoint(w http.ResponseWriter, _ *http.Request) {
	details, ok := s.controller.Endpoint()
	if !ok {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "active profile declares no external-controller")
		return
	}
	writeJSON(w, http.StatusOK, endpointResponse{
		APIDetails: details,
		HasSecret:  details.HasSecret(),
	})
}

func (s *Server) handleListProfiles(w http.ResponseWriter, _ *http.Request) {
	profiles, err := s.profiles.Profiles()
	if err != nil {
		s.logger.Error("listing profiles", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list profiles")
		return
	}

	current := s.profiles.CurrentConfigPath()
	resp := make([]profileResponse, 0, len(profiles))
	for _, p := range profiles {
		resp = append(resp, profileResponse{Profile: p, Current: p.Path == current})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"profiles": resp,
		"count":    len(resp),
	})
}

func (s *Server) handleCurrentProfile(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"path": s.profiles.CurrentConfigPath(),
	})
}

func (s *Server) handleSelectProfile(w http.ResponseWriter, r *http.Request) {
	var req selectProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Profile == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "profile is required")
		return
	}

	path, err := s.controller.SwitchProfile(r.Context(), req.Profile)
	if err != nil {
		s.writeControlError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func (s *Server) handleEngineStart(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.StartActive(r.Context()); err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleEngineRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Restart(r.Context()); err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleEngineStop(w http.ResponseWriter, _ *http.Request) {
	if err := s.controller.Stop(); err != nil {
		s.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "engine journal is disabled")
		return
	}

	filter := journal.Filter{Kind: r.URL.Query().Get("kind")}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	entries, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing engine events", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list engine events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": entries,
		"count":  len(entries),
	})
}
