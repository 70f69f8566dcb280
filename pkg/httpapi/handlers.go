// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/wardenhq/warden/pkg/dispatch"
	"github.com/wardenhq/warden/pkg/errors"
	"github.com/wardenhq/warden/pkg/identity"
)

type chatRequest struct {
	Message string `json:"message"`
}

// handleChat runs one conversational turn and streams the protocol events
// as server-sent events. The request context carries client disconnects
// into the dispatcher, which stops the turn.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		s.writeError(w, r, http.StatusUnauthorized,
			errors.New(errors.CodeUnknownRole, "identity missing", nil))
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, 0, errors.New(errors.CodeInvalidInput, "invalid request body", err))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, r, 0, errors.New(errors.CodeInvalidInput, "message is required", nil))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, 0, errors.New(errors.CodeInternal, "streaming unsupported", nil))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	turnID := s.newTurnID()
	sink := func(e dispatch.Event) error {
		payload, err := e.Encode()
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte("data: ")); err != nil {
			return err
		}
		if _, err := w.Write(payload); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := s.runner.Run(r.Context(), caller, turnID, req.Message, sink); err != nil {
		// The sink failed: the client is gone and there is nothing left
		// to deliver.
		s.log.Warn("chat.stream_interrupted",
			slog.String("turn_id", turnID),
			slog.String("error", err.Error()),
		)
	}
}

// handleListIncidents returns the caller's projections of every incident.
func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())

	projections, err := s.ledger.ListProjected(r.Context(), caller.Role())
	if err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"incidents": projections,
		"role":      caller.Role(),
	})
}

// handleGetIncident returns one role-filtered projection.
func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	caller, _ := callerFrom(r.Context())

	projection, err := s.ledger.ProjectForRole(r.Context(), r.PathValue("id"), caller.Role())
	if err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	writeJSON(w, http.StatusOK, projection)
}

// handlePermissions lists a role's permissions and visible tools. No
// identity is required: the permission catalog is static, public shape.
func (s *Server) handlePermissions(w http.ResponseWriter, r *http.Request) {
	role, err := identity.ParseRole(r.PathValue("role"))
	if err != nil {
		s.writeError(w, r, 0, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"role":         role,
		"display_name": role.DisplayName(),
		"permissions":  identity.Permissions(role),
		"tools":        s.catalog.NamesForRole(role),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
