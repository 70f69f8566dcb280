// Copyright 2026 © The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi exposes the assistant over HTTP: a server-sent-events
// chat endpoint plus role-filtered incident and permission reads. Identity
// is resolved from headers before anything else runs; requests without a
// valid identity never reach dispatch.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/pkg/catalog"
	"github.com/wardenhq/warden/pkg/dispatch"
	"github.com/wardenhq/warden/pkg/errors"
	"github.com/wardenhq/warden/pkg/identity"
	"github.com/wardenhq/warden/pkg/incident"
	"github.com/wardenhq/warden/pkg/telemetry"
)

// Identity headers. Both are required on authenticated routes.
const (
	HeaderUserRole = "X-User-Role"
	HeaderUserID   = "X-User-Id"
)

// TurnRunner executes one conversational turn, emitting protocol events
// through the sink. *dispatch.Dispatcher implements it.
type TurnRunner interface {
	Run(ctx context.Context, caller identity.Context, turnID, userMessage string, sink dispatch.Sink) error
}

// Server is the HTTP surface.
type Server struct {
	mux       *http.ServeMux
	ledger    incident.Ledger
	catalog   *catalog.Catalog
	runner    TurnRunner
	metrics   *telemetry.RequestMetrics
	log       *slog.Logger
	newTurnID func() string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// WithTurnIDFunc overrides turn id generation. Tests use this to make
// emitted events reproducible.
func WithTurnIDFunc(fn func() string) ServerOption {
	return func(s *Server) { s.newTurnID = fn }
}

// NewServer wires the routes.
func NewServer(ledger incident.Ledger, c *catalog.Catalog, runner TurnRunner, opts ...ServerOption) *Server {
	metrics, _ := telemetry.NewRequestMetrics()
	s := &Server{
		mux:       http.NewServeMux(),
		ledger:    ledger,
		catalog:   c,
		runner:    runner,
		metrics:   metrics,
		log:       slog.Default(),
		newTurnID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux.HandleFunc("POST /v1/chat", s.observe("/v1/chat", s.withIdentity(s.handleChat)))
	s.mux.HandleFunc("GET /v1/incidents", s.observe("/v1/incidents", s.withIdentity(s.handleListIncidents)))
	s.mux.HandleFunc("GET /v1/incidents/{id}", s.observe("/v1/incidents/{id}", s.withIdentity(s.handleGetIncident)))
	s.mux.HandleFunc("GET /v1/permissions/{role}", s.observe("/v1/permissions/{role}", s.handlePermissions))
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type identityKey struct{}

// callerFrom returns the identity resolved by the middleware.
func callerFrom(ctx context.Context) (identity.Context, bool) {
	caller, ok := ctx.Value(identityKey{}).(identity.Context)
	return caller, ok
}

// withIdentity resolves the identity headers into an identity.Context.
// A missing header rejects with 401; an unknown role with 400. Either way
// the request never reaches its handler.
func (s *Server) withIdentity(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roleToken := r.Header.Get(HeaderUserRole)
		userID := r.Header.Get(HeaderUserID)
		if roleToken == "" || userID == "" {
			s.writeError(w, r, http.StatusUnauthorized,
				errors.New(errors.CodeUnknownRole, "X-User-Role and X-User-Id headers are required", nil))
			return
		}

		caller, err := identity.FromTokens(userID, roleToken)
		if err != nil {
			s.writeError(w, r, 0, err)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey{}, caller)
		next(w, r.WithContext(ctx))
	}
}

// observe records request metrics per route.
func (s *Server) observe(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.metrics.RecordRequest(r.Context(), route, rec.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so SSE works through the
// recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// writeError renders a typed error. statusOverride forces the HTTP
// status; zero uses the error's own mapping.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, statusOverride int, err error) {
	we := errors.AsWardenError(err)
	status := we.StatusCode
	if statusOverride != 0 {
		status = statusOverride
	}

	s.metrics.RecordError(r.Context(), r.URL.Path, we)
	s.log.Warn("request.error",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("code", string(we.Code)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    string(we.Code),
		"message": we.Message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
