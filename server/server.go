// Copyright 2025 The Taskwire Authors
// SPDX-License-Identifier: Apache-2.0

// Package server implements the agent side of the taskwire protocol: an
// HTTP handler that serves the agent manifest at the well-known
// discovery path, dispatches tasks/send and tasks/get JSON-RPC requests,
// and runs capability handlers asynchronously against a shared task
// store.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"

	"github.com/taskwire/taskwire"
	"github.com/taskwire/taskwire/auth"
)

// Config holds the explicit configuration for a Server. Nothing is read
// from ambient global state.
type Config struct {
	// Manifest is the discovery document. Its capability ids must match
	// the registry exactly; a mismatch is a startup error.
	Manifest *taskwire.AgentManifest
	// Store owns all task records.
	Store TaskStore
	// Registry maps capability ids to handlers.
	Registry *Registry
	// Authenticator checks request credentials before dispatch.
	// Defaults to [auth.Allow].
	Authenticator auth.Authenticator
	// Logger receives structured request and execution logs. Defaults
	// to slog.Default().
	Logger *slog.Logger
	// HandlerTimeout bounds each capability run; zero means no bound.
	HandlerTimeout time.Duration
}

// Server is the protocol dispatcher. It implements http.Handler.
type Server struct {
	manifest *taskwire.AgentManifest
	store    TaskStore
	executor *Executor
	auth     auth.Authenticator
	logger   *slog.Logger
	mux      *http.ServeMux
}

var _ http.Handler = (*Server)(nil)

// NewServer creates a Server from the given configuration. Capability
// ids in the manifest are checked against the registry at construction
// time, so a drift between the two surfaces as a configuration error
// instead of runtime failures.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Manifest == nil {
		return nil, fmt.Errorf("manifest is required")
	}
	if err := cfg.Manifest.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("task store is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("capability registry is required")
	}
	if err := checkCapabilities(cfg.Manifest, cfg.Registry); err != nil {
		return nil, err
	}

	authenticator := cfg.Authenticator
	if authenticator == nil {
		authenticator = auth.Allow{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		manifest: cfg.Manifest,
		store:    cfg.Store,
		executor: NewExecutor(cfg.Store, cfg.Registry, logger, cfg.HandlerTimeout),
		auth:     authenticator,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET "+taskwire.ManifestPath, s.handleManifest)
	s.mux.HandleFunc("POST /", s.handleRPC)
	return s, nil
}

// checkCapabilities ensures manifest and registry agree on the set of
// capability ids.
func checkCapabilities(manifest *taskwire.AgentManifest, registry *Registry) error {
	registered := make(map[string]bool)
	for _, id := range registry.IDs() {
		registered[id] = true
	}
	for _, id := range manifest.CapabilityIDs() {
		if !registered[id] {
			return fmt.Errorf("capability %q is listed in the manifest but has no handler", id)
		}
		delete(registered, id)
	}
	for id := range registered {
		return fmt.Errorf("capability %q has a handler but is not listed in the manifest", id)
	}
	return nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Shutdown signals cancellation to in-flight capability runs and waits
// for them to settle their records.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.executor.Shutdown(ctx)
}

// handleManifest serves the discovery document.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.MarshalWrite(w, s.manifest); err != nil {
		s.logger.ErrorContext(r.Context(), "failed to encode manifest", "error", err)
	}
}

// handleRPC decodes one JSON-RPC envelope, authenticates it, and routes
// it to a method handler. Any panic during dispatch becomes an internal
// error envelope; the connection is never torn down because of it.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req taskwire.Request
	if err := json.UnmarshalRead(r.Body, &req); err != nil {
		s.writeError(w, nil, taskwire.NewParseError(), http.StatusOK)
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.writeError(w, req.ID, taskwire.NewInvalidRequestError(), http.StatusOK)
		return
	}

	// The credential check runs before any method dispatch; a failure
	// must leave no side effects behind.
	if err := s.auth.Authenticate(r); err != nil {
		s.logger.InfoContext(r.Context(), "request rejected", "method", req.Method, "error", err)
		s.writeError(w, req.ID, taskwire.NewUnauthenticatedError(), http.StatusUnauthorized)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.ErrorContext(r.Context(), "panic during dispatch", "method", req.Method, "panic", rec)
			s.writeError(w, req.ID, taskwire.NewInternalError(fmt.Sprint(rec)), http.StatusInternalServerError)
		}
	}()

	switch req.Method {
	case taskwire.MethodTasksSend:
		s.handleTasksSend(w, r, req)
	case taskwire.MethodTasksGet:
		s.handleTasksGet(w, r, req)
	default:
		s.writeError(w, req.ID, taskwire.NewMethodNotFoundError(req.Method), http.StatusOK)
	}
}

// handleTasksSend creates the task record and hands it to the executor.
// The response carries the submitted snapshot immediately: send latency
// is bounded by store-creation cost, never by task runtime. An unlisted
// capability is not an RPC error — the record is created and the
// executor drives it to failed, because the send has already succeeded
// from the caller's point of view.
func (s *Server) handleTasksSend(w http.ResponseWriter, r *http.Request, req taskwire.Request) {
	var params taskwire.SendParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.writeError(w, req.ID, taskwire.NewInvalidParamsError(err.Error()), http.StatusOK)
		return
	}
	if params.Capability == "" {
		s.writeError(w, req.ID, taskwire.NewInvalidParamsError("capability is required"), http.StatusOK)
		return
	}
	if params.Message.Role != taskwire.RoleUser {
		s.writeError(w, req.ID, taskwire.NewInvalidParamsError("message role must be user"), http.StatusOK)
		return
	}
	if err := params.Message.Validate(); err != nil {
		s.writeError(w, req.ID, taskwire.NewInvalidParamsError(err.Error()), http.StatusOK)
		return
	}

	task, err := s.store.Create(r.Context(), params.Message)
	if err != nil {
		s.writeError(w, req.ID, taskwire.NewInternalError(err.Error()), http.StatusInternalServerError)
		return
	}
	s.executor.Dispatch(params.Capability, task.ID)

	s.logger.InfoContext(r.Context(), "task submitted", "task_id", task.ID, "capability", params.Capability)
	s.writeResult(w, req.ID, task)
}

// handleTasksGet returns the current task snapshot. History is trimmed
// unless explicitly requested, keeping the common polling response small.
func (s *Server) handleTasksGet(w http.ResponseWriter, r *http.Request, req taskwire.Request) {
	var params taskwire.GetParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.writeError(w, req.ID, taskwire.NewInvalidParamsError(err.Error()), http.StatusOK)
		return
	}
	if params.ID == "" {
		s.writeError(w, req.ID, taskwire.NewInvalidParamsError("task id is required"), http.StatusOK)
		return
	}

	task, err := s.store.Get(r.Context(), params.ID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			s.writeError(w, req.ID, taskwire.NewTaskNotFoundError(params.ID), http.StatusNotFound)
			return
		}
		s.writeError(w, req.ID, taskwire.NewInternalError(err.Error()), http.StatusInternalServerError)
		return
	}
	if !params.IncludeHistory {
		task.History = nil
	}
	s.writeResult(w, req.ID, task)
}

// writeResult writes a success envelope echoing the request id verbatim.
func (s *Server) writeResult(w http.ResponseWriter, id jsontext.Value, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		s.writeError(w, id, taskwire.NewInternalError(err.Error()), http.StatusInternalServerError)
		return
	}
	s.write(w, http.StatusOK, taskwire.Response{
		JSONRPC: "2.0",
		Result:  jsontext.Value(raw),
		ID:      echoID(id),
	})
}

// writeError writes an error envelope with the given HTTP status. The
// status mapping is presentation only; clients branch on the error code.
func (s *Server) writeError(w http.ResponseWriter, id jsontext.Value, rpcErr *taskwire.Error, status int) {
	s.write(w, status, taskwire.Response{
		JSONRPC: "2.0",
		Error:   rpcErr,
		ID:      echoID(id),
	})
}

func (s *Server) write(w http.ResponseWriter, status int, resp taskwire.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.MarshalWrite(w, resp); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// echoID normalizes a missing request id to JSON null so the response
// envelope is always well formed.
func echoID(id jsontext.Value) jsontext.Value {
	if len(id) == 0 {
		return jsontext.Value("null")
	}
	return id
}
