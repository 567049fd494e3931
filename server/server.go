//
// Tencent is pleased to support the open source community by making trpc-flow-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-flow-go is licensed under the Apache License Version 2.0.
//
//

// Package server exposes the run control surface over HTTP: start a
// registered workflow, resume an interrupted run, query run status. The
// engine itself is transport-agnostic; this is one thin adapter over
// runner.Runner.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"trpc.group/trpc-go/trpc-flow-go/checkpoint"
	"trpc.group/trpc-go/trpc-flow-go/flow"
	"trpc.group/trpc-go/trpc-flow-go/log"
	"trpc.group/trpc-go/trpc-flow-go/runner"
)

// Server serves the run control API for a set of named graphs.
type Server struct {
	runner *runner.Runner
	router *mux.Router

	mu     sync.RWMutex
	graphs map[string]*flow.Graph
}

// Option configures the Server.
type Option func(*Server)

// WithGraph registers a graph under a workflow name.
func WithGraph(name string, g *flow.Graph) Option {
	return func(s *Server) { s.graphs[name] = g }
}

// New creates a server over the given runner.
func New(r *runner.Runner, opts ...Option) *Server {
	s := &Server{
		runner: r,
		graphs: make(map[string]*flow.Graph),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = mux.NewRouter()
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/runs", s.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/runs/{id}", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/resume", s.handleResume).Methods(http.MethodPost)
	return s
}

// Handler returns the HTTP handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return cors.AllowAll().Handler(s.router)
}

// RegisterGraph adds or replaces a named graph at runtime.
func (s *Server) RegisterGraph(name string, g *flow.Graph) {
	s.mu.Lock()
	s.graphs[name] = g
	s.mu.Unlock()
}

func (s *Server) graph(name string) (*flow.Graph, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graphs[name]
	return g, ok
}

type startRequest struct {
	Workflow string `json:"workflow"`
	// Inputs seeds the initial state pool: node id to output map.
	Inputs map[string]map[string]any `json:"inputs,omitempty"`
}

type startResponse struct {
	RunID string `json:"run_id"`
}

type resumeRequest struct {
	Workflow string `json:"workflow"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	g, ok := s.graph(req.Workflow)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown workflow: "+req.Workflow))
		return
	}
	initial := flow.NewStatePool()
	for nodeID, outputs := range req.Inputs {
		for name, raw := range outputs {
			if err := initial.Put(nodeID, name, flow.InlineValue(raw)); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}
	}
	runID, err := s.runner.Start(r.Context(), g, initial)
	if err != nil && runID == "" {
		// Validation failed; no run exists.
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		log.Warnf("run %s finished with error: %v", runID, err)
	}
	writeJSON(w, http.StatusCreated, startResponse{RunID: runID})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	run, err := s.runner.Status(r.Context(), runID)
	if err != nil {
		if errors.Is(err, checkpoint.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	g, ok := s.graph(req.Workflow)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown workflow: "+req.Workflow))
		return
	}
	if err := s.runner.Resume(r.Context(), runID, g); err != nil {
		if errors.Is(err, checkpoint.ErrRunNotFound) || errors.Is(err, checkpoint.ErrNoSnapshot) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	run, err := s.runner.Status(r.Context(), runID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
