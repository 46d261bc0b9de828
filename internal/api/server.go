// Package api exposes the engine over HTTP: create a turn, watch its packet
// stream, read the finished result.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/research-orchestrator/internal/controller"
	"github.com/example/research-orchestrator/internal/llm"
	"github.com/example/research-orchestrator/internal/stream"
)

type turnStatus string

const (
	statusRunning turnStatus = "running"
	statusDone    turnStatus = "done"
	statusFailed  turnStatus = "failed"
)

type turnEntry struct {
	Status  turnStatus              `json:"status"`
	Outcome *controller.TurnOutcome `json:"outcome,omitempty"`
	Error   string                  `json:"error,omitempty"`
}

type Server struct {
	ctrl *controller.Controller
	hub  *stream.Hub
	log  *zap.Logger

	mu    sync.Mutex
	turns map[string]*turnEntry
}

func NewServer(ctrl *controller.Controller, hub *stream.Hub, log *zap.Logger) *Server {
	return &Server{ctrl: ctrl, hub: hub, log: log, turns: map[string]*turnEntry{}}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/turns", s.handleCreateTurn)
	mux.HandleFunc("/turns/events/", s.handleEvents)
	mux.HandleFunc("/turns/", s.handleGetTurn)
}

type createTurnRequest struct {
	Query       string `json:"query"`
	SkipClarify bool   `json:"skip_clarify,omitempty"`
	History     []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"history,omitempty"`
}

// handleCreateTurn accepts the turn and runs it in the background; the
// caller follows along on the events endpoint and polls for the result.
func (s *Server) handleCreateTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req createTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	in := controller.TurnInput{
		ID:          uuid.NewString(),
		Query:       req.Query,
		SkipClarify: req.SkipClarify,
	}
	for _, m := range req.History {
		in.History = append(in.History, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}

	s.mu.Lock()
	s.turns[in.ID] = &turnEntry{Status: statusRunning}
	s.mu.Unlock()

	go func() {
		out, err := s.ctrl.RunTurn(context.Background(), in)
		s.mu.Lock()
		entry := s.turns[in.ID]
		if err != nil {
			entry.Status = statusFailed
			entry.Error = err.Error()
		} else {
			entry.Status = statusDone
			entry.Outcome = out
		}
		s.mu.Unlock()
		if err != nil {
			s.log.Error("turn failed", zap.String("turn", in.ID), zap.Error(err))
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	respondJSON(w, map[string]string{"turn_id": in.ID})
}

// handleEvents streams the turn's packets as server-sent events until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Path[len("/turns/events/"):]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, unsubscribe := s.hub.Subscribe(id)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case b, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", b)
			flusher.Flush()
		}
	}
}

func (s *Server) handleGetTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Path[len("/turns/"):]
	s.mu.Lock()
	entry, ok := s.turns[id]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	respondJSON(w, entry)
}

func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
