package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/thipages/js-crud-api/internal/wire"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.launching || (s.current != nil && !s.current.finished()) {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "a run is already in progress")
		return
	}
	s.launching = true
	s.mu.Unlock()

	// The run outlives the request that started it. The lock is not held
	// across launch, which may reset the database.
	ctx := context.WithoutCancel(r.Context())
	rn, files, err := s.launch(ctx)

	s.mu.Lock()
	s.launching = false
	if err != nil {
		s.mu.Unlock()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cur := newRun(rn, len(files), UserFromContext(r.Context()))
	s.current = cur
	s.mu.Unlock()

	go cur.execute(ctx, files, s.logger)

	s.logger.Info("run launched", "files", len(files), "by", cur.startedBy)
	writeJSON(w, http.StatusAccepted, cur.view())
}

func (s *Server) handleGetRun(w http.ResponseWriter, _ *http.Request) {
	cur := s.currentRun()
	if cur == nil {
		writeError(w, http.StatusNotFound, "no run")
		return
	}
	writeJSON(w, http.StatusOK, cur.view())
}

func (s *Server) handleStopRun(w http.ResponseWriter, _ *http.Request) {
	cur := s.currentRun()
	if cur == nil {
		writeError(w, http.StatusNotFound, "no run")
		return
	}
	cur.runner.Stop()
	writeJSON(w, http.StatusAccepted, cur.view())
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	cur := s.currentRun()
	if cur == nil {
		writeError(w, http.StatusNotFound, "no run")
		return
	}
	if !cur.finished() {
		writeError(w, http.StatusConflict, "run in progress")
		return
	}

	cur.mu.Lock()
	rep, runErr := cur.report, cur.err
	cur.mu.Unlock()
	if runErr != nil {
		writeError(w, http.StatusInternalServerError, runErr.Error())
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = rep.WriteText(w)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type checkRequest struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var body checkRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Method == "" || body.Path == "" {
		writeError(w, http.StatusBadRequest, "'method' and 'path' are required")
		return
	}

	h := wire.Headers{}
	for k, v := range body.Headers {
		h.Add(k, v)
	}
	writeJSON(w, http.StatusOK, s.oracle.CanAdapt(strings.ToUpper(body.Method), body.Path, h, body.Body))
}

func (s *Server) currentRun() *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
