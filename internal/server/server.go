// Package server exposes the teleprompter sessions over HTTP and WebSocket.
//
// The alignment core itself has no wire surface; this package is the
// surrounding application glue: session CRUD, lifecycle endpoints, settings,
// state snapshots, a WebSocket event stream for the rendering client, and
// the operational endpoints (/metrics, /healthz, /readyz).
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/cuepilot/cuepilot/internal/align"
	"github.com/cuepilot/cuepilot/internal/config"
	"github.com/cuepilot/cuepilot/internal/health"
	"github.com/cuepilot/cuepilot/internal/ingest"
	"github.com/cuepilot/cuepilot/internal/observe"
	"github.com/cuepilot/cuepilot/internal/session"
)

// maxScriptBytes caps the accepted script payload size.
const maxScriptBytes = 4 << 20

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Server wires the session manager to the HTTP surface.
type Server struct {
	cfg      config.ServerConfig
	sessions *session.Manager
	metrics  *observe.Metrics
	handler  http.Handler
}

// New builds a Server with all routes registered.
func New(cfg config.ServerConfig, sessions *session.Manager, metrics *observe.Metrics) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		metrics:  metrics,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /v1/sessions/{id}/script", s.handleLoadScript)
	mux.HandleFunc("POST /v1/sessions/{id}/start", s.handleStart)
	mux.HandleFunc("POST /v1/sessions/{id}/stop", s.handleStop)
	mux.HandleFunc("POST /v1/sessions/{id}/reset", s.handleReset)
	mux.HandleFunc("PATCH /v1/sessions/{id}/settings", s.handleSettings)
	mux.HandleFunc("POST /v1/sessions/{id}/words", s.handleWords)
	mux.HandleFunc("GET /v1/sessions/{id}/state", s.handleState)
	mux.HandleFunc("GET /v1/sessions/{id}/stream", s.handleStream)

	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(health.Checker{
		Name: "sessions",
		Check: func(context.Context) error {
			return nil // the in-memory registry is ready as soon as it exists
		},
	}).Register(mux)

	s.handler = observe.Middleware(metrics)(mux)
	return s
}

// Handler returns the fully wrapped HTTP handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr,
		Handler: s.handler,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", s.cfg.ListenAddr, "tls", s.cfg.TLS != nil)
		var err error
		if s.cfg.TLS != nil {
			err = srv.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// createSessionRequest is the JSON body for POST /v1/sessions.
type createSessionRequest struct {
	// Script is optional; when present it is loaded immediately.
	Script string `json:"script"`
}

// createSessionResponse is returned from POST /v1/sessions and the script
// endpoint.
type createSessionResponse struct {
	SessionID       string `json:"session_id"`
	TotalWords      int    `json:"total_words"`
	TotalSentences  int    `json:"total_sentences"`
	TotalParagraphs int    `json:"total_paragraphs"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}

	sess := s.sessions.Create()
	resp := createSessionResponse{SessionID: sess.ID}

	if req.Script != "" {
		analysis, err := sess.LoadScript(req.Script)
		if err != nil {
			// Cannot happen on a fresh session, but keep the teardown
			// path honest.
			s.sessions.Delete(sess.ID)
			httpError(w, http.StatusConflict, err)
			return
		}
		resp.TotalWords = analysis.TotalWords
		resp.TotalSentences = analysis.TotalSentences
		resp.TotalParagraphs = analysis.TotalParagraphs
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	s.sessions.Delete(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLoadScript(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	analysis, err := sess.LoadScript(req.Script)
	if err != nil {
		httpError(w, statusForStateError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, createSessionResponse{
		SessionID:       sess.ID,
		TotalWords:      analysis.TotalWords,
		TotalSentences:  analysis.TotalSentences,
		TotalParagraphs: analysis.TotalParagraphs,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Start(); err != nil {
		httpError(w, statusForStateError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Stop(); err != nil {
		httpError(w, statusForStateError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var update align.SettingsUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		return
	}
	if err := sess.UpdateSettings(update); err != nil {
		httpError(w, http.StatusUnprocessableEntity, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// wordsRequest is the JSON body for POST .../words: a batch of spoken-word
// events in arrival order.
type wordsRequest struct {
	Words []ingest.Event `json:"words"`
}

func (s *Server) handleWords(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req wordsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return
	}
	for _, ev := range req.Words {
		sess.Push(ev)
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

// session resolves the {id} path value, writing a 404 when unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := r.PathValue("id")
	sess, ok := s.sessions.Get(id)
	if !ok {
		httpError(w, http.StatusNotFound, fmt.Errorf("unknown session %q", id))
		return nil, false
	}
	return sess, true
}

// statusForStateError maps tracker state errors to HTTP conflict; anything
// else is the caller's request shape.
func statusForStateError(err error) int {
	if errors.Is(err, align.ErrNotActive) ||
		errors.Is(err, align.ErrSessionActive) ||
		errors.Is(err, align.ErrNoScript) {
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

// errorResponse is the JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

func httpError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("server: encode response", "err", err)
	}
}

// decodeJSON reads and decodes the request body, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxScriptBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		httpError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return err
	}
	return nil
}
