// Package api is the HTTP face of the advisor: turns, conversation
// management, import/export, preferences and operational endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/comigor/empath/internal/agent"
	"github.com/comigor/empath/internal/archive"
	"github.com/comigor/empath/internal/history"
	"github.com/comigor/empath/internal/llm"
	"github.com/comigor/empath/internal/logger"
	"github.com/comigor/empath/internal/metrics"
	"github.com/comigor/empath/internal/store"
)

const maxBodySize = 1 << 20

type Server struct {
	agent   *agent.Agent
	repo    *history.Repository
	archive *archive.Gateway
	prefs   store.Store
	metrics *metrics.Metrics
	notice  string
	now     func() time.Time
}

// New wires the handlers. notice, when non-empty, is reported by /v1/status
// (for example after history was recovered from a backup).
func New(a *agent.Agent, repo *history.Repository, g *archive.Gateway, prefs store.Store, m *metrics.Metrics, notice string) *Server {
	return &Server{
		agent:   a,
		repo:    repo,
		archive: g,
		prefs:   prefs,
		metrics: m,
		notice:  notice,
		now:     time.Now,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/turns", s.handleSubmit)
		r.Get("/status", s.handleStatus)

		r.Get("/conversations", s.handleListConversations)
		r.Delete("/conversations", s.handleClearConversations)
		r.Get("/conversations/{id}", s.handleGetConversation)

		r.Put("/active", s.handleSetActive)
		r.Delete("/active", s.handleNewConversation)

		r.Get("/export", s.handleExport)
		r.Post("/import", s.handleImport)

		r.Get("/preferences/{name}", s.handleGetPreference)
		r.Put("/preferences/{name}", s.handlePutPreference)
	})
	return r
}

// requestLogger echoes chi's request id and attaches a request-scoped logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := middleware.GetReqID(r.Context())
		w.Header().Set(middleware.RequestIDHeader, id)
		ctx := logger.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.L.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.L.Info("http server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodySize))
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondFailure maps domain errors onto status codes and user messages.
func respondFailure(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *agent.ValidationError
		ce *llm.CompletionError
		fe *archive.FormatError
	)
	switch {
	case errors.As(err, &ve):
		respondError(w, http.StatusBadRequest, "invalid_input", ve.UserMessage())
	case errors.Is(err, agent.ErrBusy):
		respondError(w, http.StatusConflict, "busy", "Still thinking about your last message.")
	case errors.As(err, &ce):
		status := http.StatusBadGateway
		if ce.Kind == llm.KindRateLimited {
			status = http.StatusTooManyRequests
		}
		respondError(w, status, string(ce.Kind), ce.UserMessage())
	case errors.As(err, &fe):
		respondError(w, http.StatusBadRequest, "invalid_format", fe.UserMessage())
	case errors.Is(err, history.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal", "Something went wrong.")
	}
}

// warningText turns a persistence warning into the message shown to users.
func warningText(err error) string {
	if err == nil {
		return ""
	}
	var se *store.Error
	if errors.As(err, &se) {
		return se.UserMessage()
	}
	return "Having trouble saving your conversation."
}
