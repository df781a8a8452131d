// Package api exposes the HTTP interface for the verification service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/funniceguy/trendsentry/internal/config"
	"github.com/funniceguy/trendsentry/internal/metrics"
	"github.com/funniceguy/trendsentry/internal/orchestrator"
	"github.com/funniceguy/trendsentry/internal/verify"
)

// Synthesizer converts report text into spoken audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Server wires HTTP handlers to the orchestrator, the agent gateway,
// and the speech synthesizer.
type Server struct {
	router  chi.Router
	orch    *orchestrator.Orchestrator
	health  orchestrator.HealthRunner
	gateway verify.Gateway
	tts     Synthesizer
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	orch *orchestrator.Orchestrator,
	health orchestrator.HealthRunner,
	gateway verify.Gateway,
	tts Synthesizer,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		orch:    orch,
		health:  health,
		gateway: gateway,
		tts:     tts,
		cfg:     cfg,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/crawler-health", s.crawlerHealth)
		r.Get("/sources", s.listSources)
		r.Route("/verifications", func(r chi.Router) {
			r.Post("/", s.startVerification)
			r.Get("/", s.listVerifications)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Get("/", s.getVerification)
				r.Get("/audio", s.getVerificationAudio)
			})
		})
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Route("/{session_id}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Get("/activities", s.listSessionActivities)
				r.Post("/message", s.sendSessionMessage)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.orch.Stats(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "card store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) crawlerHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := s.health.Run(r.Context(), r)
	writeJSON(w, http.StatusOK, snapshot)
}

type startVerificationRequest struct {
	Query    string `json:"query"`
	Category string `json:"category"`
	Force    bool   `json:"force"`
}

func (s *Server) startVerification(w http.ResponseWriter, r *http.Request) {
	var req startVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	result, err := s.orch.Verify(r.Context(), r, orchestrator.VerifyParams{
		Query:    req.Query,
		Category: req.Category,
		Force:    req.Force,
	})
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrQueryRequired):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, orchestrator.ErrCapacityExceeded):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	if result.Skipped {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"skipped": true,
			"reason":  result.Reason,
			"health":  result.Health,
			"stats":   result.Stats,
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"skipped": false,
		"card":    result.Card,
		"health":  result.Health,
		"stats":   result.Stats,
	})
}

func (s *Server) listVerifications(w http.ResponseWriter, r *http.Request) {
	cards, err := s.orch.RefreshAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stats, err := s.orch.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": cards, "stats": stats})
}

func (s *Server) getVerification(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	card, err := s.orch.RefreshByID(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, verify.ErrCardNotFound) {
			writeError(w, http.StatusNotFound, "verification not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	stats, err := s.orch.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card": card, "stats": stats})
}

func (s *Server) getVerificationAudio(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	card, err := s.orch.RefreshByID(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, verify.ErrCardNotFound) {
			writeError(w, http.StatusNotFound, "verification not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	text := strings.TrimSpace(card.AudioText)
	if text == "" {
		text = strings.TrimSpace(card.ReportSummary)
	}
	if text == "" {
		writeError(w, http.StatusBadRequest, "no report text to synthesize")
		return
	}
	audio, err := s.tts.Synthesize(r.Context(), text)
	if err != nil {
		s.logger.Warn("speech synthesis failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		writeError(w, http.StatusBadGateway, "speech synthesis failed")
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", sessionID+".mp3"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		s.logger.Error("audio write failed", zap.Error(err))
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	page, err := s.gateway.ListSessions(r.Context(), pageOpts(r))
	if err != nil {
		writeError(w, http.StatusBadGateway, "agent gateway error")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	session, err := s.gateway.GetSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "agent gateway error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (s *Server) listSessionActivities(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	page, err := s.gateway.ListActivities(r.Context(), sessionID, pageOpts(r))
	if err != nil {
		writeError(w, http.StatusBadGateway, "agent gateway error")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

func (s *Server) sendSessionMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "missing message")
		return
	}
	if err := s.gateway.SendMessage(r.Context(), sessionID, req.Message); err != nil {
		writeError(w, http.StatusBadGateway, "agent gateway error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "status": "sent"})
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.gateway.ListSources(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "agent gateway error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func pageOpts(r *http.Request) verify.PageOpts {
	opts := verify.PageOpts{PageToken: r.URL.Query().Get("page_token")}
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			opts.PageSize = n
		}
	}
	return opts
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
