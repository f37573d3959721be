// Package server exposes the relay over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"chatrelay/internal/metrics"
	"chatrelay/internal/relay"
	"chatrelay/internal/util"
)

const maxBodyBytes = 1 << 20

// Limiter decides whether a client may issue another chat request.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Config wires required dependencies for the HTTP server. Metrics and
// Limiter are optional.
type Config struct {
	Relay          *relay.Relay
	Metrics        *metrics.Relay
	Limiter        Limiter
	TrustedProxies *util.TrustedProxies
}

// Server exposes HTTP endpoints for the relay.
type Server struct {
	relay   *relay.Relay
	metrics *metrics.Relay
	limiter Limiter
	proxies *util.TrustedProxies
	mux     *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		relay:   cfg.Relay,
		metrics: cfg.Metrics,
		limiter: cfg.Limiter,
		proxies: cfg.TrustedProxies,
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("relay", util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/chat", s.handleChat)
	s.mux.HandleFunc("/model-check", s.handleModelCheck)
	s.mux.HandleFunc("/metrics", s.handleMetrics)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	started := time.Now()
	logger := util.LoggerFromContext(r.Context())

	if !s.allow(w, r) {
		s.metrics.Observe("chat", metrics.OutcomeRateLimited, started)
		return
	}
	if err := s.relay.Ready(); err != nil {
		logger.Error("chat rejected", "err", err)
		writeError(w, http.StatusInternalServerError, "OpenAI API key is not configured")
		s.metrics.Observe("chat", metrics.OutcomeNotConfigured, started)
		return
	}
	messages, err := relay.DecodeRequest(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		logger.Warn("chat request invalid", "err", err)
		writeErrorDetails(w, http.StatusInternalServerError, "Failed to process your request", err.Error())
		s.metrics.Observe("chat", metrics.OutcomeBadRequest, started)
		return
	}
	stream, err := s.relay.Open(r.Context(), messages)
	if err != nil {
		logger.Error("chat upstream failed", "err", err, "messages", len(messages))
		writeErrorDetails(w, http.StatusInternalServerError, "Failed to generate response", details(err))
		s.metrics.Observe("chat", metrics.OutcomeUpstreamError, started)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	res, err := s.relay.Pipe(stream, w, s.metrics.AddChunk)
	if err != nil {
		logger.Error("chat stream aborted", "err", err, "chunks", res.Chunks, "bytes", res.Bytes)
		s.metrics.Observe("chat", metrics.OutcomeStreamAborted, started)
		// Headers are gone; tearing down the connection is the only way
		// left to tell the caller the body is incomplete.
		panic(http.ErrAbortHandler)
	}
	logger.Info("chat stream finished", "chunks", res.Chunks, "bytes", res.Bytes, "model", s.relay.Model())
	s.metrics.Observe("chat", metrics.OutcomeOK, started)
}

func (s *Server) handleModelCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	started := time.Now()
	logger := util.LoggerFromContext(r.Context())
	check, err := s.relay.CheckModel(r.Context())
	switch {
	case errors.Is(err, relay.ErrNotConfigured):
		writeError(w, http.StatusInternalServerError, "OpenAI API key is not configured")
		s.metrics.Observe("model_check", metrics.OutcomeNotConfigured, started)
	case err != nil:
		logger.Error("model check failed", "err", err)
		writeErrorDetails(w, http.StatusInternalServerError, "Failed to check model", details(err))
		s.metrics.Observe("model_check", metrics.OutcomeUpstreamError, started)
	default:
		writeJSON(w, http.StatusOK, check)
		s.metrics.Observe("model_check", metrics.OutcomeOK, started)
	}
}

func (s *Server) allow(w http.ResponseWriter, r *http.Request) bool {
	if s.limiter == nil {
		return true
	}
	ip := util.ClientIP(r, s.proxies)
	ok, err := s.limiter.Allow(r.Context(), ip)
	if err != nil {
		util.LoggerFromContext(r.Context()).Warn("rate limiter unavailable", "err", err, "client_ip", ip)
	}
	if !ok {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return false
	}
	return true
}

// details strips the relay's own wrapping so callers see the provider's
// message.
func details(err error) string {
	msg := err.Error()
	return strings.TrimPrefix(msg, relay.ErrUpstream.Error()+": ")
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeErrorDetails(w http.ResponseWriter, status int, msg, detail string) {
	writeJSON(w, status, map[string]string{"error": msg, "details": detail})
}
