// Package server exposes the synthesis service over HTTP: an
// OpenAI-compatible speech endpoint, the native multi-speaker generation
// endpoint, voice listings and health.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/book-expert/logger"

	"github.com/voicekit/speechd/internal/audio"
	"github.com/voicekit/speechd/internal/core"
	"github.com/voicekit/speechd/internal/generation"
	"github.com/voicekit/speechd/internal/voice"
)

// HTTP server tuning.
const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
	healthTimeout     = 5 * time.Second
)

// Headers and content types.
const (
	headerContentType        = "Content-Type"
	headerContentDisposition = "Content-Disposition"
	headerSampleRate         = "X-Sample-Rate"
	headerAudioDuration      = "X-Audio-Duration"
	contentTypeJSON          = "application/json"
)

// errorResponse is the JSON error body for failed requests.
type errorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// BackendInfo describes the synthesis backend for the health endpoint.
type BackendInfo struct {
	Device    string
	Precision string
}

// Server routes HTTP requests to the generation coordinator.
type Server struct {
	log           *logger.Logger
	coordinator   *generation.Coordinator
	registry      *voice.Registry
	engine        core.SynthesisEngine
	backendInfo   BackendInfo
	defaultFormat audio.Format
	httpServer    *http.Server
}

// New builds the HTTP server. The listen address is host:port; defaultFormat
// is used when a request does not name an output format.
func New(
	addr string,
	coordinator *generation.Coordinator,
	registry *voice.Registry,
	eng core.SynthesisEngine,
	backendInfo BackendInfo,
	defaultFormat audio.Format,
	log *logger.Logger,
) *Server {
	server := &Server{
		log:           log,
		coordinator:   coordinator,
		registry:      registry,
		engine:        eng,
		backendInfo:   backendInfo,
		defaultFormat: defaultFormat,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/audio/speech", server.handleSpeech)
	mux.HandleFunc("GET /v1/audio/voices", server.handleOpenAIVoices)
	mux.HandleFunc("POST /v1/vibevoice/generate", server.handleGenerate)
	mux.HandleFunc("GET /v1/vibevoice/voices", server.handleVoices)
	mux.HandleFunc("GET /health", server.handleHealth)

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return server
}

// Handler returns the route table, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe serves until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error {
	s.log.Info("HTTP server listening on %s", s.httpServer.Addr)

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}

	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}

	return nil
}

// handleHealth reports service liveness and backend readiness. The service
// stays up, and reports degraded, when the backend is unreachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := "healthy"
	backend := "ready"

	err := s.engine.Ready(ctx)
	if err != nil {
		status = "degraded"
		backend = err.Error()
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    status,
		"backend":   backend,
		"device":    s.backendInfo.Device,
		"precision": s.backendInfo.Precision,
	})
}

// writeJSON serializes a response body with the JSON content type.
func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set(headerContentType, contentTypeJSON)
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		s.log.Error("Failed to encode response body: %v", err)
	}
}

// writeError maps a taxonomy error to an HTTP status and structured body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"

	switch {
	case errors.Is(err, core.ErrValidation):
		status = http.StatusBadRequest
		code = "VALIDATION"
	case errors.Is(err, core.ErrVoiceNotFound):
		status = http.StatusNotFound
		code = "VOICE_NOT_FOUND"
	case errors.Is(err, core.ErrSpeakerNotAssigned):
		status = http.StatusBadRequest
		code = "SPEAKER_NOT_ASSIGNED"
	case errors.Is(err, core.ErrTimeout):
		status = http.StatusGatewayTimeout
		code = "TIMEOUT"
	case errors.Is(err, core.ErrCancelled):
		status = http.StatusRequestTimeout
		code = "CANCELLED"
	case errors.Is(err, core.ErrEngine):
		status = http.StatusBadGateway
		code = "ENGINE"
	case errors.Is(err, core.ErrEncoding):
		status = http.StatusInternalServerError
		code = "ENCODING"
	}

	s.writeJSON(w, status, errorResponse{Detail: err.Error(), ErrorCode: code})
}

// Addr returns the configured listen address.
func Addr(host string, port int) string {
	return net.JoinHostPort(host, fmt.Sprintf("%d", port))
}
