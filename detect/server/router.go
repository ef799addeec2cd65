// Package server exposes a Detector over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const (
	defaultPredictTimeout = 10 * time.Second
	defaultMaxBodyBytes   = 1 << 20
	defaultMaxBatchTexts  = 256
)

// Options bounds request handling.
type Options struct {
	// PredictTimeout caps each prediction request, including queueing for
	// the forward gate.
	PredictTimeout time.Duration
	MaxBodyBytes   int64
	MaxBatchTexts  int
}

func (o *Options) normalize() {
	if o.PredictTimeout <= 0 {
		o.PredictTimeout = defaultPredictTimeout
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = defaultMaxBodyBytes
	}
	if o.MaxBatchTexts <= 0 {
		o.MaxBatchTexts = defaultMaxBatchTexts
	}
}

// NewRouter mounts /predict, /predict/batch and /health.
func NewRouter(handler *Handler, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware(log))
	r.Use(loggingMiddleware)
	r.Use(recoverMiddleware)
	r.Use(corsMiddleware())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Group(func(r chi.Router) {
		r.Use(jsonContentType)
		r.Method(http.MethodPost, "/predict", handler.withTimeout(handler.predict))
		r.Method(http.MethodPost, "/predict/batch", handler.withTimeout(handler.predictBatch))
	})
	r.Get("/health", handler.health)

	return r
}

// withTimeout answers 503 once PredictTimeout elapses, even while a forward
// pass is still running, and cancels the request context.
func (h *Handler) withTimeout(fn http.HandlerFunc) http.Handler {
	return http.TimeoutHandler(fn, h.opts.PredictTimeout, `{"error":"`+msgTimedOut+`"}`)
}
