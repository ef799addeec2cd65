package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ZanzyTHEbar/aidetect/detect/service"
)

const (
	msgInvalidBody      = "Invalid request body"
	msgModelNotLoaded   = "Model not loaded"
	msgPredictionFailed = "Prediction failed"
	msgTimedOut         = "Request timed out"
)

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, apiError{Error: message})
}

// mapDetectorError turns a façade error into a status and a client-safe
// message. Backend detail never reaches the body.
func mapDetectorError(err error) (int, string) {
	var ie *service.InputError
	switch {
	case errors.As(err, &ie):
		return http.StatusBadRequest, ie.Reason
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrModelNotLoaded):
		return http.StatusServiceUnavailable, msgModelNotLoaded
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, msgTimedOut
	default:
		return http.StatusInternalServerError, msgPredictionFailed
	}
}
