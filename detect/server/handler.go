package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ZanzyTHEbar/aidetect/detect/service"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/process"
)

// Predictor is the façade the handlers call. *service.Detector satisfies it.
type Predictor interface {
	Predict(ctx context.Context, text string) (service.Prediction, error)
	PredictBatch(ctx context.Context, texts []string) ([]service.Prediction, error)
	Health() service.Health
}

// Handler serves the prediction and health endpoints.
type Handler struct {
	det  Predictor
	opts Options
	proc *process.Process
}

// NewHandler returns handlers bound to det.
func NewHandler(det Predictor, opts Options, log zerolog.Logger) *Handler {
	opts.normalize()
	return &Handler{det: det, opts: opts, proc: openSelf(log)}
}

type predictRequest struct {
	Text string `json:"text"`
}

type batchRequest struct {
	Texts []string `json:"texts"`
}

type batchResponse struct {
	Predictions []service.Prediction `json:"predictions"`
}

func (h *Handler) predict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if !h.decode(w, r, &req) {
		return
	}
	pred, err := h.det.Predict(r.Context(), req.Text)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

func (h *Handler) predictBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if h.opts.MaxBatchTexts > 0 && len(req.Texts) > h.opts.MaxBatchTexts {
		writeError(w, http.StatusBadRequest, "Too many texts")
		return
	}
	preds, err := h.det.PredictBatch(r.Context(), req.Texts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{Predictions: preds})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("decode request")
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, msg := mapDetectorError(err)
	if code >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("prediction error")
	}
	writeError(w, code, msg)
}
