package service

import "github.com/ZanzyTHEbar/aidetect/detect/classifier"

// Health is a point-in-time view of the detector.
type Health struct {
	State           string               `json:"state"`
	ModelLoaded     bool                 `json:"modelLoaded"`
	TokenizerLoaded bool                 `json:"tokenizerLoaded"`
	Backend         string               `json:"backend,omitempty"`
	AIIndex         int                  `json:"aiIndex"`
	LabelSource     string               `json:"labelSource,omitempty"`
	MaxLength       int                  `json:"maxLength,omitempty"`
	WarmupMs        float64              `json:"warmupMs"`
	Predictions     uint64               `json:"predictions"`
	Failures        uint64               `json:"failures"`
	Tensors         classifier.PoolStats `json:"tensors"`
	Calibration     *CalibrationReport   `json:"calibration,omitempty"`
	// Err is the load failure. Not serialized.
	Err error `json:"-"`
}

// Ready reports whether the detector accepts predictions.
func (h Health) Ready() bool { return h.State == classifier.StateReady.String() }

// Health reports lifecycle state and counters. Load details are only read once
// the lifecycle is terminal.
func (d *Detector) Health() Health {
	st := d.life.State()
	h := Health{
		State:       st.String(),
		AIIndex:     -1,
		Predictions: d.predictions.Load(),
		Failures:    d.failures.Load(),
	}
	switch st {
	case classifier.StateReady:
		h.ModelLoaded = true
		h.TokenizerLoaded = true
		h.Backend = d.backend.Name()
		h.AIIndex = d.labels.AI
		h.LabelSource = d.labels.Source
		h.MaxLength = d.maxLength
		h.WarmupMs = float64(d.warmup.Microseconds()) / 1000
		h.Tensors = d.backend.Stats()
		h.Calibration = d.calibration
	case classifier.StateFailed:
		h.TokenizerLoaded = d.tok != nil
		h.Calibration = d.calibration
		h.Err = d.life.Err()
	}
	return h
}
