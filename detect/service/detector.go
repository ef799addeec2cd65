package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/ZanzyTHEbar/aidetect/detect/artifact"
	"github.com/ZanzyTHEbar/aidetect/detect/classifier"
	"github.com/ZanzyTHEbar/aidetect/detect/tokenizer"
	"github.com/rs/zerolog"
)

// Prediction is the rounded probability pair for one text.
type Prediction struct {
	AIProb    float64 `json:"aiProb"`
	HumanProb float64 `json:"humanProb"`
}

// Detector wires tokenizer and classifier behind Predict. It is built once per
// artifact and is safe for concurrent use once Start has returned nil.
type Detector struct {
	opts Options
	log  zerolog.Logger
	life classifier.Lifecycle

	// Written by Start before the lifecycle leaves Loading.
	tok         tokenizer.Tokenizer
	backend     classifier.Backend
	labels      classifier.LabelMap
	maxLength   int
	gate        chan struct{}
	warmup      time.Duration
	calibration *CalibrationReport

	predictions atomic.Uint64
	failures    atomic.Uint64
}

// New returns an unloaded detector. It performs no I/O.
func New(opts Options, log zerolog.Logger) *Detector {
	opts.normalize()
	return &Detector{
		opts: opts,
		log:  log.With().Str("component", "detector").Logger(),
	}
}

// Start loads the artifact, warms the model and checks the label order.
// It moves the detector to Ready, or to Failed with the returned error.
func (d *Detector) Start(ctx context.Context) error {
	if !d.life.Begin() {
		return ErrAlreadyStarted
	}
	started := time.Now()
	if err := d.load(ctx); err != nil {
		if d.backend != nil {
			d.backend.Close()
			d.backend = nil
		}
		d.life.Fail(err)
		d.log.Error().Err(err).Str("dir", d.opts.ArtifactDir).Msg("model load failed")
		return err
	}
	d.life.Ready()
	d.log.Info().
		Str("dir", d.opts.ArtifactDir).
		Str("backend", d.backend.Name()).
		Int("ai_index", d.labels.AI).
		Str("label_source", d.labels.Source).
		Int("max_length", d.maxLength).
		Dur("warmup", d.warmup).
		Dur("elapsed", time.Since(started)).
		Msg("model ready")
	return nil
}

func (d *Detector) load(ctx context.Context) error {
	if d.opts.Precision < MinPrecision {
		return fmt.Errorf("precision %d is below %d digits", d.opts.Precision, MinPrecision)
	}
	a, err := artifact.Load(d.opts.ArtifactDir, d.opts.Manifest)
	if err != nil {
		return err
	}

	cfg := a.TokenizerConfig
	d.maxLength = cfg.MaxLength
	if d.opts.MaxLength > 0 {
		d.maxLength = d.opts.MaxLength
	}
	if d.maxLength < 2 {
		return fmt.Errorf("max length %d leaves no room for [CLS]/[SEP]", d.maxLength)
	}
	var labelNames []string
	if a.Manifest != nil {
		t := a.Manifest.ModelTopology
		if d.maxLength > t.MaxPositionEmbeddings {
			return fmt.Errorf("max length %d exceeds the model's %d positions", d.maxLength, t.MaxPositionEmbeddings)
		}
		labelNames = t.Labels()
	}

	switch d.opts.TokenizerEngine {
	case EngineWordPiece:
		d.tok = tokenizer.NewWordPiece(a.Vocab, cfg)
	case EngineSugarme:
		if !d.opts.HFTokenizerSemantics {
			return fmt.Errorf("%w: engine %q emits whole-word [UNK] and always splits punctuation; enable HF tokenizer semantics to use it",
				ErrTokenizerEngine, EngineSugarme)
		}
		swp, err := tokenizer.NewSugarWordPiece(a.Vocab, cfg)
		if err != nil {
			return fmt.Errorf("build tokenizer: %w", err)
		}
		d.tok = swp
	default:
		return fmt.Errorf("%w: unknown engine %q", ErrTokenizerEngine, d.opts.TokenizerEngine)
	}

	d.backend, err = d.opts.OpenBackend(a, classifier.Options{
		Backend:           d.opts.Backend,
		Erfc:              d.opts.Erfc,
		ExecutionProvider: d.opts.ExecutionProvider,
		DeviceID:          d.opts.DeviceID,
		IntraOpThreads:    d.opts.IntraOpThreads,
		Log:               d.log,
	})
	if err != nil {
		return fmt.Errorf("load classifier: %w", err)
	}

	aiIndex := -1
	if d.opts.AIIndex != nil {
		aiIndex = *d.opts.AIIndex
	}
	if d.labels, err = classifier.ResolveLabelMap(aiIndex, labelNames); err != nil {
		return fmt.Errorf("resolve label order: %w", err)
	}

	width := 1
	if d.backend.Concurrent() {
		width = d.opts.MaxConcurrentForward
		if width <= 0 {
			width = runtime.GOMAXPROCS(0)
		}
	}
	d.gate = make(chan struct{}, width)

	t0 := time.Now()
	res, err := d.score(ctx, []string{d.opts.WarmupText})
	if err != nil {
		return fmt.Errorf("warm-up: %w", err)
	}
	d.warmup = time.Since(t0)
	d.log.Debug().Float64("ai_prob", res[0].AIProb).Dur("elapsed", d.warmup).Msg("warm-up complete")

	if len(a.Calibration) > 0 && !d.opts.SkipCalibration {
		report, err := d.calibrate(ctx, a.Calibration)
		d.calibration = report
		if err != nil {
			return err
		}
	}
	return nil
}

// Predict scores one text. Whitespace is trimmed before validation.
func (d *Detector) Predict(ctx context.Context, text string) (Prediction, error) {
	if d.life.State() != classifier.StateReady {
		return Prediction{}, ErrModelNotLoaded
	}
	text, err := d.validate(text)
	if err != nil {
		return Prediction{}, err
	}
	start := time.Now()
	res, err := d.score(ctx, []string{text})
	if err != nil {
		d.failures.Add(1)
		d.log.Error().Err(err).Int("chars", utf8.RuneCountInString(text)).Msg("prediction failed")
		return Prediction{}, err
	}
	d.predictions.Add(1)
	d.log.Info().
		Int("chars", utf8.RuneCountInString(text)).
		Float64("elapsed_ms", float64(time.Since(start).Microseconds())/1000).
		Float64("ai_prob", res[0].AIProb).
		Msg("prediction")
	return res[0], nil
}

// PredictBatch scores several texts; the result is index-aligned with texts.
// Any invalid text rejects the whole batch.
func (d *Detector) PredictBatch(ctx context.Context, texts []string) ([]Prediction, error) {
	if d.life.State() != classifier.StateReady {
		return nil, ErrModelNotLoaded
	}
	if len(texts) == 0 {
		return nil, &InputError{Reason: "Texts are required"}
	}
	clean := make([]string, len(texts))
	for i, t := range texts {
		c, err := d.validate(t)
		if err != nil {
			var ie *InputError
			if errors.As(err, &ie) {
				return nil, &InputError{Reason: fmt.Sprintf("texts[%d]: %s", i, ie.Reason)}
			}
			return nil, err
		}
		clean[i] = c
	}
	start := time.Now()
	res, err := d.score(ctx, clean)
	if err != nil {
		d.failures.Add(1)
		d.log.Error().Err(err).Int("texts", len(texts)).Msg("batch prediction failed")
		return nil, err
	}
	d.predictions.Add(uint64(len(res)))
	d.log.Info().
		Int("texts", len(texts)).
		Float64("elapsed_ms", float64(time.Since(start).Microseconds())/1000).
		Msg("batch prediction")
	return res, nil
}

func (d *Detector) validate(text string) (string, error) {
	if !utf8.ValidString(text) {
		return "", &InputError{Reason: "Text must be valid UTF-8"}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &InputError{Reason: "Text is required"}
	}
	if utf8.RuneCountInString(text) > d.opts.MaxChars {
		return "", &InputError{Reason: fmt.Sprintf("Text too long (max %d chars)", d.opts.MaxChars)}
	}
	return text, nil
}

// score runs the full tokenize, forward, softmax path. Encoding is not gated;
// forward passes go through the gate in chunks of BatchSize.
func (d *Detector) score(ctx context.Context, texts []string) ([]Prediction, error) {
	ids, masks, err := d.tok.EncodeBatch(texts, d.maxLength)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %w", ErrInference, err)
	}
	out := make([]Prediction, 0, len(texts))
	for lo := 0; lo < len(ids); lo += d.opts.BatchSize {
		hi := min(lo+d.opts.BatchSize, len(ids))
		logits, err := d.forward(ctx, ids[lo:hi], masks[lo:hi])
		if err != nil {
			return nil, err
		}
		for _, row := range logits {
			ai, human := d.labels.Split(classifier.Softmax(row))
			if math.IsNaN(ai) || math.IsNaN(human) {
				return nil, fmt.Errorf("%w: non-finite probabilities from logits %v", ErrInference, row)
			}
			out = append(out, Prediction{
				AIProb:    roundTo(ai, d.opts.Precision),
				HumanProb: roundTo(human, d.opts.Precision),
			})
		}
	}
	return out, nil
}

func (d *Detector) forward(ctx context.Context, ids, masks [][]int64) (logits [][]float64, err error) {
	select {
	case d.gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-d.gate }()
	defer func() {
		if r := recover(); r != nil {
			logits, err = nil, fmt.Errorf("%w: backend panic: %v", ErrInference, r)
		}
	}()

	logits, err = d.backend.Forward(ids, masks)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}
	if len(logits) != len(ids) {
		return nil, fmt.Errorf("%w: backend returned %d rows for %d inputs", ErrInference, len(logits), len(ids))
	}
	for i, row := range logits {
		if len(row) != 2 {
			return nil, fmt.Errorf("%w: row %d has %d logits", ErrInference, i, len(row))
		}
	}
	return logits, nil
}

// roundTo rounds half away from zero to the given number of decimal digits.
func roundTo(v float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Round(v*p) / p
}

// State reports the lifecycle state.
func (d *Detector) State() classifier.State { return d.life.State() }

// Close releases the backend. The detector cannot be restarted.
func (d *Detector) Close() error {
	if d.life.State() == classifier.StateLoading || d.backend == nil {
		return nil
	}
	return d.backend.Close()
}
