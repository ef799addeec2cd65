package service

import (
	internal "github.com/ZanzyTHEbar/aidetect/detect"
	"github.com/ZanzyTHEbar/aidetect/detect/artifact"
	"github.com/ZanzyTHEbar/aidetect/detect/classifier"
	"github.com/ZanzyTHEbar/aidetect/detect/config"
)

const (
	EngineWordPiece = "wordpiece"
	EngineSugarme   = "sugarme"
)

// MinPrecision is the fewest digits for which rounded aiProb and humanProb
// still sum to 1 within 1e-3.
const MinPrecision = 4

// PinAIIndex returns an AIIndex option pinned to i.
func PinAIIndex(i int) *int { return &i }

// BackendOpener builds a classifier backend for a loaded artifact.
type BackendOpener func(a *artifact.Artifact, opts classifier.Options) (classifier.Backend, error)

// Options configures a Detector.
type Options struct {
	ArtifactDir string
	Manifest    string

	TokenizerEngine      string
	// HFTokenizerSemantics must be set to use EngineSugarme, which follows
	// HuggingFace BERT rules instead of per-character [UNK] fallback.
	HFTokenizerSemantics bool
	// MaxLength overrides the artifact's max_length when > 0.
	MaxLength            int

	Backend           string
	Erfc              classifier.ErfcMode
	ExecutionProvider string
	DeviceID          int
	IntraOpThreads    int
	// AIIndex pins the AI output index. Nil resolves it from the artifact.
	AIIndex              *int
	BatchSize            int
	MaxConcurrentForward int

	MaxChars               int
	// Precision is the number of decimal digits kept, at least
	// MinPrecision. Zero means the default.
	Precision              int
	WarmupText             string
	// MinCalibrationAccuracy is the share of calibration examples the label
	// map must agree with. Zero means 1.
	MinCalibrationAccuracy float64
	SkipCalibration        bool

	// OpenBackend defaults to classifier.Load.
	OpenBackend BackendOpener
}

// DefaultOptions returns the deployed defaults for an artifact directory.
func DefaultOptions(dir string) Options {
	return Options{
		ArtifactDir:            dir,
		Manifest:               internal.DefaultManifestFile,
		TokenizerEngine:        EngineWordPiece,
		Backend:                classifier.BackendNative,
		Erfc:                   classifier.ErfcPolynomial,
		BatchSize:              internal.DefaultBatchSize,
		MaxChars:               internal.DefaultMaxChars,
		Precision:              internal.DefaultPrecision,
		WarmupText:             internal.DefaultWarmupText,
		MinCalibrationAccuracy: 1,
	}
}

// OptionsFromConfig maps the loaded configuration onto detector options.
func OptionsFromConfig(cfg *config.Config) Options {
	o := Options{
		ArtifactDir:            cfg.Artifact.Dir,
		Manifest:               cfg.Artifact.Manifest,
		TokenizerEngine:        cfg.Tokenizer.Engine,
		HFTokenizerSemantics:   cfg.Tokenizer.HFSemantics,
		MaxLength:              cfg.Tokenizer.MaxLength,
		Backend:                cfg.Classifier.Backend,
		Erfc:                   classifier.ErfcMode(cfg.Classifier.Erfc),
		ExecutionProvider:      cfg.Classifier.ExecutionProvider,
		DeviceID:               cfg.Classifier.DeviceID,
		IntraOpThreads:         cfg.Classifier.IntraOpThreads,
		BatchSize:              cfg.Classifier.BatchSize,
		MaxConcurrentForward:   cfg.Classifier.MaxConcurrentForward,
		MaxChars:               cfg.Detector.MaxChars,
		Precision:              cfg.Detector.Precision,
		WarmupText:             cfg.Detector.WarmupText,
		MinCalibrationAccuracy: cfg.Detector.MinCalibrationAccuracy,
		SkipCalibration:        cfg.Detector.SkipCalibration,
	}
	if cfg.Classifier.AIIndex >= 0 {
		o.AIIndex = PinAIIndex(cfg.Classifier.AIIndex)
	}
	return o
}

func (o *Options) normalize() {
	if o.Manifest == "" {
		o.Manifest = internal.DefaultManifestFile
	}
	if o.TokenizerEngine == "" {
		o.TokenizerEngine = EngineWordPiece
	}
	if o.BatchSize <= 0 {
		o.BatchSize = internal.DefaultBatchSize
	}
	if o.MaxChars <= 0 {
		o.MaxChars = internal.DefaultMaxChars
	}
	if o.Precision == 0 {
		o.Precision = internal.DefaultPrecision
	}
	if o.MinCalibrationAccuracy <= 0 {
		o.MinCalibrationAccuracy = 1
	}
	if o.WarmupText == "" {
		o.WarmupText = internal.DefaultWarmupText
	}
	if o.OpenBackend == nil {
		o.OpenBackend = classifier.Load
	}
}
