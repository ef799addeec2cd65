package internal

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

var (
	DefaultAppName    = "aidetect"
	DefaultEnvPrefix  = "AIDETECT"
	DefaultConfigPath = filepath.Join(getHomeDir(), ".config", DefaultAppName)

	// Default artifact layout
	DefaultArtifactDir     = "./model"
	DefaultManifestFile    = "model.json"
	DefaultVocabFile       = "vocab.json"
	DefaultVocabTextFile   = "vocab.txt"
	DefaultTokenizerConfig = "tokenizer_config.json"
	DefaultCalibrationFile = "calibration.json"
	DefaultONNXModelFile   = "model.onnx"

	// Default inference policy, matching the deployed services
	DefaultMaxLength  = 128
	DefaultMaxChars   = 1000
	DefaultPrecision  = 4
	DefaultBatchSize  = 32
	DefaultWarmupText = "Test text for warmup"
)

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			log.Printf("Unable to get home or working directory, using /tmp: %v", err)
			return "/tmp"
		}
		log.Printf("Unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

// GetLogger returns a properly configured zerolog logger instance
func GetLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// NewLogger builds a logger for the given level and format ("json" or "console").
// Unknown levels fall back to info.
func NewLogger(w io.Writer, level, format string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
