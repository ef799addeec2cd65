package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/aidetect/detect"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Artifact   ArtifactConfig   `mapstructure:"artifact"`
	Tokenizer  TokenizerConfig  `mapstructure:"tokenizer"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Detector   DetectorConfig   `mapstructure:"detector"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
}

// ArtifactConfig locates the model artifact directory.
type ArtifactConfig struct {
	Dir      string `mapstructure:"dir" validate:"required"`
	Manifest string `mapstructure:"manifest" validate:"required"`
}

// TokenizerConfig selects the tokenizer engine.
type TokenizerConfig struct {
	Engine      string `mapstructure:"engine" validate:"oneof=wordpiece sugarme"`
	// HFSemantics opts into the sugarme engine's HuggingFace BERT rules.
	HFSemantics bool   `mapstructure:"hf_semantics"`
	// MaxLength overrides the artifact's max_length when > 0.
	MaxLength   int    `mapstructure:"max_length" validate:"gte=0,lte=4096"`
}

// ClassifierConfig stores runtime backend settings.
type ClassifierConfig struct {
	Backend              string `mapstructure:"backend" validate:"oneof=native onnx"`
	Erfc                 string `mapstructure:"erfc" validate:"oneof=polynomial native"`
	AIIndex              int    `mapstructure:"ai_index" validate:"gte=-1"`
	BatchSize            int    `mapstructure:"batch_size" validate:"gte=1,lte=1024"`
	MaxConcurrentForward int    `mapstructure:"max_concurrent_forward" validate:"gte=0"`
	ExecutionProvider    string `mapstructure:"execution_provider" validate:"oneof=cpu cuda tensorrt coreml dml"`
	DeviceID             int    `mapstructure:"device_id" validate:"gte=0"`
	IntraOpThreads       int    `mapstructure:"intra_op_threads" validate:"gte=0"`
}

// DetectorConfig stores façade policy.
type DetectorConfig struct {
	MaxChars               int     `mapstructure:"max_chars" validate:"gte=1"`
	Precision              int     `mapstructure:"precision" validate:"gte=4,lte=12"`
	WarmupText             string  `mapstructure:"warmup_text" validate:"required"`
	MinCalibrationAccuracy float64 `mapstructure:"min_calibration_accuracy" validate:"gt=0,lte=1"`
	SkipCalibration        bool    `mapstructure:"skip_calibration"`
}

// ServerConfig stores HTTP listener settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	PredictTimeout  time.Duration `mapstructure:"predict_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// LogConfig stores logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

var validate = validator.New()

// ErrInvalidConfig is returned when the decoded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("/etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(internal.DefaultEnvPrefix)
	v.AutomaticEnv()                                   // Read in environment variables that match
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // artifact.dir becomes AIDETECT_ARTIFACT_DIR

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("artifact.dir", internal.DefaultArtifactDir)
	v.SetDefault("artifact.manifest", internal.DefaultManifestFile)

	v.SetDefault("tokenizer.engine", "wordpiece")
	v.SetDefault("tokenizer.max_length", 0)
	v.SetDefault("tokenizer.hf_semantics", false)

	v.SetDefault("classifier.backend", "native")
	v.SetDefault("classifier.erfc", "polynomial")
	v.SetDefault("classifier.ai_index", -1)
	v.SetDefault("classifier.batch_size", internal.DefaultBatchSize)
	v.SetDefault("classifier.max_concurrent_forward", 0)
	v.SetDefault("classifier.execution_provider", "cpu")
	v.SetDefault("classifier.device_id", 0)
	v.SetDefault("classifier.intra_op_threads", 0)

	v.SetDefault("detector.max_chars", internal.DefaultMaxChars)
	v.SetDefault("detector.precision", internal.DefaultPrecision)
	v.SetDefault("detector.warmup_text", internal.DefaultWarmupText)
	v.SetDefault("detector.min_calibration_accuracy", 1.0)
	v.SetDefault("detector.skip_calibration", false)

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.predict_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
