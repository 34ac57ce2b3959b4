// Package schedule wires the call-recording pipeline into a long-running
// service: configuration, watcher, orchestrator and sinks.
package schedule

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/TechnicallyShaun/callsched/internal/home"
)

// EnvPrefix is the prefix of environment overrides, e.g. CALLSCHED_WATCH_DIR.
const EnvPrefix = "CALLSCHED"

// Default values for optional configuration fields
const (
	DefaultStabilizationIntervalMs = 1000
	DefaultStabilizationChecks     = 3
	DefaultStabilizationMaxPolls   = 30
	DefaultMaxFileSizeMB           = 100
	DefaultFFmpegPath              = "ffmpeg"
	DefaultLanguage                = "auto"
	DefaultRetryCount              = 3
	DefaultAnalysisProvider        = ProviderHTTP
	DefaultTimeFallback            = "none"
	DefaultLogLevel                = "info"
)

// Analysis providers.
const (
	ProviderHTTP    = "http"
	ProviderCommand = "command"
)

// DefaultWatchPatterns are the default file patterns to watch
var DefaultWatchPatterns = []string{"*.m4a", "*.mp4"}

// Config represents the service configuration
type Config struct {
	WatchDir                string   `mapstructure:"watch_dir" toml:"watch_dir" validate:"required"`
	WatchPatterns           []string `mapstructure:"watch_patterns" toml:"watch_patterns"`
	TempDir                 string   `mapstructure:"temp_dir" toml:"temp_dir,omitempty"`
	StabilizationIntervalMs int      `mapstructure:"stabilization_interval_ms" toml:"stabilization_interval_ms" validate:"gte=0"`
	StabilizationChecks     int      `mapstructure:"stabilization_checks" toml:"stabilization_checks" validate:"gte=0"`
	StabilizationMaxPolls   int      `mapstructure:"stabilization_max_polls" toml:"stabilization_max_polls" validate:"gte=0"`
	MaxFileSizeMB           int      `mapstructure:"max_file_size_mb" toml:"max_file_size_mb" validate:"gte=0"`
	FFmpegPath              string   `mapstructure:"ffmpeg_path" toml:"ffmpeg_path"`

	TranscriptionURL string `mapstructure:"transcription_url" toml:"transcription_url" validate:"required,http_url"`
	Language         string `mapstructure:"language" toml:"language"`
	InitialPrompt    string `mapstructure:"initial_prompt" toml:"initial_prompt,omitempty"`
	RetryCount       int    `mapstructure:"retry_count" toml:"retry_count" validate:"gte=0"`

	AnalysisProvider string `mapstructure:"analysis_provider" toml:"analysis_provider" validate:"oneof=http command"`
	AnalysisURL      string `mapstructure:"analysis_url" toml:"analysis_url,omitempty" validate:"required_if=AnalysisProvider http,omitempty,http_url"`
	AnalysisAPIKey   string `mapstructure:"analysis_api_key" toml:"analysis_api_key,omitempty"`
	AnalysisModel    string `mapstructure:"analysis_model" toml:"analysis_model,omitempty"`
	AnalysisCommand  string `mapstructure:"analysis_command" toml:"analysis_command,omitempty" validate:"required_if=AnalysisProvider command"`

	OutputDir    string `mapstructure:"output_dir" toml:"output_dir" validate:"required"`
	LedgerPath   string `mapstructure:"ledger_path" toml:"ledger_path,omitempty"`
	WebhookURL   string `mapstructure:"webhook_url" toml:"webhook_url,omitempty" validate:"omitempty,http_url"`
	TimeFallback string `mapstructure:"time_fallback" toml:"time_fallback" validate:"oneof=none next_hour"`
	LogLevel     string `mapstructure:"log_level" toml:"log_level" validate:"oneof=debug info warn warning error"`
}

// Validation errors
var (
	ErrWatchDirRequired         = errors.New("watch_dir is required")
	ErrTranscriptionURLRequired = errors.New("transcription_url is required")
	ErrOutputDirRequired        = errors.New("output_dir is required")
	ErrAnalysisURLRequired      = errors.New("analysis_url is required for the http provider")
	ErrAnalysisCommandRequired  = errors.New("analysis_command is required for the command provider")
	ErrInvalidValue             = errors.New("invalid config value")
)

var requiredErrors = map[string]error{
	"watch_dir":         ErrWatchDirRequired,
	"transcription_url": ErrTranscriptionURLRequired,
	"output_dir":        ErrOutputDirRequired,
	"analysis_url":      ErrAnalysisURLRequired,
	"analysis_command":  ErrAnalysisCommandRequired,
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report fields by their config key.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("toml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Load reads config.toml from the home layout. A .env file next to it is
// loaded into the environment first; CALLSCHED_* variables override file
// values. Paths containing ~ are expanded to the user's home directory.
func Load(l home.Layout) (*Config, error) {
	if _, err := os.Stat(l.EnvPath); err == nil {
		if err := godotenv.Load(l.EnvPath); err != nil {
			return nil, fmt.Errorf("load %s: %w", l.EnvPath, err)
		}
	}

	v := viper.New()
	v.SetConfigFile(l.ConfigPath)
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", l.ConfigPath, err)
	}

	cfg.expandPaths()
	return &cfg, nil
}

// setDefaults registers every key so that environment overrides reach
// Unmarshal even when the file omits the key.
func setDefaults(v *viper.Viper) {
	defaults := map[string]any{
		"watch_dir":                 "",
		"watch_patterns":            DefaultWatchPatterns,
		"temp_dir":                  "",
		"stabilization_interval_ms": DefaultStabilizationIntervalMs,
		"stabilization_checks":      DefaultStabilizationChecks,
		"stabilization_max_polls":   DefaultStabilizationMaxPolls,
		"max_file_size_mb":          DefaultMaxFileSizeMB,
		"ffmpeg_path":               DefaultFFmpegPath,
		"transcription_url":         "",
		"language":                  DefaultLanguage,
		"initial_prompt":            "",
		"retry_count":               DefaultRetryCount,
		"analysis_provider":         DefaultAnalysisProvider,
		"analysis_url":              "",
		"analysis_api_key":          "",
		"analysis_model":            "",
		"analysis_command":          "",
		"output_dir":                "",
		"ledger_path":               "",
		"webhook_url":               "",
		"time_fallback":             DefaultTimeFallback,
		"log_level":                 DefaultLogLevel,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Save writes the configuration as TOML. The file is created with 0600
// permissions since it may hold an API key.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		f.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	return f.Close()
}

// Validate checks required fields and value ranges. Missing required fields
// map to the Err...Required sentinels; anything else wraps ErrInvalidValue.
// All problems are reported together.
func (c *Config) Validate() error {
	err := getValidator().Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, fieldError(fe))
	}
	return errors.Join(errs...)
}

func fieldError(fe validator.FieldError) error {
	key := fe.Field()
	switch fe.Tag() {
	case "required", "required_if":
		if sentinel, ok := requiredErrors[key]; ok {
			return sentinel
		}
		return fmt.Errorf("%w: %s is required", ErrInvalidValue, key)
	case "oneof":
		return fmt.Errorf("%w: %s must be one of [%s], got %q", ErrInvalidValue, key, fe.Param(), fe.Value())
	case "http_url":
		return fmt.Errorf("%w: %s must be an http(s) URL, got %q", ErrInvalidValue, key, fe.Value())
	case "gte":
		return fmt.Errorf("%w: %s must be >= %s", ErrInvalidValue, key, fe.Param())
	default:
		return fmt.Errorf("%w: %s failed %s", ErrInvalidValue, key, fe.Tag())
	}
}

// ApplyDefaults sets default values for optional fields that are empty or zero.
func (c *Config) ApplyDefaults() {
	if len(c.WatchPatterns) == 0 {
		c.WatchPatterns = DefaultWatchPatterns
	}
	if c.StabilizationIntervalMs == 0 {
		c.StabilizationIntervalMs = DefaultStabilizationIntervalMs
	}
	if c.StabilizationChecks == 0 {
		c.StabilizationChecks = DefaultStabilizationChecks
	}
	if c.StabilizationMaxPolls == 0 {
		c.StabilizationMaxPolls = DefaultStabilizationMaxPolls
	}
	if c.MaxFileSizeMB == 0 {
		c.MaxFileSizeMB = DefaultMaxFileSizeMB
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = DefaultFFmpegPath
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.RetryCount == 0 {
		c.RetryCount = DefaultRetryCount
	}
	if c.AnalysisProvider == "" {
		c.AnalysisProvider = DefaultAnalysisProvider
	}
	if c.TimeFallback == "" {
		c.TimeFallback = DefaultTimeFallback
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// StabilizationInterval returns the poll interval as a duration.
func (c *Config) StabilizationInterval() time.Duration {
	return time.Duration(c.StabilizationIntervalMs) * time.Millisecond
}

// MaxFileSize returns the size limit in bytes.
func (c *Config) MaxFileSize() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

// expandPaths expands ~ to the user's home directory in path fields.
func (c *Config) expandPaths() {
	c.WatchDir = expandTilde(c.WatchDir)
	c.OutputDir = expandTilde(c.OutputDir)
	c.TempDir = expandTilde(c.TempDir)
	c.LedgerPath = expandTilde(c.LedgerPath)
	c.FFmpegPath = expandTilde(c.FFmpegPath)
}

// expandTilde expands ~ at the beginning of a path to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
