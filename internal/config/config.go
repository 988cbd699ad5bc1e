// Package config provides the configuration schema, loader and recognizer
// registry for the vocalis service.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr       = ":8080"
	DefaultMaxUploadMB      = 64
	DefaultFFmpegPath       = "ffmpeg"
	DefaultMaxConcurrent    = 2
	DefaultWindowSeconds    = 30
	DefaultLanguage         = "en"
	DefaultServiceName      = "vocalis"
	DefaultTranscodeTimeout = 2 * time.Minute
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Recognizer RecognizerConfig `yaml:"recognizer"`
	Transcoder TranscoderConfig `yaml:"transcoder"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the job API (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. It is applied again on hot reload.
	LogLevel LogLevel `yaml:"log_level"`

	// MaxUploadMB caps the size of an uploaded audio file.
	MaxUploadMB int64 `yaml:"max_upload_mb"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProviderEntry selects and configures one speech recognizer. Name is the
// key into the [Registry].
type ProviderEntry struct {
	// Name selects the registered recognizer ("whisper", "whisper-native",
	// "openai").
	Name string `yaml:"name"`

	// APIKey authenticates against hosted back-ends.
	APIKey string `yaml:"api_key"`

	// BaseURL is the server address for "whisper" or an endpoint override
	// for "openai".
	BaseURL string `yaml:"base_url"`

	// Model is a model identifier for hosted back-ends or a model file path
	// for "whisper-native".
	Model string `yaml:"model"`

	// Options holds back-end specific values such as "threads" or
	// "timeout".
	Options map[string]any `yaml:"options"`
}

// RecognizerConfig is the primary recognizer plus optional fallbacks tried
// in order when it fails.
type RecognizerConfig struct {
	ProviderEntry `yaml:",inline"`

	Fallbacks      []ProviderEntry      `yaml:"fallbacks"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig tunes the breakers placed in front of each
// recognizer when fallbacks are configured. Zero values take the breaker
// defaults.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// TranscoderConfig configures the external ffmpeg transcoder.
type TranscoderConfig struct {
	// FFmpegPath is the binary name or path. Default "ffmpeg".
	FFmpegPath string `yaml:"ffmpeg_path"`

	// Timeout bounds a single ffmpeg invocation.
	Timeout time.Duration `yaml:"timeout"`

	// Disabled turns the transcoder off; only in-process decoders are used.
	Disabled bool `yaml:"disabled"`
}

// JobsConfig configures the job runner.
type JobsConfig struct {
	// MaxConcurrent bounds jobs in the processing state.
	MaxConcurrent int `yaml:"max_concurrent"`

	// ScratchDir holds uploads and repaired files. Empty uses the system
	// temp directory.
	ScratchDir string `yaml:"scratch_dir"`

	// WindowSeconds is the recognition window length.
	WindowSeconds int `yaml:"window_seconds"`
}

// ScoringConfig configures pronunciation assessment.
type ScoringConfig struct {
	// DefaultLanguage is used when a submission names none.
	DefaultLanguage string `yaml:"default_language"`
}

// TelemetryConfig configures OpenTelemetry resources.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`

	// TraceSampleRatio keeps this fraction of new traces. 0 keeps all.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// ApplyDefaults fills zero fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = DefaultMaxUploadMB
	}
	if cfg.Transcoder.FFmpegPath == "" {
		cfg.Transcoder.FFmpegPath = DefaultFFmpegPath
	}
	if cfg.Transcoder.Timeout == 0 {
		cfg.Transcoder.Timeout = DefaultTranscodeTimeout
	}
	if cfg.Jobs.MaxConcurrent == 0 {
		cfg.Jobs.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Jobs.WindowSeconds == 0 {
		cfg.Jobs.WindowSeconds = DefaultWindowSeconds
	}
	if cfg.Scoring.DefaultLanguage == "" {
		cfg.Scoring.DefaultLanguage = DefaultLanguage
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}
