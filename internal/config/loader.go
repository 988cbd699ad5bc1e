package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidRecognizerNames lists the recognizers this binary knows about. Used
// by [Validate] to warn about likely typos.
var ValidRecognizerNames = []string{"whisper", "whisper-native", "openai"}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VOCALIS_"

// LookupFunc reads one environment variable, like [os.LookupEnv].
type LookupFunc func(key string) (string, bool)

// LoadDotEnv loads KEY=VALUE files into the process environment. Variables
// that are already set win. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %q: %w", p, err)
		}
		slog.Debug("config: loaded env file", "path", p)
	}
	return nil
}

// Load reads the YAML file at path, applies VOCALIS_* environment overrides
// and defaults, and validates the result. An empty path starts from an
// empty document, so a deployment can be configured from the environment
// alone.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := &Config{}
		if err := finish(cfg, os.LookupEnv); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := load(f, os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	return load(r, nil)
}

func load(r io.Reader, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := finish(cfg, lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

func finish(cfg *Config, lookup LookupFunc) error {
	if lookup != nil {
		if err := ApplyEnv(cfg, lookup); err != nil {
			return err
		}
	}
	ApplyDefaults(cfg)
	return Validate(cfg)
}

// ApplyEnv overrides cfg with VOCALIS_* variables read through lookup.
// Malformed numbers and durations are reported together.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = n
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
			return
		}
		*dst = d
	}

	str("LISTEN_ADDR", &cfg.Server.ListenAddr)
	var level string
	str("LOG_LEVEL", &level)
	if level != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(level))
	}
	str("RECOGNIZER", &cfg.Recognizer.Name)
	str("RECOGNIZER_API_KEY", &cfg.Recognizer.APIKey)
	str("RECOGNIZER_BASE_URL", &cfg.Recognizer.BaseURL)
	str("RECOGNIZER_MODEL", &cfg.Recognizer.Model)
	str("FFMPEG_PATH", &cfg.Transcoder.FFmpegPath)
	dur("TRANSCODE_TIMEOUT", &cfg.Transcoder.Timeout)
	num("MAX_CONCURRENT", &cfg.Jobs.MaxConcurrent)
	str("SCRATCH_DIR", &cfg.Jobs.ScratchDir)
	str("DEFAULT_LANGUAGE", &cfg.Scoring.DefaultLanguage)

	// Hosted fallbacks commonly share the standard OpenAI variable.
	if key, ok := lookup("OPENAI_API_KEY"); ok && key != "" {
		for i := range cfg.Recognizer.Fallbacks {
			if cfg.Recognizer.Fallbacks[i].Name == "openai" && cfg.Recognizer.Fallbacks[i].APIKey == "" {
				cfg.Recognizer.Fallbacks[i].APIKey = key
			}
		}
		if cfg.Recognizer.Name == "openai" && cfg.Recognizer.APIKey == "" {
			cfg.Recognizer.APIKey = key
		}
	}
	return errors.Join(errs...)
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.MaxUploadMB < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb %d must not be negative", cfg.Server.MaxUploadMB))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	errs = append(errs, validateEntry("recognizer", cfg.Recognizer.ProviderEntry)...)
	seen := map[string]string{cfg.Recognizer.Name: "recognizer"}
	for i, fb := range cfg.Recognizer.Fallbacks {
		prefix := fmt.Sprintf("recognizer.fallbacks[%d]", i)
		errs = append(errs, validateEntry(prefix, fb)...)
		if prev, ok := seen[fb.Name]; ok && fb.Name != "" {
			errs = append(errs, fmt.Errorf("%s.name %q duplicates %s", prefix, fb.Name, prev))
		}
		seen[fb.Name] = prefix
	}
	cb := cfg.Recognizer.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("recognizer.circuit_breaker values must not be negative"))
	}
	if len(cfg.Recognizer.Fallbacks) == 0 && cb != (CircuitBreakerConfig{}) {
		slog.Warn("recognizer.circuit_breaker has no effect without recognizer.fallbacks")
	}

	if cfg.Transcoder.Timeout < 0 {
		errs = append(errs, fmt.Errorf("transcoder.timeout %v must not be negative", cfg.Transcoder.Timeout))
	}
	if cfg.Jobs.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("jobs.max_concurrent %d must not be negative", cfg.Jobs.MaxConcurrent))
	}
	if cfg.Jobs.WindowSeconds < 0 || cfg.Jobs.WindowSeconds > 30 {
		errs = append(errs, fmt.Errorf("jobs.window_seconds %d is out of range [1, 30]", cfg.Jobs.WindowSeconds))
	}
	if r := cfg.Telemetry.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.trace_sample_ratio %v is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

func validateEntry(prefix string, e ProviderEntry) []error {
	if e.Name == "" {
		return []error{fmt.Errorf("%s.name is required", prefix)}
	}
	if !slices.Contains(ValidRecognizerNames, e.Name) {
		slog.Warn("unknown recognizer name, may be a typo or a third-party registration",
			"field", prefix+".name",
			"name", e.Name,
			"known", ValidRecognizerNames,
		)
	}
	var errs []error
	switch e.Name {
	case "whisper":
		if e.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required for whisper", prefix))
		}
	case "whisper-native":
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model (model file path) is required for whisper-native", prefix))
		}
	case "openai":
		if e.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required for openai", prefix))
		}
	}
	return errs
}
