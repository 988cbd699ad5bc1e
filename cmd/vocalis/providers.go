package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/vocalis/internal/config"
	"github.com/MrWong99/vocalis/pkg/provider/stt"
	"github.com/MrWong99/vocalis/pkg/provider/stt/openai"
	"github.com/MrWong99/vocalis/pkg/provider/stt/whisper"
)

// registerBuiltinRecognizers wires every recognizer that ships with vocalis
// into reg. Each factory receives a config.ProviderEntry and constructs the
// back-end from the implementation packages.
func registerBuiltinRecognizers(reg *config.Registry) {
	reg.RegisterRecognizer("whisper", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		timeout, err := optDuration(entry.Options, "timeout")
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			opts = append(opts, whisper.WithHTTPClient(&http.Client{Timeout: timeout}))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterRecognizer("whisper-native", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := optInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterRecognizer("openai", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		timeout, err := optDuration(entry.Options, "timeout")
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			opts = append(opts, openai.WithTimeout(timeout))
		}
		if _, ok := entry.Options["max_retries"]; ok {
			opts = append(opts, openai.WithMaxRetries(optInt(entry.Options, "max_retries")))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	for _, name := range reg.Recognizers() {
		slog.Debug("registered recognizer", "name", name)
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer. YAML decodes small numbers as int; JSON-ish
// sources may hand over float64.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// optDuration accepts a Go duration string ("45s") or a number of seconds.
func optDuration(opts map[string]any, key string) (time.Duration, error) {
	switch v := opts[key].(type) {
	case nil:
		return 0, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("option %q: %w", key, err)
		}
		return d, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("option %q: unsupported value %v", key, opts[key])
}
