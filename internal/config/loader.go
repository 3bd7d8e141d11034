package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidSTTProviders lists the transcriber names wired by the application.
// [Validate] warns about names not in this list since a caller may register
// its own factories.
var ValidSTTProviders = []string{"whisper", "whisper-native", "openai", "deepgram"}

// KnownLanguages are the recognition languages offered interactively. Other
// BCP-47 tags are accepted with a warning.
var KnownLanguages = []string{"en-US", "tr-TR"}

// validFrameMs are the frame durations classic VAD implementations accept.
var validFrameMs = []int{10, 20, 30}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected. An empty document yields the
// defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields of cfg in place.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogText
	}

	a := &cfg.Audio
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.FrameMs == 0 {
		a.FrameMs = DefaultFrameMs
	}
	if a.PaddingMs == nil {
		padding := DefaultPaddingMs
		a.PaddingMs = &padding
	}
	if a.VADAggressiveness == nil {
		level := DefaultVADAggressiveness
		a.VADAggressiveness = &level
	}
	if a.ListenTimeout == 0 {
		a.ListenTimeout = DefaultListenTimeout
	}
	if a.Calibration == 0 {
		a.Calibration = DefaultCalibration
	}

	rc := &cfg.Recognition
	if rc.Language == "" {
		rc.Language = DefaultLanguage
	}
	if rc.MinAudio == 0 {
		rc.MinAudio = DefaultMinAudio
	}
	if rc.MaxAttempts == 0 {
		rc.MaxAttempts = DefaultMaxAttempts
	}
	if rc.DrainTimeout == 0 {
		rc.DrainTimeout = DefaultDrainTimeout
	}

	if cfg.Pipeline.PollInterval == 0 {
		cfg.Pipeline.PollInterval = DefaultPollInterval
	}

	if cfg.Providers.STT.Name == "" {
		cfg.Providers.STT.Name = DefaultSTTProvider
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}

	a := cfg.Audio
	if a.Device != nil && *a.Device < 0 {
		errs = append(errs, fmt.Errorf("audio.device %d must not be negative", *a.Device))
	}
	if a.Device != nil && a.File != "" {
		errs = append(errs, errors.New("audio.device and audio.file are mutually exclusive"))
	}
	if a.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", a.SampleRate))
	}
	if a.FrameMs != 0 && !slices.Contains(validFrameMs, a.FrameMs) {
		errs = append(errs, fmt.Errorf("audio.frame_ms %d is invalid; valid values: 10, 20, 30", a.FrameMs))
	}
	if a.PaddingMs != nil && *a.PaddingMs < 0 {
		errs = append(errs, fmt.Errorf("audio.padding_ms %d must not be negative", *a.PaddingMs))
	}
	if a.VADAggressiveness != nil && (*a.VADAggressiveness < 0 || *a.VADAggressiveness > 3) {
		errs = append(errs, fmt.Errorf("audio.vad_aggressiveness %d is out of range [0, 3]", *a.VADAggressiveness))
	}
	if a.ListenTimeout < 0 {
		errs = append(errs, fmt.Errorf("audio.listen_timeout %s must be positive", a.ListenTimeout))
	}

	rc := cfg.Recognition
	if rc.Language != "" && !slices.Contains(KnownLanguages, rc.Language) {
		slog.Warn("recognition.language is not one of the known languages", "language", rc.Language, "known", KnownLanguages)
	}
	if rc.MinAudio < 0 {
		errs = append(errs, fmt.Errorf("recognition.min_audio %s must not be negative", rc.MinAudio))
	}
	if rc.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("recognition.max_attempts %d must be at least 1", rc.MaxAttempts))
	}

	if cfg.Pipeline.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("pipeline.poll_interval %s must be positive", cfg.Pipeline.PollInterval))
	}
	if cfg.Pipeline.MaxQueuedSegments < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_queued_segments %d must not be negative", cfg.Pipeline.MaxQueuedSegments))
	}

	errs = append(errs, validateProvider("providers.stt", cfg.Providers.STT)...)
	for i, fb := range cfg.Providers.STTFallbacks {
		prefix := fmt.Sprintf("providers.stt_fallbacks[%d]", i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		errs = append(errs, validateProvider(prefix, fb)...)
	}

	cb := cfg.Providers.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("providers.circuit_breaker values must not be negative"))
	}

	if cfg.Store.SessionID != "" && cfg.Store.PostgresDSN == "" {
		slog.Warn("store.session_id is set but store.postgres_dsn is empty; transcripts are kept in memory only")
	}

	return errors.Join(errs...)
}

// validateProvider checks the fields a known provider needs and warns about
// unknown provider names.
func validateProvider(prefix string, e ProviderEntry) []error {
	var errs []error
	switch e.Name {
	case "":
	case "openai", "deepgram":
		if e.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s: provider %q requires api_key", prefix, e.Name))
		}
	case "whisper-native":
		if e.Model == "" {
			errs = append(errs, fmt.Errorf("%s: provider %q requires model (path to a ggml model file)", prefix, e.Name))
		}
	case "whisper":
	default:
		slog.Warn("unknown provider name, may be a typo or third-party provider",
			"field", prefix,
			"name", e.Name,
			"known", ValidSTTProviders,
		)
	}
	return errs
}
