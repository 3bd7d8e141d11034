package config_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
	"github.com/MrWong99/livescribe/pkg/provider/vad"
)

const validYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  log_format: json
audio:
  device: 2
  sample_rate: 16000
  frame_ms: 20
  padding_ms: 400
  vad_aggressiveness: 0
  listen_timeout: 2s
  calibration: 500ms
recognition:
  language: tr-TR
  min_audio: 1500ms
  max_attempts: 5
  drain_timeout: 10s
pipeline:
  poll_interval: 250ms
  max_queued_segments: 16
providers:
  stt:
    name: whisper
    base_url: http://localhost:8080
    model: base.en
  stt_fallbacks:
    - name: openai
      api_key: sk-test
      model: whisper-1
  circuit_breaker:
    max_failures: 4
    reset_timeout: 1m
store:
  postgres_dsn: postgres://localhost/livescribe
  session_id: standup
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug || cfg.Server.LogFormat != config.LogJSON {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Audio.Device == nil || *cfg.Audio.Device != 2 {
		t.Errorf("audio.device = %v, want 2", cfg.Audio.Device)
	}
	if cfg.Audio.FrameMs != 20 || cfg.Audio.PaddingMs == nil || *cfg.Audio.PaddingMs != 400 {
		t.Errorf("frame/padding = %d/%v", cfg.Audio.FrameMs, cfg.Audio.PaddingMs)
	}
	if cfg.Audio.VADAggressiveness == nil || *cfg.Audio.VADAggressiveness != 0 {
		t.Errorf("explicit vad_aggressiveness 0 was not kept: %v", cfg.Audio.VADAggressiveness)
	}
	if cfg.Audio.ListenTimeout != 2*time.Second || cfg.Audio.Calibration != 500*time.Millisecond {
		t.Errorf("durations = %v/%v", cfg.Audio.ListenTimeout, cfg.Audio.Calibration)
	}
	if cfg.Recognition.Language != "tr-TR" || cfg.Recognition.MinAudio != 1500*time.Millisecond || cfg.Recognition.MaxAttempts != 5 {
		t.Errorf("recognition = %+v", cfg.Recognition)
	}
	if cfg.Pipeline.PollInterval != 250*time.Millisecond || cfg.Pipeline.MaxQueuedSegments != 16 {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if len(cfg.Providers.STTFallbacks) != 1 || cfg.Providers.STTFallbacks[0].Name != "openai" {
		t.Errorf("stt_fallbacks = %+v", cfg.Providers.STTFallbacks)
	}
	if cfg.Providers.CircuitBreaker.ResetTimeout != time.Minute {
		t.Errorf("circuit_breaker.reset_timeout = %v", cfg.Providers.CircuitBreaker.ResetTimeout)
	}
	if cfg.Store.SessionID != "standup" {
		t.Errorf("store.session_id = %q", cfg.Store.SessionID)
	}
}

func TestLoadFromReader_EmptyYieldsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := config.Default()
	if cfg.Audio.SampleRate != want.Audio.SampleRate || cfg.Audio.FrameMs != config.DefaultFrameMs {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Audio.FrameMs != 20 || *cfg.Audio.PaddingMs != 500 {
		t.Errorf("frame/padding = %d/%d, want 20/500", cfg.Audio.FrameMs, *cfg.Audio.PaddingMs)
	}
	if *cfg.Audio.VADAggressiveness != config.DefaultVADAggressiveness {
		t.Errorf("vad_aggressiveness = %d", *cfg.Audio.VADAggressiveness)
	}
	if cfg.Audio.Device != nil {
		t.Errorf("device = %d, want nil (system default)", *cfg.Audio.Device)
	}
	if cfg.Recognition.Language != config.DefaultLanguage || cfg.Recognition.MaxAttempts != config.DefaultMaxAttempts {
		t.Errorf("recognition = %+v", cfg.Recognition)
	}
	if cfg.Providers.STT.Name != config.DefaultSTTProvider {
		t.Errorf("providers.stt.name = %q", cfg.Providers.STT.Name)
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Server.LogFormat != config.LogText {
		t.Errorf("server = %+v", cfg.Server)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("audio:\n  sample_rat: 8000\n"))
	if err == nil || !strings.Contains(err.Error(), "sample_rat") {
		t.Fatalf("err = %v, want unknown field error", err)
	}
}

func TestApplyDefaults_KeepsNegativeCalibration(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Audio: config.AudioConfig{Calibration: -1}}
	config.ApplyDefaults(cfg)
	if cfg.Audio.Calibration != -1 {
		t.Errorf("calibration = %v, want -1 (disabled)", cfg.Audio.Calibration)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load("/nonexistent/livescribe.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	if _, err := r.CreateTranscriber(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTranscriber err = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := r.CreateClassifier("nope", 2); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateClassifier err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()

	var gotEntry config.ProviderEntry
	r.RegisterTranscriber("fake", func(e config.ProviderEntry) (stt.Transcriber, error) {
		gotEntry = e
		return stt.TranscriberFunc(func(context.Context, stt.Request) (string, error) { return "ok", nil }), nil
	})
	var gotLevel vad.Aggressiveness
	r.RegisterClassifier("fake", func(level vad.Aggressiveness) (vad.Classifier, error) {
		gotLevel = level
		return vad.ClassifierFunc(func([]byte, int) (bool, error) { return true, nil }), nil
	})

	tr, err := r.CreateTranscriber(config.ProviderEntry{Name: "fake", Model: "m"})
	if err != nil {
		t.Fatalf("CreateTranscriber: %v", err)
	}
	if text, _ := tr.Transcribe(context.Background(), stt.Request{}); text != "ok" {
		t.Errorf("Transcribe = %q", text)
	}
	if gotEntry.Model != "m" {
		t.Errorf("factory got entry %+v", gotEntry)
	}

	if _, err := r.CreateClassifier("fake", vad.AggressivenessVeryAggressive); err != nil {
		t.Fatalf("CreateClassifier: %v", err)
	}
	if gotLevel != vad.AggressivenessVeryAggressive {
		t.Errorf("factory got level %d", gotLevel)
	}

	r.RegisterTranscriber("another", nil)
	if got := r.Transcribers(); !slices.Equal(got, []string{"another", "fake"}) {
		t.Errorf("Transcribers = %v", got)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	r := config.NewRegistry()
	errBoom := errors.New("boom")
	r.RegisterTranscriber("broken", func(config.ProviderEntry) (stt.Transcriber, error) {
		return nil, errBoom
	})
	if _, err := r.CreateTranscriber(config.ProviderEntry{Name: "broken"}); !errors.Is(err, errBoom) {
		t.Errorf("err = %v, want the factory error", err)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := config.Load("../../configs/example.yaml")
	if err != nil {
		t.Fatalf("Load(example.yaml): %v", err)
	}
	if cfg.Providers.STT.Name != "whisper" || len(cfg.Providers.STTFallbacks) != 1 {
		t.Errorf("providers = %+v", cfg.Providers)
	}
	if cfg.Providers.CircuitBreaker.ResetTimeout != 30*time.Second {
		t.Errorf("circuit_breaker.reset_timeout = %v, want 30s", cfg.Providers.CircuitBreaker.ResetTimeout)
	}
	if cfg.Audio.Device != nil || cfg.Store.PostgresDSN != "" {
		t.Error("commented-out keys must stay unset")
	}
}
