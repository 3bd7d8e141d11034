package config_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/pkg/audio"
)

func TestValidate_Rejects(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantSub string
	}{
		{"log level", "server:\n  log_level: bananas\n", "server.log_level"},
		{"log format", "server:\n  log_format: xml\n", "server.log_format"},
		{"negative device", "audio:\n  device: -1\n", "audio.device"},
		{"device and file", "audio:\n  device: 1\n  file: in.wav\n", "mutually exclusive"},
		{"frame size", "audio:\n  frame_ms: 25\n", "audio.frame_ms"},
		{"negative padding", "audio:\n  padding_ms: -10\n", "audio.padding_ms"},
		{"aggressiveness", "audio:\n  vad_aggressiveness: 4\n", "audio.vad_aggressiveness"},
		{"min audio", "recognition:\n  min_audio: -1s\n", "recognition.min_audio"},
		{"max attempts", "recognition:\n  max_attempts: -2\n", "recognition.max_attempts"},
		{"queue bound", "pipeline:\n  max_queued_segments: -1\n", "pipeline.max_queued_segments"},
		{"openai key", "providers:\n  stt:\n    name: openai\n", "requires api_key"},
		{"native model", "providers:\n  stt:\n    name: whisper-native\n", "requires model"},
		{"fallback name", "providers:\n  stt_fallbacks:\n    - model: x\n", "stt_fallbacks[0].name"},
		{"fallback key", "providers:\n  stt_fallbacks:\n    - name: deepgram\n", "stt_fallbacks[0]: provider \"deepgram\""},
		{"breaker", "providers:\n  circuit_breaker:\n    max_failures: -1\n", "circuit_breaker"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

func TestValidate_Accepts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
	}{
		{"wav replay", "audio:\n  file: meeting.wav\n  calibration: -1s\n"},
		{"unknown language warns only", "recognition:\n  language: de-DE\n"},
		{"third-party provider warns only", "providers:\n  stt:\n    name: my-backend\n"},
		{"negative drain abandons", "recognition:\n  drain_timeout: -1s\n"},
		{"native with model", "providers:\n  stt:\n    name: whisper-native\n    model: /models/ggml-base.en.bin\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := config.LoadFromReader(strings.NewReader(tc.yaml)); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoad_PaddingShorterThanFrame(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		padding int
	}{
		{"explicit zero", 0},
		{"below one frame", 10},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			yaml := fmt.Sprintf("audio:\n  frame_ms: 30\n  padding_ms: %d\n", tc.padding)
			cfg, err := config.LoadFromReader(strings.NewReader(yaml))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Audio.PaddingMs == nil || *cfg.Audio.PaddingMs != tc.padding {
				t.Fatalf("padding_ms = %v, want %d", cfg.Audio.PaddingMs, tc.padding)
			}
			seg := audio.Segmenter{FrameMs: cfg.Audio.FrameMs, PaddingMs: *cfg.Audio.PaddingMs}
			if got := seg.Capacity(); got != 0 {
				t.Errorf("Capacity = %d, want 0", got)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
audio:
  frame_ms: 7
recognition:
  max_attempts: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	for _, sub := range []string{"server.log_level", "audio.frame_ms", "recognition.max_attempts"} {
		if !strings.Contains(err.Error(), sub) {
			t.Errorf("joined error is missing %q: %v", sub, err)
		}
	}
}

func TestValidSTTProviders(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"whisper", "whisper-native", "openai", "deepgram"} {
		found := false
		for _, known := range config.ValidSTTProviders {
			if known == name {
				found = true
			}
		}
		if !found {
			t.Errorf("%q missing from ValidSTTProviders", name)
		}
	}
}
