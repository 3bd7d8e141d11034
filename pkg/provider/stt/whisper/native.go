// This file contains the NativeTranscriber implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// nativeSampleRate is the only input rate whisper.cpp models accept.
const nativeSampleRate = 16000

// Compile-time assertion that NativeTranscriber satisfies stt.Transcriber.
var _ stt.Transcriber = (*NativeTranscriber)(nil)

// NativeTranscriber implements stt.Transcriber using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once and
// every Transcribe call runs on a fresh whisper context.
type NativeTranscriber struct {
	model    whisperlib.Model
	language string
	threads  uint
	logger   *slog.Logger
}

// NativeOption is a functional option for configuring a NativeTranscriber.
type NativeOption func(*NativeTranscriber)

// WithNativeLanguage sets the language used when a request carries none.
// Defaults to "auto".
func WithNativeLanguage(lang string) NativeOption {
	return func(t *NativeTranscriber) { t.language = lang }
}

// WithNativeThreads sets the number of CPU threads per inference. Zero keeps
// the library default.
func WithNativeThreads(n uint) NativeOption {
	return func(t *NativeTranscriber) { t.threads = n }
}

// WithNativeLogger sets the logger for non-fatal inference warnings.
func WithNativeLogger(l *slog.Logger) NativeOption {
	return func(t *NativeTranscriber) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewNative creates a NativeTranscriber that loads the whisper.cpp model from
// the given file path. The caller must call Close when the transcriber is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeTranscriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	t := &NativeTranscriber{
		model:    model,
		language: "auto",
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Close releases the whisper model.
func (t *NativeTranscriber) Close() error {
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}

// Transcribe runs whisper.cpp inference over req.Audio in-process.
//
// Inference cannot be interrupted once started; ctx is only checked before
// the model runs. An empty result is reported as stt.ErrUnintelligible.
func (t *NativeTranscriber) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	if req.SampleRate != nativeSampleRate {
		return "", fmt.Errorf("whisper: native model needs %d Hz audio, got %d Hz", nativeSampleRate, req.SampleRate)
	}

	// A context is not thread-safe but the model is shared across goroutines.
	wctx, err := t.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	lang := t.language
	if req.Language != "" {
		lang = stt.BaseLanguage(req.Language)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		t.logger.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}
	if t.threads > 0 {
		wctx.SetThreads(t.threads)
	}

	if err := wctx.Process(pcmToFloat32(req.Audio), nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	if len(parts) == 0 {
		return "", stt.ErrUnintelligible
	}
	return strings.Join(parts, " "), nil
}
