package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// Defaults for [Config]. They mirror a desktop dictation setup: 16 kHz mono,
// 20 ms frames, a 500 ms trigger window, English recognition.
const (
	DefaultSampleRate    = 16000
	DefaultFrameMs       = 20
	DefaultPaddingMs     = 500
	DefaultListenTimeout = time.Second
	DefaultCalibration   = time.Second
	DefaultLanguage      = "en-US"
	DefaultMinAudio      = time.Second
	DefaultMaxAttempts   = 3
	DefaultPollInterval  = time.Second
	DefaultDrainTimeout  = 30 * time.Second
)

// Config holds the tuning of a [Pipeline]. Zero fields, and a nil
// PaddingMs, are replaced by the package defaults in [New].
type Config struct {
	// SampleRate is the rate of the PCM handed to the segmenter and the
	// transcriber. Captured audio in another format is converted.
	SampleRate int

	// FrameMs is the duration of one classifier frame. Most VAD
	// implementations accept 10, 20 or 30.
	FrameMs int

	// PaddingMs is the length of the trigger window. Nil selects
	// DefaultPaddingMs. Zero, or anything shorter than FrameMs, gives a
	// window of zero frames that opens on the first voiced frame and closes
	// on the first unvoiced one.
	PaddingMs *int

	// ListenTimeout bounds how long one capture cycle waits for audio onset.
	ListenTimeout time.Duration

	// Calibration is how long ambient noise is sampled before capture starts.
	// Negative disables calibration.
	Calibration time.Duration

	// Language is the initial recognition language (BCP-47).
	Language string

	// MinAudio is the length below which an unintelligible segment is
	// retried.
	MinAudio time.Duration

	// MaxAttempts caps the attempts for a short unintelligible segment.
	MaxAttempts int

	// PollInterval bounds every blocking queue receive so loops re-check
	// cancellation at least this often.
	PollInterval time.Duration

	// DrainTimeout bounds how long queued segments are still transcribed
	// after shutdown starts. Negative abandons them immediately.
	DrainTimeout time.Duration

	// MaxQueuedSegments bounds the segment queue; the oldest segment is
	// dropped on overflow. Zero means unbounded.
	MaxQueuedSegments int
}

// withDefaults returns c with zero fields set to the package defaults.
func (c Config) withDefaults() Config {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.FrameMs == 0 {
		c.FrameMs = DefaultFrameMs
	}
	if c.PaddingMs == nil {
		c.PaddingMs = Padding(DefaultPaddingMs)
	} else {
		c.PaddingMs = Padding(*c.PaddingMs)
	}
	if c.ListenTimeout == 0 {
		c.ListenTimeout = DefaultListenTimeout
	}
	if c.Calibration == 0 {
		c.Calibration = DefaultCalibration
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.MinAudio == 0 {
		c.MinAudio = DefaultMinAudio
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = DefaultDrainTimeout
	}
	return c
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate must be positive, got %d", c.SampleRate))
	}
	if c.FrameMs <= 0 {
		errs = append(errs, fmt.Errorf("frame duration must be positive, got %d ms", c.FrameMs))
	} else if c.SampleRate > 0 && audio.FrameSamples(c.SampleRate, c.FrameMs) == 0 {
		errs = append(errs, fmt.Errorf("frame of %d ms holds no samples at %d Hz", c.FrameMs, c.SampleRate))
	}
	if c.PaddingMs != nil && *c.PaddingMs < 0 {
		errs = append(errs, fmt.Errorf("padding must not be negative, got %d ms", *c.PaddingMs))
	}
	if c.ListenTimeout <= 0 {
		errs = append(errs, fmt.Errorf("listen timeout must be positive, got %s", c.ListenTimeout))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts))
	}
	if c.MinAudio < 0 {
		errs = append(errs, fmt.Errorf("min audio must not be negative, got %s", c.MinAudio))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if c.MaxQueuedSegments < 0 {
		errs = append(errs, fmt.Errorf("max queued segments must not be negative, got %d", c.MaxQueuedSegments))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("pipeline: invalid config: %w", err)
	}
	return nil
}

// Padding returns a PaddingMs value of ms milliseconds.
func Padding(ms int) *int { return &ms }

// minAudioBytes is the segment length in bytes below which unintelligible
// results are retried.
func (c Config) minAudioBytes() int {
	return audio.BytesFor(c.SampleRate, int(c.MinAudio/time.Millisecond))
}
