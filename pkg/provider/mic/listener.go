package mic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/vad"
)

const (
	defaultEnergyThreshold = 300.0
	defaultPause           = 800 * time.Millisecond
	defaultPreRoll         = 500 * time.Millisecond
	defaultPhraseLimit     = 30 * time.Second

	// calibrationRatio scales the measured ambient energy into the onset
	// threshold.
	calibrationRatio = 1.5

	// dampingPerSecond controls how quickly dynamic adjustment follows the
	// ambient level: after one second of audio the old threshold keeps this
	// share of its weight.
	dampingPerSecond = 0.15
)

// Compile-time assertion that Listener implements Source.
var _ Source = (*Listener)(nil)

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithEnergyThreshold sets the initial RMS level that counts as onset.
func WithEnergyThreshold(rms float64) ListenerOption {
	return func(l *Listener) {
		if rms > 0 {
			l.threshold = rms
		}
	}
}

// WithPause sets how long the level must stay below the threshold before a
// phrase is considered finished. Defaults to 800 ms.
func WithPause(d time.Duration) ListenerOption {
	return func(l *Listener) {
		if d > 0 {
			l.pause = d
		}
	}
}

// WithPhraseLimit caps the length of one recorded phrase. Zero disables the
// cap. Defaults to 30 s.
func WithPhraseLimit(d time.Duration) ListenerOption {
	return func(l *Listener) {
		if d >= 0 {
			l.phraseLimit = d
		}
	}
}

// WithDynamicEnergy keeps adjusting the threshold to the ambient level while
// waiting for onset.
func WithDynamicEnergy(on bool) ListenerOption {
	return func(l *Listener) { l.dynamic = on }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) ListenerOption {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// Listener implements Source on top of a ChunkReader. Listen returns once the
// input has gone above the energy threshold and then stayed below it for the
// pause duration. Up to 500 ms of audio before the onset is kept so that soft
// word beginnings are not clipped.
type Listener struct {
	reader ChunkReader
	logger *slog.Logger

	threshold   float64
	pause       time.Duration
	preRoll     time.Duration
	phraseLimit time.Duration
	dynamic     bool

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// NewListener wraps r. The Listener takes ownership of r and closes it on
// Close.
func NewListener(r ChunkReader, opts ...ListenerOption) *Listener {
	l := &Listener{
		reader:      r,
		logger:      slog.Default(),
		threshold:   defaultEnergyThreshold,
		pause:       defaultPause,
		preRoll:     defaultPreRoll,
		phraseLimit: defaultPhraseLimit,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Threshold returns the current onset threshold.
func (l *Listener) Threshold() float64 { return l.threshold }

// Format implements Source.
func (l *Listener) Format() audio.Format { return l.reader.Format() }

// Calibrate implements Source. It reads d worth of audio and moves the
// threshold towards calibrationRatio times the measured energy.
func (l *Listener) Calibrate(ctx context.Context, d time.Duration) error {
	if l.closed {
		return ErrClosed
	}
	var elapsed time.Duration
	for elapsed < d {
		chunk, err := l.reader.ReadChunk(ctx)
		if err != nil {
			return fmt.Errorf("mic: calibrate: %w", err)
		}
		cd := l.chunkDuration(chunk)
		if cd <= 0 {
			return fmt.Errorf("mic: calibrate: reader returned an empty chunk")
		}
		elapsed += cd
		l.adjust(vad.RMS(chunk), cd)
	}
	l.logger.Info("mic: calibrated for ambient noise",
		"duration", elapsed,
		"threshold", math.Round(l.threshold),
	)
	return nil
}

// Listen implements Source.
func (l *Listener) Listen(ctx context.Context, timeout time.Duration) (Buffer, error) {
	if l.closed {
		return Buffer{}, ErrClosed
	}

	var (
		pre    [][]byte
		preDur time.Duration
		waited time.Duration
	)

	// Wait for onset.
	for {
		if err := ctx.Err(); err != nil {
			return Buffer{}, err
		}
		if timeout > 0 && waited > timeout {
			return Buffer{}, ErrListenTimeout
		}
		chunk, err := l.reader.ReadChunk(ctx)
		if err != nil {
			return Buffer{}, err
		}
		cd := l.chunkDuration(chunk)
		waited += cd

		pre = append(pre, chunk)
		preDur += cd
		for len(pre) > 1 && preDur > l.preRoll {
			preDur -= l.chunkDuration(pre[0])
			pre = pre[1:]
		}

		energy := vad.RMS(chunk)
		if energy > l.threshold {
			break
		}
		if l.dynamic {
			l.adjust(energy, cd)
		}
	}

	var buf []byte
	for _, c := range pre {
		buf = append(buf, c...)
	}

	// Record until the speaker pauses.
	var (
		phraseDur    = preDur
		pauseDur     time.Duration
		trailingSize int
	)
	for l.phraseLimit <= 0 || phraseDur < l.phraseLimit {
		chunk, err := l.reader.ReadChunk(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Buffer{}, err
		}
		buf = append(buf, chunk...)
		cd := l.chunkDuration(chunk)
		phraseDur += cd

		if vad.RMS(chunk) > l.threshold {
			pauseDur = 0
			trailingSize = 0
			continue
		}
		pauseDur += cd
		trailingSize += len(chunk)
		if pauseDur > l.pause {
			break
		}
	}

	// Keep at most preRoll of trailing silence.
	f := l.reader.Format()
	keep := audio.BytesFor(f.SampleRate, int(l.preRoll/time.Millisecond)) * f.Channels
	if excess := trailingSize - keep; excess > 0 {
		excess -= excess % (f.Channels * audio.BytesPerSample)
		buf = buf[:len(buf)-excess]
	}

	return Buffer{Data: buf, Format: f}, nil
}

// Close implements Source.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		l.closed = true
		l.closeErr = l.reader.Close()
	})
	return l.closeErr
}

// adjust moves the threshold towards calibrationRatio*energy, weighted by how
// much audio (d) the measurement covers.
func (l *Listener) adjust(energy float64, d time.Duration) {
	damping := math.Pow(dampingPerSecond, d.Seconds())
	target := energy * calibrationRatio
	l.threshold = l.threshold*damping + target*(1-damping)
}

func (l *Listener) chunkDuration(chunk []byte) time.Duration {
	f := l.reader.Format()
	if f.Channels <= 0 {
		return 0
	}
	return audio.DurationOf(len(chunk)/f.Channels, f.SampleRate)
}
