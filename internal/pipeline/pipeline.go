// Package pipeline runs the live transcription loop: a capture goroutine
// listens to a microphone source and cuts the audio into voiced segments, a
// recognition goroutine transcribes each segment, and the goroutine calling
// [Pipeline.Run] hands every [Outcome] to the caller in order.
//
// Segments flow capture → recognition through a FIFO queue and outcomes flow
// back through a second one, so slow transcription never stalls capture.
// Shutdown is cooperative: after cancellation the capture loop stops at its
// next cycle while the recognition loop still transcribes every queued
// segment, bounded by [Config.DrainTimeout].
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/mic"
	"github.com/MrWong99/livescribe/pkg/provider/stt"
	"github.com/MrWong99/livescribe/pkg/provider/vad"
)

// ErrAlreadyRunning is returned by Run while another Run is active.
var ErrAlreadyRunning = errors.New("pipeline: already running")

// ErrNotRunning is reported by Check when no Run is active.
var ErrNotRunning = errors.New("pipeline: not running")

// captureRetryDelay throttles the capture loop after a failed cycle so a
// broken device does not spin.
const captureRetryDelay = 100 * time.Millisecond

// Recorder stores emitted segments, e.g. as WAV files for later inspection.
type Recorder interface {
	Record(seg audio.Segment) (string, error)
}

// Deps are the collaborators of a Pipeline. Source, Classifier and
// Transcriber are required.
type Deps struct {
	// Source is owned by the capture goroutine while Run is active. The
	// pipeline never closes it.
	Source mic.Source

	// Classifier is used by the capture goroutine only.
	Classifier vad.Classifier

	// Transcriber is used by the recognition goroutine only.
	Transcriber stt.Transcriber

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics

	// Recorder, if set, receives every segment before it is queued.
	Recorder Recorder
}

// Pipeline wires a Source, a Classifier and a Transcriber into the capture
// and recognition loops. A Pipeline can be run again after Run returns.
type Pipeline struct {
	cfg     Config
	deps    Deps
	log     *slog.Logger
	metrics *observe.Metrics

	language atomic.Pointer[string]

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New validates cfg (after applying defaults) and deps.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var errs []error
	if deps.Source == nil {
		errs = append(errs, errors.New("source is required"))
	}
	if deps.Classifier == nil {
		errs = append(errs, errors.New("classifier is required"))
	}
	if deps.Transcriber == nil {
		errs = append(errs, errors.New("transcriber is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{cfg: cfg, deps: deps, log: deps.Logger, metrics: deps.Metrics}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	lang := cfg.Language
	p.language.Store(&lang)
	return p, nil
}

// Config returns the effective configuration, defaults included.
func (p *Pipeline) Config() Config { return p.cfg }

// Language returns the tag used for the next segment.
func (p *Pipeline) Language() string { return *p.language.Load() }

// SetLanguage changes the recognition language. It takes effect with the next
// segment; a segment already being retried keeps its language.
func (p *Pipeline) SetLanguage(tag string) {
	old := p.language.Swap(&tag)
	if *old != tag {
		p.log.Info("recognition language changed", "from", *old, "to", tag)
	}
}

// Running reports whether Run is active.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Check is a readiness probe: it fails unless Run is active.
func (p *Pipeline) Check(context.Context) error {
	if !p.Running() {
		return ErrNotRunning
	}
	return nil
}

// Run starts the capture and recognition loops and calls handle with every
// outcome, in production order, on the calling goroutine. It returns once
// ctx is cancelled or Stop is called and both loops have finished, or once a
// finite source is exhausted and every segment was transcribed. A source
// closed underneath the pipeline is reported as a capture failure and then
// handled like an exhausted one.
//
// handle must not call Stop.
func (p *Pipeline) Run(ctx context.Context, handle func(Outcome)) error {
	if handle == nil {
		return errors.New("pipeline: nil outcome handler")
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.running, p.cancel, p.done = true, cancel, done
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		p.running, p.cancel, p.done = false, nil, nil
		p.mu.Unlock()
		close(done)
	}()

	segments := newQueue[audio.Segment](p.cfg.MaxQueuedSegments)
	results := newQueue[Outcome](0)

	p.log.Info("pipeline started",
		"sample_rate", p.cfg.SampleRate,
		"frame_ms", p.cfg.FrameMs,
		"padding_ms", *p.cfg.PaddingMs,
		"language", p.Language(),
	)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return p.captureLoop(gctx, segments, results) })
	g.Go(func() error { return p.recognitionLoop(gctx, segments, results) })

	// The results queue closes once recognition has exited, which happens
	// only after capture closed the segment queue, so every outcome is seen.
	for {
		out, err := results.Pop(context.Background(), p.cfg.PollInterval)
		if errors.Is(err, errPollTimeout) {
			continue
		}
		if err != nil {
			break
		}
		p.metrics.QueueAdd(context.Background(), observe.QueueResults, -1)
		handle(out)
	}

	err := g.Wait()
	p.log.Info("pipeline stopped")
	return err
}

// Stop cancels a running pipeline and blocks until Run has returned. It is a
// no-op when the pipeline is not running.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// captureLoop owns the source and the classifier. It ends when ctx is done or
// the source is exhausted or closed, closing the segment queue on the way out.
func (p *Pipeline) captureLoop(ctx context.Context, segments *queue[audio.Segment], results *queue[Outcome]) error {
	defer segments.Close()

	src := p.deps.Source
	if p.cfg.Calibration > 0 {
		p.log.Info("calibrating for ambient noise", "duration", p.cfg.Calibration)
		if err := src.Calibrate(ctx, p.cfg.Calibration); err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, io.EOF):
				p.log.Info("capture source exhausted during calibration")
				return nil
			default:
				p.deliver(ctx, results, Outcome{Failure: captureFailure("calibrate", err)})
			}
		}
	}

	conv := &audio.FormatConverter{
		Target: audio.Format{SampleRate: p.cfg.SampleRate, Channels: 1},
		Logger: p.log,
	}
	seg := &audio.Segmenter{
		FrameMs:    p.cfg.FrameMs,
		PaddingMs:  *p.cfg.PaddingMs,
		SampleRate: p.cfg.SampleRate,
		Classifier: p.deps.Classifier,
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		buf, err := src.Listen(ctx, p.cfg.ListenTimeout)
		switch {
		case err == nil:
		case errors.Is(err, mic.ErrListenTimeout):
			continue
		case errors.Is(err, io.EOF):
			p.log.Info("capture source exhausted")
			return nil
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, mic.ErrClosed):
			p.log.Warn("capture source closed, stopping capture")
			p.deliver(ctx, results, Outcome{Failure: captureFailure("listen", err)})
			return nil
		default:
			p.captureFailed(ctx, results, "listen", err)
			continue
		}

		pcm, err := conv.Convert(buf.Data, buf.Format)
		if err != nil {
			p.captureFailed(ctx, results, "convert", err)
			continue
		}

		for s, err := range seg.Segments(audio.SliceFrames(pcm, p.cfg.SampleRate, p.cfg.FrameMs)) {
			if err != nil {
				p.captureFailed(ctx, results, "segment", err)
				break
			}
			p.enqueue(ctx, segments, s)
		}
	}
}

func (p *Pipeline) captureFailed(ctx context.Context, results *queue[Outcome], op string, err error) {
	p.log.Warn("capture failed", "op", op, "err", err)
	p.deliver(ctx, results, Outcome{Failure: captureFailure(op, err)})

	t := time.NewTimer(captureRetryDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (p *Pipeline) enqueue(ctx context.Context, segments *queue[audio.Segment], s audio.Segment) {
	p.metrics.RecordSegment(ctx, s.Duration)
	if p.deps.Recorder != nil {
		if path, err := p.deps.Recorder.Record(s); err != nil {
			p.log.Warn("failed to record segment", "err", err)
		} else {
			p.log.Debug("segment recorded", "path", path)
		}
	}

	evicted, dropped, ok := segments.Push(s)
	if !ok {
		return
	}
	if dropped {
		p.metrics.SegmentsDropped.Add(ctx, 1)
		p.log.Warn("segment queue full, dropped oldest segment",
			"dropped_start", evicted.Start,
			"dropped_duration", evicted.Duration,
			"limit", p.cfg.MaxQueuedSegments,
		)
	} else {
		p.metrics.QueueAdd(ctx, observe.QueueSegments, 1)
	}
	p.log.Debug("segment queued", "start", s.Start, "duration", s.Duration, "bytes", len(s.Data))
}

// recognitionLoop owns the transcriber. It keeps transcribing after ctx is
// done until the segment queue is closed and empty or the drain timeout
// expires, then closes the results queue.
func (p *Pipeline) recognitionLoop(ctx context.Context, segments *queue[audio.Segment], results *queue[Outcome]) error {
	defer results.Close()

	work, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
		case <-finished:
			return
		}
		if p.cfg.DrainTimeout > 0 {
			t := time.NewTimer(p.cfg.DrainTimeout)
			defer t.Stop()
			select {
			case <-t.C:
			case <-finished:
				return
			}
		}
		cancelWork()
	}()

	draining := false
	for {
		if !draining && ctx.Err() != nil {
			draining = true
			if n := segments.Len(); n > 0 {
				p.log.Info("draining queued segments", "queued", n, "timeout", p.cfg.DrainTimeout)
			}
		}

		if work.Err() != nil {
			p.abandon(segments)
			return nil
		}

		s, err := segments.Pop(work, p.cfg.PollInterval)
		switch {
		case err == nil:
		case errors.Is(err, errPollTimeout):
			continue
		case errors.Is(err, errQueueClosed):
			return nil
		default:
			p.abandon(segments)
			return nil
		}

		p.metrics.QueueAdd(work, observe.QueueSegments, -1)
		p.recognize(work, s, results)
	}
}

func (p *Pipeline) abandon(segments *queue[audio.Segment]) {
	if n := segments.Len(); n > 0 {
		p.metrics.QueueAdd(context.Background(), observe.QueueSegments, -int64(n))
		p.log.Warn("drain timeout expired, abandoning queued segments", "abandoned", n)
	}
}

// recognize transcribes one segment and delivers exactly one Outcome for it.
// Only an unintelligible result for a segment shorter than MinAudio is
// retried; the intermediate attempts are logged, not delivered.
func (p *Pipeline) recognize(ctx context.Context, s audio.Segment, results *queue[Outcome]) {
	lang := p.Language()
	short := len(s.Data) < p.cfg.minAudioBytes()
	req := stt.Request{
		Audio:       s.Data,
		SampleRate:  p.cfg.SampleRate,
		SampleWidth: audio.BytesPerSample,
		Language:    lang,
	}

	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			p.metrics.STTRetries.Add(ctx, 1)
		}
		actx, span := observe.StartTranscription(ctx, s.Start, s.Duration, attempt, lang)
		log := observe.WithTrace(actx, p.log)

		start := time.Now()
		text, err := p.deps.Transcriber.Transcribe(actx, req)
		if err == nil && text == "" {
			err = stt.ErrUnintelligible
		}

		out := Outcome{
			SegmentStart:    s.Start,
			SegmentDuration: s.Duration,
			Attempt:         attempt,
			Language:        lang,
		}
		if err == nil {
			p.metrics.RecordTranscription(ctx, time.Since(start), "ok")
			span.End()
			out.Transcript = text
			log.Debug("segment transcribed", "attempt", attempt, "chars", len(text))
			p.deliver(ctx, results, out)
			return
		}

		f := classify(err)
		p.metrics.RecordTranscription(ctx, time.Since(start), f.Kind.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, f.Kind.String())
		span.End()
		out.Failure = f

		switch {
		case f.Kind != KindUnintelligible || !short:
			log.Warn("recognition failed", "kind", f.Kind.String(), "attempt", attempt, "err", err)
		case attempt >= p.cfg.MaxAttempts:
			log.Warn("max retries reached", "attempts", attempt, "segment_duration", s.Duration)
		case ctx.Err() != nil:
			log.Debug("retry skipped, pipeline stopping", "attempt", attempt)
		default:
			log.Info("unintelligible short segment, retrying", "attempt", attempt, "segment_duration", s.Duration)
			continue
		}
		p.deliver(ctx, results, out)
		return
	}
}

func (p *Pipeline) deliver(ctx context.Context, results *queue[Outcome], out Outcome) {
	out.At = time.Now()
	if _, _, ok := results.Push(out); !ok {
		return
	}
	p.metrics.QueueAdd(ctx, observe.QueueResults, 1)
	p.metrics.RecordOutcome(ctx, out.Kind())
}
