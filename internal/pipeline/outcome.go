package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// FailureKind classifies why a segment produced no transcript.
type FailureKind int

const (
	// KindOther is any failure not covered by a more specific kind.
	KindOther FailureKind = iota

	// KindUnintelligible means the recognizer heard no words in the segment.
	KindUnintelligible

	// KindServiceUnavailable means the recognizer could not be reached or
	// refused the request.
	KindServiceUnavailable

	// KindCaptureFailure means audio could not be captured or segmented. It
	// is not tied to a segment.
	KindCaptureFailure
)

// String returns the metric/log label of k.
func (k FailureKind) String() string {
	switch k {
	case KindUnintelligible:
		return "unintelligible"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindCaptureFailure:
		return "capture_failure"
	default:
		return "other"
	}
}

// Failure describes one failed capture cycle or recognition attempt.
type Failure struct {
	Kind FailureKind

	// Detail is a human-readable description, e.g. the service error text.
	Detail string

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (f *Failure) Error() string {
	if f.Detail == "" {
		return f.Kind.String()
	}
	return f.Kind.String() + ": " + f.Detail
}

// Unwrap returns the underlying error.
func (f *Failure) Unwrap() error { return f.Err }

// Outcome is the result delivered to the caller once per segment and once per
// capture failure. Exactly one of Transcript and Failure is set.
type Outcome struct {
	Transcript string
	Failure    *Failure

	// SegmentStart is the offset of the segment within its capture window and
	// SegmentDuration its audio length. Both are zero for capture failures.
	SegmentStart    time.Duration
	SegmentDuration time.Duration

	// Attempt is the 1-based number of the attempt that produced this
	// outcome. It exceeds 1 only for retried short segments.
	Attempt int

	// Language is the tag the segment was recognised with.
	Language string

	// At is when the outcome was produced.
	At time.Time
}

// OK reports whether the outcome carries a transcript.
func (o Outcome) OK() bool { return o.Failure == nil }

// Kind returns "transcript" for successes and the failure kind otherwise.
func (o Outcome) Kind() string {
	if o.Failure == nil {
		return "transcript"
	}
	return o.Failure.Kind.String()
}

// String renders the outcome the way the CLI prints it.
func (o Outcome) String() string {
	if o.Failure == nil {
		return o.Transcript
	}
	return fmt.Sprintf("[%s]", o.Failure.Error())
}

// classify maps a transcriber error onto the failure taxonomy.
func classify(err error) *Failure {
	switch {
	case errors.Is(err, stt.ErrUnintelligible):
		return &Failure{Kind: KindUnintelligible, Detail: "could not understand audio", Err: err}
	case stt.IsServiceUnavailable(err):
		return &Failure{Kind: KindServiceUnavailable, Detail: err.Error(), Err: err}
	default:
		return &Failure{Kind: KindOther, Detail: err.Error(), Err: err}
	}
}

func captureFailure(op string, err error) *Failure {
	return &Failure{Kind: KindCaptureFailure, Detail: fmt.Sprintf("%s: %v", op, err), Err: err}
}
