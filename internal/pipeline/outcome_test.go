package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"unintelligible", stt.ErrUnintelligible, KindUnintelligible},
		{"wrapped unintelligible", fmt.Errorf("whisper: %w", stt.ErrUnintelligible), KindUnintelligible},
		{"service error", stt.Unavailable("openai", 429, errors.New("rate limited")), KindServiceUnavailable},
		{"wrapped service error", fmt.Errorf("fallback: %w", stt.Unavailable("deepgram", 0, nil)), KindServiceUnavailable},
		{"anything else", errors.New("boom"), KindOther},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := classify(tc.err)
			if f.Kind != tc.want {
				t.Errorf("kind = %v, want %v", f.Kind, tc.want)
			}
			if !errors.Is(f, tc.err) {
				t.Error("failure does not wrap the original error")
			}
		})
	}
}

func TestOutcome_KindAndString(t *testing.T) {
	ok := Outcome{Transcript: "hello there"}
	if !ok.OK() || ok.Kind() != "transcript" || ok.String() != "hello there" {
		t.Errorf("transcript outcome: OK=%v Kind=%q String=%q", ok.OK(), ok.Kind(), ok.String())
	}

	failed := Outcome{Failure: captureFailure("listen", errors.New("device lost"))}
	if failed.OK() {
		t.Error("failed outcome reports OK")
	}
	if failed.Kind() != "capture_failure" {
		t.Errorf("Kind = %q", failed.Kind())
	}
	if got, want := failed.String(), "[capture_failure: listen: device lost]"; got != want {
		t.Errorf("String = %q, want %q", got, want)
	}
}

func TestFailureKind_String(t *testing.T) {
	for kind, want := range map[FailureKind]string{
		KindOther:              "other",
		KindUnintelligible:     "unintelligible",
		KindServiceUnavailable: "service_unavailable",
		KindCaptureFailure:     "capture_failure",
		FailureKind(42):        "other",
	} {
		if got := kind.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(kind), got, want)
		}
	}
}
