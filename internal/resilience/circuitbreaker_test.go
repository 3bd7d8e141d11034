package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

var (
	errBackendDown = stt.Unavailable("whisper", 503, errors.New("model loading"))
	errGarbled     = fmt.Errorf("whisper: empty result: %w", stt.ErrUnintelligible)
)

// whisperBreaker is a breaker configured the way TranscriberFallback
// configures one per backend.
func whisperBreaker(maxFailures, halfOpenMax int, reset time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "whisper",
		MaxFailures:  maxFailures,
		ResetTimeout: reset,
		HalfOpenMax:  halfOpenMax,
		Passthrough:  transcriberPassthrough,
	})
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "deepgram"})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d/%v/%d, want 5/30s/3", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed || cb.Name() != "deepgram" {
		t.Errorf("state %v name %q", cb.State(), cb.Name())
	}
}

func TestCircuitBreaker_TranscriptionErrors(t *testing.T) {
	tests := []struct {
		name     string
		errs     []error
		want     State
		wantNext error
	}{
		{
			name: "service errors open",
			errs: []error{errBackendDown, errBackendDown, errBackendDown},
			want: StateOpen, wantNext: ErrCircuitOpen,
		},
		{
			name: "unintelligible audio never opens",
			errs: []error{errGarbled, errGarbled, errGarbled, errGarbled, errGarbled},
			want: StateClosed,
		},
		{
			name: "cancelled caller never opens",
			errs: []error{context.Canceled, context.DeadlineExceeded, context.Canceled},
			want: StateClosed,
		},
		{
			name: "unintelligible resets the failure run",
			errs: []error{errBackendDown, errBackendDown, errGarbled, errBackendDown, errBackendDown},
			want: StateClosed,
		},
		{
			name: "transcript resets the failure run",
			errs: []error{errBackendDown, errBackendDown, nil, errBackendDown, errBackendDown},
			want: StateClosed,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cb := whisperBreaker(3, 1, time.Hour)
			for i, want := range tc.errs {
				if err := cb.Execute(func() error { return want }); !errors.Is(err, want) {
					t.Fatalf("call %d returned %v, want %v unchanged", i, err, want)
				}
			}
			if cb.State() != tc.want {
				t.Fatalf("state = %v, want %v", cb.State(), tc.want)
			}

			called := false
			err := cb.Execute(func() error { called = true; return nil })
			if !errors.Is(err, tc.wantNext) {
				t.Errorf("next call err = %v, want %v", err, tc.wantNext)
			}
			if called == (tc.wantNext != nil) {
				t.Errorf("next call reached backend = %v", called)
			}
		})
	}
}

func TestCircuitBreaker_RecoversAfterResetTimeout(t *testing.T) {
	cb := whisperBreaker(1, 2, 10*time.Millisecond)
	_ = cb.Execute(func() error { return errBackendDown })
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	time.Sleep(15 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after the reset timeout", cb.State())
	}

	// An unintelligible trial answer proves the backend is up.
	if err := cb.Execute(func() error { return errGarbled }); !errors.Is(err, stt.ErrUnintelligible) {
		t.Fatalf("trial call err = %v", err)
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("trial call err = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after two good trial calls", cb.State())
	}
}

func TestCircuitBreaker_FailedTrialReopens(t *testing.T) {
	cb := whisperBreaker(2, 2, 10*time.Millisecond)
	_ = cb.Execute(func() error { return errBackendDown })
	_ = cb.Execute(func() error { return errBackendDown })

	time.Sleep(15 * time.Millisecond)
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return errBackendDown })

	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after a failed trial call", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_HalfOpenRejectsBeyondTrialBudget(t *testing.T) {
	cb := whisperBreaker(1, 1, 10*time.Millisecond)
	_ = cb.Execute(func() error { return errBackendDown })
	time.Sleep(15 * time.Millisecond)

	inTrial := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(inTrial)
			<-release
			return nil
		})
	}()
	<-inTrial

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second trial call err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("trial call: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after the trial call succeeded", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := whisperBreaker(1, 1, time.Hour)
	_ = cb.Execute(func() error { return errBackendDown })
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("err = %v after Reset", err)
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
