package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
	sttmock "github.com/MrWong99/livescribe/pkg/provider/stt/mock"
)

var testReq = stt.Request{Audio: make([]byte, 320), SampleRate: 16000, SampleWidth: 2, Language: "en-US"}

func newTranscriberFallback(primary, secondary *sttmock.Transcriber) *TranscriberFallback {
	f := NewTranscriberFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	f.AddFallback("secondary", secondary)
	return f
}

func TestTranscriberFallback_PrimaryAnswers(t *testing.T) {
	primary := &sttmock.Transcriber{Default: sttmock.Result{Text: "from primary"}}
	secondary := &sttmock.Transcriber{Default: sttmock.Result{Text: "from secondary"}}
	f := newTranscriberFallback(primary, secondary)

	text, err := f.Transcribe(context.Background(), testReq)
	if err != nil || text != "from primary" {
		t.Fatalf("Transcribe = %q, %v", text, err)
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary called %d times", secondary.CallCount())
	}
	if got := primary.Requests()[0].Language; got != "en-US" {
		t.Errorf("language = %q, want en-US", got)
	}
}

func TestTranscriberFallback_FailsOverOnServiceError(t *testing.T) {
	primary := &sttmock.Transcriber{Default: sttmock.Result{Err: stt.Unavailable("primary", 503, nil)}}
	secondary := &sttmock.Transcriber{Default: sttmock.Result{Text: "from secondary"}}
	f := newTranscriberFallback(primary, secondary)

	text, err := f.Transcribe(context.Background(), testReq)
	if err != nil || text != "from secondary" {
		t.Fatalf("Transcribe = %q, %v", text, err)
	}
}

func TestTranscriberFallback_UnintelligibleIsNotFailover(t *testing.T) {
	primary := &sttmock.Transcriber{Default: sttmock.Result{Err: stt.ErrUnintelligible}}
	secondary := &sttmock.Transcriber{Default: sttmock.Result{Text: "from secondary"}}
	f := newTranscriberFallback(primary, secondary)

	for range 5 {
		if _, err := f.Transcribe(context.Background(), testReq); !errors.Is(err, stt.ErrUnintelligible) {
			t.Fatalf("err = %v, want ErrUnintelligible", err)
		}
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary called %d times", secondary.CallCount())
	}
	if got := f.States()["primary"]; got != StateClosed {
		t.Errorf("primary state = %v, want closed", got)
	}
}

func TestTranscriberFallback_AllFailedKeepsServiceError(t *testing.T) {
	primary := &sttmock.Transcriber{Default: sttmock.Result{Err: errors.New("decode failed")}}
	secondary := &sttmock.Transcriber{Default: sttmock.Result{Err: stt.Unavailable("secondary", 500, nil)}}
	f := newTranscriberFallback(primary, secondary)

	_, err := f.Transcribe(context.Background(), testReq)
	var se *stt.ServiceError
	if !errors.As(err, &se) || se.Provider != "secondary" {
		t.Fatalf("err = %v, want the secondary's *stt.ServiceError", err)
	}
}

func TestTranscriberFallback_AllOpenIsServiceUnavailable(t *testing.T) {
	primary := &sttmock.Transcriber{Default: sttmock.Result{Err: stt.Unavailable("primary", 0, nil)}}
	secondary := &sttmock.Transcriber{Default: sttmock.Result{Err: stt.Unavailable("secondary", 0, nil)}}
	f := newTranscriberFallback(primary, secondary)

	for range 2 {
		_, _ = f.Transcribe(context.Background(), testReq)
	}
	if err := f.Check(context.Background()); err == nil {
		t.Error("Check succeeded with every circuit open")
	}

	calls := primary.CallCount() + secondary.CallCount()
	_, err := f.Transcribe(context.Background(), testReq)
	var se *stt.ServiceError
	if !errors.As(err, &se) || se.Provider != fallbackProvider {
		t.Fatalf("err = %v, want a fallback *stt.ServiceError", err)
	}
	if got := primary.CallCount() + secondary.CallCount(); got != calls {
		t.Errorf("backends called %d more times with open circuits", got-calls)
	}
}

func TestTranscriberFallback_CancelledContextPassesThrough(t *testing.T) {
	primary := &sttmock.Transcriber{Delay: time.Minute}
	secondary := &sttmock.Transcriber{Default: sttmock.Result{Text: "from secondary"}}
	f := newTranscriberFallback(primary, secondary)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Transcribe(ctx, testReq); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if secondary.CallCount() != 0 {
		t.Errorf("secondary called %d times", secondary.CallCount())
	}
	if err := f.Check(context.Background()); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestTranscriberFallback_Backends(t *testing.T) {
	f := newTranscriberFallback(&sttmock.Transcriber{}, &sttmock.Transcriber{})
	if got := f.Backends(); len(got) != 2 || got[0] != "primary" || got[1] != "secondary" {
		t.Errorf("Backends = %v", got)
	}
}
