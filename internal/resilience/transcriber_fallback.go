package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// fallbackProvider is the provider name carried by the *stt.ServiceError
// returned when no backend could be asked.
const fallbackProvider = "fallback"

// TranscriberFallback is an [stt.Transcriber] that fails over between several
// backends, each guarded by its own circuit breaker.
//
// [stt.ErrUnintelligible] and context cancellation never count against a
// backend and are returned as-is.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a fallback with primary as the preferred
// backend. Any Passthrough set in cfg is replaced.
func NewTranscriberFallback(primary stt.Transcriber, name string, cfg FallbackConfig) *TranscriberFallback {
	cfg.CircuitBreaker.Passthrough = transcriberPassthrough
	return &TranscriberFallback{group: NewFallbackGroup(primary, name, cfg)}
}

func transcriberPassthrough(err error) bool {
	return errors.Is(err, stt.ErrUnintelligible) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// AddFallback registers a backend that is tried after the existing ones.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Backends returns the backend names in failover order.
func (f *TranscriberFallback) Backends() []string { return f.group.Names() }

// States returns the breaker state of every backend.
func (f *TranscriberFallback) States() map[string]State { return f.group.States() }

// Transcribe asks each healthy backend in turn.
//
// When every backend failed, the error of the last one tried is wrapped, so a
// *stt.ServiceError stays visible to errors.As. If the last backend was
// skipped because its circuit was open, a *stt.ServiceError is returned.
func (f *TranscriberFallback) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	text, err := ExecuteWithResult(f.group, func(t stt.Transcriber) (string, error) {
		return t.Transcribe(ctx, req)
	})
	if err == nil || !errors.Is(err, ErrAllFailed) {
		return text, err
	}
	if errors.Is(err, ErrCircuitOpen) {
		return "", stt.Unavailable(fallbackProvider, 0, err)
	}
	return "", fmt.Errorf("stt fallback: %w", err)
}

// Check fails when every backend's circuit is open.
func (f *TranscriberFallback) Check(context.Context) error {
	if f.group.Available() {
		return nil
	}
	return fmt.Errorf("stt fallback: every backend circuit is open: %v", f.group.States())
}
