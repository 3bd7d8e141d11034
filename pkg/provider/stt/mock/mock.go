// Package mock provides test doubles for the stt package interfaces.
//
// Transcriber answers from a script of results, one per call, and records
// every request it receives:
//
//	tr := &mock.Transcriber{Results: []mock.Result{
//	    {Err: stt.ErrUnintelligible},
//	    {Text: "hello world"},
//	}}
//	text, err := tr.Transcribe(ctx, req) // "", ErrUnintelligible
//	text, err = tr.Transcribe(ctx, req)  // "hello world", nil
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/pkg/provider/stt"
)

// Result is one scripted answer.
type Result struct {
	Text string
	Err  error
}

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context

	// Req is the request passed to Transcribe. Req.Audio is a copy.
	Req stt.Request
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Results holds the answer for each successive call. Once exhausted,
	// Default is returned.
	Results []Result

	// Default is returned after Results runs out.
	Default Result

	// Delay, if positive, makes every call block for that long or until the
	// context is done, whichever comes first.
	Delay time.Duration

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall

	// OnCall, if set, is invoked (outside the lock) after the call is recorded.
	OnCall func(call TranscribeCall)
}

// Transcribe records the call and returns the next scripted result. If Delay
// is set and ctx ends first, ctx.Err() is returned.
func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	t.mu.Lock()
	idx := len(t.Calls)
	cp := req
	cp.Audio = append([]byte(nil), req.Audio...)
	call := TranscribeCall{Ctx: ctx, Req: cp}
	t.Calls = append(t.Calls, call)
	res := t.Default
	if idx < len(t.Results) {
		res = t.Results[idx]
	}
	delay := t.Delay
	onCall := t.OnCall
	t.mu.Unlock()

	if onCall != nil {
		onCall(call)
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return res.Text, res.Err
}

// CallCount returns the number of Transcribe calls so far. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// Requests returns a snapshot of the recorded requests. Thread-safe.
func (t *Transcriber) Requests() []stt.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]stt.Request, len(t.Calls))
	for i, c := range t.Calls {
		out[i] = c.Req
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (t *Transcriber) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
