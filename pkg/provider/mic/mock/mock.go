// Package mock provides test doubles for the mic package interfaces.
//
// Source replays a scripted list of Listen results. ChunkReader serves a
// scripted list of raw chunks, for exercising mic.Listener.
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/mic"
)

// ListenResult is one scripted answer to Source.Listen.
type ListenResult struct {
	Data []byte
	Err  error
}

// ListenCall records a single invocation of Source.Listen.
type ListenCall struct {
	Timeout time.Duration
}

// Source is a mock implementation of mic.Source.
type Source struct {
	mu sync.Mutex

	// SourceFormat is returned by Format. Zero means 16 kHz mono.
	SourceFormat audio.Format

	// Results holds the answer for each successive Listen call. Once
	// exhausted, Listen blocks for Idle (or until ctx is done) and returns
	// mic.ErrListenTimeout, mimicking a silent room.
	Results []ListenResult

	// Idle is how long an exhausted Listen blocks. Defaults to 10 ms.
	Idle time.Duration

	// CalibrateErr is returned by Calibrate.
	CalibrateErr error

	// CalibrateCalls records the duration passed to each Calibrate call.
	CalibrateCalls []time.Duration

	// ListenCalls records every call to Listen.
	ListenCalls []ListenCall

	// Closed counts Close calls.
	Closed int
}

// Calibrate records the call and returns CalibrateErr.
func (s *Source) Calibrate(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CalibrateCalls = append(s.CalibrateCalls, d)
	return s.CalibrateErr
}

// Listen records the call and returns the next scripted result.
func (s *Source) Listen(ctx context.Context, timeout time.Duration) (mic.Buffer, error) {
	s.mu.Lock()
	idx := len(s.ListenCalls)
	s.ListenCalls = append(s.ListenCalls, ListenCall{Timeout: timeout})
	var (
		res       ListenResult
		exhausted = idx >= len(s.Results)
	)
	if !exhausted {
		res = s.Results[idx]
	}
	idle := s.Idle
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return mic.Buffer{}, err
	}
	if exhausted {
		if idle <= 0 {
			idle = 10 * time.Millisecond
		}
		timer := time.NewTimer(idle)
		defer timer.Stop()
		select {
		case <-timer.C:
			return mic.Buffer{}, mic.ErrListenTimeout
		case <-ctx.Done():
			return mic.Buffer{}, ctx.Err()
		}
	}
	if res.Err != nil {
		return mic.Buffer{}, res.Err
	}
	return mic.Buffer{Data: res.Data, Format: s.Format()}, nil
}

// Format returns SourceFormat, or 16 kHz mono when unset.
func (s *Source) Format() audio.Format {
	if s.SourceFormat.SampleRate == 0 {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return s.SourceFormat
}

// Close records the call.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed++
	return nil
}

// ListenCount returns the number of Listen calls so far. Thread-safe.
func (s *Source) ListenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ListenCalls)
}

// CalibrateCount returns the number of Calibrate calls so far. Thread-safe.
func (s *Source) CalibrateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.CalibrateCalls)
}

// Ensure Source implements mic.Source at compile time.
var _ mic.Source = (*Source)(nil)

// ChunkReader is a mock implementation of mic.ChunkReader. It returns Chunks
// in order and then io.EOF.
type ChunkReader struct {
	mu sync.Mutex

	// ReaderFormat is returned by Format. Zero means 16 kHz mono.
	ReaderFormat audio.Format

	Chunks [][]byte

	// Reads counts ReadChunk calls.
	Reads int

	// Closed counts Close calls.
	Closed int
}

// ReadChunk returns the next chunk, io.EOF when exhausted, or ctx.Err().
func (r *ChunkReader) ReadChunk(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Reads >= len(r.Chunks) {
		r.Reads++
		return nil, io.EOF
	}
	c := r.Chunks[r.Reads]
	r.Reads++
	return c, nil
}

// Format returns ReaderFormat, or 16 kHz mono when unset.
func (r *ChunkReader) Format() audio.Format {
	if r.ReaderFormat.SampleRate == 0 {
		return audio.Format{SampleRate: 16000, Channels: 1}
	}
	return r.ReaderFormat
}

// Close records the call.
func (r *ChunkReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Closed++
	return nil
}

// Ensure ChunkReader implements mic.ChunkReader at compile time.
var _ mic.ChunkReader = (*ChunkReader)(nil)

// Opener is a mock implementation of mic.Opener.
type Opener struct {
	mu sync.Mutex

	// Source is returned by Open.
	Source mic.Source

	// Err, if non-nil, is returned by Open.
	Err error

	// Indexes records the device index of every Open call.
	Indexes []int
}

// Open records the call and returns Source, Err.
func (o *Opener) Open(_ context.Context, deviceIndex int) (mic.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Indexes = append(o.Indexes, deviceIndex)
	if o.Err != nil {
		return nil, o.Err
	}
	return o.Source, nil
}

// Ensure Opener implements mic.Opener at compile time.
var _ mic.Opener = (*Opener)(nil)
