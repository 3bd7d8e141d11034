// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A Transcriber turns one complete voiced segment of 16-bit PCM audio into
// text with a single blocking call. Streaming is handled upstream: the
// pipeline cuts the microphone stream into segments and submits each one
// independently, so backends only ever see finished utterances.
//
// Failures fall into three classes that callers distinguish with errors.Is and
// errors.As:
//
//   - ErrUnintelligible: the service answered but heard no words.
//   - *ServiceError: the service could not be reached or rejected the request.
//   - anything else: unexpected failures (encoding, decoding, local models).
package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnintelligible is returned when the backend processed the audio but could
// not recognise any speech in it.
var ErrUnintelligible = errors.New("stt: speech was unintelligible")

// Request is a single transcription job.
type Request struct {
	// Audio is raw mono PCM, little-endian signed samples.
	Audio []byte

	// SampleRate is the sample rate of Audio in Hz.
	SampleRate int

	// SampleWidth is the size of one sample in bytes. Only 2 is supported by
	// the bundled backends.
	SampleWidth int

	// Language is the BCP-47 tag to recognise (e.g. "en-US", "tr-TR"). Empty
	// lets the backend auto-detect, if supported.
	Language string
}

// Validate reports whether the request can be sent to a backend.
func (r Request) Validate() error {
	switch {
	case len(r.Audio) == 0:
		return errors.New("stt: empty audio")
	case r.SampleRate <= 0:
		return fmt.Errorf("stt: invalid sample rate %d", r.SampleRate)
	case r.SampleWidth != 2:
		return fmt.Errorf("stt: unsupported sample width %d", r.SampleWidth)
	case len(r.Audio)%r.SampleWidth != 0:
		return fmt.Errorf("stt: audio length %d is not a whole number of samples", len(r.Audio))
	}
	return nil
}

// Transcriber is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use; the pipeline calls
// Transcribe from a single goroutine, but fallback groups and health probes
// may share the same instance.
type Transcriber interface {
	// Transcribe returns the recognised text for req.Audio. It blocks until the
	// backend answers or ctx is done.
	//
	// An empty recognition result is reported as ErrUnintelligible, never as
	// ("", nil).
	Transcribe(ctx context.Context, req Request) (string, error)
}

// TranscriberFunc adapts an ordinary function to the Transcriber interface.
type TranscriberFunc func(ctx context.Context, req Request) (string, error)

// Transcribe calls f(ctx, req).
func (f TranscriberFunc) Transcribe(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// ServiceError reports that a backend was unreachable or refused the request.
type ServiceError struct {
	// Provider names the backend, e.g. "whisper" or "deepgram".
	Provider string

	// StatusCode is the HTTP status returned by the backend, or 0 when the
	// request never got a response.
	StatusCode int

	// Err is the underlying transport or API error.
	Err error
}

// Error implements error.
func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: service unavailable (HTTP %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: service unavailable: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *ServiceError) Unwrap() error { return e.Err }

// Unavailable wraps err in a *ServiceError.
func Unavailable(provider string, statusCode int, err error) error {
	if err == nil {
		err = errors.New("no response")
	}
	return &ServiceError{Provider: provider, StatusCode: statusCode, Err: err}
}

// IsServiceUnavailable reports whether err carries a *ServiceError.
func IsServiceUnavailable(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// BaseLanguage returns the primary subtag of a BCP-47 tag in lower case, e.g.
// "en" for "en-US". Backends that only accept ISO-639-1 codes use it.
func BaseLanguage(tag string) string {
	base, _, _ := strings.Cut(tag, "-")
	base, _, _ = strings.Cut(base, "_")
	return strings.ToLower(strings.TrimSpace(base))
}
