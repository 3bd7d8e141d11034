// Package mock provides test doubles for the vad package interfaces.
//
// Classifier answers from a script of results, one per call, so tests can
// describe an exact speech/non-speech pattern:
//
//	c := &mock.Classifier{Script: mock.Pattern("SSSS____")}
//	speech, _ := c.IsSpeech(frame, 16000) // true
package mock

import (
	"sync"

	"github.com/MrWong99/livescribe/pkg/provider/vad"
)

// IsSpeechCall records a single invocation of Classifier.IsSpeech.
type IsSpeechCall struct {
	// Frame is a copy of the bytes passed to IsSpeech.
	Frame []byte

	// SampleRate is the rate passed to IsSpeech.
	SampleRate int
}

// Classifier is a mock implementation of vad.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Script holds the result for each successive call. Once exhausted,
	// Default is returned.
	Script []bool

	// Default is returned after Script runs out.
	Default bool

	// Err, if non-nil, is returned by the call with index ErrAt.
	Err   error
	ErrAt int

	// Calls records every call to IsSpeech in order.
	Calls []IsSpeechCall
}

// IsSpeech records the call and returns the next scripted result.
func (c *Classifier) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := len(c.Calls)
	cp := make([]byte, len(frame))
	copy(cp, frame)
	c.Calls = append(c.Calls, IsSpeechCall{Frame: cp, SampleRate: sampleRate})
	if c.Err != nil && idx == c.ErrAt {
		return false, c.Err
	}
	if idx < len(c.Script) {
		return c.Script[idx], nil
	}
	return c.Default, nil
}

// CallCount returns the number of IsSpeech calls so far. Thread-safe.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = nil
}

// Pattern converts a string such as "SS__S" into a script: 'S' is speech,
// any other rune is non-speech.
func Pattern(p string) []bool {
	out := make([]bool, 0, len(p))
	for _, r := range p {
		out = append(out, r == 'S')
	}
	return out
}

// Ensure Classifier implements vad.Classifier at compile time.
var _ vad.Classifier = (*Classifier)(nil)
