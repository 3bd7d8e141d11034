// Package vad defines the Classifier interface for frame-level Voice Activity
// Detection.
//
// A classifier labels one fixed-duration PCM frame as speech or non-speech.
// It carries no state between calls: smoothing over time (the trigger and
// detrigger hysteresis) is the job of audio.Segmenter, not the classifier.
//
// Classifiers are owned by a single capture goroutine and need not be safe
// for concurrent use unless documented otherwise.
package vad

import (
	"errors"
	"fmt"
)

// ErrInvalidFrame is returned when a frame is empty or not a whole number of
// 16-bit samples.
var ErrInvalidFrame = errors.New("vad: invalid frame")

// Aggressiveness selects how readily frames are classified as non-speech.
// Valid levels are 0 (least aggressive) through 3 (most aggressive).
type Aggressiveness int

const (
	AggressivenessQuality Aggressiveness = iota
	AggressivenessLowBitrate
	AggressivenessAggressive
	AggressivenessVeryAggressive
)

// IsValid reports whether a is within 0–3.
func (a Aggressiveness) IsValid() bool {
	return a >= AggressivenessQuality && a <= AggressivenessVeryAggressive
}

// Validate returns an error when a is out of range.
func (a Aggressiveness) Validate() error {
	if !a.IsValid() {
		return fmt.Errorf("vad: aggressiveness %d out of range [0, 3]", int(a))
	}
	return nil
}

// Classifier labels a single frame of 16-bit little-endian mono PCM.
type Classifier interface {
	// IsSpeech reports whether frame contains speech. sampleRate is the rate
	// the frame was captured at. An error means the frame could not be
	// classified at all (wrong size, unsupported rate), not that it is silent.
	IsSpeech(frame []byte, sampleRate int) (bool, error)
}

// ClassifierFunc adapts an ordinary function to the Classifier interface.
type ClassifierFunc func(frame []byte, sampleRate int) (bool, error)

// IsSpeech calls f(frame, sampleRate).
func (f ClassifierFunc) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	return f(frame, sampleRate)
}
