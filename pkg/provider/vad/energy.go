package vad

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

// rmsThresholds maps each aggressiveness level to the root-mean-square
// energy (in 16-bit PCM units, max 32 767) a frame must exceed to count as
// speech. Level 1 matches the near-silence floor used for whisper.cpp
// chunking.
var rmsThresholds = [...]float64{
	AggressivenessQuality:        150,
	AggressivenessLowBitrate:     300,
	AggressivenessAggressive:     600,
	AggressivenessVeryAggressive: 1200,
}

// supportedRates lists the sample rates the energy classifier accepts. They
// mirror the rates common frame-level VAD engines support so that configs
// stay portable between classifiers.
var supportedRates = []int{8000, 16000, 32000, 48000}

// EnergyOption configures an [Energy] classifier.
type EnergyOption func(*Energy)

// WithThreshold overrides the RMS threshold derived from the aggressiveness
// level. Values <= 0 are ignored.
func WithThreshold(rms float64) EnergyOption {
	return func(e *Energy) {
		if rms > 0 {
			e.threshold = rms
		}
	}
}

// Energy is a stateless RMS-energy classifier. A frame is speech when its RMS
// energy exceeds the threshold for the configured aggressiveness.
type Energy struct {
	level     Aggressiveness
	threshold float64
}

// Compile-time assertion that Energy implements Classifier.
var _ Classifier = (*Energy)(nil)

// NewEnergy returns an Energy classifier for the given aggressiveness level.
func NewEnergy(level Aggressiveness, opts ...EnergyOption) (*Energy, error) {
	if err := level.Validate(); err != nil {
		return nil, err
	}
	e := &Energy{level: level, threshold: rmsThresholds[level]}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Threshold returns the RMS level above which frames are classified as speech.
func (e *Energy) Threshold() float64 { return e.threshold }

// IsSpeech implements [Classifier].
func (e *Energy) IsSpeech(frame []byte, sampleRate int) (bool, error) {
	if len(frame) == 0 || len(frame)%2 != 0 {
		return false, fmt.Errorf("%w: %d bytes", ErrInvalidFrame, len(frame))
	}
	if !slices.Contains(supportedRates, sampleRate) {
		return false, fmt.Errorf("vad: unsupported sample rate %d", sampleRate)
	}
	return RMS(frame) > e.threshold, nil
}

// RMS returns the root-mean-square energy of a 16-bit signed little-endian
// PCM buffer. Returns 0 for buffers shorter than one sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
