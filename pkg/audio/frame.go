// Package audio holds the PCM primitives of the livescribe pipeline: slicing a
// captured window into fixed-duration frames, grouping voiced frames into
// utterance segments, format conversion, and WAV encoding.
//
// All PCM handled here is signed 16-bit little-endian. Unless a function says
// otherwise the audio is mono.
package audio

import (
	"iter"
	"time"
)

// BytesPerSample is the width of one 16-bit PCM sample.
const BytesPerSample = 2

// Frame is one fixed-length slice of mono PCM audio. Frames are created by
// [SliceFrames] and must not be mutated by consumers.
type Frame struct {
	// Data is the raw PCM of this frame. It aliases the buffer passed to
	// SliceFrames.
	Data []byte

	// Timestamp is the offset of the frame from the start of the window.
	Timestamp time.Duration

	// Duration is the exact span of the frame.
	Duration time.Duration
}

// FrameSamples returns the number of samples in one frame of frameMs
// milliseconds at sampleRate.
func FrameSamples(sampleRate, frameMs int) int {
	return sampleRate * frameMs / 1000
}

// BytesFor returns the number of mono PCM bytes needed to hold ms
// milliseconds of audio at sampleRate.
func BytesFor(sampleRate, ms int) int {
	return sampleRate * ms / 1000 * BytesPerSample
}

// DurationOf returns the playback duration of n bytes of mono PCM.
func DurationOf(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := n / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// SliceFrames splits pcm into consecutive, non-overlapping frames of frameMs
// milliseconds. A trailing remainder shorter than one frame is dropped.
//
// The returned sequence is lazy and may be ranged over any number of times;
// each iteration restarts at the first frame. The k-th frame has a Timestamp
// of k times the frame Duration.
func SliceFrames(pcm []byte, sampleRate, frameMs int) iter.Seq[Frame] {
	samples := FrameSamples(sampleRate, frameMs)
	n := samples * BytesPerSample
	var d time.Duration
	if sampleRate > 0 {
		d = time.Duration(samples) * time.Second / time.Duration(sampleRate)
	}
	return func(yield func(Frame) bool) {
		if n <= 0 {
			return
		}
		var ts time.Duration
		for off := 0; off+n <= len(pcm); off += n {
			if !yield(Frame{Data: pcm[off : off+n], Timestamp: ts, Duration: d}) {
				return
			}
			ts += d
		}
	}
}
