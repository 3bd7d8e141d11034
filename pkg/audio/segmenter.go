package audio

import (
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/MrWong99/livescribe/pkg/provider/vad"
)

// triggerRatio is the share of the padding window that must agree before the
// segmenter switches state, in either direction.
const triggerRatio = 0.9

// Segment is one contiguous voiced utterance: the concatenated PCM of the
// frames between a trigger and the matching detrigger, including the leading
// and trailing padding frames.
type Segment struct {
	// Data is the concatenated PCM. It is a fresh buffer owned by the receiver.
	Data []byte

	// Start is the timestamp of the first frame in the segment.
	Start time.Duration

	// Duration is the summed duration of all frames in the segment.
	Duration time.Duration
}

// Segmenter turns a stream of frames into voiced segments using a sliding
// window of recent speech classifications. The zero value is not usable; set
// every field.
type Segmenter struct {
	// FrameMs is the duration of every input frame in milliseconds.
	FrameMs int

	// PaddingMs is the length of the sliding window. The window holds
	// PaddingMs/FrameMs frames (rounded down).
	PaddingMs int

	// SampleRate is forwarded to the classifier with every frame.
	SampleRate int

	// Classifier labels each frame as speech or non-speech.
	Classifier vad.Classifier
}

// Capacity returns the number of frames held by the sliding window.
func (s *Segmenter) Capacity() int {
	if s.FrameMs <= 0 {
		return 0
	}
	return s.PaddingMs / s.FrameMs
}

// Segments runs the segmentation state machine over frames and yields each
// completed segment. If the input ends while an utterance is open, the
// accumulated audio is yielded as a final segment.
//
// A classifier error stops the sequence: the error is yielded with a zero
// Segment and no further values follow.
func (s *Segmenter) Segments(frames iter.Seq[Frame]) iter.Seq2[Segment, error] {
	return func(yield func(Segment, error) bool) {
		if s.Classifier == nil {
			yield(Segment{}, errors.New("audio: segmenter has no classifier"))
			return
		}

		capacity := s.Capacity()
		threshold := triggerRatio * float64(capacity)
		ring := newRingBuffer(capacity)

		var (
			triggered bool
			voiced    []Frame
		)

		for f := range frames {
			speech, err := s.Classifier.IsSpeech(f.Data, s.SampleRate)
			if err != nil {
				yield(Segment{}, fmt.Errorf("audio: classify frame at %v: %w", f.Timestamp, err))
				return
			}

			if !triggered {
				ring.push(f, speech)
				if float64(ring.voiced()) > threshold {
					triggered = true
					voiced = append(voiced, ring.frames()...)
					ring.clear()
				}
				continue
			}

			voiced = append(voiced, f)
			ring.push(f, speech)
			if float64(ring.unvoiced()) > threshold {
				triggered = false
				if !yield(join(voiced), nil) {
					return
				}
				ring.clear()
				voiced = nil
			}
		}

		if triggered && len(voiced) > 0 {
			yield(join(voiced), nil)
		}
	}
}

// join concatenates the PCM of frames into a newly allocated Segment.
func join(frames []Frame) Segment {
	n := 0
	var d time.Duration
	for _, f := range frames {
		n += len(f.Data)
		d += f.Duration
	}
	buf := make([]byte, 0, n)
	for _, f := range frames {
		buf = append(buf, f.Data...)
	}
	return Segment{Data: buf, Start: frames[0].Timestamp, Duration: d}
}

// ringBuffer is the sliding classification window of a single Segments call.
// It always retains the most recent entry, so a zero-capacity window still
// reflects the latest classification.
type ringBuffer struct {
	capacity int
	entries  []ringEntry
}

type ringEntry struct {
	frame  Frame
	speech bool
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{
		capacity: capacity,
		entries:  make([]ringEntry, 0, max(capacity, 1)),
	}
}

// push appends an entry, evicting the oldest one when the window is full.
func (r *ringBuffer) push(f Frame, speech bool) {
	if len(r.entries) > 0 && len(r.entries) >= r.capacity {
		copy(r.entries, r.entries[1:])
		r.entries = r.entries[:len(r.entries)-1]
	}
	r.entries = append(r.entries, ringEntry{frame: f, speech: speech})
}

func (r *ringBuffer) voiced() int {
	n := 0
	for _, e := range r.entries {
		if e.speech {
			n++
		}
	}
	return n
}

func (r *ringBuffer) unvoiced() int {
	return len(r.entries) - r.voiced()
}

func (r *ringBuffer) frames() []Frame {
	out := make([]Frame, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.frame
	}
	return out
}

func (r *ringBuffer) clear() {
	r.entries = r.entries[:0]
}
