package audio

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/pkg/provider/vad/mock"
)

const (
	testRate       = 16000
	testFrameMs    = 10
	testFrameBytes = 320
)

// framesFor builds len(pattern) consecutive frames. Every byte of frame i
// holds the value i so segment contents can be traced back to frames.
func framesFor(pattern string) []Frame {
	pcm := make([]byte, len(pattern)*testFrameBytes)
	for i := range pcm {
		pcm[i] = byte(i / testFrameBytes)
	}
	return collectFrames(pcm, testRate, testFrameMs)
}

func runSegmenter(t *testing.T, paddingMs int, pattern string) []Segment {
	t.Helper()
	frames := framesFor(pattern)
	seg := &Segmenter{
		FrameMs:    testFrameMs,
		PaddingMs:  paddingMs,
		SampleRate: testRate,
		Classifier: &mock.Classifier{Script: mock.Pattern(pattern)},
	}
	var out []Segment
	for s, err := range seg.Segments(sliceSeq(frames)) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		out = append(out, s)
	}
	return out
}

func sliceSeq(frames []Frame) func(func(Frame) bool) {
	return func(yield func(Frame) bool) {
		for _, f := range frames {
			if !yield(f) {
				return
			}
		}
	}
}

// firstFrame returns the index of the frame the segment starts with.
func firstFrame(s Segment) int { return int(s.Data[0]) }

func TestSegmenter_AllSilenceEmitsNothing(t *testing.T) {
	if got := runSegmenter(t, 100, strings.Repeat("_", 50)); len(got) != 0 {
		t.Fatalf("got %d segments, want 0", len(got))
	}
}

func TestSegmenter_VoicedRunThenSilence(t *testing.T) {
	// Window of 10 frames. Trigger on the 10th speech frame, detrigger on
	// the 10th silent frame after it.
	pattern := strings.Repeat("S", 30) + strings.Repeat("_", 20)
	got := runSegmenter(t, 100, pattern)
	if len(got) != 1 {
		t.Fatalf("got %d segments, want 1", len(got))
	}
	// 30 voiced frames (10 of them pre-roll) plus 10 trailing silent frames.
	if want := 40 * testFrameBytes; len(got[0].Data) != want {
		t.Errorf("segment length = %d, want %d", len(got[0].Data), want)
	}
	if got[0].Duration != 400*time.Millisecond {
		t.Errorf("segment duration = %v, want 400ms", got[0].Duration)
	}
	if got[0].Start != 0 {
		t.Errorf("segment start = %v, want 0", got[0].Start)
	}
}

func TestSegmenter_IncludesPreRollFromTriggerWindow(t *testing.T) {
	// Window of 20 frames, threshold 18. After 5 silent frames and 19
	// speech frames the window holds 1 silent + 19 speech and triggers.
	pattern := strings.Repeat("_", 5) + strings.Repeat("S", 19) + strings.Repeat("_", 25)
	got := runSegmenter(t, 200, pattern)
	if len(got) != 1 {
		t.Fatalf("got %d segments, want 1", len(got))
	}
	if first := firstFrame(got[0]); first != 4 {
		t.Errorf("segment starts at frame %d, want 4 (the silent pre-roll frame)", first)
	}
	if got[0].Start != 40*time.Millisecond {
		t.Errorf("segment start = %v, want 40ms", got[0].Start)
	}
	// 20 pre-roll frames + 19 trailing silent frames until 19 of 20 are silent.
	if want := 39 * testFrameBytes; len(got[0].Data) != want {
		t.Errorf("segment length = %d, want %d", len(got[0].Data), want)
	}
}

func TestSegmenter_BelowThresholdNeverTriggers(t *testing.T) {
	// Window of 10 with one silent frame in every 10: at most 9 voiced.
	pattern := strings.Repeat("SSSSSSSSS_", 10)
	if got := runSegmenter(t, 100, pattern); len(got) != 0 {
		t.Fatalf("got %d segments, want 0", len(got))
	}
}

func TestSegmenter_JitterDoesNotSplitUtterance(t *testing.T) {
	// Isolated silent frames inside speech must not detrigger.
	pattern := strings.Repeat("S", 10) + strings.Repeat("SSS_", 10) + strings.Repeat("_", 10)
	got := runSegmenter(t, 100, pattern)
	if len(got) != 1 {
		t.Fatalf("got %d segments, want 1", len(got))
	}
}

func TestSegmenter_EndOfInputWhileTriggered(t *testing.T) {
	got := runSegmenter(t, 100, strings.Repeat("S", 15))
	if len(got) != 1 {
		t.Fatalf("got %d segments, want 1", len(got))
	}
	if want := 15 * testFrameBytes; len(got[0].Data) != want {
		t.Errorf("segment length = %d, want %d", len(got[0].Data), want)
	}
}

func TestSegmenter_MultipleUtterances(t *testing.T) {
	one := strings.Repeat("S", 12) + strings.Repeat("_", 12)
	got := runSegmenter(t, 100, one+one+one)
	if len(got) != 3 {
		t.Fatalf("got %d segments, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Start <= got[i-1].Start {
			t.Errorf("segment %d starts at %v, not after %v", i, got[i].Start, got[i-1].Start)
		}
	}
}

func TestSegmenter_PaddingTruncatesTowardZero(t *testing.T) {
	seg := &Segmenter{FrameMs: 30, PaddingMs: 100}
	if got := seg.Capacity(); got != 3 {
		t.Fatalf("Capacity() = %d, want 3", got)
	}
}

func TestSegmenter_ZeroCapacityTogglesImmediately(t *testing.T) {
	// PaddingMs < FrameMs gives a zero-frame window.
	got := runSegmenter(t, 5, "_S_SS_")
	if len(got) != 2 {
		t.Fatalf("got %d segments, want 2", len(got))
	}
	if len(got[0].Data) != 2*testFrameBytes || firstFrame(got[0]) != 1 {
		t.Errorf("first segment: %d bytes from frame %d, want 2 frames from frame 1",
			len(got[0].Data), firstFrame(got[0]))
	}
	if len(got[1].Data) != 3*testFrameBytes || firstFrame(got[1]) != 3 {
		t.Errorf("second segment: %d bytes from frame %d, want 3 frames from frame 3",
			len(got[1].Data), firstFrame(got[1]))
	}
}

func TestSegmenter_SegmentsPreserveFrameOrder(t *testing.T) {
	got := runSegmenter(t, 100, strings.Repeat("S", 20))
	if len(got) != 1 {
		t.Fatalf("got %d segments, want 1", len(got))
	}
	for i := range 20 {
		if b := got[0].Data[i*testFrameBytes]; int(b) != i {
			t.Fatalf("frame %d in segment holds data of frame %d", i, b)
		}
	}
}

func TestSegmenter_ClassifierErrorStopsSequence(t *testing.T) {
	errBoom := errors.New("boom")
	seg := &Segmenter{
		FrameMs:    testFrameMs,
		PaddingMs:  100,
		SampleRate: testRate,
		Classifier: &mock.Classifier{Default: true, Err: errBoom, ErrAt: 3},
	}
	var (
		segments int
		gotErr   error
	)
	for _, err := range seg.Segments(sliceSeq(framesFor(strings.Repeat("S", 30)))) {
		if err != nil {
			gotErr = err
			continue
		}
		segments++
	}
	if !errors.Is(gotErr, errBoom) {
		t.Fatalf("err = %v, want wrapping %v", gotErr, errBoom)
	}
	if segments != 0 {
		t.Errorf("got %d segments before the error, want 0", segments)
	}
}

func TestSegmenter_NilClassifier(t *testing.T) {
	seg := &Segmenter{FrameMs: 10, PaddingMs: 100, SampleRate: testRate}
	for _, err := range seg.Segments(sliceSeq(framesFor("SS"))) {
		if err == nil {
			t.Fatal("expected an error for a missing classifier")
		}
	}
}

func TestSegmenter_EarlyBreakStopsClassifying(t *testing.T) {
	c := &mock.Classifier{Script: mock.Pattern(strings.Repeat(strings.Repeat("S", 10)+strings.Repeat("_", 10), 5))}
	seg := &Segmenter{FrameMs: testFrameMs, PaddingMs: 100, SampleRate: testRate, Classifier: c}
	frames := framesFor(strings.Repeat("x", 100))
	for range seg.Segments(sliceSeq(frames)) {
		break
	}
	if n := c.CallCount(); n != 20 {
		t.Errorf("classifier called %d times, want 20", n)
	}
}

func TestSegmenter_SampleRateForwardedToClassifier(t *testing.T) {
	c := &mock.Classifier{}
	seg := &Segmenter{FrameMs: testFrameMs, PaddingMs: 100, SampleRate: testRate, Classifier: c}
	for range seg.Segments(sliceSeq(framesFor("___"))) {
	}
	for i, call := range c.Calls {
		if call.SampleRate != testRate {
			t.Errorf("call %d: sample rate = %d, want %d", i, call.SampleRate, testRate)
		}
		if len(call.Frame) != testFrameBytes {
			t.Errorf("call %d: frame length = %d, want %d", i, len(call.Frame), testFrameBytes)
		}
	}
}
