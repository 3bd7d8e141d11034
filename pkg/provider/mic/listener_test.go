package mic_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/pkg/provider/mic"
	"github.com/MrWong99/livescribe/pkg/provider/mic/mock"
)

// chunkBytes is 100 ms of 16 kHz mono PCM.
const chunkBytes = 3200

// tone returns one chunk whose RMS equals amp.
func tone(amp int16) []byte {
	buf := make([]byte, chunkBytes)
	for i := range chunkBytes / 2 {
		v := amp
		if i%2 == 1 {
			v = -amp
		}
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// script builds chunks from a pattern: 'L' is loud (RMS 2000), anything else
// is silence.
func script(pattern string) [][]byte {
	out := make([][]byte, 0, len(pattern))
	for _, r := range pattern {
		if r == 'L' {
			out = append(out, tone(2000))
		} else {
			out = append(out, tone(0))
		}
	}
	return out
}

func TestListener_TimeoutWhenSilent(t *testing.T) {
	r := &mock.ChunkReader{Chunks: script(strings.Repeat("_", 20))}
	l := mic.NewListener(r)

	_, err := l.Listen(context.Background(), time.Second)
	if !errors.Is(err, mic.ErrListenTimeout) {
		t.Fatalf("err = %v, want ErrListenTimeout", err)
	}
	// 11 chunks: the wait only ends once more than 1 s has elapsed.
	if r.Reads != 11 {
		t.Errorf("reads = %d, want 11", r.Reads)
	}
}

func TestListener_RecordsPhraseWithPreRollAndTrimmedPause(t *testing.T) {
	r := &mock.ChunkReader{Chunks: script("___LLLLL" + strings.Repeat("_", 10))}
	l := mic.NewListener(r)

	buf, err := l.Listen(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	// 3 silent pre-roll + 5 loud + 9 silent until the 800 ms pause is
	// exceeded, minus 4 silent chunks beyond the 500 ms tail.
	if want := 13 * chunkBytes; len(buf.Data) != want {
		t.Errorf("len = %d, want %d", len(buf.Data), want)
	}
	if buf.Format.SampleRate != 16000 || buf.Format.Channels != 1 {
		t.Errorf("format = %v", buf.Format)
	}
	if buf.Duration() != 1300*time.Millisecond {
		t.Errorf("duration = %v, want 1.3s", buf.Duration())
	}
}

func TestListener_PreRollIsBounded(t *testing.T) {
	r := &mock.ChunkReader{Chunks: script(strings.Repeat("_", 9) + "L")}
	l := mic.NewListener(r)

	buf, err := l.Listen(context.Background(), 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	// 5 chunks of pre-roll (500 ms) including the onset chunk itself.
	if want := 5 * chunkBytes; len(buf.Data) != want {
		t.Errorf("len = %d, want %d", len(buf.Data), want)
	}
}

func TestListener_EndOfInputMidPhrase(t *testing.T) {
	r := &mock.ChunkReader{Chunks: script("LL")}
	l := mic.NewListener(r)

	buf, err := l.Listen(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if len(buf.Data) != 2*chunkBytes {
		t.Errorf("len = %d, want %d", len(buf.Data), 2*chunkBytes)
	}
	if _, err := l.Listen(context.Background(), time.Second); !errors.Is(err, io.EOF) {
		t.Errorf("second Listen err = %v, want io.EOF", err)
	}
}

func TestListener_PhraseLimit(t *testing.T) {
	r := &mock.ChunkReader{Chunks: script(strings.Repeat("L", 10))}
	l := mic.NewListener(r, mic.WithPhraseLimit(300*time.Millisecond))

	buf, err := l.Listen(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if len(buf.Data) != 3*chunkBytes {
		t.Errorf("len = %d, want %d", len(buf.Data), 3*chunkBytes)
	}
}

func TestListener_CustomPause(t *testing.T) {
	r := &mock.ChunkReader{Chunks: script("L" + strings.Repeat("_", 10))}
	l := mic.NewListener(r, mic.WithPause(200*time.Millisecond))

	buf, err := l.Listen(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	// Onset + 3 silent chunks (300 ms > 200 ms), all within the kept tail.
	if len(buf.Data) != 4*chunkBytes {
		t.Errorf("len = %d, want %d", len(buf.Data), 4*chunkBytes)
	}
}

func TestListener_Calibrate(t *testing.T) {
	r := &mock.ChunkReader{Chunks: [][]byte{
		tone(1000), tone(1000), tone(1000), tone(1000), tone(1000),
		tone(1000), tone(1000), tone(1000), tone(1000), tone(1000),
	}}
	l := mic.NewListener(r)

	if err := l.Calibrate(context.Background(), time.Second); err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	// 300*0.15 + 1500*0.85
	if got := l.Threshold(); math.Abs(got-1320) > 1 {
		t.Errorf("threshold = %f, want ~1320", got)
	}
	if r.Reads != 10 {
		t.Errorf("reads = %d, want 10", r.Reads)
	}
}

func TestListener_CalibrationRaisesThresholdAboveNoise(t *testing.T) {
	// A room at RMS 1000 stops counting as speech after calibration.
	chunks := make([][]byte, 0, 30)
	for range 30 {
		chunks = append(chunks, tone(1000))
	}
	r := &mock.ChunkReader{Chunks: chunks}
	l := mic.NewListener(r)
	if err := l.Calibrate(context.Background(), 2*time.Second); err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if _, err := l.Listen(context.Background(), 500*time.Millisecond); !errors.Is(err, mic.ErrListenTimeout) {
		t.Errorf("err = %v, want ErrListenTimeout", err)
	}
}

func TestListener_CalibrateFailsOnReaderError(t *testing.T) {
	l := mic.NewListener(&mock.ChunkReader{})
	if err := l.Calibrate(context.Background(), time.Second); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestListener_Cancelled(t *testing.T) {
	l := mic.NewListener(&mock.ChunkReader{Chunks: script("LLLL")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Listen(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestListener_Close(t *testing.T) {
	r := &mock.ChunkReader{Chunks: script("LL")}
	l := mic.NewListener(r)

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if r.Closed != 1 {
		t.Errorf("reader closed %d times, want 1", r.Closed)
	}
	if _, err := l.Listen(context.Background(), time.Second); !errors.Is(err, mic.ErrClosed) {
		t.Errorf("Listen after Close err = %v, want ErrClosed", err)
	}
}

func TestInputOnly(t *testing.T) {
	devices := []mic.Device{
		{Index: 0, Name: "speakers", MaxInputChannels: 0},
		{Index: 1, Name: "usb mic", MaxInputChannels: 1},
		{Index: 2, Name: "webcam", MaxInputChannels: 2},
	}
	got := mic.InputOnly(devices)
	if len(got) != 2 || got[0].Index != 1 || got[1].Index != 2 {
		t.Errorf("InputOnly = %+v", got)
	}
	if len(devices) != 3 || devices[0].Name != "speakers" {
		t.Error("InputOnly modified its input")
	}
}
