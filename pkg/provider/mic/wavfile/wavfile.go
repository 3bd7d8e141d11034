// Package wavfile replays a WAV file as a microphone source and records
// segments back to WAV files.
//
// Replay is useful for running the live pipeline against a recording: the
// file is decoded up front and served in fixed-size chunks, optionally paced
// at real-time speed. The source reports io.EOF once the file is exhausted.
package wavfile

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/mic"
)

const defaultChunkMs = 100

var (
	_ mic.ChunkReader = (*Reader)(nil)
	_ mic.Opener      = (*Opener)(nil)
)

// Reader serves the decoded PCM of one WAV file in chunks.
type Reader struct {
	pcm      []byte
	format   audio.Format
	chunk    int
	realtime bool
	off      int
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithChunkMs sets the chunk duration. Defaults to 100 ms.
func WithChunkMs(ms int) ReaderOption {
	return func(r *Reader) {
		if ms > 0 {
			r.chunk = audio.BytesFor(r.format.SampleRate, ms) * r.format.Channels
		}
	}
}

// WithRealtime paces ReadChunk so that each chunk takes as long as it plays.
func WithRealtime(on bool) ReaderOption {
	return func(r *Reader) { r.realtime = on }
}

// Open decodes the 16-bit PCM WAV file at path.
func Open(path string, opts ...ReaderOption) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %q: %w", path, err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("wavfile: %q is not a valid WAV file", path)
	}
	if d.BitDepth != 16 {
		return nil, fmt.Errorf("wavfile: %q has %d-bit samples, only 16-bit PCM is supported", path, d.BitDepth)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavfile: decode %q: %w", path, err)
	}

	r := &Reader{
		pcm: intsToPCM(buf.Data),
		format: audio.Format{
			SampleRate: buf.Format.SampleRate,
			Channels:   buf.Format.NumChannels,
		},
	}
	r.chunk = audio.BytesFor(r.format.SampleRate, defaultChunkMs) * r.format.Channels
	for _, o := range opts {
		o(r)
	}
	if r.chunk <= 0 {
		return nil, fmt.Errorf("wavfile: %q has invalid format %s", path, r.format)
	}
	return r, nil
}

// Duration returns the playback length of the whole file.
func (r *Reader) Duration() time.Duration {
	return audio.DurationOf(len(r.pcm)/r.format.Channels, r.format.SampleRate)
}

// ReadChunk implements mic.ChunkReader. The final chunk may be short.
func (r *Reader) ReadChunk(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.off >= len(r.pcm) {
		return nil, io.EOF
	}
	end := min(r.off+r.chunk, len(r.pcm))
	chunk := r.pcm[r.off:end]
	r.off = end

	if r.realtime {
		d := audio.DurationOf(len(chunk)/r.format.Channels, r.format.SampleRate)
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return chunk, nil
}

// Format implements mic.ChunkReader.
func (r *Reader) Format() audio.Format { return r.format }

// Close implements mic.ChunkReader.
func (r *Reader) Close() error { return nil }

// Opener opens Path as a mic.Source, ignoring the device index.
type Opener struct {
	Path            string
	Realtime        bool
	ReaderOptions   []ReaderOption
	ListenerOptions []mic.ListenerOption
}

// Open implements mic.Opener.
func (o *Opener) Open(_ context.Context, _ int) (mic.Source, error) {
	opts := append([]ReaderOption{WithRealtime(o.Realtime)}, o.ReaderOptions...)
	r, err := Open(o.Path, opts...)
	if err != nil {
		return nil, err
	}
	return mic.NewListener(r, o.ListenerOptions...), nil
}

func intsToPCM(samples []int) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}

func pcmToInts(pcm []byte) []int {
	samples := audio.Samples(pcm)
	out := make([]int, len(samples))
	for i, s := range samples {
		out[i] = int(s)
	}
	return out
}

// Recorder stores segments as numbered WAV files in a directory.
type Recorder struct {
	dir        string
	sampleRate int

	mu  sync.Mutex
	seq int
}

// NewRecorder creates dir if needed and returns a Recorder writing mono
// 16-bit files at sampleRate.
func NewRecorder(dir string, sampleRate int) (*Recorder, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("wavfile: invalid sample rate %d", sampleRate)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wavfile: create recording dir: %w", err)
	}
	return &Recorder{dir: dir, sampleRate: sampleRate}, nil
}

// Record writes seg to the next file and returns its path.
func (r *Recorder) Record(seg audio.Segment) (string, error) {
	r.mu.Lock()
	r.seq++
	n := r.seq
	r.mu.Unlock()

	name := fmt.Sprintf("segment-%05d-%dms.wav", n, seg.Start.Milliseconds())
	path := filepath.Join(r.dir, name)
	if err := WriteFile(path, seg.Data, r.sampleRate); err != nil {
		return "", err
	}
	return path, nil
}

// WriteFile writes mono 16-bit pcm to path as a WAV file.
func WriteFile(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("wavfile: create %q: %w", path, err)
	}

	e := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	werr := e.Write(&goaudio.IntBuffer{
		Data: pcmToInts(pcm),
		Format: &goaudio.Format{
			NumChannels: 1,
			SampleRate:  sampleRate,
		},
		SourceBitDepth: 16,
	})
	cerr := e.Close()
	ferr := f.Close()
	switch {
	case werr != nil:
		return fmt.Errorf("wavfile: write %q: %w", path, werr)
	case cerr != nil:
		return fmt.Errorf("wavfile: finalize %q: %w", path, cerr)
	case ferr != nil:
		return fmt.Errorf("wavfile: close %q: %w", path, ferr)
	}
	return nil
}
