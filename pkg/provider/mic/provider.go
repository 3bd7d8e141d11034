// Package mic defines the audio capture side of the pipeline: a Source that
// yields one bounded window of PCM per Listen call, device enumeration, and
// scoped acquisition of a source by device index.
//
// Backends deliver raw chunks through the ChunkReader interface; Listener
// turns any ChunkReader into a Source by waiting for an energy onset and
// recording until the speaker pauses.
package mic

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// ErrListenTimeout is returned by Source.Listen when no audio onset was
// detected within the timeout. It is the normal "nothing happened" result of
// a capture cycle, not a failure.
var ErrListenTimeout = errors.New("mic: no audio within listen timeout")

// ErrClosed is returned by operations on a closed source.
var ErrClosed = errors.New("mic: source closed")

// Buffer is one captured window of interleaved 16-bit little-endian PCM.
type Buffer struct {
	Data   []byte
	Format audio.Format
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.Format.Channels <= 0 {
		return 0
	}
	return audio.DurationOf(len(b.Data)/b.Format.Channels, b.Format.SampleRate)
}

// Source is an open audio input. A Source is owned by a single goroutine.
type Source interface {
	// Calibrate samples ambient noise for d and adjusts the onset threshold.
	Calibrate(ctx context.Context, d time.Duration) error

	// Listen waits up to timeout for audio onset, then records until the
	// speaker pauses. It returns ErrListenTimeout when nothing was heard,
	// io.EOF when a finite source is exhausted, and ctx.Err() when cancelled.
	Listen(ctx context.Context, timeout time.Duration) (Buffer, error)

	// Format reports the format of the buffers Listen returns.
	Format() audio.Format

	// Close releases the device. Calling Close more than once is safe.
	Close() error
}

// Device describes one capture device.
type Device struct {
	// Index is the value passed to Opener.Open to select this device.
	Index int

	// Name is the human-readable device name reported by the host API.
	Name string

	// MaxInputChannels is the number of input channels the device offers.
	MaxInputChannels int

	// DefaultSampleRate is the device's preferred sample rate in Hz.
	DefaultSampleRate float64
}

// DeviceEnumerator lists the available capture devices.
type DeviceEnumerator interface {
	Devices() ([]Device, error)
}

// Opener acquires a Source for a device. An index below zero selects the
// system default input. The caller must Close the returned Source.
type Opener interface {
	Open(ctx context.Context, deviceIndex int) (Source, error)
}

// OpenerFunc adapts an ordinary function to the Opener interface.
type OpenerFunc func(ctx context.Context, deviceIndex int) (Source, error)

// Open calls f(ctx, deviceIndex).
func (f OpenerFunc) Open(ctx context.Context, deviceIndex int) (Source, error) {
	return f(ctx, deviceIndex)
}

// ChunkReader is a blocking supplier of fixed-size PCM chunks, implemented
// by capture backends.
type ChunkReader interface {
	// ReadChunk blocks until the next chunk is available. It returns io.EOF
	// when a finite input is exhausted.
	ReadChunk(ctx context.Context) ([]byte, error)

	// Format is the format of every chunk.
	Format() audio.Format

	// Close stops the backend.
	Close() error
}

// InputOnly filters devices down to those with at least one input channel.
func InputOnly(devices []Device) []Device {
	out := devices[:0:0]
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			out = append(out, d)
		}
	}
	return out
}
