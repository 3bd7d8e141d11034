// Package portaudio provides a microphone source backed by PortAudio (CGO).
//
// The PortAudio library must be installed (libportaudio2 / portaudio19-dev on
// Debian, portaudio via Homebrew). Call Initialize once at startup and the
// returned terminate function on exit; Devices and Opener.Open are only valid
// in between.
package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/mic"
)

// defaultFramesPerBuffer gives 64 ms chunks at 16 kHz.
const defaultFramesPerBuffer = 1024

var (
	_ mic.DeviceEnumerator = Enumerator{}
	_ mic.Opener           = (*Opener)(nil)
	_ mic.ChunkReader      = (*streamReader)(nil)
)

// Initialize initialises the PortAudio library and returns a function that
// terminates it.
func Initialize() (terminate func() error, err error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	return func() error {
		if err := portaudio.Terminate(); err != nil {
			return fmt.Errorf("portaudio: terminate: %w", err)
		}
		return nil
	}, nil
}

// Enumerator lists PortAudio devices. Device indexes are positions in the
// list PortAudio reports, which is also what Opener.Open expects.
type Enumerator struct{}

// Devices implements mic.DeviceEnumerator. Output-only devices are included;
// filter with mic.InputOnly.
func (Enumerator) Devices() ([]mic.Device, error) {
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	out := make([]mic.Device, len(infos))
	for i, d := range infos {
		out[i] = mic.Device{
			Index:             i,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
		}
	}
	return out, nil
}

// Opener opens PortAudio input streams wrapped in a mic.Listener.
type Opener struct {
	// SampleRate is the capture rate in Hz. Zero uses the device default.
	SampleRate int

	// Channels is the number of input channels. Zero means mono.
	Channels int

	// FramesPerBuffer is the number of sample frames per chunk. Zero means 1024.
	FramesPerBuffer int

	// ListenerOptions configure the returned mic.Listener.
	ListenerOptions []mic.ListenerOption

	// Logger receives stream diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// Open implements mic.Opener. A negative index opens the default input.
func (o *Opener) Open(_ context.Context, deviceIndex int) (mic.Source, error) {
	dev, err := lookupDevice(deviceIndex)
	if err != nil {
		return nil, err
	}
	if dev.MaxInputChannels <= 0 {
		return nil, fmt.Errorf("portaudio: device %q has no input channels", dev.Name)
	}

	channels := max(o.Channels, 1)
	if channels > dev.MaxInputChannels {
		return nil, fmt.Errorf("portaudio: device %q offers %d input channels, %d requested",
			dev.Name, dev.MaxInputChannels, channels)
	}
	rate := o.SampleRate
	if rate <= 0 {
		rate = int(dev.DefaultSampleRate)
	}
	frames := o.FramesPerBuffer
	if frames <= 0 {
		frames = defaultFramesPerBuffer
	}

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = channels
	params.SampleRate = float64(rate)
	params.FramesPerBuffer = frames

	buf := make([]int16, frames*channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start stream on %q: %w", dev.Name, err)
	}

	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("portaudio: input stream started",
		"device", dev.Name,
		"sample_rate", rate,
		"channels", channels,
		"frames_per_buffer", frames,
	)

	r := &streamReader{
		stream: stream,
		buf:    buf,
		format: audio.Format{SampleRate: rate, Channels: channels},
		logger: logger,
	}
	return mic.NewListener(r, o.ListenerOptions...), nil
}

func lookupDevice(index int) (*portaudio.DeviceInfo, error) {
	if index < 0 {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input device: %w", err)
		}
		return dev, nil
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	if index >= len(infos) {
		return nil, fmt.Errorf("portaudio: device index %d out of range (have %d devices)", index, len(infos))
	}
	return infos[index], nil
}

// streamReader adapts a blocking PortAudio input stream to mic.ChunkReader.
type streamReader struct {
	stream *portaudio.Stream
	buf    []int16
	format audio.Format
	logger *slog.Logger

	overflowOnce sync.Once
	closeOnce    sync.Once
	closeErr     error
}

// ReadChunk blocks for one buffer of audio. PortAudio reads cannot be
// interrupted, so cancellation is observed between chunks.
func (r *streamReader) ReadChunk(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := r.stream.Read(); err != nil {
		if !errors.Is(err, portaudio.InputOverflowed) {
			return nil, fmt.Errorf("portaudio: read: %w", err)
		}
		r.overflowOnce.Do(func() {
			r.logger.Warn("portaudio: input overflowed, audio was dropped")
		})
	}
	return int16ToBytes(r.buf), nil
}

func (r *streamReader) Format() audio.Format { return r.format }

func (r *streamReader) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = errors.Join(r.stream.Stop(), r.stream.Close())
	})
	return r.closeErr
}

// int16ToBytes copies samples into a fresh little-endian byte slice.
func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
