package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format describes the sample rate and channel count of an interleaved
// 16-bit PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// FormatConverter brings captured PCM into the pipeline format (Target). It
// logs once on the first format mismatch and once on the first misaligned
// buffer. Create one per capture source; it is not meant to be shared across
// goroutines.
type FormatConverter struct {
	Target Format

	// Logger receives the one-off mismatch warnings. Nil means slog.Default().
	Logger *slog.Logger

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert returns pcm, captured in format from, converted to the target
// format. Channels are averaged down to the target count first, then the
// result is resampled. If from already equals the target, pcm is returned
// unchanged.
//
// A buffer whose length is not a whole number of sample frames is truncated
// to the last complete frame.
func (c *FormatConverter) Convert(pcm []byte, from Format) ([]byte, error) {
	if from.SampleRate <= 0 || from.Channels <= 0 {
		return nil, fmt.Errorf("audio: invalid source format %s", from)
	}
	if c.Target.Channels != 1 && c.Target.Channels != from.Channels {
		return nil, fmt.Errorf("audio: cannot convert %s to %s", from, c.Target)
	}

	frameBytes := from.Channels * BytesPerSample
	if rem := len(pcm) % frameBytes; rem != 0 {
		c.warnedCorrupt.Do(func() {
			c.logger().Warn("audio format converter: truncating misaligned PCM buffer",
				"bytes", len(pcm),
				"format", from.String(),
			)
		})
		pcm = pcm[:len(pcm)-rem]
	}

	if from == c.Target {
		return pcm, nil
	}

	c.warnedMismatch.Do(func() {
		c.logger().Warn("audio format mismatch: converting",
			"from", from.String(),
			"to", c.Target.String(),
		)
	})

	if from.Channels != c.Target.Channels {
		pcm = DownmixMono(pcm, from.Channels)
	}
	if from.SampleRate != c.Target.SampleRate {
		pcm = ResampleMono16(pcm, from.SampleRate, c.Target.SampleRate)
	}
	return pcm, nil
}

func (c *FormatConverter) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// DownmixMono averages every interleaved sample frame of a channels-wide
// buffer into one mono sample. Uses int32 arithmetic so the sum cannot
// overflow before the division.
func DownmixMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := channels * BytesPerSample
	frames := len(pcm) / stride
	out := make([]byte, frames*BytesPerSample)
	for i := range frames {
		var sum int32
		for ch := range channels {
			idx := i*stride + ch*BytesPerSample
			sum += int32(int16(pcm[idx]) | int16(pcm[idx+1])<<8)
		}
		avg := sum / int32(channels)
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// Samples decodes little-endian 16-bit PCM into signed samples. A trailing odd
// byte is ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
