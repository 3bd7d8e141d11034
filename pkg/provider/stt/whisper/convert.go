package whisper

import "github.com/MrWong99/livescribe/pkg/audio"

// pcmScale maps a signed 16-bit sample onto [-1.0, 1.0).
const pcmScale = 1.0 / 32768.0

// pcmToFloat32 converts mono 16-bit PCM into the normalised float32 samples
// whisper.cpp consumes. A trailing odd byte is ignored.
func pcmToFloat32(pcm []byte) []float32 {
	samples := audio.Samples(pcm)
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) * pcmScale
	}
	return out
}
