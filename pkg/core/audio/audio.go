// Package audio implements the telephony-side audio path: G.711 μ-law
// transcoding and the paced downlink frame buffer that feeds the RTP
// transmitter.
package audio

import (
	"math"
	"time"
)

// Telephony framing for G.711 μ-law at 8kHz mono: one frame is 20ms.
const (
	SampleRate    = 8000
	FrameBytes    = 160
	FrameDuration = 20 * time.Millisecond

	// UlawSilence is the μ-law code for a near-zero sample.
	UlawSilence byte = 0x7F
)

// SilenceFrame returns a fresh frame of μ-law silence.
func SilenceFrame() []byte {
	frame := make([]byte, FrameBytes)
	for i := range frame {
		frame[i] = UlawSilence
	}
	return frame
}

// RMSEnergy computes the root-mean-square energy of 16-bit signed
// little-endian PCM, normalized to 0.0..1.0. Used for uplink silence
// gating so pure line noise is not streamed to the model.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// PeakAmplitude returns the maximum absolute amplitude in the PCM data,
// normalized to 0.0..1.0.
func PeakAmplitude(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	var maxAbs float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// Use float64 to avoid overflow when negating -32768
		abs := math.Abs(float64(sample))
		if abs > maxAbs {
			maxAbs = abs
		}
	}

	return maxAbs / 32768.0
}
