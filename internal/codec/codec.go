// Package codec implements §4.1: stateless μ-law↔PCM16 conversion and
// 8kHz↔16kHz/24kHz sample-rate conversion. Every function here is pure —
// no package-level state, no hidden allocation behind globals, deterministic
// for a given input.
package codec

import "fmt"

// ErrTruncatedFrame is returned when a PCM16LE byte slice has an odd length
// (not a whole number of 16-bit samples).
var ErrTruncatedFrame = fmt.Errorf("truncated PCM frame")

// MulawToPCM16 expands 8kHz μ-law audio to 16kHz linear PCM16LE, per
// §4.1's mulaw8k_to_pcm16_16k. This is the InputFlow-side conversion: every
// inbound telephony frame passes through here before reaching ModelDriver.
func MulawToPCM16(mulaw []byte) ([]byte, error) {
	pcm8k := ulawDecode(mulaw)
	samples8k := pcm16BytesToInt16(pcm8k)
	samples16k := resample(samples8k, 8000, 16000)
	return int16ToPCM16Bytes(samples16k), nil
}

// PCM16ToMulaw downsamples 16kHz or 24kHz linear PCM16LE audio to 8kHz and
// μ-law-compresses it, per §4.1's pcm16_any_to_mulaw8k. This is the
// OutputPacer-side conversion: every assistant audioOutput event passes
// through here before being enqueued for pacing.
func PCM16ToMulaw(pcm16le []byte, inputRate int) ([]byte, error) {
	if len(pcm16le)%2 != 0 {
		return nil, ErrTruncatedFrame
	}
	if inputRate != 16000 && inputRate != 24000 {
		return nil, fmt.Errorf("unsupported input rate %d (want 16000 or 24000)", inputRate)
	}
	samples := pcm16BytesToInt16(pcm16le)
	samples8k := resample(samples, inputRate, 8000)
	pcm8k := int16ToPCM16Bytes(samples8k)
	return ulawEncode(pcm8k), nil
}
