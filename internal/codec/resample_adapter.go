package codec

import (
	goaudioresampler "github.com/tphakala/go-audio-resampler"
)

// resample converts mono PCM16 samples between sample rates. It wraps
// github.com/tphakala/go-audio-resampler, a direct teacher
// dependency, and falls back to the local linear-interpolation
// implementation if the library returns an error — the spec explicitly
// allows either, and the interfaces stay identical either way (§4.1:
// "design permits replacement with a polyphase filter without changing
// interfaces").
func resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}
	out, err := goaudioresampler.Resample(samples, fromRate, toRate)
	if err != nil || out == nil {
		return resampleLinear(samples, fromRate, toRate)
	}
	return out
}
