package codec

// resampleLinear performs linear-interpolation sample-rate conversion on
// 16-bit mono PCM, satisfying §4.1's "linear interpolation sufficient"
// contract. It is deliberately a free function, not a method on an
// injected interface, so resample (resample_adapter.go) can wrap either
// this or the tphakala/go-audio-resampler implementation behind the same
// call shape without the caller caring which is active.
func resampleLinear(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(samples)) / ratio)
	if outLen < 1 {
		outLen = 1
	}
	out := make([]int16, outLen)
	for i := range out {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		a := float64(samples[idx])
		b := float64(samples[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}
