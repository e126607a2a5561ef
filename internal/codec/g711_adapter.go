package codec

import (
	"encoding/binary"

	"github.com/zaf/g711"
)

// The g711 package (a direct teacher dependency) operates on linear PCM as
// []int16; this file is the only place that touches its API, so a signature
// drift is a one-file fix.

func pcm16BytesToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

func int16ToPCM16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// ulawDecode expands μ-law encoded bytes to PCM16LE bytes.
func ulawDecode(ulaw []byte) []byte {
	samples := g711.DecodeUlaw(ulaw)
	return int16ToPCM16Bytes(samples)
}

// ulawEncode compresses PCM16LE bytes to μ-law encoded bytes.
func ulawEncode(pcm []byte) []byte {
	return g711.EncodeUlaw(pcm16BytesToInt16(pcm))
}
