package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulawToPCM16_DoublesSampleCount(t *testing.T) {
	mulaw := make([]byte, 160) // 20ms @ 8kHz
	for i := range mulaw {
		mulaw[i] = 0xFF // silence
	}

	pcm, err := MulawToPCM16(mulaw)
	require.NoError(t, err)

	// 8kHz -> 16kHz doubles the sample count; PCM16LE is 2 bytes/sample.
	assert.Equal(t, len(mulaw)*2*2, len(pcm))
}

func TestPCM16ToMulaw_TruncatedFrame(t *testing.T) {
	_, err := PCM16ToMulaw([]byte{0x01}, 16000)
	assert.ErrorIs(t, err, ErrTruncatedFrame)
}

func TestPCM16ToMulaw_RejectsUnsupportedRate(t *testing.T) {
	pcm := make([]byte, 640)
	_, err := PCM16ToMulaw(pcm, 8000)
	assert.Error(t, err)
}

func TestPCM16ToMulaw_HalvesSampleCount(t *testing.T) {
	pcm16k := make([]byte, 640) // 20ms @ 16kHz, 2 bytes/sample
	mulaw, err := PCM16ToMulaw(pcm16k, 16000)
	require.NoError(t, err)

	// 16kHz -> 8kHz halves the sample count; μ-law is 1 byte/sample.
	assert.Equal(t, len(pcm16k)/2/2, len(mulaw))
}

// TestRoundTrip_PreservesFrameCount checks the §8 testable property:
// pcm16_any_to_mulaw8k(mulaw8k_to_pcm16_16k(x)) preserves the 8k->16k->8k
// frame count (1:1 byte-count ratio on the μ-law side).
func TestRoundTrip_PreservesFrameCount(t *testing.T) {
	mulaw := make([]byte, 160)
	for i := range mulaw {
		mulaw[i] = byte(i % 256)
	}

	pcm16k, err := MulawToPCM16(mulaw)
	require.NoError(t, err)

	roundTripped, err := PCM16ToMulaw(pcm16k, 16000)
	require.NoError(t, err)

	assert.Equal(t, len(mulaw), len(roundTripped))
}

func TestPCM16ToMulaw_AcceptsBothInputRates(t *testing.T) {
	for _, rate := range []int{16000, 24000} {
		samplesPerFrame := rate / 50 // 20ms worth
		pcm := make([]byte, samplesPerFrame*2)
		_, err := PCM16ToMulaw(pcm, rate)
		require.NoError(t, err, "rate=%d", rate)
	}
}
