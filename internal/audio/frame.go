// Package audio defines the value-typed audio frame used across the bridge
// (§3 "Audio frame"). Frames never alias an underlying byte slice owned by a
// transport buffer — every constructor copies.
package audio

import "fmt"

// Tag identifies an audio frame's codec and sample rate.
type Tag int

const (
	TagMulaw8k Tag = iota
	TagPCM16LE8k
	TagPCM16LE16k
	TagPCM16LE24k
)

func (t Tag) String() string {
	switch t {
	case TagMulaw8k:
		return "mulaw@8k"
	case TagPCM16LE8k:
		return "pcm16le@8k"
	case TagPCM16LE16k:
		return "pcm16le@16k"
	case TagPCM16LE24k:
		return "pcm16le@24k"
	default:
		return "unknown"
	}
}

// SampleRate returns the tag's sample rate in Hz.
func (t Tag) SampleRate() int {
	switch t {
	case TagMulaw8k, TagPCM16LE8k:
		return 8000
	case TagPCM16LE16k:
		return 16000
	case TagPCM16LE24k:
		return 24000
	default:
		return 0
	}
}

// BytesPerSample returns 1 for μ-law, 2 for linear16 tags.
func (t Tag) BytesPerSample() int {
	if t == TagMulaw8k {
		return 1
	}
	return 2
}

// Frame is a length-tagged, value-typed byte sequence. Construct with New,
// never by taking the address of a transport read buffer.
type Frame struct {
	Tag   Tag
	Bytes []byte
}

// New copies src into a new Frame so the caller's buffer can be reused or
// mutated afterward without aliasing.
func New(tag Tag, src []byte) Frame {
	cp := make([]byte, len(src))
	copy(cp, src)
	return Frame{Tag: tag, Bytes: cp}
}

// Duration returns how long this frame plays for, given its tag's rate and
// sample width.
func (f Frame) Duration() (milliseconds float64) {
	bps := f.Tag.BytesPerSample()
	rate := f.Tag.SampleRate()
	if bps == 0 || rate == 0 {
		return 0
	}
	samples := float64(len(f.Bytes)) / float64(bps)
	return samples / float64(rate) * 1000
}

func (f Frame) String() string {
	return fmt.Sprintf("Frame{%s, %d bytes}", f.Tag, len(f.Bytes))
}
