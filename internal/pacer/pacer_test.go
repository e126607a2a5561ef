package pacer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu        sync.Mutex
	writable  bool
	media     []uint64
	marks     []string
	failWrite bool
}

func newFakeSender() *fakeSender { return &fakeSender{writable: true} }

func (f *fakeSender) Writable() bool { return f.writable }

func (f *fakeSender) SendMedia(seq uint64, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrite {
		return assertErr
	}
	f.media = append(f.media, seq)
	return nil
}

func (f *fakeSender) SendMark(token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks = append(f.marks, token)
	return nil
}

func (f *fakeSender) snapshot() ([]uint64, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	media := make([]uint64, len(f.media))
	copy(media, f.media)
	marks := make([]string, len(f.marks))
	copy(marks, f.marks)
	return media, marks
}

var assertErr = &sendError{}

type sendError struct{}

func (*sendError) Error() string { return "send failed" }

func testConfig() Config {
	return Config{
		Quantum:    20 * time.Millisecond,
		Tick:       5 * time.Millisecond,
		MaxBuffer:  3000 * time.Millisecond,
		FrameBytes: 160,
	}
}

func runFor(p *Pacer, d time.Duration) {
	stop := make(chan struct{})
	go p.Run(stop)
	time.Sleep(d)
	close(stop)
	// allow the goroutine to observe the close
	time.Sleep(5 * time.Millisecond)
}

func TestPacer_EmitsExactQuantumFrames(t *testing.T) {
	sender := newFakeSender()
	p := New(testConfig(), sender, nil)

	// One second of silence: 50 frames of 160 bytes each.
	p.Enqueue(make([]byte, 160*50))

	runFor(p, 1100*time.Millisecond)

	media, _ := sender.snapshot()
	assert.InDelta(t, 50, len(media), 3, "expected ~50 frames/sec")
}

func TestPacer_SequenceNumbersStrictlyIncreasing(t *testing.T) {
	sender := newFakeSender()
	p := New(testConfig(), sender, nil)
	p.Enqueue(make([]byte, 160*10))

	runFor(p, 250*time.Millisecond)

	media, _ := sender.snapshot()
	require.NotEmpty(t, media)
	for i, seq := range media {
		assert.Equal(t, uint64(i+1), seq)
	}
}

func TestPacer_FlushPadsAndEmitsMark(t *testing.T) {
	sender := newFakeSender()
	p := New(testConfig(), sender, nil)

	// Sub-quantum remainder: 100 bytes, less than one 160-byte frame.
	p.Enqueue(make([]byte, 100))
	p.Flush()

	runFor(p, 60*time.Millisecond)

	media, marks := sender.snapshot()
	assert.NotEmpty(t, media)
	require.Len(t, marks, 1)
	assert.Contains(t, marks[0], "bedrock_out_")
}

func TestPacer_OverflowDropsOldestAndBoundsBuffer(t *testing.T) {
	sender := newFakeSender()
	cfg := testConfig()
	p := New(cfg, sender, nil)

	// 6s of audio enqueued "instantly" (faster than real time), cap is 3s.
	p.Enqueue(make([]byte, 160*300))

	expectedFrames := uint64(cfg.MaxBuffer / cfg.Quantum)
	assert.Equal(t, uint64(300)-expectedFrames, p.DropCount())
}

func TestPacer_StopIsIdempotentAndStopsEmission(t *testing.T) {
	sender := newFakeSender()
	p := New(testConfig(), sender, nil)
	p.Enqueue(make([]byte, 160*100))

	p.Stop("test")
	p.Stop("test") // must not panic or double-close

	runFor(p, 60*time.Millisecond)

	media, _ := sender.snapshot()
	assert.Empty(t, media, "no audio should be emitted after Stop")
}

func TestPacer_SkipsTickWhenTransportNotWritable(t *testing.T) {
	sender := newFakeSender()
	sender.writable = false
	p := New(testConfig(), sender, nil)
	p.Enqueue(make([]byte, 160*10))

	runFor(p, 60*time.Millisecond)

	media, _ := sender.snapshot()
	assert.Empty(t, media)
}
