// Package pacer implements §4.2 OutputPacer: a per-session frame-paced
// sender of assistant audio to the telephony peer, decoupled from the
// faster-than-real-time rate at which the model emits audio. The ticking
// and buffer-accumulation shape follows the teacher's
// channel/webrtc/base_streamer.go bufferAndSendOutput/clearOutputBuffer
// pattern, generalized from 20ms Opus/48kHz frames to 20ms μ-law/8kHz
// 160-byte frames and from a push model to a pull-on-tick model (the
// telephony peer, not the model, sets the pace here).
package pacer

import (
	"encoding/base64"
	"sync"
	"time"

	"github.com/rapidaai/voicebridge/internal/logging"
)

// Sender is the telephony transport surface the pacer writes to. It is
// intentionally narrow — SessionCoordinator supplies a thin adapter over
// the WebSocket connection.
type Sender interface {
	// Writable reports whether the transport can currently accept a
	// write without blocking indefinitely.
	Writable() bool
	// SendMedia emits one telephony "media" control message carrying the
	// base64-encoded frame and the given outbound sequence number.
	SendMedia(seqNumber uint64, base64Payload string) error
	// SendMark emits one telephony "mark" control message.
	SendMark(token string) error
}

// Config configures pacing timing and buffer limits (§6 pacer.*).
type Config struct {
	Quantum     time.Duration // pacing quantum, default 20ms
	Tick        time.Duration // ticker interval, default 5ms (<= Quantum)
	MaxBuffer   time.Duration // max buffered duration, default 3000ms
	FrameBytes  int           // bytes per quantum at 8kHz μ-law, 160
}

// silenceByte is μ-law silence (value 0xFF per §4.2 Flush).
const silenceByte = 0xFF

type queued struct {
	isMark bool
	mark   string
	frame  []byte
}

// Pacer is §4.2's OutputPacer. One instance per session.
type Pacer struct {
	cfg    Config
	sender Sender
	logger logging.Logger

	mu       sync.Mutex
	buf      []queued
	bufMs    float64
	dropped  uint64
	seq      uint64
	markSeq  uint64
	stopped  bool

	accum []byte // sub-quantum leftover from the last Enqueue, if any

	stopOnce sync.Once
	done     chan struct{}
}

// New constructs a Pacer. It does not start ticking until Run is called.
func New(cfg Config, sender Sender, logger logging.Logger) *Pacer {
	if cfg.Quantum <= 0 {
		cfg.Quantum = 20 * time.Millisecond
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 5 * time.Millisecond
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = 3000 * time.Millisecond
	}
	if cfg.FrameBytes <= 0 {
		cfg.FrameBytes = 160
	}
	return &Pacer{
		cfg:    cfg,
		sender: sender,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Enqueue appends μ-law audio bytes (any length) to the OutputBuffer. The
// bytes are split into complete pacing-quantum frames (160 bytes each);
// any sub-quantum remainder is held until the next Enqueue or Flush so
// every frame this pacer ever hands to the transport is exactly one
// quantum, per §8's testable property. If enqueuing would push total
// buffered duration past cfg.MaxBuffer, the oldest audio frames are
// dropped (drop-oldest, §3 Invariants) until the buffer is back within
// limit; relative order among survivors is preserved.
func (p *Pacer) Enqueue(mulawBytes []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.accum = append(p.accum, mulawBytes...)
	for len(p.accum) >= p.cfg.FrameBytes {
		frame := make([]byte, p.cfg.FrameBytes)
		copy(frame, p.accum[:p.cfg.FrameBytes])
		p.accum = p.accum[p.cfg.FrameBytes:]
		p.pushLocked(queued{frame: frame})
	}
	p.evictLocked()
}

func (p *Pacer) pushLocked(q queued) {
	p.buf = append(p.buf, q)
	if !q.isMark {
		p.bufMs += float64(p.cfg.Quantum.Milliseconds())
	}
}

func (p *Pacer) evictLocked() {
	maxMs := float64(p.cfg.MaxBuffer.Milliseconds())
	for p.bufMs > maxMs && len(p.buf) > 0 {
		// Drop the oldest *audio* frame; mark sentinels are never dropped —
		// they carry no duration and signal playback completion to the peer.
		idx := -1
		for i, q := range p.buf {
			if !q.isMark {
				idx = i
				break
			}
		}
		if idx == -1 {
			break
		}
		p.buf = append(p.buf[:idx], p.buf[idx+1:]...)
		p.bufMs -= float64(p.cfg.Quantum.Milliseconds())
		p.dropped++
	}
}

// Flush pads any pending sub-quantum remainder with μ-law silence
// (0xFF) up to the pacing quantum, enqueues it, then enqueues a mark
// sentinel so the downstream peer can be told playback has drained.
func (p *Pacer) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if len(p.accum) > 0 {
		padded := make([]byte, p.cfg.FrameBytes)
		copy(padded, p.accum)
		for i := len(p.accum); i < p.cfg.FrameBytes; i++ {
			padded[i] = silenceByte
		}
		p.accum = nil
		p.pushLocked(queued{frame: padded})
	}
	p.markSeq++
	p.pushLocked(queued{isMark: true, mark: markToken(p.markSeq)})
	p.evictLocked()
}

func markToken(n uint64) string {
	const prefix = "bedrock_out_"
	return prefix + itoa(n)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Stop cancels pacing immediately: remaining frames are dropped without a
// Flush. Idempotent — a second call is a no-op.
func (p *Pacer) Stop(reason string) {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		p.stopped = true
		p.buf = nil
		p.bufMs = 0
		p.mu.Unlock()
		close(p.done)
		if p.logger != nil {
			p.logger.Infow("pacer stopped", "reason", reason)
		}
	})
}

// DropCount returns the number of audio frames dropped so far due to
// overflow (§8 testable property).
func (p *Pacer) DropCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// SequenceNumber returns the last emitted outbound sequence number.
func (p *Pacer) SequenceNumber() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

// Run drives the pacing loop until ctx-equivalent Stop() is called. It
// blocks the calling goroutine — SessionCoordinator runs it inside its
// errgroup.
func (p *Pacer) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(p.cfg.Tick)
	defer ticker.Stop()

	var elapsed time.Duration
	for {
		select {
		case <-stop:
			return
		case <-p.done:
			return
		case <-ticker.C:
			elapsed += p.cfg.Tick
			for elapsed >= p.cfg.Quantum {
				elapsed -= p.cfg.Quantum
				p.tick()
			}
		}
	}
}

// tick emits at most one queued item per pacing quantum (§4.2 steps 1-4).
func (p *Pacer) tick() {
	p.mu.Lock()
	if p.stopped || len(p.buf) == 0 {
		p.mu.Unlock()
		return
	}
	if !p.sender.Writable() {
		// Do not accumulate a send backlog beyond the buffer; just skip.
		p.mu.Unlock()
		return
	}
	item := p.buf[0]
	p.buf = p.buf[1:]
	var seq uint64
	if !item.isMark {
		p.bufMs -= float64(p.cfg.Quantum.Milliseconds())
		p.seq++
		seq = p.seq
	}
	p.mu.Unlock()

	if item.isMark {
		if err := p.sender.SendMark(item.mark); err != nil && p.logger != nil {
			p.logger.Warnw("mark send failed", "error", err.Error())
		}
		return
	}

	payload := base64.StdEncoding.EncodeToString(item.frame)
	if err := p.sender.SendMedia(seq, payload); err != nil && p.logger != nil {
		// Transport write failure: log and drop the frame. Repeated
		// failures do not tear down the session by themselves (§4.2).
		p.logger.Warnw("media send failed", "error", err.Error(), "seq", seq)
	}
}
