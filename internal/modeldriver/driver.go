package modeldriver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rapidaai/voicebridge/internal/bridgeerr"
	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/modelevents"
	"github.com/rapidaai/voicebridge/internal/modelstream"
)

// outboundJob is one item queued for the single-writer FIFO.
type outboundJob struct {
	ev   modelevents.RequestEvent
	done chan error // nil for fire-and-forget sends
}

// Config bounds the driver's queues per §5.
type Config struct {
	AudioQueueCapacity    int           // default 100 audioInput events (~2s of 20ms 16kHz PCM16 mono chunks)
	PriorityQueueCapacity int           // default 32
	InboundMailboxSize    int           // default 256
	AckTimeout            time.Duration // default 2s; stored, not consulted by RunOutbound
}

func (c Config) withDefaults() Config {
	if c.AudioQueueCapacity <= 0 {
		c.AudioQueueCapacity = 100
	}
	if c.PriorityQueueCapacity <= 0 {
		c.PriorityQueueCapacity = 32
	}
	if c.InboundMailboxSize <= 0 {
		c.InboundMailboxSize = 256
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 2 * time.Second
	}
	return c
}

// Driver is §4.3 ModelDriver: the single owner of a model stream for one
// session. It serializes outbound RequestEvents through a priority lane
// (lifecycle/tool events) and an audio lane (audioInput), validates them
// against the outbound grammar, and demultiplexes inbound ResponseEvents
// into typed channels so that handler execution never blocks the stream
// reader — mirroring the teacher's channel/base package's separation of a
// transport reader goroutine from per-kind consumers.
type Driver struct {
	cfg    Config
	stream modelstream.Stream
	logger logging.Logger

	grammar *grammar

	audioCh    chan outboundJob
	priorityCh chan outboundJob

	// Inbound demultiplexed channels, one per response category. Closed on
	// terminal stream end.
	TextOut       chan modelevents.ResponseEvent
	AudioOut      chan modelevents.ResponseEvent
	ToolUseOut    chan modelevents.ResponseEvent
	LifecycleOut  chan modelevents.ResponseEvent
	ErrorOut      chan modelevents.ResponseEvent

	mu       sync.Mutex
	stopped  bool
	stopOnce sync.Once
	done     chan struct{}
}

// New constructs a Driver bound to an already-open Stream.
func New(stream modelstream.Stream, cfg Config, logger logging.Logger) *Driver {
	cfg = cfg.withDefaults()
	return &Driver{
		cfg:          cfg,
		stream:       stream,
		logger:       logger,
		grammar:      newGrammar(),
		audioCh:      make(chan outboundJob, cfg.AudioQueueCapacity),
		priorityCh:   make(chan outboundJob, cfg.PriorityQueueCapacity),
		TextOut:      make(chan modelevents.ResponseEvent, cfg.InboundMailboxSize),
		AudioOut:     make(chan modelevents.ResponseEvent, cfg.InboundMailboxSize),
		ToolUseOut:   make(chan modelevents.ResponseEvent, cfg.InboundMailboxSize),
		LifecycleOut: make(chan modelevents.ResponseEvent, cfg.InboundMailboxSize),
		ErrorOut:     make(chan modelevents.ResponseEvent, cfg.InboundMailboxSize),
		done:         make(chan struct{}),
	}
}

// Send enqueues a RequestEvent for the outbound writer. audioInput goes
// through the bounded audio lane; every other kind goes through the small
// priority lane so lifecycle events are never starved behind audio (§5).
// Send blocks until the writer has accepted the event or ctx is done.
func (d *Driver) Send(ctx context.Context, ev modelevents.RequestEvent) error {
	job := outboundJob{ev: ev, done: make(chan error, 1)}
	lane := d.priorityCh
	if ev.Kind == modelevents.ReqAudioInput {
		lane = d.audioCh
	}
	select {
	case lane <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return fmt.Errorf("modeldriver: stream closed")
	}
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.done:
		return fmt.Errorf("modeldriver: stream closed")
	}
}

// RunOutbound is the single-writer FIFO: priority events are always
// preferred over audio events when both are ready, matching §5's
// requirement that lifecycle events cannot be starved. It must run in its
// own task for the lifetime of the session.
func (d *Driver) RunOutbound(ctx context.Context) error {
	for {
		var job outboundJob
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job = <-d.priorityCh:
		default:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case job = <-d.priorityCh:
			case job = <-d.audioCh:
			}
		}

		if err := d.grammar.advance(job.ev); err != nil {
			d.grammar.fail()
			if job.done != nil {
				job.done <- err
			}
			return err
		}
		if job.ev.Kind == modelevents.ReqSessionStart {
			// No ack timeout is applied: sessionStart is written below like
			// any other event, without waiting for an acknowledgement.
		}
		err := d.stream.Send(ctx, job.ev)
		if job.done != nil {
			job.done <- err
		}
		if err != nil {
			d.grammar.fail()
			return bridgeerr.New(bridgeerr.KindTransientTransport, "model stream send failed", err)
		}
		if job.ev.Kind == modelevents.ReqSessionEnd {
			return nil
		}
	}
}

// RunInbound reads framed ResponseEvents from the stream and dispatches
// them to the typed channel for their category. Each channel is buffered
// per InboundMailboxSize, so slow consumers do not stall the reader until
// a buffer fills; once a category's channel is full, the reader blocks on
// it until that consumer drains it or ctx is done.
func (d *Driver) RunInbound(ctx context.Context) error {
	defer d.closeOutputs()
	for {
		ev, err := d.stream.Recv(ctx)
		if err != nil {
			return bridgeerr.New(bridgeerr.KindTransientTransport, "model stream recv failed", err)
		}
		if ev.Kind == modelevents.RespToolUse {
			d.grammar.observeToolUse(ev.ToolUseID)
		}
		dest := d.routeFor(ev.Kind)
		select {
		case dest <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
		if ev.Kind == modelevents.RespCompletionEnd {
			d.grammar.terminal()
			return nil
		}
	}
}

func (d *Driver) routeFor(kind modelevents.ResponseKind) chan modelevents.ResponseEvent {
	switch kind {
	case modelevents.RespTextOutput:
		return d.TextOut
	case modelevents.RespAudioOutput:
		return d.AudioOut
	case modelevents.RespToolUse:
		return d.ToolUseOut
	case modelevents.RespError:
		return d.ErrorOut
	default:
		return d.LifecycleOut
	}
}

func (d *Driver) closeOutputs() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	close(d.TextOut)
	close(d.AudioOut)
	close(d.ToolUseOut)
	close(d.LifecycleOut)
	close(d.ErrorOut)
}

// Close tears down the stream and unblocks any pending Send calls.
// Idempotent.
func (d *Driver) Close() error {
	var err error
	d.stopOnce.Do(func() {
		close(d.done)
		err = d.stream.Close()
		if d.logger != nil {
			d.logger.Infow("model driver closed")
		}
	})
	return err
}

// ObserveToolUse exposes grammar bookkeeping to callers that dispatch
// toolUse events themselves rather than via RunInbound (tests, mainly).
func (d *Driver) ObserveToolUse(id string) { d.grammar.observeToolUse(id) }
