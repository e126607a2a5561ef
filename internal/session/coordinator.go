package session

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/voicebridge/internal/bridgeerr"
	"github.com/rapidaai/voicebridge/internal/codec"
	"github.com/rapidaai/voicebridge/internal/config"
	"github.com/rapidaai/voicebridge/internal/inputflow"
	"github.com/rapidaai/voicebridge/internal/knowledge"
	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/modeldriver"
	"github.com/rapidaai/voicebridge/internal/modelevents"
	"github.com/rapidaai/voicebridge/internal/modelstream"
	"github.com/rapidaai/voicebridge/internal/pacer"
	"github.com/rapidaai/voicebridge/internal/telephony"
	"github.com/rapidaai/voicebridge/internal/toolrunner"
)

// Coordinator is §4.6 SessionCoordinator: it exclusively owns the
// telephony transport, model stream, OutputBuffer, and ToolRunner for one
// call, and runs the five tasks of §4.6 under a shared cancellation token.
type Coordinator struct {
	callID string
	conn   *telephony.Conn
	driver *modeldriver.Driver
	pacer  *pacer.Pacer
	flow   *inputflow.Flow
	runner *toolrunner.Runner
	logger logging.Logger
	reg    *Registry

	cancel context.CancelFunc

	shutdownOnce sync.Once
}

// New wires one session's components per §4.6. The caller has already
// completed the telephony "start" handshake and opened the model stream.
func New(
	callID string,
	conn *telephony.Conn,
	stream modelstream.Stream,
	directory knowledge.Directory,
	retriever knowledge.Retriever,
	cfg *config.Config,
	reg *Registry,
	logger logging.Logger,
) *Coordinator {
	driver := modeldriver.New(stream, modeldriver.Config{
		AckTimeout: cfg.AckTimeout(),
	}, logger)

	p := pacer.New(pacer.Config{
		Quantum:    cfg.QuantumDuration(),
		Tick:       cfg.TickDuration(),
		MaxBuffer:  cfg.MaxBufferDuration(),
		FrameBytes: 160,
	}, conn, logger)

	forwardingMode := inputflow.ForwardingImmediate
	if cfg.Input.ForwardingMode == config.ForwardingCoalesced {
		forwardingMode = inputflow.ForwardingCoalesced
	}
	flow := inputflow.New(driver, directory, inputflow.Config{
		ForwardingMode:    forwardingMode,
		CoalesceMaxChunks: cfg.Input.CoalesceMaxChunks,
		CoalesceMaxWait:   cfg.CoalesceMaxWait(),
		SilenceTimeout:    cfg.SilenceTimeout(),
		EndGap:            cfg.EndGap(),
	}, logger)

	runner := toolrunner.New(callID, directory, retriever, toolrunner.Config{
		Timeout:           cfg.ToolTimeout(),
		MaxResults:        cfg.Tool.MaxResults,
		MinRelevanceScore: cfg.Tool.MinRelevanceScore,
	}, logger)

	return &Coordinator{
		callID: callID,
		conn:   conn,
		driver: driver,
		pacer:  p,
		flow:   flow,
		runner: runner,
		logger: logger,
		reg:    reg,
	}
}

func (c *Coordinator) CallID() string { return c.callID }

// Run starts the five §4.6 tasks and blocks until the session ends,
// fatally or gracefully. startMsg is the already-read, already-validated
// "start" handshake message that caused this Coordinator to be constructed
// (the caller consumes it off the socket before the model stream is opened
// or the session is registered, per §3/§8 scenario 4) — Run feeds it
// through InputFlow before entering the ingress loop so the grammar-opening
// sequence still runs exactly once. It always performs the teardown
// sequence before returning.
func (c *Coordinator) Run(ctx context.Context, startMsg telephony.InboundMessage) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	defer cancel()

	if err := c.flow.HandleMessage(ctx, startMsg); err != nil {
		teardownErr := c.teardown()
		if teardownErr != nil {
			return multierror.Append(err, teardownErr).ErrorOrNil()
		}
		return err
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.runIngress(gCtx) })
	g.Go(func() error { return c.runModelResponses(gCtx) })
	g.Go(func() error { return c.driver.RunOutbound(gCtx) })
	g.Go(func() error {
		stop := make(chan struct{})
		go func() {
			<-gCtx.Done()
			close(stop)
		}()
		c.pacer.Run(stop)
		return nil
	})

	err := g.Wait()
	teardownErr := c.teardown()
	if teardownErr != nil {
		return multierror.Append(err, teardownErr).ErrorOrNil()
	}
	return err
}

// runIngress is task 1 (§4.6): reads telephony control messages and
// delegates to InputFlow.
func (c *Coordinator) runIngress(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		raw, err := c.conn.ReadMessage()
		if err != nil {
			return bridgeerr.New(bridgeerr.KindTransientTransport, "telephony read failed", err)
		}
		msg, err := telephony.Parse(raw)
		if err != nil {
			_ = c.conn.CloseWithCode(telephony.CloseInvalidMessage, "malformed control message")
			return err
		}
		if err := c.flow.HandleMessage(ctx, msg); err != nil {
			if be, ok := err.(*bridgeerr.Error); ok && be.Kind == bridgeerr.KindProtocolViolation {
				_ = c.conn.CloseWithCode(telephony.ClosePolicyViolation, be.Message)
			}
			return err
		}
	}
}

// runModelResponses is task 2 (§4.6): reads ModelDriver's demultiplexed
// inbound channels and dispatches audio to OutputPacer, tool requests to
// ToolRunner, and detects assistant-turn boundaries / session end.
func (c *Coordinator) runModelResponses(ctx context.Context) error {
	// RunInbound owns reading the wire; it must be running concurrently.
	inboundDone := make(chan error, 1)
	go func() { inboundDone <- c.driver.RunInbound(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-inboundDone:
			return err

		case ev, ok := <-c.driver.AudioOut:
			if !ok {
				return nil
			}
			rate := ev.SampleRateHint
			if rate == 0 {
				rate = 16000
			}
			mulaw, err := codec.PCM16ToMulaw(ev.AudioBytes, rate)
			if err != nil {
				if c.logger != nil {
					c.logger.Warnw("dropping audioOutput frame that failed to transcode", "error", err.Error())
				}
				continue
			}
			c.pacer.Enqueue(mulaw)

		case ev, ok := <-c.driver.ToolUseOut:
			if !ok {
				return nil
			}
			go c.handleToolUse(ctx, ev)

		case ev, ok := <-c.driver.LifecycleOut:
			if !ok {
				return nil
			}
			if ev.Kind == modelevents.RespContentEnd && ev.Role == modelevents.RoleAssistant && ev.ContentKind == modelevents.ContentAudio {
				c.pacer.Flush()
				if err := c.flow.ReopenTurn(ctx); err != nil {
					return err
				}
			}
			if ev.Kind == modelevents.RespCompletionEnd {
				return nil
			}

		case ev, ok := <-c.driver.ErrorOut:
			if !ok {
				return nil
			}
			if c.logger != nil {
				c.logger.Warnw("model reported error event", "kind", ev.ErrorKind, "detail", ev.ErrorDetail)
			}

		case _, ok := <-c.driver.TextOut:
			if !ok {
				return nil
			}
			// Text transcripts are not part of the core audio bridge path;
			// drained here so the channel never blocks the reader.
		}
	}
}

func (c *Coordinator) handleToolUse(ctx context.Context, ev modelevents.ResponseEvent) {
	result := c.runner.Execute(ctx, modelevents.ToolRequest{
		RequestID: ev.ToolUseID,
		ToolName:  ev.ToolName,
		Input:     ev.ToolInput,
	})
	content := make([]string, len(result.Content))
	for i, b := range result.Content {
		content[i] = b.Text
	}
	if err := c.driver.Send(ctx, modelevents.RequestEvent{
		Kind:              modelevents.ReqToolResult,
		ToolResultID:      result.RequestID,
		ToolResultContent: content,
		ToolResultStatus:  result.Status,
	}); err != nil && c.logger != nil {
		c.logger.Warnw("failed to send toolResult", "error", err.Error())
	}
}

// Shutdown trips the cancellation token. Idempotent (§5 Cancellation).
func (c *Coordinator) Shutdown(reason string) {
	c.shutdownOnce.Do(func() {
		if c.logger != nil {
			c.logger.Infow("session shutdown requested", "call_id", c.callID, "reason", reason)
		}
		if c.cancel != nil {
			c.cancel()
		}
	})
}

// teardown performs the §4.6 cleanup order: stop pacer (drop pending),
// close model stream (best-effort), drain ingress, close telephony
// transport, deregister from SessionRegistry.
func (c *Coordinator) teardown() error {
	var result *multierror.Error

	c.pacer.Stop("session teardown")
	c.flow.Cancel()

	if err := c.driver.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.conn.CloseWithCode(telephony.CloseNormal, "session ended"); err != nil {
		result = multierror.Append(result, err)
	}
	if c.reg != nil {
		c.reg.Unregister(c.callID)
	}
	return result.ErrorOrNil()
}
