// Package inputflow implements §4.4 InputFlow: the inbound telephony
// message switch, transcoding, and user-turn management.
package inputflow

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rapidaai/voicebridge/internal/bridgeerr"
	"github.com/rapidaai/voicebridge/internal/codec"
	"github.com/rapidaai/voicebridge/internal/knowledge"
	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/modelevents"
	"github.com/rapidaai/voicebridge/internal/telephony"
)

// Config selects InputFlow's batching policy and turn timing (§4.4, §6).
type Config struct {
	ForwardingMode    ForwardingMode
	CoalesceMaxChunks int
	CoalesceMaxWait   time.Duration
	SilenceTimeout    time.Duration
	EndGap            time.Duration
}

// ForwardingMode selects between Immediate and Coalesced ingress batching.
type ForwardingMode int

const (
	ForwardingImmediate ForwardingMode = iota
	ForwardingCoalesced
)

func (c Config) withDefaults() Config {
	if c.CoalesceMaxChunks <= 0 {
		c.CoalesceMaxChunks = 5
	}
	if c.CoalesceMaxWait <= 0 {
		c.CoalesceMaxWait = 100 * time.Millisecond
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = 3000 * time.Millisecond
	}
	if c.EndGap <= 0 {
		c.EndGap = 100 * time.Millisecond
	}
	return c
}

// Sender is the subset of modeldriver.Driver InputFlow depends on.
type Sender interface {
	Send(ctx context.Context, ev modelevents.RequestEvent) error
}

// Flow drives one session's ingress loop: reading telephony control
// messages, transcoding audio, forwarding audioInput events, and managing
// the user-turn boundary per §4.4's turn manager.
type Flow struct {
	cfg       Config
	driver    Sender
	directory knowledge.Directory
	logger    logging.Logger

	mu            sync.Mutex
	turnOpen      bool
	silenceTimer  *time.Timer
	coalesceBuf   [][]byte
	coalesceTimer *time.Timer

	lastInboundAudio time.Time
}

// New constructs a Flow for one session. directory may be nil, in which
// case openSession publishes no tool catalog (§4.5).
func New(driver Sender, directory knowledge.Directory, cfg Config, logger logging.Logger) *Flow {
	return &Flow{cfg: cfg.withDefaults(), driver: driver, directory: directory, logger: logger}
}

// HandleMessage dispatches one decoded telephony control message per §4.4's
// event-tag switch. It returns a *bridgeerr.Error classified Protocol-
// violation for malformed/illegal messages; the caller closes the socket
// with the corresponding §6 close code.
func (f *Flow) HandleMessage(ctx context.Context, msg telephony.InboundMessage) error {
	switch msg.Event {
	case "connected":
		return nil

	case "start":
		// The call identifier and streamSid are validated before a
		// session (and therefore a Flow) is ever constructed (§3, §8
		// scenario 4); Flow only triggers the grammar-opening sequence.
		return f.openSession(ctx)

	case "media":
		if !msg.IncludesInboundTrack() {
			return nil
		}
		return f.handleMedia(ctx, msg)

	case "stop":
		return f.handleStop(ctx)

	case "mark", "dtmf", "clear":
		// Acknowledged; inert for the core (§4.4, §6 SUPPLEMENT for clear).
		return nil

	default:
		return bridgeerr.New(bridgeerr.KindProtocolViolation, fmt.Sprintf("unknown control event %q", msg.Event), nil)
	}
}

// openSession emits sessionStart, promptStart, the system text content
// block, then the §4.5 tool catalog — one contentStart(kind=tool) block per
// Directory.EnabledTools() entry — before any user audio can arrive.
func (f *Flow) openSession(ctx context.Context) error {
	if err := f.driver.Send(ctx, modelevents.RequestEvent{Kind: modelevents.ReqSessionStart}); err != nil {
		return err
	}
	if err := f.driver.Send(ctx, modelevents.RequestEvent{Kind: modelevents.ReqPromptStart}); err != nil {
		return err
	}
	if err := f.sendContentBlock(ctx, modelevents.RoleSystem, modelevents.ContentText, ""); err != nil {
		return err
	}
	return f.publishTools(ctx)
}

// sendContentBlock emits one contentStart/textInput/contentEnd triple.
func (f *Flow) sendContentBlock(ctx context.Context, role modelevents.Role, kind modelevents.ContentKind, text string) error {
	seq := []modelevents.RequestEvent{
		{Kind: modelevents.ReqContentStart, Role: role, ContentKind: kind},
		{Kind: modelevents.ReqTextInput, Text: text},
		{Kind: modelevents.ReqContentEnd},
	}
	for _, ev := range seq {
		if err := f.driver.Send(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// publishTools implements §4.5's "at session start, the coordinator
// publishes a set of tools, each described by {name, human description,
// input schema}": each tool is carried as a contentStart(kind=tool) block
// whose textInput payload is the JSON-encoded descriptor.
func (f *Flow) publishTools(ctx context.Context) error {
	if f.directory == nil {
		return nil
	}
	for _, tool := range f.directory.EnabledTools() {
		payload, err := json.Marshal(map[string]any{
			"name":        tool.Name,
			"description": tool.Description,
			"inputSchema": tool.InputSchema,
		})
		if err != nil {
			return bridgeerr.New(bridgeerr.KindProtocolViolation, "failed to encode tool descriptor", err)
		}
		if err := f.sendContentBlock(ctx, modelevents.RoleSystem, modelevents.ContentTool, string(payload)); err != nil {
			return err
		}
	}
	return nil
}

func (f *Flow) handleMedia(ctx context.Context, msg telephony.InboundMessage) error {
	raw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
	if err != nil {
		return bridgeerr.New(bridgeerr.KindProtocolViolation, "media payload is not valid base64", err)
	}
	pcm, err := codec.MulawToPCM16(raw)
	if err != nil {
		return bridgeerr.New(bridgeerr.KindProtocolViolation, "media payload failed to transcode", err)
	}

	f.mu.Lock()
	f.lastInboundAudio = nowFunc()
	f.armSilenceTimerLocked(ctx)
	if !f.turnOpen {
		f.turnOpen = true
		f.mu.Unlock()
		if err := f.driver.Send(ctx, modelevents.RequestEvent{Kind: modelevents.ReqContentStart, Role: modelevents.RoleUser, ContentKind: modelevents.ContentAudio}); err != nil {
			return err
		}
	} else {
		f.mu.Unlock()
	}

	return f.forward(ctx, pcm)
}

// forward applies the §4.4 forwarding policy: Immediate sends each chunk as
// it arrives, Coalesced batches until CoalesceMaxChunks is reached or
// CoalesceMaxWait elapses since the first buffered chunk, whichever is
// first.
func (f *Flow) forward(ctx context.Context, pcm []byte) error {
	if f.cfg.ForwardingMode == ForwardingImmediate {
		return f.driver.Send(ctx, modelevents.RequestEvent{Kind: modelevents.ReqAudioInput, AudioBytes: pcm})
	}

	f.mu.Lock()
	f.coalesceBuf = append(f.coalesceBuf, pcm)
	flush := len(f.coalesceBuf) >= f.cfg.CoalesceMaxChunks
	var batch []byte
	if flush {
		batch = concat(f.coalesceBuf)
		f.coalesceBuf = nil
		f.stopCoalesceTimerLocked()
	} else {
		f.armCoalesceTimerLocked(ctx)
	}
	f.mu.Unlock()

	if flush {
		return f.driver.Send(ctx, modelevents.RequestEvent{Kind: modelevents.ReqAudioInput, AudioBytes: batch})
	}
	return nil
}

// armCoalesceTimerLocked starts the bounded-wait flush timer if one is not
// already pending for the current batch. Callers must hold f.mu.
func (f *Flow) armCoalesceTimerLocked(ctx context.Context) {
	if f.coalesceTimer != nil {
		return
	}
	f.coalesceTimer = time.AfterFunc(f.cfg.CoalesceMaxWait, func() {
		if err := f.FlushCoalesceBuffer(ctx); err != nil && f.logger != nil {
			f.logger.Warnw("coalesce bounded-wait flush failed", "error", err.Error())
		}
	})
}

func (f *Flow) stopCoalesceTimerLocked() {
	if f.coalesceTimer != nil {
		f.coalesceTimer.Stop()
		f.coalesceTimer = nil
	}
}

// FlushCoalesceBuffer drains any partially-filled coalesce buffer. Invoked
// by the CoalesceMaxWait timer, at turn end, or on session teardown.
func (f *Flow) FlushCoalesceBuffer(ctx context.Context) error {
	f.mu.Lock()
	f.stopCoalesceTimerLocked()
	if len(f.coalesceBuf) == 0 {
		f.mu.Unlock()
		return nil
	}
	batch := concat(f.coalesceBuf)
	f.coalesceBuf = nil
	f.mu.Unlock()
	return f.driver.Send(ctx, modelevents.RequestEvent{Kind: modelevents.ReqAudioInput, AudioBytes: batch})
}

func concat(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

func (f *Flow) handleStop(ctx context.Context) error {
	f.mu.Lock()
	f.stopSilenceTimerLocked()
	f.mu.Unlock()
	if err := f.FlushCoalesceBuffer(ctx); err != nil {
		return err
	}
	return f.closeTurn(ctx)
}

// closeTurn emits contentEnd(AUDIO) then, after the reserved §4.4 end gap,
// promptEnd.
func (f *Flow) closeTurn(ctx context.Context) error {
	f.mu.Lock()
	wasOpen := f.turnOpen
	f.turnOpen = false
	f.mu.Unlock()
	if !wasOpen {
		return nil
	}
	if err := f.driver.Send(ctx, modelevents.RequestEvent{Kind: modelevents.ReqContentEnd}); err != nil {
		return err
	}
	select {
	case <-time.After(f.cfg.EndGap):
	case <-ctx.Done():
		return ctx.Err()
	}
	return f.driver.Send(ctx, modelevents.RequestEvent{Kind: modelevents.ReqPromptEnd})
}

// ReopenTurn re-issues promptStart plus a new audio contentStart after the
// assistant's contentEnd(role=ASSISTANT,kind=AUDIO), per §4.4.
func (f *Flow) ReopenTurn(ctx context.Context) error {
	if err := f.driver.Send(ctx, modelevents.RequestEvent{Kind: modelevents.ReqPromptStart}); err != nil {
		return err
	}
	return f.driver.Send(ctx, modelevents.RequestEvent{Kind: modelevents.ReqContentStart, Role: modelevents.RoleUser, ContentKind: modelevents.ContentAudio})
}

// armSilenceTimerLocked (re)starts the rearmable silence timer. Callers
// must hold f.mu.
func (f *Flow) armSilenceTimerLocked(ctx context.Context) {
	f.stopSilenceTimerLocked()
	f.silenceTimer = time.AfterFunc(f.cfg.SilenceTimeout, func() {
		if f.logger != nil {
			f.logger.Infow("silence timeout fired, closing user turn")
		}
		_ = f.closeTurn(ctx)
	})
}

func (f *Flow) stopSilenceTimerLocked() {
	if f.silenceTimer != nil {
		f.silenceTimer.Stop()
		f.silenceTimer = nil
	}
}

// Cancel stops the silence and coalesce-wait timers; called on session
// teardown.
func (f *Flow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopSilenceTimerLocked()
	f.stopCoalesceTimerLocked()
}

// nowFunc is indirected for testability (no real-time dependency on
// Flow's own logic beyond the timer, which tests exercise directly).
var nowFunc = time.Now
