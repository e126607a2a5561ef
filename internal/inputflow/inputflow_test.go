package inputflow

import (
	"context"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicebridge/internal/knowledge"
	"github.com/rapidaai/voicebridge/internal/modelevents"
	"github.com/rapidaai/voicebridge/internal/telephony"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []modelevents.RequestEvent
}

func (f *fakeSender) Send(ctx context.Context, ev modelevents.RequestEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeSender) kinds() []modelevents.RequestKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]modelevents.RequestKind, len(f.sent))
	for i, ev := range f.sent {
		out[i] = ev.Kind
	}
	return out
}

func TestHandleMessage_ConnectedIsNoOp(t *testing.T) {
	sender := &fakeSender{}
	f := New(sender, nil, Config{}, nil)
	err := f.HandleMessage(context.Background(), telephony.InboundMessage{Event: "connected"})
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
}

func TestHandleMessage_StartOpensGrammarSequence(t *testing.T) {
	sender := &fakeSender{}
	f := New(sender, nil, Config{}, nil)
	err := f.HandleMessage(context.Background(), telephony.InboundMessage{Event: "start"})
	require.NoError(t, err)
	kinds := sender.kinds()
	require.Len(t, kinds, 5)
	assert.Equal(t, modelevents.ReqSessionStart, kinds[0])
	assert.Equal(t, modelevents.ReqPromptStart, kinds[1])
	assert.Equal(t, modelevents.ReqContentStart, kinds[2])
	assert.Equal(t, modelevents.ReqTextInput, kinds[3])
	assert.Equal(t, modelevents.ReqContentEnd, kinds[4])
}

type fakeDirectory struct {
	tools []knowledge.ToolDescriptor
}

func (d *fakeDirectory) EnabledTools() []knowledge.ToolDescriptor { return d.tools }
func (d *fakeDirectory) ResolveToolToKnowledgeBase(string) (string, bool) { return "", false }

func TestHandleMessage_StartPublishesToolCatalog(t *testing.T) {
	sender := &fakeSender{}
	dir := &fakeDirectory{tools: []knowledge.ToolDescriptor{
		{Name: "search_knowledge_base", Description: "search", InputSchema: map[string]any{"type": "object"}},
	}}
	f := New(sender, dir, Config{}, nil)
	require.NoError(t, f.HandleMessage(context.Background(), telephony.InboundMessage{Event: "start"}))

	kinds := sender.kinds()
	// sessionStart, promptStart, system-text block (3), one tool block (3)
	require.Len(t, kinds, 8)
	assert.Equal(t, modelevents.ReqContentStart, kinds[5])
	assert.Equal(t, modelevents.ReqTextInput, kinds[6])
	assert.Equal(t, modelevents.ReqContentEnd, kinds[7])

	toolContentStart := sender.sent[5]
	assert.Equal(t, modelevents.RoleSystem, toolContentStart.Role)
	assert.Equal(t, modelevents.ContentTool, toolContentStart.ContentKind)
	assert.Contains(t, sender.sent[6].Text, "search_knowledge_base")
}

func TestForward_CoalescedFlushesAfterBoundedWait(t *testing.T) {
	sender := &fakeSender{}
	f := New(sender, nil, Config{ForwardingMode: ForwardingCoalesced, CoalesceMaxChunks: 100, CoalesceMaxWait: 10 * time.Millisecond}, nil)

	require.NoError(t, f.forward(context.Background(), []byte{1}))
	assert.Empty(t, sender.kinds(), "should not flush before the bounded wait elapses")

	require.Eventually(t, func() bool {
		return len(sender.kinds()) == 1
	}, time.Second, 5*time.Millisecond, "bounded-wait timer should flush the pending chunk")
}

func TestHandleMessage_UnknownEventIsProtocolViolation(t *testing.T) {
	sender := &fakeSender{}
	f := New(sender, nil, Config{}, nil)
	err := f.HandleMessage(context.Background(), telephony.InboundMessage{Event: "bogus"})
	require.Error(t, err)
}

func TestHandleMessage_MediaWithoutInboundTrackIsIgnored(t *testing.T) {
	sender := &fakeSender{}
	f := New(sender, nil, Config{}, nil)
	msg := telephony.InboundMessage{Event: "media"}
	err := f.HandleMessage(context.Background(), msg)
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
}

func TestHandleMessage_MediaTranscodesAndOpensTurn(t *testing.T) {
	sender := &fakeSender{}
	f := New(sender, nil, Config{ForwardingMode: ForwardingImmediate}, nil)
	msg := telephony.InboundMessage{
		Event: "media",
		Media: &telephony.MediaPayload{
			Track:   "inbound",
			Payload: base64.StdEncoding.EncodeToString(make([]byte, 160)),
		},
	}
	require.NoError(t, f.HandleMessage(context.Background(), msg))

	kinds := sender.kinds()
	require.Len(t, kinds, 2)
	assert.Equal(t, modelevents.ReqContentStart, kinds[0])
	assert.Equal(t, modelevents.ReqAudioInput, kinds[1])
}

func TestForward_CoalescedBatchesUntilThreshold(t *testing.T) {
	sender := &fakeSender{}
	f := New(sender, nil, Config{ForwardingMode: ForwardingCoalesced, CoalesceMaxChunks: 3}, nil)

	require.NoError(t, f.forward(context.Background(), []byte{1}))
	require.NoError(t, f.forward(context.Background(), []byte{2}))
	assert.Empty(t, sender.sent, "should not flush before threshold")

	require.NoError(t, f.forward(context.Background(), []byte{3}))
	require.Len(t, sender.sent, 1)
	assert.Equal(t, []byte{1, 2, 3}, sender.sent[0].AudioBytes)
}

func TestForward_ImmediateSendsEachChunk(t *testing.T) {
	sender := &fakeSender{}
	f := New(sender, nil, Config{ForwardingMode: ForwardingImmediate}, nil)
	require.NoError(t, f.forward(context.Background(), []byte{1}))
	require.NoError(t, f.forward(context.Background(), []byte{2}))
	require.Len(t, sender.sent, 2)
}

func TestCloseTurn_EmitsContentEndThenPromptEndAfterGap(t *testing.T) {
	sender := &fakeSender{}
	f := New(sender, nil, Config{EndGap: 10 * time.Millisecond}, nil)
	f.turnOpen = true

	require.NoError(t, f.closeTurn(context.Background()))

	kinds := sender.kinds()
	require.Len(t, kinds, 2)
	assert.Equal(t, modelevents.ReqContentEnd, kinds[0])
	assert.Equal(t, modelevents.ReqPromptEnd, kinds[1])
}

func TestCloseTurn_NoOpWhenTurnNotOpen(t *testing.T) {
	sender := &fakeSender{}
	f := New(sender, nil, Config{}, nil)
	require.NoError(t, f.closeTurn(context.Background()))
	assert.Empty(t, sender.sent)
}
