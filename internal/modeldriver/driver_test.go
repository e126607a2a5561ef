package modeldriver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicebridge/internal/modelevents"
)

// fakeStream is an in-memory Stream used to drive the grammar and
// demultiplexer without a real Bedrock connection.
type fakeStream struct {
	mu   sync.Mutex
	sent []modelevents.RequestEvent

	inbound chan modelevents.ResponseEvent
	closed  bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{inbound: make(chan modelevents.ResponseEvent, 32)}
}

func (f *fakeStream) Send(ctx context.Context, ev modelevents.RequestEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeStream) Recv(ctx context.Context) (modelevents.ResponseEvent, error) {
	select {
	case ev, ok := <-f.inbound:
		if !ok {
			return modelevents.ResponseEvent{}, errors.New("fakeStream: closed")
		}
		return ev, nil
	case <-ctx.Done():
		return modelevents.ResponseEvent{}, ctx.Err()
	}
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbound)
	}
	return nil
}

func (f *fakeStream) sentKinds() []modelevents.RequestKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]modelevents.RequestKind, len(f.sent))
	for i, ev := range f.sent {
		kinds[i] = ev.Kind
	}
	return kinds
}

func fullPromptSequence() []modelevents.RequestEvent {
	return []modelevents.RequestEvent{
		{Kind: modelevents.ReqSessionStart},
		{Kind: modelevents.ReqPromptStart},
		{Kind: modelevents.ReqContentStart, Role: modelevents.RoleSystem, ContentKind: modelevents.ContentText},
		{Kind: modelevents.ReqTextInput, Text: "system prompt"},
		{Kind: modelevents.ReqContentEnd},
		{Kind: modelevents.ReqContentStart, Role: modelevents.RoleUser, ContentKind: modelevents.ContentAudio},
		{Kind: modelevents.ReqAudioInput, AudioBytes: []byte{1, 2, 3}},
		{Kind: modelevents.ReqContentEnd},
		{Kind: modelevents.ReqPromptEnd},
		{Kind: modelevents.ReqSessionEnd},
	}
}

func TestDriver_SendsLegalSequenceInOrder(t *testing.T) {
	stream := newFakeStream()
	d := New(stream, Config{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	outDone := make(chan error, 1)
	go func() { outDone <- d.RunOutbound(ctx) }()

	for _, ev := range fullPromptSequence() {
		require.NoError(t, d.Send(ctx, ev))
	}

	select {
	case err := <-outDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunOutbound did not return after sessionEnd")
	}

	kinds := stream.sentKinds()
	require.Len(t, kinds, 10)
	assert.Equal(t, modelevents.ReqSessionStart, kinds[0])
	assert.Equal(t, modelevents.ReqSessionEnd, kinds[9])
}

func TestDriver_RejectsOutOfOrderEvent(t *testing.T) {
	stream := newFakeStream()
	d := New(stream, Config{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	outDone := make(chan error, 1)
	go func() { outDone <- d.RunOutbound(ctx) }()

	// audioInput before any sessionStart/promptStart/contentStart is illegal.
	err := d.Send(ctx, modelevents.RequestEvent{Kind: modelevents.ReqAudioInput, AudioBytes: []byte{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid event ordering")

	select {
	case runErr := <-outDone:
		require.Error(t, runErr)
	case <-time.After(time.Second):
		t.Fatal("RunOutbound did not return after grammar violation")
	}
}

func TestDriver_RejectsToolResultWithoutMatchingToolUse(t *testing.T) {
	stream := newFakeStream()
	d := New(stream, Config{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	go d.RunOutbound(ctx)

	require.NoError(t, d.Send(ctx, modelevents.RequestEvent{Kind: modelevents.ReqSessionStart}))
	require.NoError(t, d.Send(ctx, modelevents.RequestEvent{Kind: modelevents.ReqPromptStart}))
	require.NoError(t, d.Send(ctx, modelevents.RequestEvent{Kind: modelevents.ReqContentStart, Role: modelevents.RoleSystem, ContentKind: modelevents.ContentText}))

	err := d.Send(ctx, modelevents.RequestEvent{Kind: modelevents.ReqToolResult, ToolResultID: "unknown-id"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no matching outstanding toolUse")
}

func TestDriver_DemultiplexesInboundEventsByCategory(t *testing.T) {
	stream := newFakeStream()
	d := New(stream, Config{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	inDone := make(chan error, 1)
	go func() { inDone <- d.RunInbound(ctx) }()

	stream.inbound <- modelevents.ResponseEvent{Kind: modelevents.RespTextOutput, Text: "hi"}
	stream.inbound <- modelevents.ResponseEvent{Kind: modelevents.RespAudioOutput, AudioBytes: []byte{9}}
	stream.inbound <- modelevents.ResponseEvent{Kind: modelevents.RespToolUse, ToolUseID: "tu1", ToolName: "search"}
	stream.inbound <- modelevents.ResponseEvent{Kind: modelevents.RespCompletionEnd}

	select {
	case txt := <-d.TextOut:
		assert.Equal(t, "hi", txt.Text)
	case <-time.After(time.Second):
		t.Fatal("no text event received")
	}
	select {
	case aud := <-d.AudioOut:
		assert.Equal(t, []byte{9}, aud.AudioBytes)
	case <-time.After(time.Second):
		t.Fatal("no audio event received")
	}
	select {
	case tu := <-d.ToolUseOut:
		assert.Equal(t, "search", tu.ToolName)
	case <-time.After(time.Second):
		t.Fatal("no toolUse event received")
	}

	select {
	case err := <-inDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("RunInbound did not return after completionEnd")
	}
}

func TestDriver_CloseIsIdempotent(t *testing.T) {
	stream := newFakeStream()
	d := New(stream, Config{}, nil)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
}
