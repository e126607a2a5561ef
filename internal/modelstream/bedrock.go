package modelstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/rapidaai/voicebridge/internal/modelevents"
)

// wireEvent is the JSON envelope Nova-Sonic-style bidirectional models use:
// exactly one of these fields is populated per frame. This mirrors the
// teacher's approach of building a request body as a plain map
// (integration-api/internal/callers/bedrock/llm.go's GetCompletion) rather
// than hand-rolling a binary frame format.
type wireEvent struct {
	SessionStart *wireSessionStart `json:"sessionStart,omitempty"`
	PromptStart  *wirePromptStart  `json:"promptStart,omitempty"`
	ContentStart *wireContentStart `json:"contentStart,omitempty"`
	TextInput    *wireTextInput    `json:"textInput,omitempty"`
	AudioInput   *wireAudioInput   `json:"audioInput,omitempty"`
	ToolResult   *wireToolResult   `json:"toolResult,omitempty"`
	ContentEnd   *wireContentEnd   `json:"contentEnd,omitempty"`
	PromptEnd    *wirePromptEnd    `json:"promptEnd,omitempty"`
	SessionEnd   *wireSessionEnd   `json:"sessionEnd,omitempty"`

	TextOutput      *wireTextOutput      `json:"textOutput,omitempty"`
	AudioOutput     *wireAudioOutput     `json:"audioOutput,omitempty"`
	ToolUse         *wireToolUse         `json:"toolUse,omitempty"`
	CompletionStart *wireCompletionStart `json:"completionStart,omitempty"`
	CompletionEnd   *wireCompletionEnd   `json:"completionEnd,omitempty"`
	Usage           *wireUsage           `json:"usage,omitempty"`
	Error           *wireError           `json:"error,omitempty"`
}

type wireSessionStart struct{}
type wirePromptStart struct{}
type wireContentStart struct {
	Role string `json:"role"`
	Kind string `json:"kind"`
}
type wireTextInput struct {
	Text string `json:"text"`
}
type wireAudioInput struct {
	Bytes string `json:"bytes"` // base64
}
type wireToolResult struct {
	ID      string   `json:"id"`
	Content []string `json:"content"`
	Status  string   `json:"status"`
}
type wireContentEnd struct {
	Role string `json:"role,omitempty"`
	Kind string `json:"kind,omitempty"`
}
type wirePromptEnd struct{}
type wireSessionEnd struct{}

type wireTextOutput struct {
	Text string `json:"text"`
}
type wireAudioOutput struct {
	Bytes          string `json:"bytes"`
	SampleRateHint int    `json:"sampleRateHint,omitempty"`
}
type wireToolUse struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}
type wireCompletionStart struct{}
type wireCompletionEnd struct {
	Role string `json:"role,omitempty"`
	Kind string `json:"kind,omitempty"`
}
type wireUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}
type wireError struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func encodeRequest(ev modelevents.RequestEvent) ([]byte, error) {
	var w wireEvent
	switch ev.Kind {
	case modelevents.ReqSessionStart:
		w.SessionStart = &wireSessionStart{}
	case modelevents.ReqPromptStart:
		w.PromptStart = &wirePromptStart{}
	case modelevents.ReqContentStart:
		w.ContentStart = &wireContentStart{Role: string(ev.Role), Kind: string(ev.ContentKind)}
	case modelevents.ReqTextInput:
		w.TextInput = &wireTextInput{Text: ev.Text}
	case modelevents.ReqAudioInput:
		w.AudioInput = &wireAudioInput{Bytes: base64.StdEncoding.EncodeToString(ev.AudioBytes)}
	case modelevents.ReqToolResult:
		w.ToolResult = &wireToolResult{ID: ev.ToolResultID, Content: ev.ToolResultContent, Status: string(ev.ToolResultStatus)}
	case modelevents.ReqContentEnd:
		w.ContentEnd = &wireContentEnd{}
	case modelevents.ReqPromptEnd:
		w.PromptEnd = &wirePromptEnd{}
	case modelevents.ReqSessionEnd:
		w.SessionEnd = &wireSessionEnd{}
	default:
		return nil, fmt.Errorf("modelstream: unknown request kind %v", ev.Kind)
	}
	return json.Marshal(w)
}

func decodeResponse(raw []byte) (modelevents.ResponseEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return modelevents.ResponseEvent{}, fmt.Errorf("modelstream: malformed event: %w", err)
	}
	switch {
	case w.TextOutput != nil:
		return modelevents.ResponseEvent{Kind: modelevents.RespTextOutput, Text: w.TextOutput.Text}, nil
	case w.AudioOutput != nil:
		b, err := base64.StdEncoding.DecodeString(w.AudioOutput.Bytes)
		if err != nil {
			return modelevents.ResponseEvent{}, fmt.Errorf("modelstream: bad audioOutput base64: %w", err)
		}
		return modelevents.ResponseEvent{Kind: modelevents.RespAudioOutput, AudioBytes: b, SampleRateHint: w.AudioOutput.SampleRateHint}, nil
	case w.ToolUse != nil:
		return modelevents.ResponseEvent{Kind: modelevents.RespToolUse, ToolUseID: w.ToolUse.ID, ToolName: w.ToolUse.Name, ToolInput: w.ToolUse.Input}, nil
	case w.ContentStart != nil:
		return modelevents.ResponseEvent{Kind: modelevents.RespContentStart, Role: modelevents.Role(w.ContentStart.Role), ContentKind: modelevents.ContentKind(w.ContentStart.Kind)}, nil
	case w.ContentEnd != nil:
		return modelevents.ResponseEvent{Kind: modelevents.RespContentEnd, Role: modelevents.Role(w.ContentEnd.Role), ContentKind: modelevents.ContentKind(w.ContentEnd.Kind)}, nil
	case w.CompletionEnd != nil:
		return modelevents.ResponseEvent{Kind: modelevents.RespCompletionEnd, Role: modelevents.Role(w.CompletionEnd.Role), ContentKind: modelevents.ContentKind(w.CompletionEnd.Kind)}, nil
	case w.CompletionStart != nil:
		return modelevents.ResponseEvent{Kind: modelevents.RespCompletionStart}, nil
	case w.Usage != nil:
		return modelevents.ResponseEvent{Kind: modelevents.RespUsage, UsageInputTokens: w.Usage.InputTokens, UsageOutputTokens: w.Usage.OutputTokens}, nil
	case w.Error != nil:
		return modelevents.ResponseEvent{Kind: modelevents.RespError, ErrorKind: w.Error.Kind, ErrorDetail: w.Error.Detail}, nil
	default:
		return modelevents.ResponseEvent{}, fmt.Errorf("modelstream: unrecognized response event shape")
	}
}

// bedrockEventStream is the subset of the SDK's bidirectional stream
// handle this package uses. Isolated behind an interface so the adapter
// below is the only place that assumes the exact SDK shape.
type bedrockEventStream interface {
	Send(ctx context.Context, event brtypes.InvokeModelWithBidirectionalStreamInput) error
	Recv() <-chan brtypes.InvokeModelWithBidirectionalStreamOutput
	Close() error
}

// bedrockStream implements Stream over bedrockruntime's
// InvokeModelWithBidirectionalStream, following the client-construction
// pattern of the teacher's bedrock.go (a thin Bedrock struct holding a
// *bedrockruntime.Client) but generalized from request/response calls to a
// long-lived streaming session.
type bedrockStream struct {
	client *bedrockruntime.Client
	raw    bedrockEventStream
}

// NewBedrockStream opens a bidirectional stream against the given model id.
func NewBedrockStream(ctx context.Context, client *bedrockruntime.Client, modelID string) (Stream, error) {
	out, err := client.InvokeModelWithBidirectionalStream(ctx, &bedrockruntime.InvokeModelWithBidirectionalStreamInput{
		ModelId: aws.String(modelID),
	})
	if err != nil {
		return nil, fmt.Errorf("modelstream: failed to open bedrock stream: %w", err)
	}
	return &bedrockStream{client: client, raw: out.GetStream()}, nil
}

func (b *bedrockStream) Send(ctx context.Context, ev modelevents.RequestEvent) error {
	payload, err := encodeRequest(ev)
	if err != nil {
		return err
	}
	member := &brtypes.InvokeModelWithBidirectionalStreamInputMemberChunk{
		Value: brtypes.BidirectionalInputPayloadPart{Bytes: payload},
	}
	return b.raw.Send(ctx, member)
}

func (b *bedrockStream) Recv(ctx context.Context) (modelevents.ResponseEvent, error) {
	select {
	case <-ctx.Done():
		return modelevents.ResponseEvent{}, ctx.Err()
	case out, ok := <-b.raw.Recv():
		if !ok {
			return modelevents.ResponseEvent{}, fmt.Errorf("modelstream: stream closed")
		}
		chunk, ok := out.(*brtypes.InvokeModelWithBidirectionalStreamOutputMemberChunk)
		if !ok {
			return modelevents.ResponseEvent{}, fmt.Errorf("modelstream: unexpected output member %T", out)
		}
		return decodeResponse(chunk.Value.Bytes)
	}
}

func (b *bedrockStream) Close() error {
	return b.raw.Close()
}
