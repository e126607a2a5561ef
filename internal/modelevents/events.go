// Package modelevents defines the §3 "Model event (request)" and "Model
// event (response)" tagged sums, plus ToolRequest/ToolResult and
// KnowledgeQuery/KnowledgeHit. These are plain structs with an explicit Kind
// discriminant — no interface{} type-switch DTO layer — matching the
// teacher's plain-struct style (cf. protos.ConversationUserMessage) and the
// §9 redesign note to replace object-shape sniffing with a strict schema.
package modelevents

// Role identifies the speaker of a content block.
type Role string

const (
	RoleSystem    Role = "SYSTEM"
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
)

// ContentKind identifies the payload type of a content block.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentAudio ContentKind = "audio"
	ContentTool  ContentKind = "tool"
)

// ToolStatus is the outcome of a tool call.
type ToolStatus string

const (
	ToolStatusSuccess ToolStatus = "success"
	ToolStatusError   ToolStatus = "error"
)

// RequestKind discriminates a RequestEvent.
type RequestKind int

const (
	ReqSessionStart RequestKind = iota
	ReqPromptStart
	ReqContentStart
	ReqTextInput
	ReqAudioInput
	ReqToolResult
	ReqContentEnd
	ReqPromptEnd
	ReqSessionEnd
)

func (k RequestKind) String() string {
	return [...]string{
		"sessionStart", "promptStart", "contentStart", "textInput",
		"audioInput", "toolResult", "contentEnd", "promptEnd", "sessionEnd",
	}[k]
}

// RequestEvent is the tagged sum over outbound model events (§3, §4.3).
// Only the fields relevant to Kind are populated; callers must branch on
// Kind before reading payload fields.
type RequestEvent struct {
	Kind RequestKind

	// contentStart
	Role        Role
	ContentKind ContentKind

	// textInput
	Text string

	// audioInput
	AudioBytes []byte

	// toolResult
	ToolResultID      string
	ToolResultContent []string
	ToolResultStatus  ToolStatus
}

// ResponseKind discriminates a ResponseEvent.
type ResponseKind int

const (
	RespContentStart ResponseKind = iota
	RespTextOutput
	RespAudioOutput
	RespToolUse
	RespContentEnd
	RespCompletionStart
	RespCompletionEnd
	RespUsage
	RespError
)

func (k ResponseKind) String() string {
	return [...]string{
		"contentStart", "textOutput", "audioOutput", "toolUse", "contentEnd",
		"completionStart", "completionEnd", "usage", "error",
	}[k]
}

// ResponseEvent is the tagged sum over inbound model events (§3, §4.3).
type ResponseEvent struct {
	Kind ResponseKind

	Role        Role
	ContentKind ContentKind

	Text string

	AudioBytes     []byte
	SampleRateHint int // 0 means "not advertised on this event"

	ToolUseID   string
	ToolName    string
	ToolInput   map[string]any

	UsageInputTokens  int
	UsageOutputTokens int

	ErrorKind   string
	ErrorDetail string
}

// ToolRequest is the model's request to invoke a tool (§3).
type ToolRequest struct {
	RequestID string
	ToolName  string
	Input     map[string]any
}

// ToolResultContentBlock is a single text block of a ToolResult.
type ToolResultContentBlock struct {
	Text string
}

// ToolResult is ToolRunner's answer to a ToolRequest (§3).
type ToolResult struct {
	RequestID string
	Content   []ToolResultContentBlock
	Status    ToolStatus
}

// KnowledgeQuery is a request into the external retrieval collaborator
// (§3, §6).
type KnowledgeQuery struct {
	Text            string
	KnowledgeBaseID string
	SessionID       string
}

// KnowledgeHit is a single retrieval result (§3).
type KnowledgeHit struct {
	Text     string
	Source   string
	Score    float64
	Metadata map[string]string
}
