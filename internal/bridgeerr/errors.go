// Package bridgeerr defines the error taxonomy of §7: each kind of failure
// the session pipeline can hit is a distinct, wrappable type so callers can
// classify with errors.As instead of string-matching messages.
package bridgeerr

import "fmt"

// Kind classifies an error for propagation/shutdown-status decisions.
type Kind int

const (
	// KindProtocolViolation means the telephony peer sent malformed JSON,
	// an illegal field, or an event out of sequence. Fatal; closes the
	// telephony socket with 1003/1008.
	KindProtocolViolation Kind = iota
	// KindGrammarViolation means internal logic attempted an illegal
	// model-request sequence. Fatal; indicates a bug.
	KindGrammarViolation
	// KindTransientTransport means a transport write/read failed
	// recoverably. Non-fatal at the audio-frame level; fatal for control
	// events.
	KindTransientTransport
	// KindTimeout covers silence/tool/ack/close deadlines. Fatality
	// depends on which deadline fired — see IsFatalTimeout.
	KindTimeout
	// KindToolExecutionFailure means a tool call failed or was invalid.
	// Always non-fatal; degrades to an error ToolResult.
	KindToolExecutionFailure
	// KindResourceExhaustion means a bounded queue stayed full past its
	// backpressure budget. Fatal.
	KindResourceExhaustion
	// KindExternalConfigInvalid means no enabled knowledge base or
	// missing model id. Non-fatal; the session still runs.
	KindExternalConfigInvalid
)

func (k Kind) String() string {
	switch k {
	case KindProtocolViolation:
		return "protocol-violation"
	case KindGrammarViolation:
		return "grammar-violation"
	case KindTransientTransport:
		return "transient-transport"
	case KindTimeout:
		return "timeout"
	case KindToolExecutionFailure:
		return "tool-execution-failure"
	case KindResourceExhaustion:
		return "resource-exhaustion"
	case KindExternalConfigInvalid:
		return "external-config-invalid"
	default:
		return "unknown"
	}
}

// TimeoutSource identifies which §5 deadline expired, since the same Kind
// (KindTimeout) is fatal for some sources and not others.
type TimeoutSource int

const (
	TimeoutSilence TimeoutSource = iota
	TimeoutTool
	TimeoutAck
	TimeoutClose
)

// Error is the wrapped error type carried through the pipeline. Cause is
// always non-nil except for errors synthesized directly at the protocol
// boundary (e.g. "unknown call identifier").
type Error struct {
	Kind    Kind
	Source  TimeoutSource // only meaningful when Kind == KindTimeout
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NewTimeout(source TimeoutSource, message string, cause error) *Error {
	return &Error{Kind: KindTimeout, Source: source, Message: message, Cause: cause}
}

// IsFatalTimeout reports whether a timeout of this source terminates the
// session per §7: silence and tool timeouts are "normal", ack and close
// timeouts are fatal.
func (e *Error) IsFatalTimeout() bool {
	if e.Kind != KindTimeout {
		return false
	}
	return e.Source == TimeoutAck || e.Source == TimeoutClose
}

// Fatal reports whether this error should trip session cancellation per
// the §7 propagation policy. KindTransientTransport always reports false:
// Error does not record whether the failed transfer carried audio or a
// control event.
func (e *Error) Fatal() bool {
	switch e.Kind {
	case KindProtocolViolation, KindGrammarViolation, KindResourceExhaustion:
		return true
	case KindTimeout:
		return e.IsFatalTimeout()
	default:
		return false
	}
}
