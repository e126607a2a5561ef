// Package modelstream implements the §6 "Model stream" transport: an
// HTTP/2 bidirectional byte stream carrying length-framed JSON events. It
// wraps github.com/aws/aws-sdk-go-v2/service/bedrockruntime's bidirectional
// event stream, grounded in the teacher's
// integration-api/internal/callers/bedrock package (generalized from that
// package's single-shot Converse/InvokeModel calls to a persistent
// streaming session).
package modelstream

import (
	"context"

	"github.com/rapidaai/voicebridge/internal/modelevents"
)

// Stream is the narrow transport surface ModelDriver depends on. Tests use
// an in-memory fake; production uses the Bedrock-backed implementation in
// bedrock.go.
type Stream interface {
	// Send writes one outbound wire event. It may block under
	// backpressure; callers honour ctx's deadline/cancellation.
	Send(ctx context.Context, ev modelevents.RequestEvent) error
	// Recv blocks until the next inbound wire event is available, or
	// returns an error (including a wrapped io.EOF-equivalent on normal
	// stream end).
	Recv(ctx context.Context) (modelevents.ResponseEvent, error)
	// Close tears down the underlying HTTP/2 stream. Idempotent.
	Close() error
}
