// Package knowledge declares the external collaborator interfaces §6 names
// for retrieval and tool directory lookup. No concrete retrieval backend is
// implemented here — SPEC_FULL.md §1 lists the concrete retrieval backend
// as out of scope: ToolRunner is built against these interfaces and
// any retrieval backend (vector store, managed KB service) plugs in behind
// them.
package knowledge

import (
	"context"

	"github.com/rapidaai/voicebridge/internal/modelevents"
)

// Retriever is the §6 "Knowledge query interface (consumed from external
// collaborator)".
type Retriever interface {
	Retrieve(ctx context.Context, q modelevents.KnowledgeQuery) ([]modelevents.KnowledgeHit, error)
}

// ToolDescriptor describes one tool offered to the model at session start.
type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Directory is the §6 "Tool directory interface (consumed)".
type Directory interface {
	EnabledTools() []ToolDescriptor
	ResolveToolToKnowledgeBase(name string) (knowledgeBaseID string, ok bool)
}
