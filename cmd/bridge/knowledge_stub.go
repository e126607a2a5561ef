package main

import (
	"context"
	"fmt"

	"github.com/rapidaai/voicebridge/internal/knowledge"
	"github.com/rapidaai/voicebridge/internal/modelevents"
)

// staticDirectory is a placeholder knowledge.Directory until a real tool
// catalog (operator-configured, or fetched from a control plane) is wired
// in. It publishes one "search_knowledge_base" tool per configured mapping.
type staticDirectory struct {
	mapping map[string]string
}

func newStaticDirectory() *staticDirectory {
	return &staticDirectory{mapping: map[string]string{
		"search_knowledge_base": "default",
	}}
}

func (d *staticDirectory) EnabledTools() []knowledge.ToolDescriptor {
	tools := make([]knowledge.ToolDescriptor, 0, len(d.mapping))
	for name := range d.mapping {
		tools = append(tools, knowledge.ToolDescriptor{
			Name:        name,
			Description: "Search the configured knowledge base for relevant passages.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
				},
				"required": []string{"query"},
			},
		})
	}
	return tools
}

func (d *staticDirectory) ResolveToolToKnowledgeBase(name string) (string, bool) {
	kb, ok := d.mapping[name]
	return kb, ok
}

// unavailableRetriever is a knowledge.Retriever that always fails. Per
// SPEC_FULL.md §1, no concrete retrieval backend ships with the core; an
// operator plugs in a real one (vector store, managed KB service) in its
// place. ToolRunner degrades tool calls to an error result rather than
// crashing the session when this is used as-is.
type unavailableRetriever struct{}

func newUnavailableRetriever() *unavailableRetriever { return &unavailableRetriever{} }

func (*unavailableRetriever) Retrieve(ctx context.Context, q modelevents.KnowledgeQuery) ([]modelevents.KnowledgeHit, error) {
	return nil, fmt.Errorf("knowledge: no retrieval backend configured")
}
