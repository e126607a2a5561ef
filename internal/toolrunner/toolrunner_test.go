package toolrunner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicebridge/internal/knowledge"
	"github.com/rapidaai/voicebridge/internal/modelevents"
)

type fakeDirectory struct {
	mapping map[string]string
}

func (d *fakeDirectory) EnabledTools() []knowledge.ToolDescriptor {
	return nil
}

func (d *fakeDirectory) ResolveToolToKnowledgeBase(name string) (string, bool) {
	kb, ok := d.mapping[name]
	return kb, ok
}

type fakeRetriever struct {
	hits []modelevents.KnowledgeHit
	err  error
}

func (r *fakeRetriever) Retrieve(ctx context.Context, q modelevents.KnowledgeQuery) ([]modelevents.KnowledgeHit, error) {
	return r.hits, r.err
}

func TestExecute_InvalidQueryParameter(t *testing.T) {
	r := New("sess1", &fakeDirectory{mapping: map[string]string{"search": "kb1"}}, &fakeRetriever{}, Config{}, nil)
	res := r.Execute(context.Background(), modelevents.ToolRequest{RequestID: "r1", ToolName: "search", Input: map[string]any{}})
	assert.Equal(t, modelevents.ToolStatusError, res.Status)
	require.Len(t, res.Content, 1)
	assert.Equal(t, errInvalidQuery, res.Content[0].Text)
}

func TestExecute_UnmappedTool(t *testing.T) {
	r := New("sess1", &fakeDirectory{mapping: map[string]string{}}, &fakeRetriever{}, Config{}, nil)
	res := r.Execute(context.Background(), modelevents.ToolRequest{RequestID: "r1", ToolName: "unknown", Input: map[string]any{"query": "x"}})
	assert.Equal(t, modelevents.ToolStatusError, res.Status)
	assert.Equal(t, errNoMapping, res.Content[0].Text)
}

func TestExecute_FiltersByScoreAndCapsResults(t *testing.T) {
	hits := []modelevents.KnowledgeHit{
		{Text: "low", Score: 0.1},
		{Text: "mid", Score: 0.6},
		{Text: "high", Score: 0.9},
		{Text: "also-high", Score: 0.8},
	}
	r := New("sess1",
		&fakeDirectory{mapping: map[string]string{"search": "kb1"}},
		&fakeRetriever{hits: hits},
		Config{MaxResults: 2, MinRelevanceScore: 0.5},
		nil,
	)
	res := r.Execute(context.Background(), modelevents.ToolRequest{RequestID: "r1", ToolName: "search", Input: map[string]any{"query": "q"}})
	require.Equal(t, modelevents.ToolStatusSuccess, res.Status)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "high\n\nalso-high", res.Content[0].Text)
}

func TestExecute_EmptyFilteredSetReturnsNoInformationFound(t *testing.T) {
	r := New("sess1",
		&fakeDirectory{mapping: map[string]string{"search": "kb1"}},
		&fakeRetriever{hits: []modelevents.KnowledgeHit{{Text: "low", Score: 0.1}}},
		Config{},
		nil,
	)
	res := r.Execute(context.Background(), modelevents.ToolRequest{RequestID: "r1", ToolName: "search", Input: map[string]any{"query": "q"}})
	assert.Equal(t, modelevents.ToolStatusError, res.Status)
	assert.Equal(t, errNoInformation, res.Content[0].Text)
}

func TestExecute_RetrieverFailureDegradesToErrorResult(t *testing.T) {
	r := New("sess1",
		&fakeDirectory{mapping: map[string]string{"search": "kb1"}},
		&fakeRetriever{err: errors.New("backend unavailable")},
		Config{},
		nil,
	)
	res := r.Execute(context.Background(), modelevents.ToolRequest{RequestID: "r1", ToolName: "search", Input: map[string]any{"query": "q"}})
	assert.Equal(t, modelevents.ToolStatusError, res.Status)
	assert.Equal(t, errRetrievalFailed, res.Content[0].Text)
}
