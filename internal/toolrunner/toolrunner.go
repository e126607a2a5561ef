// Package toolrunner implements §4.5 ToolRunner: executes toolUse events
// emitted by the model against the knowledge interface and produces
// ToolResults for ModelDriver's outbound grammar. Concurrent calls are
// deduplicated with golang.org/x/sync/singleflight keyed by session and
// tool-use id: duplicate calls for the same id share one knowledge query,
// while calls with different ids run their queries concurrently.
package toolrunner

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rapidaai/voicebridge/internal/bridgeerr"
	"github.com/rapidaai/voicebridge/internal/knowledge"
	"github.com/rapidaai/voicebridge/internal/logging"
	"github.com/rapidaai/voicebridge/internal/modelevents"
)

const (
	errInvalidQuery    = "Invalid query parameter"
	errNoMapping       = "Tool is not wired to a knowledge base"
	errRetrievalFailed = "I was unable to retrieve that information at the moment."
	errNoInformation   = "No information found"
)

// Config holds §4.5/§6 tool.* tunables.
type Config struct {
	Timeout           time.Duration // default 5s
	MaxResults        int           // default 3
	MinRelevanceScore float64       // default 0.5
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 3
	}
	if c.MinRelevanceScore == 0 {
		c.MinRelevanceScore = 0.5
	}
	return c
}

// Runner executes toolUse requests against a knowledge.Retriever resolved
// through a knowledge.Directory.
type Runner struct {
	cfg       Config
	directory knowledge.Directory
	retriever knowledge.Retriever
	logger    logging.Logger
	sessionID string

	group singleflight.Group
}

// New constructs a Runner for one session.
func New(sessionID string, directory knowledge.Directory, retriever knowledge.Retriever, cfg Config, logger logging.Logger) *Runner {
	return &Runner{
		cfg:       cfg.withDefaults(),
		directory: directory,
		retriever: retriever,
		logger:    logger,
		sessionID: sessionID,
	}
}

// Execute runs one toolUse request end to end per §4.5's five steps,
// returning a ToolResult that is always success-or-degrade — it never
// returns a Go error that should terminate the session (§4.5: "MUST NOT
// cancel the session on tool failure").
//
// Concurrent calls for the same session are coalesced onto a single
// in-flight knowledge query per tool-use id via singleflight, which
// guarantees the grammar constraint that every toolResult still appears
// after its matching toolUse even if Execute is invoked from multiple
// goroutines.
func (r *Runner) Execute(ctx context.Context, req modelevents.ToolRequest) modelevents.ToolResult {
	query, ok := extractQuery(req.Input)
	if !ok {
		return errorResult(req.RequestID, errInvalidQuery)
	}

	kbID, ok := r.directory.ResolveToolToKnowledgeBase(req.ToolName)
	if !ok {
		return errorResult(req.RequestID, errNoMapping)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	type outcome struct {
		hits []modelevents.KnowledgeHit
		err  error
	}
	v, err, _ := r.group.Do(r.sessionID+":"+req.RequestID, func() (any, error) {
		hits, err := r.retriever.Retrieve(ctx, modelevents.KnowledgeQuery{
			Text:            query,
			KnowledgeBaseID: kbID,
			SessionID:       r.sessionID,
		})
		return outcome{hits: hits, err: err}, err
	})
	if err != nil {
		if r.logger != nil {
			r.logger.Warnw("tool execution failed", "tool", req.ToolName, "error", err.Error())
		}
		wrapped := bridgeerr.New(bridgeerr.KindToolExecutionFailure, "knowledge retrieval failed", err)
		_ = wrapped // classification only; the caller degrades regardless
		return errorResult(req.RequestID, errRetrievalFailed)
	}

	hits := v.(outcome).hits
	filtered := filterAndRank(hits, r.cfg.MinRelevanceScore, r.cfg.MaxResults)
	if len(filtered) == 0 {
		return errorResult(req.RequestID, errNoInformation)
	}

	texts := make([]string, len(filtered))
	for i, h := range filtered {
		texts[i] = h.Text
	}
	return modelevents.ToolResult{
		RequestID: req.RequestID,
		Content:   []modelevents.ToolResultContentBlock{{Text: strings.Join(texts, "\n\n")}},
		Status:    modelevents.ToolStatusSuccess,
	}
}

func extractQuery(input map[string]any) (string, bool) {
	raw, ok := input["query"]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func filterAndRank(hits []modelevents.KnowledgeHit, minScore float64, maxResults int) []modelevents.KnowledgeHit {
	kept := make([]modelevents.KnowledgeHit, 0, len(hits))
	for _, h := range hits {
		if h.Score >= minScore {
			kept = append(kept, h)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if len(kept) > maxResults {
		kept = kept[:maxResults]
	}
	return kept
}

func errorResult(requestID, message string) modelevents.ToolResult {
	return modelevents.ToolResult{
		RequestID: requestID,
		Content:   []modelevents.ToolResultContentBlock{{Text: message}},
		Status:    modelevents.ToolStatusError,
	}
}

