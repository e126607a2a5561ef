// Package modeldriver implements §4.3 ModelDriver: the model session
// protocol driver that owns the bidirectional model stream, serializes
// outbound events into the legal grammar, and demultiplexes inbound events.
package modeldriver

import (
	"fmt"

	"github.com/rapidaai/voicebridge/internal/modelevents"
)

// state is the abbreviated grammar state table of §4.3.
type state int

const (
	stateIdle state = iota
	stateOpening
	statePromptOpen
	stateContentOpen
	stateContentClosed
	statePromptClosed
	stateClosing
	stateFailed
	stateTerminal
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateOpening:
		return "Opening"
	case statePromptOpen:
		return "PromptOpen"
	case stateContentOpen:
		return "ContentOpen"
	case stateContentClosed:
		return "ContentClosed"
	case statePromptClosed:
		return "PromptClosed"
	case stateClosing:
		return "Closing"
	case stateFailed:
		return "Failed"
	case stateTerminal:
		return "Terminal"
	default:
		return "Unknown"
	}
}

// grammar tracks the outbound event sequence for one session and rejects
// any transition outside the §4.3 grammar:
//
//	sessionBlock := sessionStart , prompt+ , sessionEnd
//	prompt       := promptStart , content+ , promptEnd
//	content      := contentStart(role,kind) , payload* , toolResult* , contentEnd
//	payload      := textInput | audioInput
//
// It additionally tracks whether the first content of the current prompt
// was role=SYSTEM,kind=TEXT (required) and which toolUse ids are currently
// awaiting a toolResult.
type grammar struct {
	st              state
	firstContent    bool // true until the first content of the current prompt is opened
	openToolUseIDs  map[string]bool
}

func newGrammar() *grammar {
	return &grammar{st: stateIdle, openToolUseIDs: map[string]bool{}}
}

// violation constructs the fatal "invalid event ordering" error required
// by §4.3.
func violation(format string, args ...any) error {
	return fmt.Errorf("invalid event ordering: "+format, args...)
}

// observeToolUse records that the model emitted a toolUse with this id, so
// a later toolResult for it is legal.
func (g *grammar) observeToolUse(id string) {
	g.openToolUseIDs[id] = true
}

// advance validates and applies one outbound RequestEvent against the
// current state, returning an error (per §4.3 "Violations are fatal") if
// the event is illegal here.
func (g *grammar) advance(ev modelevents.RequestEvent) error {
	switch ev.Kind {
	case modelevents.ReqSessionStart:
		if g.st != stateIdle {
			return violation("sessionStart must be the first event, state=%s", g.st)
		}
		g.st = stateOpening
		return nil

	case modelevents.ReqPromptStart:
		if g.st != stateOpening && g.st != statePromptClosed {
			return violation("promptStart illegal in state=%s", g.st)
		}
		g.st = statePromptOpen
		g.firstContent = true
		return nil

	case modelevents.ReqContentStart:
		if g.st != statePromptOpen && g.st != stateContentClosed {
			return violation("contentStart illegal in state=%s", g.st)
		}
		if g.firstContent && !(ev.Role == modelevents.RoleSystem && ev.ContentKind == modelevents.ContentText) {
			return violation("first content of a prompt must be role=SYSTEM,kind=TEXT, got role=%s,kind=%s", ev.Role, ev.ContentKind)
		}
		g.firstContent = false
		g.st = stateContentOpen
		return nil

	case modelevents.ReqTextInput, modelevents.ReqAudioInput:
		if g.st != stateContentOpen {
			return violation("%s illegal in state=%s", ev.Kind, g.st)
		}
		return nil

	case modelevents.ReqToolResult:
		if g.st != stateContentOpen {
			return violation("toolResult illegal in state=%s", g.st)
		}
		if !g.openToolUseIDs[ev.ToolResultID] {
			return violation("toolResult %q has no matching outstanding toolUse", ev.ToolResultID)
		}
		delete(g.openToolUseIDs, ev.ToolResultID)
		return nil

	case modelevents.ReqContentEnd:
		if g.st != stateContentOpen {
			return violation("contentEnd illegal in state=%s", g.st)
		}
		g.st = stateContentClosed
		return nil

	case modelevents.ReqPromptEnd:
		if g.st != stateContentClosed {
			return violation("promptEnd illegal in state=%s", g.st)
		}
		g.st = statePromptClosed
		return nil

	case modelevents.ReqSessionEnd:
		if g.st != statePromptClosed {
			return violation("sessionEnd illegal in state=%s", g.st)
		}
		g.st = stateClosing
		return nil

	default:
		return violation("unknown request event kind %v", ev.Kind)
	}
}

// fail transitions to Failed (transport error, or an upstream Grammar-
// violation was raised elsewhere) per the state table.
func (g *grammar) fail() { g.st = stateFailed }

// terminal transitions to Terminal. RunInbound calls it on completionEnd,
// whatever the current state.
func (g *grammar) terminal() { g.st = stateTerminal }

func (g *grammar) isTerminal() bool { return g.st == stateTerminal }
