// Package dialogue generates the patient side of the conversation. It keeps
// the running chat history for one call and turns the remote agent's
// transcribed speech into the patient's next line.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/llm"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/scenario"
)

// ErrScenarioExhausted signals the turn cap was reached. Normal termination,
// not a failure.
var ErrScenarioExhausted = errors.New("dialogue: turn cap reached")

// ChatCompleter is the slice of the LLM client the engine needs.
type ChatCompleter interface {
	Chat(ctx context.Context, messages []llm.Message, temperature float64, maxTokens int) (string, error)
}

// Utterance is one patient line handed to synthesis, consumed exactly once.
type Utterance struct {
	Text string
	// Source is "generated" for LLM output and "scripted" for canned lines
	// (fallback, goodbye).
	Source string
	// Turn is the 1-based index of this caller utterance within the call.
	Turn int
}

const (
	SourceGenerated = "generated"
	SourceScripted  = "scripted"

	temperature = 0.8
	maxTokens   = 150

	fallbackLine = "Sorry, could you say that again?"
	goodbyeLine  = "Alright, thank you so much. Bye bye."

	openingPrompt = "[The medical office AI agent has just answered the phone " +
		"and greeted you. Respond naturally as the patient. " +
		"Keep it brief - one or two sentences.]"

	hangUpPrompt = "You are analyzing a phone conversation between a patient " +
		"and a medical office AI. Based on what the agent just " +
		"said, determine if the conversation is naturally winding " +
		"down. Answer 'yes' if ANY of these are true:\n" +
		"- The agent said goodbye, take care, or similar\n" +
		"- The agent confirmed everything is done/set\n" +
		"- The agent asked 'is there anything else' (meaning main task is done)\n" +
		"- The agent said they can't help further\n" +
		"- The conversation has clearly concluded\n" +
		"Respond with ONLY 'yes' or 'no'."
)

// Engine drives the patient side of one call.
type Engine struct {
	llm        ChatCompleter
	scenario   scenario.Scenario
	maxTurns   int
	genTimeout time.Duration

	mu          sync.Mutex
	history     []llm.Message
	turns       int
	openingSent bool
}

// NewEngine builds a dialogue engine for the scenario. maxTurns caps the
// number of caller utterances; genTimeout bounds each LLM call.
func NewEngine(completer ChatCompleter, sc scenario.Scenario, maxTurns int, genTimeout time.Duration) *Engine {
	if maxTurns <= 0 {
		maxTurns = 16
	}
	if genTimeout <= 0 {
		genTimeout = 10 * time.Second
	}
	return &Engine{
		llm:        completer,
		scenario:   sc,
		maxTurns:   maxTurns,
		genTimeout: genTimeout,
		history:    []llm.Message{{Role: llm.RoleSystem, Content: sc.SystemPrompt()}},
	}
}

// NextUtterance produces the patient's next line. The first call generates
// the opening line regardless of agentText; later calls respond to the
// agent's transcribed turn. On generation failure or timeout a scripted
// fallback line is substituted and the call continues.
func (e *Engine) NextUtterance(ctx context.Context, agentText string) (Utterance, error) {
	e.mu.Lock()
	if e.turns >= e.maxTurns {
		e.mu.Unlock()
		return Utterance{}, ErrScenarioExhausted
	}
	if !e.openingSent {
		e.openingSent = true
		e.history = append(e.history, llm.Message{Role: llm.RoleUser, Content: openingPrompt})
	} else {
		e.history = append(e.history, llm.Message{Role: llm.RoleUser, Content: agentText})
	}
	messages := make([]llm.Message, len(e.history))
	copy(messages, e.history)
	e.mu.Unlock()

	genCtx, cancel := context.WithTimeout(ctx, e.genTimeout)
	defer cancel()

	text, err := e.llm.Chat(genCtx, messages, temperature, maxTokens)
	source := SourceGenerated
	if err != nil {
		log.Warnf("dialogue[%s]: generation failed, using fallback: %v", e.scenario.Name, err)
		text = fallbackLine
		source = SourceScripted
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = fallbackLine
		source = SourceScripted
	}

	e.mu.Lock()
	e.history = append(e.history, llm.Message{Role: llm.RoleAssistant, Content: text})
	e.turns++
	turn := e.turns
	e.mu.Unlock()

	log.Debugf("dialogue[%s]: patient says (turn %d): %s", e.scenario.Name, turn, text)
	return Utterance{Text: text, Source: source, Turn: turn}, nil
}

// ShouldHangUp asks the model whether the agent's latest line means the
// conversation has naturally concluded. Skipped until two exchanges have
// completed so a short call cannot end on the greeting. Errors answer no.
func (e *Engine) ShouldHangUp(ctx context.Context, agentText string) bool {
	e.mu.Lock()
	turns := e.turns
	e.mu.Unlock()
	if turns < 2 {
		return false
	}

	genCtx, cancel := context.WithTimeout(ctx, e.genTimeout)
	defer cancel()

	answer, err := e.llm.Chat(genCtx, []llm.Message{
		{Role: llm.RoleSystem, Content: hangUpPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("Agent said: %q", agentText)},
	}, 0.0, 5)
	if err != nil {
		log.Warnf("dialogue[%s]: hang-up check failed: %v", e.scenario.Name, err)
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "yes")
}

// Goodbye returns the scripted closing line. It counts as a caller turn so
// the transcript's turn indices stay monotonic.
func (e *Engine) Goodbye() Utterance {
	e.mu.Lock()
	e.turns++
	turn := e.turns
	e.history = append(e.history, llm.Message{Role: llm.RoleAssistant, Content: goodbyeLine})
	e.mu.Unlock()
	return Utterance{Text: goodbyeLine, Source: SourceScripted, Turn: turn}
}

// Turns reports how many caller utterances have been produced.
func (e *Engine) Turns() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.turns
}

// History returns the chat history excluding the system prompt.
func (e *Engine) History() []llm.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]llm.Message, 0, len(e.history))
	for _, m := range e.history {
		if m.Role != llm.RoleSystem {
			out = append(out, m)
		}
	}
	return out
}
