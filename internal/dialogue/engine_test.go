package dialogue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/llm"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/scenario"
)

type fakeLLM struct {
	replies []string
	err     error
	delay   time.Duration
	calls   [][]llm.Message
}

func (f *fakeLLM) Chat(ctx context.Context, messages []llm.Message, temperature float64, maxTokens int) (string, error) {
	f.calls = append(f.calls, messages)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "okay", nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

func testScenario() scenario.Scenario {
	return scenario.Scenario{Name: "t", Persona: "p", Goal: "g"}
}

func TestOpeningLineGeneratedOnce(t *testing.T) {
	f := &fakeLLM{replies: []string{"Hi, I'd like to book a checkup.", "Mornings work."}}
	e := NewEngine(f, testScenario(), 16, time.Second)

	u, err := e.NextUtterance(context.Background(), "Hello, thanks for calling!")
	if err != nil {
		t.Fatalf("NextUtterance: %v", err)
	}
	if u.Turn != 1 || u.Source != SourceGenerated {
		t.Errorf("opening utterance = %+v", u)
	}
	// The agent's greeting is not appended on the opening turn; the engine
	// uses the simulated prompt instead.
	first := f.calls[0]
	last := first[len(first)-1]
	if !strings.HasPrefix(last.Content, "[The medical office AI agent") {
		t.Errorf("opening prompt not used: %q", last.Content)
	}

	u2, err := e.NextUtterance(context.Background(), "Sure, when works for you?")
	if err != nil {
		t.Fatal(err)
	}
	if u2.Turn != 2 {
		t.Errorf("second turn = %d, want 2", u2.Turn)
	}
	second := f.calls[1]
	if second[len(second)-1].Content != "Sure, when works for you?" {
		t.Errorf("agent text not appended after opening: %q", second[len(second)-1].Content)
	}
}

func TestTurnCap(t *testing.T) {
	f := &fakeLLM{}
	e := NewEngine(f, testScenario(), 3, time.Second)
	for i := 0; i < 3; i++ {
		if _, err := e.NextUtterance(context.Background(), "agent"); err != nil {
			t.Fatalf("turn %d: %v", i+1, err)
		}
	}
	if _, err := e.NextUtterance(context.Background(), "agent"); !errors.Is(err, ErrScenarioExhausted) {
		t.Fatalf("expected ErrScenarioExhausted, got %v", err)
	}
	if e.Turns() != 3 {
		t.Errorf("turns = %d, want 3", e.Turns())
	}
}

func TestGenerationFailureFallsBack(t *testing.T) {
	f := &fakeLLM{err: errors.New("boom")}
	e := NewEngine(f, testScenario(), 16, time.Second)
	u, err := e.NextUtterance(context.Background(), "agent")
	if err != nil {
		t.Fatalf("fallback should not surface the error, got %v", err)
	}
	if u.Source != SourceScripted || u.Text == "" {
		t.Errorf("fallback utterance = %+v", u)
	}
}

func TestGenerationTimeoutFallsBack(t *testing.T) {
	f := &fakeLLM{delay: 200 * time.Millisecond}
	e := NewEngine(f, testScenario(), 16, 20*time.Millisecond)
	u, err := e.NextUtterance(context.Background(), "agent")
	if err != nil {
		t.Fatalf("timeout should not surface, got %v", err)
	}
	if u.Source != SourceScripted {
		t.Errorf("expected scripted fallback, got %+v", u)
	}
}

func TestShouldHangUp(t *testing.T) {
	f := &fakeLLM{replies: []string{"a", "b", "yes"}}
	e := NewEngine(f, testScenario(), 16, time.Second)

	if e.ShouldHangUp(context.Background(), "Goodbye!") {
		t.Error("hang-up check must be skipped before two exchanges")
	}
	e.NextUtterance(context.Background(), "agent")
	e.NextUtterance(context.Background(), "agent")
	if !e.ShouldHangUp(context.Background(), "Goodbye, take care!") {
		t.Error("expected hang-up after model answered yes")
	}

	f.err = errors.New("down")
	if e.ShouldHangUp(context.Background(), "anything") {
		t.Error("hang-up check errors must answer no")
	}
}

func TestGoodbyeCountsAsTurn(t *testing.T) {
	e := NewEngine(&fakeLLM{}, testScenario(), 16, time.Second)
	e.NextUtterance(context.Background(), "agent")
	u := e.Goodbye()
	if u.Turn != 2 || u.Source != SourceScripted {
		t.Errorf("goodbye = %+v", u)
	}
	if !strings.Contains(u.Text, "Bye") {
		t.Errorf("goodbye text = %q", u.Text)
	}
}
