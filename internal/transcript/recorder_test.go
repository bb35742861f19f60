package transcript

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAddAndEvents(t *testing.T) {
	r := NewRecorder("simple_scheduling")
	r.Start()
	r.Add(SpeakerAgent, KindInterim, "hel")
	r.Add(SpeakerAgent, KindFinal, "hello, how can I help?")
	r.Add(SpeakerPatient, KindSynthesisStart, "Hi, I'd like an appointment.")
	r.Add(SpeakerPatient, KindSynthesisEnd, "")

	events := r.Events()
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp < events[i-1].Timestamp {
			t.Error("timestamps must be non-decreasing")
		}
	}
	if events[1].Speaker != SpeakerAgent || events[1].Kind != KindFinal {
		t.Errorf("unexpected event: %+v", events[1])
	}
}

func TestTerminalFreezesLog(t *testing.T) {
	r := NewRecorder("t")
	r.Start()
	r.Add(SpeakerAgent, KindFinal, "hi")
	r.MarkTerminal(SpeakerPatient, "websocket closed unexpectedly")
	r.Add(SpeakerAgent, KindFinal, "late")

	events := r.Events()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	last := events[len(events)-1]
	if last.Kind != KindCallError || last.Text == "" {
		t.Errorf("terminal event = %+v", last)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder("cancellation")
	r.Start()
	r.SetCallSID("CA123")
	r.Add(SpeakerPatient, KindSynthesisStart, "I need to cancel.")
	r.Add(SpeakerAgent, KindFinal, "Sure, which appointment?")

	path, err := r.Save(dir)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Dir(path) != dir || !strings.HasPrefix(filepath.Base(path), "cancellation_") {
		t.Errorf("unexpected path %s", path)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("saved file is not valid JSON: %v", err)
	}
	for _, key := range []string{"call_id", "scenario", "timestamp", "duration_seconds", "transcript", "metadata"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("saved JSON missing %q", key)
		}
	}

	scenarioName, callID, events, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if scenarioName != "cancellation" || callID != "CA123" || len(events) != 2 {
		t.Errorf("Load = %q %q %d events", scenarioName, callID, len(events))
	}
}

func TestReadableText(t *testing.T) {
	r := NewRecorder("office_hours")
	r.Start()
	r.Add(SpeakerAgent, KindInterim, "we are op")
	r.Add(SpeakerAgent, KindFinal, "We are open nine to five.")
	r.Add(SpeakerPatient, KindSynthesisStart, "Any weekend hours?")
	r.Add(SpeakerPatient, KindBargeIn, "")

	text := r.ReadableText()
	if !strings.Contains(text, "AGENT: We are open nine to five.") {
		t.Errorf("missing agent line:\n%s", text)
	}
	if !strings.Contains(text, "PATIENT: Any weekend hours?") {
		t.Errorf("missing patient line:\n%s", text)
	}
	if strings.Contains(text, "we are op") {
		t.Error("interims must not appear in readable text")
	}
	if !strings.Contains(text, "interrupted") {
		t.Error("barge-in marker missing")
	}
}
