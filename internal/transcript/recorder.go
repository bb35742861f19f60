// Package transcript records what happened on a call as an append-only,
// timestamped event log and persists it as JSON for the analyzer.
package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Speakers.
const (
	SpeakerAgent   = "agent"
	SpeakerPatient = "patient"
)

// Event kinds.
const (
	KindInterim        = "interim"
	KindFinal          = "final"
	KindSynthesisStart = "synthesis_start"
	KindSynthesisEnd   = "synthesis_end"
	KindBargeIn        = "barge_in"
	KindError          = "error"
	KindCallError      = "call_error"
)

// Event is one entry in the call log. Timestamp is seconds since call start.
type Event struct {
	Timestamp float64 `json:"timestamp"`
	Speaker   string  `json:"speaker"`
	Kind      string  `json:"kind"`
	Text      string  `json:"text,omitempty"`
}

// Recorder accumulates events for one call. Safe for concurrent use.
type Recorder struct {
	scenarioName string

	mu       sync.Mutex
	callSID  string
	started  time.Time
	events   []Event
	terminal bool
}

// NewRecorder creates a recorder for the named scenario.
func NewRecorder(scenarioName string) *Recorder {
	return &Recorder{scenarioName: scenarioName}
}

// Start marks the beginning of the conversation clock.
func (r *Recorder) Start() {
	r.mu.Lock()
	r.started = time.Now()
	r.mu.Unlock()
}

// SetCallSID attaches the provider call identifier.
func (r *Recorder) SetCallSID(sid string) {
	r.mu.Lock()
	r.callSID = sid
	r.mu.Unlock()
}

// Add appends one event. Events after the terminal marker are dropped.
func (r *Recorder) Add(speaker, kind, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminal {
		return
	}
	var elapsed float64
	if !r.started.IsZero() {
		elapsed = time.Since(r.started).Seconds()
	}
	r.events = append(r.events, Event{
		Timestamp: float64(int(elapsed*100)) / 100,
		Speaker:   speaker,
		Kind:      kind,
		Text:      text,
	})
	if kind == KindFinal || kind == KindSynthesisStart {
		log.Infof("[%s] %s: %s", r.scenarioName, strings.ToUpper(speaker), text)
	}
}

// MarkTerminal records a fatal error event and freezes the log.
func (r *Recorder) MarkTerminal(speaker, text string) {
	r.Add(speaker, KindCallError, text)
	r.mu.Lock()
	r.terminal = true
	r.mu.Unlock()
}

// Events returns a copy of the log.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

type savedTranscript struct {
	CallID          string  `json:"call_id"`
	Scenario        string  `json:"scenario"`
	Timestamp       string  `json:"timestamp"`
	DurationSeconds float64 `json:"duration_seconds"`
	Transcript      []Event `json:"transcript"`
	Metadata        struct {
		TwilioCallSID string `json:"twilio_call_sid"`
		TotalEvents   int    `json:"total_events"`
	} `json:"metadata"`
}

// Save writes the transcript JSON under dir and returns the file path.
func (r *Recorder) Save(dir string) (string, error) {
	r.mu.Lock()
	events := make([]Event, len(r.events))
	copy(events, r.events)
	callSID := r.callSID
	var duration float64
	if !r.started.IsZero() {
		duration = time.Since(r.started).Seconds()
	}
	r.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create transcripts dir: %w", err)
	}

	doc := savedTranscript{
		CallID:          callSID,
		Scenario:        r.scenarioName,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		DurationSeconds: float64(int(duration*10)) / 10,
		Transcript:      events,
	}
	doc.Metadata.TwilioCallSID = callSID
	doc.Metadata.TotalEvents = len(events)

	name := fmt.Sprintf("%s_%s.json", r.scenarioName, time.Now().UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal transcript: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write transcript: %w", err)
	}
	log.Infof("transcript saved: %s (%d events, %.1fs)", path, len(events), duration)
	return path, nil
}

// ReadableText formats the spoken turns for the analyzer prompt. Interim
// and control events are skipped.
func (r *Recorder) ReadableText() string {
	events := r.Events()
	var b strings.Builder
	fmt.Fprintf(&b, "=== Scenario: %s ===\n", r.scenarioName)
	for _, e := range events {
		switch e.Kind {
		case KindFinal, KindSynthesisStart:
			label := "AGENT"
			if e.Speaker == SpeakerPatient {
				label = "PATIENT"
			}
			fmt.Fprintf(&b, "\n[%6.1fs] %s: %s", e.Timestamp, label, e.Text)
		case KindBargeIn:
			fmt.Fprintf(&b, "\n[%6.1fs] (patient interrupted by agent speech)", e.Timestamp)
		case KindCallError:
			fmt.Fprintf(&b, "\n[%6.1fs] (call error: %s)", e.Timestamp, e.Text)
		}
	}
	return b.String()
}

// Load reads a saved transcript JSON file back.
func Load(path string) (scenarioName, callID string, events []Event, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", nil, fmt.Errorf("read transcript: %w", err)
	}
	var doc savedTranscript
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", "", nil, fmt.Errorf("parse transcript %s: %w", path, err)
	}
	return doc.Scenario, doc.CallID, doc.Transcript, nil
}
