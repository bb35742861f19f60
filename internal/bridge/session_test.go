package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/codec"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/dialogue"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/stt"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/transcript"
)

type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 64), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.in:
		return 1, b, nil
	case <-c.closed:
		return 0, nil, io.ErrClosedPipe
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.mu.Lock()
	c.written = append(c.written, data)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) outbound() []streamMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]streamMessage, 0, len(c.written))
	for _, raw := range c.written {
		var m streamMessage
		if json.Unmarshal(raw, &m) == nil {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) push(t *testing.T, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case c.in <- b:
	case <-time.After(time.Second):
		t.Fatal("inbound buffer full")
	}
}

type fakeRecognizer struct {
	results chan stt.Result
	fatal   chan error

	mu     sync.Mutex
	audio  [][]byte
	voice  bool
	closed bool
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{results: make(chan stt.Result, 16), fatal: make(chan error, 1)}
}

func (f *fakeRecognizer) Connect(ctx context.Context) error { return nil }
func (f *fakeRecognizer) SendMuLaw(mu []byte) error {
	f.mu.Lock()
	f.audio = append(f.audio, mu)
	f.mu.Unlock()
	return nil
}
func (f *fakeRecognizer) Results() <-chan stt.Result { return f.results }
func (f *fakeRecognizer) Fatal() <-chan error        { return f.fatal }
func (f *fakeRecognizer) RecentlyDetectedVoice(window time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.voice
}
func (f *fakeRecognizer) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.results)
	}
	return nil
}
func (f *fakeRecognizer) audioCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

type fakeSynth struct {
	chunk    []byte
	chunks   int
	delay    time.Duration
	failures int

	mu    sync.Mutex
	calls int
}

func (f *fakeSynth) StreamULaw8k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	audioCh := make(chan []byte, 16)
	errCh := make(chan error, 1)
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failures
	f.mu.Unlock()
	go func() {
		defer close(audioCh)
		defer close(errCh)
		if fail {
			errCh <- errors.New("synthesis backend unavailable")
			return
		}
		for i := 0; i < f.chunks; i++ {
			if f.delay > 0 {
				select {
				case <-time.After(f.delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case audioCh <- f.chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return audioCh, errCh
}

type fakeDriver struct {
	mu           sync.Mutex
	turns        int
	maxTurns     int
	hangUpAfter  int
	agentInputs  []string
	scenarioName string
}

func (f *fakeDriver) NextUtterance(ctx context.Context, agentText string) (dialogue.Utterance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.maxTurns > 0 && f.turns >= f.maxTurns {
		return dialogue.Utterance{}, dialogue.ErrScenarioExhausted
	}
	f.agentInputs = append(f.agentInputs, agentText)
	f.turns++
	return dialogue.Utterance{Text: fmt.Sprintf("reply %d", f.turns), Source: dialogue.SourceGenerated, Turn: f.turns}, nil
}

func (f *fakeDriver) ShouldHangUp(ctx context.Context, agentText string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hangUpAfter > 0 && f.turns >= f.hangUpAfter
}

func (f *fakeDriver) Goodbye() dialogue.Utterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns++
	return dialogue.Utterance{Text: "Alright, thank you so much. Bye bye.", Source: dialogue.SourceScripted, Turn: f.turns}
}

// floodSynth streams chunks nonstop until cancelled, keeping its output
// channel saturated the whole time.
type floodSynth struct {
	chunk []byte
}

func (f *floodSynth) StreamULaw8k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	audioCh := make(chan []byte, 16)
	errCh := make(chan error, 1)
	go func() {
		defer close(audioCh)
		defer close(errCh)
		for {
			select {
			case audioCh <- f.chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return audioCh, errCh
}

type harness struct {
	conn   *fakeConn
	rec    *fakeRecognizer
	synth  Synthesizer
	driver *fakeDriver

	mu       sync.Mutex
	hangUps  []string
	doneRec  *transcript.Recorder
	doneSID  string
	sess     *Session
	runErr   chan error
	scenario string
}

func newHarness(t *testing.T, synth Synthesizer, driver *fakeDriver) *harness {
	t.Helper()
	h := &harness{
		conn:   newFakeConn(),
		rec:    newFakeRecognizer(),
		synth:  synth,
		driver: driver,
		runErr: make(chan error, 1),
	}
	deps := Deps{
		Recognizer:  h.rec,
		Synthesizer: h.synth,
		NewDriver: func(name string) (Driver, error) {
			h.mu.Lock()
			h.scenario = name
			h.mu.Unlock()
			driver.scenarioName = name
			return driver, nil
		},
		HangUp: func(sid string) error {
			h.mu.Lock()
			h.hangUps = append(h.hangUps, sid)
			h.mu.Unlock()
			return nil
		},
		OnDone: func(sid string, rec *transcript.Recorder) {
			h.mu.Lock()
			h.doneSID = sid
			h.doneRec = rec
			h.mu.Unlock()
		},
	}
	h.sess = newSession(h.conn, deps, Config{
		SilenceThreshold: 60 * time.Millisecond,
		TranscriptsDir:   t.TempDir(),
	})
	go func() { h.runErr <- h.sess.Run(context.Background()) }()
	return h
}

func (h *harness) start(t *testing.T, scenario string) {
	t.Helper()
	h.conn.push(t, map[string]any{"event": "connected"})
	h.conn.push(t, map[string]any{
		"event": "start",
		"start": map[string]any{
			"streamSid":        "MZ1",
			"callSid":          "CA1",
			"customParameters": map[string]string{"scenario": scenario},
		},
	})
}

func (h *harness) finish(t *testing.T) *transcript.Recorder {
	t.Helper()
	h.conn.push(t, map[string]any{"event": "stop"})
	select {
	case <-h.runErr:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.doneRec
}

// echoMarks replays outbound mark messages back in, as the far end would.
func (h *harness) echoMarks(stop <-chan struct{}) {
	seen := map[string]bool{}
	for {
		select {
		case <-stop:
			return
		case <-time.After(10 * time.Millisecond):
		}
		for _, m := range h.conn.outbound() {
			if m.Event == eventMark && m.Mark != nil && !seen[m.Mark.Name] {
				seen[m.Mark.Name] = true
				b, _ := json.Marshal(map[string]any{"event": "mark", "mark": map[string]string{"name": m.Mark.Name}})
				select {
				case h.conn.in <- b:
				default:
				}
			}
		}
	}
}

func (h *harness) countEvents(kind string) int {
	n := 0
	for _, e := range h.conn.outbound() {
		if e.Event == kind {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, within time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(within)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMediaRelayedToRecognizer(t *testing.T) {
	h := newHarness(t, &fakeSynth{}, &fakeDriver{})
	h.start(t, "office_hours")

	payload := base64.StdEncoding.EncodeToString(make([]byte, codec.FrameBytes))
	h.conn.push(t, map[string]any{"event": "media", "media": map[string]string{"payload": payload}})

	waitFor(t, time.Second, func() bool { return h.rec.audioCount() > 0 }, "audio never reached recognizer")
	h.finish(t)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.scenario != "office_hours" {
		t.Errorf("scenario = %q", h.scenario)
	}
	if h.doneSID != "CA1" {
		t.Errorf("done call sid = %q", h.doneSID)
	}
}

func TestUnknownEventsIgnored(t *testing.T) {
	h := newHarness(t, &fakeSynth{}, &fakeDriver{})
	h.start(t, "cancellation")
	h.conn.push(t, map[string]any{"event": "dtmf", "dtmf": map[string]string{"digit": "5"}})
	h.conn.push(t, map[string]any{"event": "totally-new-thing"})

	if rec := h.finish(t); rec == nil {
		t.Fatal("session must survive unknown events")
	}
}

func TestCompletedTurnProducesSpokenReply(t *testing.T) {
	synth := &fakeSynth{chunk: make([]byte, codec.FrameBytes), chunks: 3}
	driver := &fakeDriver{}
	h := newHarness(t, synth, driver)
	stop := make(chan struct{})
	defer close(stop)
	go h.echoMarks(stop)

	h.start(t, "simple_scheduling")
	h.rec.results <- stt.Result{Text: "Hello, how can I help you today?", IsFinal: true, At: time.Now()}

	waitFor(t, 2*time.Second, func() bool { return h.countEvents(eventMedia) >= 3 }, "no outbound media frames")
	waitFor(t, 2*time.Second, func() bool { return h.countEvents(eventMark) >= 1 }, "no mark after playback")

	rec := h.finish(t)
	events := rec.Events()
	var sawFinal, sawStart, sawEnd bool
	for _, e := range events {
		switch {
		case e.Kind == transcript.KindFinal && e.Speaker == transcript.SpeakerAgent:
			sawFinal = true
		case e.Kind == transcript.KindSynthesisStart && e.Speaker == transcript.SpeakerPatient:
			sawStart = true
		case e.Kind == transcript.KindSynthesisEnd:
			sawEnd = true
		}
	}
	if !sawFinal || !sawStart || !sawEnd {
		t.Errorf("events incomplete: final=%v start=%v end=%v (%+v)", sawFinal, sawStart, sawEnd, events)
	}

	driver.mu.Lock()
	defer driver.mu.Unlock()
	if len(driver.agentInputs) != 1 || driver.agentInputs[0] != "Hello, how can I help you today?" {
		t.Errorf("driver inputs = %+v", driver.agentInputs)
	}
}

func TestBargeInClearsPlayback(t *testing.T) {
	// Slow, long synthesis so remote speech lands mid-playback.
	synth := &fakeSynth{chunk: make([]byte, codec.FrameBytes), chunks: 100, delay: 10 * time.Millisecond}
	h := newHarness(t, synth, &fakeDriver{})
	h.start(t, "interruption_test")

	h.rec.results <- stt.Result{Text: "What can I do for you?", IsFinal: true, At: time.Now()}
	waitFor(t, 2*time.Second, func() bool { return h.countEvents(eventMedia) >= 1 }, "playback never started")

	h.rec.results <- stt.Result{Text: "actually", At: time.Now()}
	waitFor(t, time.Second, func() bool { return h.countEvents(eventClear) >= 1 }, "no clear sent on barge-in")

	// After the clear, frame production must stop within a frame period or
	// two (pacer tick granularity).
	time.Sleep(3 * codec.FrameDurationMs * time.Millisecond)
	after := h.countEvents(eventMedia)
	time.Sleep(5 * codec.FrameDurationMs * time.Millisecond)
	if got := h.countEvents(eventMedia); got > after {
		t.Errorf("media frames still flowing after barge-in: %d -> %d", after, got)
	}

	rec := h.finish(t)
	var sawBarge bool
	for _, e := range rec.Events() {
		if e.Kind == transcript.KindBargeIn {
			sawBarge = true
		}
	}
	if !sawBarge {
		t.Error("barge_in event missing from transcript")
	}
}

func TestBargeInDropsBufferedSynthesis(t *testing.T) {
	// Saturate the synthesis channel so chunks are still queued when the
	// barge-in lands; none of them may be paced out after the clear.
	synth := &floodSynth{chunk: make([]byte, codec.FrameBytes)}
	h := newHarness(t, synth, &fakeDriver{})
	h.start(t, "interruption_test")

	h.rec.results <- stt.Result{Text: "How can I help you?", IsFinal: true, At: time.Now()}
	waitFor(t, 2*time.Second, func() bool { return h.countEvents(eventMedia) >= 1 }, "playback never started")

	h.rec.results <- stt.Result{Text: "hold on", At: time.Now()}
	waitFor(t, time.Second, func() bool { return h.countEvents(eventClear) >= 1 }, "no clear sent on barge-in")

	// Give the pacer one tick to settle, then the frame count must hold.
	time.Sleep(2 * codec.FrameDurationMs * time.Millisecond)
	after := h.countEvents(eventMedia)
	time.Sleep(6 * codec.FrameDurationMs * time.Millisecond)
	if got := h.countEvents(eventMedia); got > after {
		t.Errorf("buffered chunks paced out after barge-in: %d -> %d", after, got)
	}
	h.finish(t)
}

func TestTurnCapEndsCallWithGoodbye(t *testing.T) {
	synth := &fakeSynth{chunk: make([]byte, codec.FrameBytes), chunks: 1}
	driver := &fakeDriver{maxTurns: 1, turns: 1} // already at the cap
	h := newHarness(t, synth, driver)
	stop := make(chan struct{})
	defer close(stop)
	go h.echoMarks(stop)

	h.start(t, "simple_scheduling")
	h.rec.results <- stt.Result{Text: "Anything else?", IsFinal: true, At: time.Now()}

	waitFor(t, 3*time.Second, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.hangUps) > 0
	}, "call never hung up after exhaustion")

	h.mu.Lock()
	sid := h.hangUps[0]
	h.mu.Unlock()
	if sid != "CA1" {
		t.Errorf("hang up sid = %q", sid)
	}
}

func TestSynthesisRetriesOnceThenSkips(t *testing.T) {
	synth := &fakeSynth{chunk: make([]byte, codec.FrameBytes), chunks: 1, failures: 2}
	h := newHarness(t, synth, &fakeDriver{})
	h.start(t, "medication_refill")

	h.rec.results <- stt.Result{Text: "Pharmacy please.", IsFinal: true, At: time.Now()}

	waitFor(t, 2*time.Second, func() bool {
		synth.mu.Lock()
		defer synth.mu.Unlock()
		return synth.calls >= 2
	}, "synthesis was not retried")

	rec := h.finish(t)
	var skipped bool
	for _, e := range rec.Events() {
		if e.Kind == transcript.KindError {
			skipped = true
		}
	}
	if !skipped {
		t.Error("skipped utterance must leave an error event")
	}
	if h.countEvents(eventMedia) != 0 {
		t.Error("no media frames expected when synthesis failed twice")
	}
}

func TestRecognizerFatalTerminatesTranscript(t *testing.T) {
	h := newHarness(t, &fakeSynth{}, &fakeDriver{})
	h.start(t, "simple_scheduling")

	h.rec.fatal <- errors.New("stream lost after 3 reconnect attempts")

	select {
	case <-h.runErr:
	case <-time.After(2 * time.Second):
		t.Fatal("fatal recognizer error did not end the session")
	}
	h.mu.Lock()
	rec := h.doneRec
	h.mu.Unlock()
	if rec == nil {
		t.Fatal("no transcript delivered")
	}
	events := rec.Events()
	if len(events) == 0 || events[len(events)-1].Kind != transcript.KindCallError {
		t.Errorf("last event should be call_error, got %+v", events)
	}
}
