// Package turn owns the call's turn-taking state machine: who may speak,
// when the remote party's turn is over, and when the caller must shut up
// because the remote party barged in.
package turn

import (
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/stt"
)

// State is the coordinator's current phase. At most one party is ever
// speaking.
type State int

const (
	StateIdle State = iota
	StateRemoteSpeaking
	StateCallerSynthesizing
	StateCallerSpeaking
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRemoteSpeaking:
		return "remote_speaking"
	case StateCallerSynthesizing:
		return "caller_synthesizing"
	case StateCallerSpeaking:
		return "caller_speaking"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Events are callbacks fired outside the coordinator's lock.
type Events struct {
	// OnBargeIn fires when remote speech interrupts caller playback; the
	// argument is the interrupted caller turn index. Synthesis has already
	// been cancelled when it fires.
	OnBargeIn func(turn int)
}

// Coordinator serializes recognition events, voice activity and synthesis
// lifecycle through one lock and emits completed remote turns.
type Coordinator struct {
	silence time.Duration
	events  Events

	mu           sync.Mutex
	state        State
	finals       []string
	lastActivity time.Time
	timer        *time.Timer
	cancelSynth  func()
	synthTurn    int

	remoteTurns chan string
}

// NewCoordinator builds a coordinator with the given silence threshold. The
// remote party's turn completes after that long without recognition text or
// voice energy.
func NewCoordinator(silence time.Duration, events Events) *Coordinator {
	if silence <= 0 {
		silence = 2500 * time.Millisecond
	}
	return &Coordinator{
		silence:     silence,
		events:      events,
		state:       StateIdle,
		remoteTurns: make(chan string, 4),
	}
}

// RemoteTurns delivers the joined final text of each completed remote turn,
// exactly once per turn.
func (c *Coordinator) RemoteTurns() <-chan string { return c.remoteTurns }

// State reports the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnRecognition feeds one recognizer event in. Interims only mark activity;
// finals are buffered for the turn. Activity during caller playback is a
// barge-in.
func (c *Coordinator) OnRecognition(r stt.Result) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}

	barged := c.maybeBargeInLocked()

	if r.Text != "" || r.IsFinal {
		c.lastActivity = time.Now()
	}
	if r.IsFinal && r.Text != "" {
		// A replayed final (recognizer redelivery after reconnect) must
		// not appear twice in the committed turn.
		if n := len(c.finals); n == 0 || c.finals[n-1] != r.Text {
			c.finals = append(c.finals, r.Text)
		}
	}
	if c.state == StateIdle && (r.Text != "" || r.IsFinal) {
		c.state = StateRemoteSpeaking
		log.Debugf("turn: idle -> remote_speaking (%q)", r.Text)
	}
	if c.state == StateRemoteSpeaking {
		c.armTimerLocked()
	}
	c.mu.Unlock()

	if barged != nil {
		barged()
	}
}

// OnVoiceActivity marks raw voice energy with no transcript yet. It keeps
// the silence clock alive and triggers barge-in like recognition does.
func (c *Coordinator) OnVoiceActivity() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	barged := c.maybeBargeInLocked()
	c.lastActivity = time.Now()
	if c.state == StateIdle {
		c.state = StateRemoteSpeaking
	}
	if c.state == StateRemoteSpeaking {
		c.armTimerLocked()
	}
	c.mu.Unlock()

	if barged != nil {
		barged()
	}
}

// maybeBargeInLocked cancels in-flight synthesis when remote activity
// arrives during caller playback. Returns the deferred notification to run
// outside the lock, or nil.
func (c *Coordinator) maybeBargeInLocked() func() {
	if c.state != StateCallerSynthesizing && c.state != StateCallerSpeaking {
		return nil
	}
	turn := c.synthTurn
	cancel := c.cancelSynth
	c.cancelSynth = nil
	c.synthTurn = 0
	c.state = StateRemoteSpeaking
	log.Infof("turn: barge-in, cancelling caller turn %d", turn)
	if cancel != nil {
		cancel()
	}
	onBargeIn := c.events.OnBargeIn
	if onBargeIn == nil {
		return func() {}
	}
	return func() { onBargeIn(turn) }
}

// armTimerLocked starts or keeps the silence timer running. The timer
// re-arms itself when it fires before the threshold has truly elapsed since
// the last activity.
func (c *Coordinator) armTimerLocked() {
	if c.timer != nil {
		return
	}
	c.timer = time.AfterFunc(c.silence, c.onSilenceTimer)
}

func (c *Coordinator) onSilenceTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRemoteSpeaking {
		c.timer = nil
		return
	}
	elapsed := time.Since(c.lastActivity)
	if elapsed < c.silence {
		// Activity came in after arming; wait out the remainder.
		c.timer = time.AfterFunc(c.silence-elapsed, c.onSilenceTimer)
		return
	}
	c.timer = nil
	text := strings.TrimSpace(strings.Join(c.finals, " "))
	c.finals = nil
	c.state = StateIdle

	if text == "" {
		log.Debug("turn: remote went silent with no committed text")
		return
	}
	log.Infof("turn: remote turn complete: %s", text)
	// Sent under the lock: Close flips the state on the same lock before it
	// closes the channel, so a commit can never race the close.
	select {
	case c.remoteTurns <- text:
	default:
		log.Warn("turn: remote turn dropped, consumer not keeping up")
	}
}

// BeginSynthesis claims the floor for caller turn index turn. Allowed only
// while idle; cancel is invoked if the remote party barges in.
func (c *Coordinator) BeginSynthesis(turn int, cancel func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return false
	}
	c.state = StateCallerSynthesizing
	c.synthTurn = turn
	c.cancelSynth = cancel
	return true
}

// MarkSpeaking records the first audible frame of caller turn index turn.
func (c *Coordinator) MarkSpeaking(turn int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateCallerSynthesizing && c.synthTurn == turn {
		c.state = StateCallerSpeaking
	}
}

// FinishSynthesis releases the floor after playback of turn completes
// normally. A stale turn index (already cancelled by barge-in) is ignored.
func (c *Coordinator) FinishSynthesis(turn int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if (c.state == StateCallerSynthesizing || c.state == StateCallerSpeaking) && c.synthTurn == turn {
		c.state = StateIdle
		c.synthTurn = 0
		c.cancelSynth = nil
	}
}

// Close moves to the terminal state, cancels any in-flight synthesis and
// closes the remote-turn channel.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	cancel := c.cancelSynth
	c.cancelSynth = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	close(c.remoteTurns)
}
