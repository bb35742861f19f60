// Package bridge runs one Twilio media-stream conversation: it relays
// inbound audio to recognition, turns completed remote turns into patient
// utterances, and streams synthesis back out as paced media frames.
package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/codec"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/dialogue"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/stt"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/transcript"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/turn"
)

// Recognizer is the inbound speech session the bridge feeds.
type Recognizer interface {
	Connect(ctx context.Context) error
	SendMuLaw(mu []byte) error
	Results() <-chan stt.Result
	Fatal() <-chan error
	RecentlyDetectedVoice(window time.Duration) bool
	Close() error
}

// Synthesizer turns text into a mu-law 8 kHz audio stream.
type Synthesizer interface {
	StreamULaw8k(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// Driver produces the patient side of the conversation.
type Driver interface {
	NextUtterance(ctx context.Context, agentText string) (dialogue.Utterance, error)
	ShouldHangUp(ctx context.Context, agentText string) bool
	Goodbye() dialogue.Utterance
}

// wsConn is the slice of the websocket connection the session uses.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Deps are the collaborators one session needs.
type Deps struct {
	Recognizer  Recognizer
	Synthesizer Synthesizer
	// NewDriver builds the dialogue driver once the start event names the
	// scenario.
	NewDriver func(scenarioName string) (Driver, error)
	// HangUp requests provider-side call termination; may be nil.
	HangUp func(callSid string) error
	// OnDone fires after teardown with the finished transcript; may be nil.
	OnDone func(callSid string, rec *transcript.Recorder)
}

// Config tunes one session.
type Config struct {
	SilenceThreshold time.Duration
	TranscriptsDir   string
	DefaultScenario  string
}

// Session owns one call end to end. Create with NewSession, drive with Run.
type Session struct {
	conn wsConn
	deps Deps
	cfg  Config

	writeMu sync.Mutex

	mu        sync.Mutex
	started   bool
	streamSid string
	callSid   string

	coord    *turn.Coordinator
	writer   *PacedWriter
	recorder *transcript.Recorder
	driver   Driver

	markMu sync.Mutex
	marks  map[string]chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession wraps an accepted media-stream connection.
func NewSession(conn *websocket.Conn, deps Deps, cfg Config) *Session {
	return newSession(conn, deps, cfg)
}

func newSession(conn wsConn, deps Deps, cfg Config) *Session {
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = 2500 * time.Millisecond
	}
	if cfg.TranscriptsDir == "" {
		cfg.TranscriptsDir = "transcripts"
	}
	if cfg.DefaultScenario == "" {
		cfg.DefaultScenario = "simple_scheduling"
	}
	return &Session{
		conn:  conn,
		deps:  deps,
		cfg:   cfg,
		marks: make(map[string]chan struct{}),
	}
}

// Run processes the media stream until the remote side stops it, the
// conversation concludes, or a fatal error occurs.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer s.teardown()

	// Unblock the read loop when the session is cancelled from inside.
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.mu.Lock()
			rec := s.recorder
			s.mu.Unlock()
			if rec != nil {
				rec.MarkTerminal(transcript.SpeakerPatient, fmt.Sprintf("media stream transport error: %v", err))
			}
			return fmt.Errorf("media stream read: %w", err)
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warnf("bridge: undecodable stream message: %v", err)
			continue
		}

		switch msg.Event {
		case eventConnected:
			log.Debug("bridge: media stream connected")
		case eventStart:
			if msg.Start != nil {
				if err := s.handleStart(ctx, msg.Start); err != nil {
					return err
				}
			}
		case eventMedia:
			if msg.Media != nil {
				s.handleMedia(msg.Media.Payload)
			}
		case eventMark:
			if msg.Mark != nil {
				s.signalMark(msg.Mark.Name)
			}
		case eventStop:
			log.Infof("bridge[%s]: media stream stopped", s.callSid)
			return nil
		default:
			// New event types must not break old bridges.
			log.Debugf("bridge: ignoring event %q", msg.Event)
		}
	}
}

func (s *Session) handleStart(ctx context.Context, start *startPayload) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		log.Warn("bridge: duplicate start event ignored")
		return nil
	}
	s.started = true
	s.streamSid = start.StreamSid
	s.callSid = start.CallSid
	s.mu.Unlock()

	scenarioName := start.CustomParameters["scenario"]
	if scenarioName == "" {
		scenarioName = s.cfg.DefaultScenario
		log.Warnf("bridge[%s]: start event carried no scenario, using %s", s.callSid, scenarioName)
	}

	driver, err := s.deps.NewDriver(scenarioName)
	if err != nil {
		return fmt.Errorf("build dialogue driver: %w", err)
	}

	rec := transcript.NewRecorder(scenarioName)
	rec.Start()
	rec.SetCallSID(s.callSid)

	coord := turn.NewCoordinator(s.cfg.SilenceThreshold, turn.Events{
		OnBargeIn: func(turnIdx int) {
			s.onBargeIn(turnIdx)
		},
	})
	writer := NewPacedWriter(s.sendMediaFrame)

	s.mu.Lock()
	s.driver = driver
	s.recorder = rec
	s.coord = coord
	s.writer = writer
	s.mu.Unlock()

	if err := s.deps.Recognizer.Connect(ctx); err != nil {
		rec.MarkTerminal(transcript.SpeakerPatient, fmt.Sprintf("recognizer connect failed: %v", err))
		return fmt.Errorf("connect recognizer: %w", err)
	}

	log.Infof("bridge[%s]: call started, scenario=%s stream=%s", s.callSid, scenarioName, s.streamSid)

	s.wg.Add(3)
	go s.pumpRecognition(ctx)
	go s.pumpVoiceActivity(ctx)
	go s.respond(ctx)
	return nil
}

func (s *Session) handleMedia(payloadB64 string) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	mu, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		log.Warnf("bridge: bad media payload: %v", err)
		return
	}
	if err := s.deps.Recognizer.SendMuLaw(mu); err != nil {
		log.Warnf("bridge: forward audio: %v", err)
	}
}

// pumpRecognition relays recognizer events into the coordinator and the
// transcript.
func (s *Session) pumpRecognition(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-s.deps.Recognizer.Results():
			if !ok {
				return
			}
			if r.Text != "" {
				kind := transcript.KindInterim
				if r.IsFinal {
					kind = transcript.KindFinal
				}
				s.recorder.Add(transcript.SpeakerAgent, kind, r.Text)
			}
			s.coord.OnRecognition(r)
		case err := <-s.deps.Recognizer.Fatal():
			s.recorder.MarkTerminal(transcript.SpeakerPatient, fmt.Sprintf("recognition stream lost: %v", err))
			log.Errorf("bridge[%s]: %v", s.callSid, err)
			s.cancel()
			return
		}
	}
}

// pumpVoiceActivity feeds raw energy detections into the coordinator so the
// silence clock and barge-in react before any transcript text exists.
func (s *Session) pumpVoiceActivity(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(2 * codec.FrameDurationMs * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.deps.Recognizer.RecentlyDetectedVoice(150 * time.Millisecond) {
				s.coord.OnVoiceActivity()
			}
		}
	}
}

// respond consumes completed remote turns and speaks the patient's reply.
func (s *Session) respond(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-s.coord.RemoteTurns():
			if !ok {
				return
			}
			if s.driver.ShouldHangUp(ctx, text) {
				log.Infof("bridge[%s]: conversation concluded, saying goodbye", s.callSid)
				s.speak(ctx, s.driver.Goodbye())
				s.endCall()
				return
			}
			u, err := s.driver.NextUtterance(ctx, text)
			if errors.Is(err, dialogue.ErrScenarioExhausted) {
				log.Infof("bridge[%s]: turn cap reached, saying goodbye", s.callSid)
				s.speak(ctx, s.driver.Goodbye())
				s.endCall()
				return
			}
			if err != nil {
				s.recorder.Add(transcript.SpeakerPatient, transcript.KindError, fmt.Sprintf("utterance generation failed: %v", err))
				continue
			}
			s.speak(ctx, u)
		}
	}
}

// speak synthesizes one utterance and plays it out. Barge-in cancels it via
// the coordinator; synthesis failures are retried once then skipped.
func (s *Session) speak(ctx context.Context, u dialogue.Utterance) {
	synthCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !s.coord.BeginSynthesis(u.Turn, cancel) {
		log.Warnf("bridge[%s]: floor busy, dropping utterance for turn %d", s.callSid, u.Turn)
		return
	}
	s.recorder.Add(transcript.SpeakerPatient, transcript.KindSynthesisStart, u.Text)

	err := s.streamUtterance(synthCtx, u)
	if err != nil && synthCtx.Err() == nil {
		log.Warnf("bridge[%s]: synthesis failed, retrying once: %v", s.callSid, err)
		s.writer.Reset()
		err = s.streamUtterance(synthCtx, u)
	}
	if synthCtx.Err() != nil {
		// Barge-in or call teardown; the coordinator already released the
		// floor. Reset again in case a chunk was written between the
		// barge-in reset and the cancellation check.
		s.writer.Reset()
		return
	}
	if err != nil {
		log.Errorf("bridge[%s]: synthesis failed twice, skipping utterance: %v", s.callSid, err)
		s.recorder.Add(transcript.SpeakerPatient, transcript.KindError, fmt.Sprintf("synthesis failed, utterance skipped: %v", err))
		s.coord.FinishSynthesis(u.Turn)
		return
	}

	s.writer.FlushTail()
	s.awaitPlayback(synthCtx, u.Turn)
	if synthCtx.Err() != nil {
		return
	}
	s.recorder.Add(transcript.SpeakerPatient, transcript.KindSynthesisEnd, "")
	s.coord.FinishSynthesis(u.Turn)
}

func (s *Session) streamUtterance(ctx context.Context, u dialogue.Utterance) error {
	audioCh, errCh := s.deps.Synthesizer.StreamULaw8k(ctx, u.Text)
	spoke := false
	for audioCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-audioCh:
			if !ok {
				audioCh = nil
				continue
			}
			// Chunks can still sit buffered in audioCh after a barge-in
			// cancelled the context; none of them may reach the writer.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !spoke {
				spoke = true
				s.coord.MarkSpeaking(u.Turn)
			}
			s.writer.Write(b)
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// awaitPlayback waits for the paced writer to drain, then round-trips a
// mark through Twilio so we know the far end finished playing the audio.
func (s *Session) awaitPlayback(ctx context.Context, turnIdx int) {
	ticker := time.NewTicker(codec.FrameDurationMs * time.Millisecond)
	defer ticker.Stop()
	for s.writer.Pending() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}

	name := fmt.Sprintf("turn-%d", turnIdx)
	ch := make(chan struct{})
	s.markMu.Lock()
	s.marks[name] = ch
	s.markMu.Unlock()
	defer func() {
		s.markMu.Lock()
		delete(s.marks, name)
		s.markMu.Unlock()
	}()

	if err := s.wsWrite(markMessage(s.streamSid, name)); err != nil {
		return
	}
	select {
	case <-ch:
	case <-ctx.Done():
	case <-time.After(3 * time.Second):
		log.Debugf("bridge[%s]: mark %s not echoed, assuming playback done", s.callSid, name)
	}
}

func (s *Session) signalMark(name string) {
	s.markMu.Lock()
	ch, ok := s.marks[name]
	if ok {
		delete(s.marks, name)
	}
	s.markMu.Unlock()
	if ok {
		close(ch)
	}
}

// onBargeIn runs after the coordinator cancelled synthesis: drop everything
// queued locally and tell Twilio to drop its playback buffer too.
func (s *Session) onBargeIn(turnIdx int) {
	s.writer.Reset()
	if err := s.wsWrite(clearMessage(s.streamSid)); err != nil {
		log.Warnf("bridge[%s]: send clear: %v", s.callSid, err)
	}
	s.recorder.Add(transcript.SpeakerPatient, transcript.KindBargeIn, fmt.Sprintf("interrupted turn %d", turnIdx))
	log.Infof("bridge[%s]: barge-in, cleared playback for turn %d", s.callSid, turnIdx)
}

func (s *Session) sendMediaFrame(f Frame) error {
	payload := base64.StdEncoding.EncodeToString(f.Payload)
	return s.wsWrite(mediaMessage(s.streamSid, payload))
}

func (s *Session) wsWrite(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// endCall asks the provider to terminate and cancels the session.
func (s *Session) endCall() {
	if s.deps.HangUp != nil && s.callSid != "" {
		if err := s.deps.HangUp(s.callSid); err != nil {
			log.Warnf("bridge[%s]: hang up: %v", s.callSid, err)
		}
	}
	s.cancel()
}

func (s *Session) teardown() {
	s.cancel()

	s.mu.Lock()
	coord := s.coord
	writer := s.writer
	rec := s.recorder
	callSid := s.callSid
	s.mu.Unlock()

	if coord != nil {
		coord.Close()
	}
	if writer != nil {
		writer.Close()
	}
	s.deps.Recognizer.Close()
	s.conn.Close()
	s.wg.Wait()

	if rec != nil {
		if _, err := rec.Save(s.cfg.TranscriptsDir); err != nil {
			log.Errorf("bridge[%s]: save transcript: %v", callSid, err)
		}
		if s.deps.OnDone != nil {
			s.deps.OnDone(callSid, rec)
		}
	}
	log.Infof("bridge[%s]: session closed", callSid)
}
