// Package stt wraps Deepgram live transcription for the inbound call leg.
//
// The session owns its result channel so that finals already committed are
// never lost when the recognizer connection drops and is re-dialed. Audio is
// fed as raw mu-law bytes exactly as Twilio delivers it.
package stt

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/listen"
	log "github.com/sirupsen/logrus"

	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/codec"
)

// Result is one incremental recognition event.
type Result struct {
	Text string
	// IsFinal means Deepgram committed this segment (is_final). Several
	// final segments can make up a single turn.
	IsFinal bool
	// SpeechFinal means Deepgram's own endpointing fired. Advisory only;
	// the turn coordinator applies its own silence threshold.
	SpeechFinal bool
	Confidence float64
	At         time.Time
}

// Config tunes the recognizer session.
type Config struct {
	Model      string
	Language   string
	MaxRetries int           // reconnect attempts before giving up
	Backoff    time.Duration // base backoff between reconnect attempts
}

func (c *Config) withDefaults() {
	if c.Model == "" {
		c.Model = "nova-2"
	}
	if c.Language == "" {
		c.Language = "en-US"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.Backoff == 0 {
		c.Backoff = 500 * time.Millisecond
	}
}

// liveClient is the slice of the Deepgram WS client the session uses.
type liveClient interface {
	Connect() bool
	WriteBinary(data []byte) error
	Stop()
}

// Session is a streaming recognition session for one call.
type Session struct {
	apiKey string
	cfg    Config

	results chan Result
	fatal   chan error
	audio   chan []byte
	stopCh  chan struct{}

	mu        sync.RWMutex
	client    liveClient
	connected bool
	closed    bool

	accMu         sync.Mutex
	lastVoiceTime time.Time
	lastFinal     string
	lastFinalAt   time.Time

	// dial is swapped by tests to avoid the network.
	dial func(ctx context.Context) (liveClient, error)
}

// NewSession creates a recognition session; call Connect before sending audio.
func NewSession(apiKey string, cfg Config) *Session {
	cfg.withDefaults()
	s := &Session{
		apiKey:  apiKey,
		cfg:     cfg,
		results: make(chan Result, 100),
		fatal:   make(chan error, 1),
		audio:   make(chan []byte, 1000),
		stopCh:  make(chan struct{}),
	}
	s.dial = s.dialDeepgram
	return s
}

// Results delivers recognition events in emission order.
func (s *Session) Results() <-chan Result { return s.results }

// Fatal reports an unrecoverable stream error after reconnect attempts are
// exhausted. At most one error is ever delivered.
func (s *Session) Fatal() <-chan error { return s.fatal }

func (s *Session) dialDeepgram(ctx context.Context) (liveClient, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("deepgram: API key is empty")
	}
	tOptions := &clientinterfaces.LiveTranscriptionOptions{
		Model:          s.cfg.Model,
		Language:       s.cfg.Language,
		Encoding:       "mulaw",
		Channels:       1,
		SampleRate:     codec.SampleRate,
		Punctuate:      true,
		InterimResults: true,
		VadEvents:      true,
		Endpointing:    "300",
		UtteranceEndMs: "1500",
	}
	cb := &listenCallback{sess: s}
	dg, err := listen.NewWSUsingCallback(ctx, s.apiKey, &clientinterfaces.ClientOptions{}, tOptions, cb)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create ws client: %w", err)
	}
	if ok := dg.Connect(); !ok {
		return nil, fmt.Errorf("deepgram: connect failed")
	}
	return dg, nil
}

// Connect dials the recognizer and starts the audio send pump.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.connected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	client, err := s.dial(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.client = client
	s.connected = true
	s.mu.Unlock()
	s.accMu.Lock()
	s.lastVoiceTime = time.Now()
	s.accMu.Unlock()

	go s.sendAudio(ctx)
	log.Info("deepgram: live transcription connected")
	return nil
}

// SendMuLaw queues raw mu-law audio for the recognizer. When the internal
// buffer is full the frame is dropped rather than stalling the media loop.
func (s *Session) SendMuLaw(mu []byte) error {
	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	if !connected {
		return fmt.Errorf("deepgram: not connected")
	}
	s.detectVoiceActivity(mu)
	select {
	case s.audio <- mu:
		return nil
	default:
		log.Warn("deepgram: audio buffer full, dropping frame")
		return nil
	}
}

// detectVoiceActivity updates lastVoiceTime when the frame carries energy
// above a speech-like RMS threshold.
func (s *Session) detectVoiceActivity(mu []byte) {
	const minSamples = codec.SampleRate / 100 // 10ms
	if len(mu) < minSamples {
		return
	}
	step := 1
	if len(mu) > 1600 {
		step = 2
	}
	var sumSquares float64
	count := 0
	for i := 0; i < len(mu); i += step {
		v := float64(codec.DecodeSample(mu[i]))
		sumSquares += v * v
		count++
	}
	if count == 0 {
		return
	}
	rms := math.Sqrt(sumSquares / float64(count))
	const voiceRMS = 250.0
	if rms >= voiceRMS {
		s.accMu.Lock()
		s.lastVoiceTime = time.Now()
		s.accMu.Unlock()
	}
}

// RecentlyDetectedVoice reports whether voice energy was observed within the
// given window.
func (s *Session) RecentlyDetectedVoice(window time.Duration) bool {
	s.accMu.Lock()
	last := s.lastVoiceTime
	s.accMu.Unlock()
	return time.Since(last) <= window
}

// sendAudio drains the audio queue into the recognizer connection.
func (s *Session) sendAudio(ctx context.Context) {
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case mu, ok := <-s.audio:
			if !ok {
				return
			}
			s.mu.RLock()
			client := s.client
			s.mu.RUnlock()
			if client == nil {
				continue
			}
			if err := client.WriteBinary(mu); err != nil {
				log.Warnf("deepgram: send audio: %v", err)
			}
		}
	}
}

// onMessage records a recognition result, de-duplicating replayed finals.
func (s *Session) onMessage(text string, isFinal, speechFinal bool, confidence float64) {
	if text == "" && !speechFinal {
		return
	}
	now := time.Now()
	if isFinal && text != "" {
		s.accMu.Lock()
		dup := text == s.lastFinal && now.Sub(s.lastFinalAt) < 5*time.Second
		if !dup {
			s.lastFinal = text
			s.lastFinalAt = now
		}
		s.accMu.Unlock()
		if dup {
			return
		}
	}
	r := Result{Text: text, IsFinal: isFinal, SpeechFinal: speechFinal, Confidence: confidence, At: now}
	// SDK callbacks can fire after Stop; the lock orders this send before
	// Close can close the channel.
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		log.Debugf("deepgram: dropping result after close: %q", text)
		return
	}
	select {
	case s.results <- r:
	default:
		log.Warn("deepgram: result buffer full, dropping event")
	}
}

// onDisconnect redials with backoff; committed finals already sit in the
// session-owned results channel, so nothing delivered is lost. After the
// retry budget is exhausted the error is reported on Fatal.
func (s *Session) onDisconnect(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.connected = false
	s.client = nil
	s.mu.Unlock()

	go func() {
		for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
			select {
			case <-s.stopCh:
				return
			case <-time.After(s.cfg.Backoff * time.Duration(attempt)):
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			client, err := s.dial(ctx)
			cancel()
			if err == nil {
				s.mu.Lock()
				if s.closed {
					s.mu.Unlock()
					client.Stop()
					return
				}
				s.client = client
				s.connected = true
				s.mu.Unlock()
				log.Infof("deepgram: reconnected after %d attempt(s)", attempt)
				return
			}
			log.Warnf("deepgram: reconnect attempt %d/%d failed: %v", attempt, s.cfg.MaxRetries, err)
		}
		select {
		case s.fatal <- fmt.Errorf("deepgram: stream lost after %d reconnect attempts: %w", s.cfg.MaxRetries, cause):
		default:
		}
	}()
}

// Close shuts the session down and closes the result channel.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	client := s.client
	s.client = nil
	close(s.stopCh)
	s.mu.Unlock()

	if client != nil {
		client.Stop()
	}
	close(s.results)
	log.Info("deepgram: live transcription closed")
	return nil
}

// listenCallback adapts the SDK's callback interface onto the session.
type listenCallback struct{ sess *Session }

func (c *listenCallback) Open(*msginterfaces.OpenResponse) error { return nil }

func (c *listenCallback) Message(mr *msginterfaces.MessageResponse) error {
	if mr == nil || len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	c.sess.onMessage(alt.Transcript, mr.IsFinal, mr.SpeechFinal, alt.Confidence)
	return nil
}

func (c *listenCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }

func (c *listenCallback) SpeechStarted(*msginterfaces.SpeechStartedResponse) error {
	c.sess.accMu.Lock()
	c.sess.lastVoiceTime = time.Now()
	c.sess.accMu.Unlock()
	return nil
}

func (c *listenCallback) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error {
	c.sess.onMessage("", false, true, 0)
	return nil
}

func (c *listenCallback) Close(*msginterfaces.CloseResponse) error {
	c.sess.onDisconnect(fmt.Errorf("deepgram: connection closed"))
	return nil
}

func (c *listenCallback) Error(er *msginterfaces.ErrorResponse) error {
	log.Errorf("deepgram: stream error: %s", er.Description)
	return nil
}

func (c *listenCallback) UnhandledEvent(byData []byte) error {
	log.Debugf("deepgram: unhandled event: %s", string(byData))
	return nil
}
