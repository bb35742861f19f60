// Package runner executes test scenarios as real calls: place the call,
// wait for it to finish (or time out and kill it), pause, repeat.
package runner

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/scenario"
	"github.com/Karthik016996148/PrettyGoodAI--EngineeringChallenge/internal/transcript"
)

// Registry tracks in-flight calls so call-status webhooks and bridge
// teardown can signal completion to the waiting runner.
type Registry struct {
	mu   sync.Mutex
	done map[string]chan struct{}
	recs map[string]*transcript.Recorder
}

func NewRegistry() *Registry {
	return &Registry{
		done: make(map[string]chan struct{}),
		recs: make(map[string]*transcript.Recorder),
	}
}

// Track registers a call SID and returns its completion channel.
func (r *Registry) Track(callSID string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.done[callSID]; ok {
		return ch
	}
	ch := make(chan struct{})
	r.done[callSID] = ch
	return ch
}

// Done marks a call finished. Idempotent; unknown SIDs are tracked first so
// a webhook racing the runner still lands.
func (r *Registry) Done(callSID string, rec *transcript.Recorder) {
	if callSID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec != nil {
		r.recs[callSID] = rec
	}
	ch, ok := r.done[callSID]
	if !ok {
		ch = make(chan struct{})
		r.done[callSID] = ch
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// Transcript returns the recorder a finished call left behind, if any.
func (r *Registry) Transcript(callSID string) *transcript.Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recs[callSID]
}

// Dialer places and kills calls.
type Dialer interface {
	PlaceCall(scenarioName string) (string, error)
	HangUp(callSID string) error
}

// Config tunes the run.
type Config struct {
	CallTimeout    time.Duration
	InterCallDelay time.Duration
	// Concurrency > 1 runs that many calls at once. Each call owns its
	// session end to end, so the only shared state is the registry.
	Concurrency int
}

// Runner walks a list of scenarios.
type Runner struct {
	dialer   Dialer
	registry *Registry
	cfg      Config
}

func New(dialer Dialer, registry *Registry, cfg Config) *Runner {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 120 * time.Second
	}
	if cfg.InterCallDelay < 0 {
		cfg.InterCallDelay = 0
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Runner{dialer: dialer, registry: registry, cfg: cfg}
}

// Result is the outcome of one scenario call.
type Result struct {
	Scenario string
	CallSID  string
	Err      error
	TimedOut bool
}

// RunAll executes every scenario, sequentially by default or with bounded
// concurrency. Returns one result per scenario in completion order.
func (r *Runner) RunAll(ctx context.Context, scenarios []scenario.Scenario) []Result {
	results := make([]Result, 0, len(scenarios))
	if r.cfg.Concurrency == 1 {
		for i, sc := range scenarios {
			if ctx.Err() != nil {
				break
			}
			results = append(results, r.runOne(ctx, sc))
			if i < len(scenarios)-1 && r.cfg.InterCallDelay > 0 {
				select {
				case <-time.After(r.cfg.InterCallDelay):
				case <-ctx.Done():
				}
			}
		}
		return results
	}

	sem := make(chan struct{}, r.cfg.Concurrency)
	out := make(chan Result, len(scenarios))
	var wg sync.WaitGroup
	for _, sc := range scenarios {
		wg.Add(1)
		go func(sc scenario.Scenario) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				out <- Result{Scenario: sc.Name, Err: ctx.Err()}
				return
			}
			out <- r.runOne(ctx, sc)
		}(sc)
	}
	wg.Wait()
	close(out)
	for res := range out {
		results = append(results, res)
	}
	return results
}

// runOne places a single call and waits for completion or timeout.
func (r *Runner) runOne(ctx context.Context, sc scenario.Scenario) Result {
	log.Infof("runner: starting scenario %s", sc.Name)
	sid, err := r.dialer.PlaceCall(sc.Name)
	if err != nil {
		log.Errorf("runner: %s: place call: %v", sc.Name, err)
		return Result{Scenario: sc.Name, Err: err}
	}
	done := r.registry.Track(sid)

	select {
	case <-done:
		log.Infof("runner: scenario %s finished (sid=%s)", sc.Name, sid)
		return Result{Scenario: sc.Name, CallSID: sid}
	case <-time.After(r.cfg.CallTimeout):
		log.Warnf("runner: scenario %s timed out after %v, hanging up", sc.Name, r.cfg.CallTimeout)
		if err := r.dialer.HangUp(sid); err != nil {
			log.Warnf("runner: hang up %s: %v", sid, err)
		}
		return Result{Scenario: sc.Name, CallSID: sid, TimedOut: true}
	case <-ctx.Done():
		if err := r.dialer.HangUp(sid); err != nil {
			log.Warnf("runner: hang up %s: %v", sid, err)
		}
		return Result{Scenario: sc.Name, CallSID: sid, Err: ctx.Err()}
	}
}
