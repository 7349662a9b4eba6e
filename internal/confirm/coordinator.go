// Package confirm implements the time-bounded confirmation and selection
// state machines that gate high-risk and ambiguous intents.
//
// One coordinator owns at most one live request at a time (confirmation
// or selection). Expiry is timer-driven: the deadline fires on its own
// goroutine and transitions the request without the pipeline polling.
// A superseding request cancels the live one before taking its place.
package confirm

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxgate/voxgate/internal/model"
)

// State is the lifecycle position of a confirmation request or
// selection prompt.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateDenied    State = "denied"
	StateExpired   State = "expired"
	StateCancelled State = "cancelled"
)

// Kind distinguishes the two request shapes sharing the machine.
type Kind string

const (
	KindConfirmation Kind = "confirmation"
	KindSelection    Kind = "selection"
)

// Via records which channel resolved a request.
const (
	ViaVoice     = "voice"
	ViaGUI       = "gui"
	ViaCLI       = "cli"
	ViaTimeout   = "timeout"
	ViaSupersede = "supersede"
	ViaShutdown  = "shutdown"
)

// Candidate is one selectable option in a selection prompt.
type Candidate struct {
	Index int    `json:"index"`
	Label string `json:"label"`
}

// Result is the terminal record of a request, delivered exactly once on
// the coordinator's result channel.
type Result struct {
	ID         string
	Kind       Kind
	State      State
	Intent     *model.Intent
	Candidates []Candidate
	// Chosen is the selected candidate index; valid only for a confirmed
	// selection.
	Chosen int
	Via    string
}

// affirmations and denials are the confirmation vocabulary.
var (
	affirmations = map[string]bool{"confirm": true, "yes": true, "do it": true}
	denials      = map[string]bool{"cancel": true, "no": true, "abort": true}
)

// selection control words.
var cancelWords = map[string]bool{"cancel": true, "stop": true, "quit": true, "exit": true}

// pageSize is how many candidates are announced per page.
const pageSize = 5

// live is the single in-flight request.
type live struct {
	id         string
	kind       Kind
	intent     *model.Intent
	candidates []Candidate
	deadline   time.Time
	page       int
	timer      *time.Timer
}

// Coordinator owns the single live request and its deadline timer.
type Coordinator struct {
	mu      sync.Mutex
	current *live

	confirmTimeout   time.Duration
	selectionTimeout time.Duration

	results chan Result
	parse   func(string) int // spoken-number parser, injected to avoid an import cycle
	log     *zap.Logger
}

// Config carries coordinator timeouts and the spoken-number parser.
type Config struct {
	ConfirmTimeout   time.Duration
	SelectionTimeout time.Duration
	ParseNumber      func(string) int
}

// New creates an idle coordinator.
func New(cfg Config, log *zap.Logger) *Coordinator {
	parse := cfg.ParseNumber
	if parse == nil {
		parse = func(string) int { return 0 }
	}
	return &Coordinator{
		confirmTimeout:   cfg.ConfirmTimeout,
		selectionTimeout: cfg.SelectionTimeout,
		results:          make(chan Result, 16),
		parse:            parse,
		log:              log,
	}
}

// Results delivers every terminal transition. The pipeline consumes this
// channel; the coordinator never blocks on it (see emit).
func (c *Coordinator) Results() <-chan Result {
	return c.results
}

// SetTimeouts updates deadlines for future requests on config reload.
func (c *Coordinator) SetTimeouts(confirm, selection time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmTimeout = confirm
	c.selectionTimeout = selection
}

// BeginConfirmation opens a confirmation request for a high-risk intent,
// cancelling any live request first. Returns the request ID and deadline.
func (c *Coordinator) BeginConfirmation(in *model.Intent) (string, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelLocked(ViaSupersede)
	return c.startLocked(&live{
		kind:   KindConfirmation,
		intent: in,
	}, c.confirmTimeout)
}

// BeginSelection opens a selection prompt over the given candidates,
// cancelling any live request first.
func (c *Coordinator) BeginSelection(in *model.Intent, labels []string) (string, time.Time, []Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	candidates := make([]Candidate, len(labels))
	for i, l := range labels {
		candidates[i] = Candidate{Index: i, Label: l}
	}

	c.cancelLocked(ViaSupersede)
	id, deadline := c.startLocked(&live{
		kind:       KindSelection,
		intent:     in,
		candidates: candidates,
	}, c.selectionTimeout)
	return id, deadline, candidates
}

// startLocked installs the request and arms its expiry timer.
func (c *Coordinator) startLocked(l *live, timeout time.Duration) (string, time.Time) {
	l.id = newRequestID()
	l.deadline = time.Now().Add(timeout)

	id := l.id
	l.timer = time.AfterFunc(timeout, func() { c.expire(id) })
	c.current = l

	c.log.Info("request pending",
		zap.String("id", l.id),
		zap.String("kind", string(l.kind)),
		zap.Time("deadline", l.deadline))
	return l.id, l.deadline
}

// Live reports the live request, if any.
func (c *Coordinator) Live() (id string, kind Kind, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return "", "", false
	}
	return c.current.id, c.current.kind, true
}

// expire is the timer-driven transition to Expired. It fires exactly once
// per request; a request resolved earlier stopped the timer, and the ID
// check covers the race where the timer fired before Stop.
func (c *Coordinator) expire(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.current.id != id {
		return
	}
	c.finishLocked(StateExpired, -1, ViaTimeout)
}

// Disposition classifies what a live request made of an utterance.
type Disposition int

const (
	// DispositionIdle: no live request; the utterance is the pipeline's.
	DispositionIdle Disposition = iota
	// DispositionMatched: the utterance was confirmation/selection input
	// and was applied.
	DispositionMatched
	// DispositionUnmatched: a request is live but the utterance is not in
	// its vocabulary. The request stays pending; the feedback text guides
	// the user. The pipeline may still supersede with a new high-risk
	// intent.
	DispositionUnmatched
)

// HandleUtterance routes a transcript at the live request.
//
// A mismatching utterance is not a transition: it is logged and the
// request stays pending.
func (c *Coordinator) HandleUtterance(text string) (Disposition, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return DispositionIdle, ""
	}

	switch c.current.kind {
	case KindConfirmation:
		return c.handleConfirmUtteranceLocked(text)
	case KindSelection:
		return c.handleSelectUtteranceLocked(text)
	default:
		return DispositionIdle, ""
	}
}

func (c *Coordinator) handleConfirmUtteranceLocked(text string) (Disposition, string) {
	switch {
	case affirmations[text]:
		c.finishLocked(StateConfirmed, -1, ViaVoice)
		return DispositionMatched, ""
	case denials[text]:
		c.finishLocked(StateDenied, -1, ViaVoice)
		return DispositionMatched, ""
	default:
		c.log.Info("utterance did not match confirmation vocabulary",
			zap.String("id", c.current.id), zap.String("text", text))
		return DispositionUnmatched, "Say confirm to proceed or cancel to abort."
	}
}

func (c *Coordinator) handleSelectUtteranceLocked(text string) (Disposition, string) {
	l := c.current

	if cancelWords[text] {
		c.finishLocked(StateCancelled, -1, ViaVoice)
		return DispositionMatched, "Selection cancelled."
	}

	switch text {
	case "next", "more":
		if (l.page+1)*pageSize < len(l.candidates) {
			l.page++
		}
		return DispositionMatched, c.speakOptionsLocked()
	case "previous", "back":
		if l.page > 0 {
			l.page--
		}
		return DispositionMatched, c.speakOptionsLocked()
	}

	if n := c.parse(text); n >= 1 && n <= len(l.candidates) {
		c.finishLocked(StateConfirmed, n-1, ViaVoice)
		return DispositionMatched, ""
	}

	c.log.Info("utterance did not match selection vocabulary",
		zap.String("id", l.id), zap.String("text", text))
	return DispositionUnmatched,
		fmt.Sprintf("Please say a number between 1 and %d, or cancel.", len(l.candidates))
}

// ResolveConfirmation applies a GUI/CLI confirmation decision. The ID must
// match the live request; a stale ID is rejected so a late client cannot
// resolve a superseding request.
func (c *Coordinator) ResolveConfirmation(id string, affirmative bool, via string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkLiveLocked(id, KindConfirmation); err != nil {
		return err
	}
	if affirmative {
		c.finishLocked(StateConfirmed, -1, via)
	} else {
		c.finishLocked(StateDenied, -1, via)
	}
	return nil
}

// ResolveSelection applies a GUI/CLI index selection (0-based).
// First valid resolution wins: calls are serialized by the coordinator
// mutex, so the earliest arrival resolves the prompt and later ones get
// an error.
func (c *Coordinator) ResolveSelection(id string, index int, via string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkLiveLocked(id, KindSelection); err != nil {
		return err
	}
	if index < 0 || index >= len(c.current.candidates) {
		return fmt.Errorf("selection index %d out of range [0,%d)", index, len(c.current.candidates))
	}
	c.finishLocked(StateConfirmed, index, via)
	return nil
}

// Cancel resolves the live request as Cancelled.
func (c *Coordinator) Cancel(id string, via string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.current.id != id {
		return fmt.Errorf("no live request with id %s", id)
	}
	c.finishLocked(StateCancelled, -1, via)
	return nil
}

// Shutdown cancels the live request, if any, attributing it to shutdown.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked(ViaShutdown)
}

// SpeakOptions returns the spoken announcement for the live selection
// prompt's current page.
func (c *Coordinator) SpeakOptions() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.kind != KindSelection {
		return ""
	}
	return c.speakOptionsLocked()
}

func (c *Coordinator) speakOptionsLocked() string {
	l := c.current
	if len(l.candidates) == 0 {
		return "No items to select from."
	}

	start := l.page * pageSize
	end := start + pageSize
	if end > len(l.candidates) {
		end = len(l.candidates)
	}

	msg := ""
	if len(l.candidates) > pageSize {
		msg = fmt.Sprintf("Page %d. ", l.page+1)
	}
	msg += fmt.Sprintf("Found %d matches. ", len(l.candidates))
	for i := start; i < end; i++ {
		msg += fmt.Sprintf("%d. %s. ", i+1, l.candidates[i].Label)
	}
	if end < len(l.candidates) {
		msg += "Say next for more."
	}
	return msg
}

func (c *Coordinator) checkLiveLocked(id string, kind Kind) error {
	if c.current == nil {
		return fmt.Errorf("no live request")
	}
	if c.current.id != id {
		return fmt.Errorf("request %s is not live", id)
	}
	if c.current.kind != kind {
		return fmt.Errorf("request %s is a %s, not a %s", id, c.current.kind, kind)
	}
	return nil
}

// cancelLocked resolves the live request as Cancelled, if one exists.
func (c *Coordinator) cancelLocked(via string) {
	if c.current == nil {
		return
	}
	c.finishLocked(StateCancelled, -1, via)
}

// finishLocked moves the live request to a terminal state, stops its
// timer, emits the result, and returns the coordinator to idle.
func (c *Coordinator) finishLocked(state State, chosen int, via string) {
	l := c.current
	l.timer.Stop()
	c.current = nil

	c.log.Info("request resolved",
		zap.String("id", l.id),
		zap.String("kind", string(l.kind)),
		zap.String("state", string(state)),
		zap.String("via", via))

	c.emit(Result{
		ID:         l.id,
		Kind:       l.kind,
		State:      state,
		Intent:     l.intent,
		Candidates: l.candidates,
		Chosen:     chosen,
		Via:        via,
	})
}

// emit delivers a result without ever blocking the caller (the expiry
// timer goroutine must not park on a slow consumer). A full channel is
// loud, not silent.
func (c *Coordinator) emit(r Result) {
	select {
	case c.results <- r:
	default:
		c.log.Error("result channel full, dropping terminal record",
			zap.String("id", r.ID), zap.String("state", string(r.State)))
	}
}
