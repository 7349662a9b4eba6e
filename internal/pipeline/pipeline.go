// Package pipeline wires the command path together: gate, rate limiter,
// resolver, validator, confirmation coordinator, dispatcher, and audit
// log. One goroutine consumes the transcript stream and owns all
// pipeline state; cross-task input (IPC resolutions, config reloads)
// arrives through the coordinator's own interface or channels.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voxgate/voxgate/internal/audit"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/confirm"
	"github.com/voxgate/voxgate/internal/dispatch"
	"github.com/voxgate/voxgate/internal/entity"
	"github.com/voxgate/voxgate/internal/gate"
	"github.com/voxgate/voxgate/internal/intent"
	"github.com/voxgate/voxgate/internal/ipc"
	"github.com/voxgate/voxgate/internal/model"
	"github.com/voxgate/voxgate/internal/ratelimit"
	"github.com/voxgate/voxgate/internal/speech"
)

// Broker is the outbound IPC surface the pipeline announces prompts on.
type Broker interface {
	OfferSelection(ipc.SelectionOfferPayload)
	AnnounceResult(ipc.PromptResultPayload)
}

// Deps are the pipeline's collaborators. All are required except Broker
// and Speaker, which may be nil.
type Deps struct {
	Config      *config.Config
	Registry    *intent.Registry
	Resolver    *intent.Resolver
	Validator   *entity.Validator
	Library     entity.Library
	Coordinator *confirm.Coordinator
	Dispatcher  *dispatch.Dispatcher
	Audit       *audit.Log
	Transcriber speech.Transcriber
	Speaker     speech.Speaker
	Broker      Broker
	Log         *zap.Logger
}

// Pipeline is the single consumer of the transcript stream.
type Pipeline struct {
	deps     Deps
	gate     *gate.Gate
	interval *ratelimit.Interval

	injected chan model.Transcript
	configCh chan *config.Config

	// pendingTr maps a live request ID to the transcript that opened it,
	// so the terminal audit entry carries the original utterance.
	// inflight does the same for dispatched intents.
	// Both are touched only by the run goroutine.
	pendingTr map[string]model.Transcript
	inflight  map[*model.Intent]model.Transcript

	mu            sync.Mutex
	running       bool
	auditFailures int
}

// New assembles a pipeline from its collaborators.
func New(deps Deps) *Pipeline {
	return &Pipeline{
		deps:      deps,
		gate:      gate.New(deps.Config.ConfidenceThreshold, deps.Log),
		interval:  ratelimit.NewInterval(deps.Config.MinCommandInterval.Std()),
		injected:  make(chan model.Transcript, 16),
		configCh:  make(chan *config.Config, 1),
		pendingTr: map[string]model.Transcript{},
		inflight:  map[*model.Intent]model.Transcript{},
	}
}

// SetBroker attaches the outbound IPC surface after the broker is
// constructed with the pipeline as its handler. Must be called before
// Run.
func (p *Pipeline) SetBroker(b Broker) {
	p.deps.Broker = b
}

// Run consumes transcripts until ctx is cancelled, then shuts down:
// intake stops, the live prompt is cancelled, in-flight handlers finish,
// and every outstanding outcome is audited before returning.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	p.running = true
	p.mu.Unlock()

	p.deps.Log.Info("pipeline running",
		zap.Float64("confidence_threshold", p.deps.Config.ConfidenceThreshold),
		zap.Duration("min_command_interval", p.deps.Config.MinCommandInterval.Std()))

	for {
		select {
		case <-ctx.Done():
			return p.shutdown()

		case tr, ok := <-p.deps.Transcriber.Transcripts():
			if !ok {
				return p.shutdown()
			}
			p.processTranscript(ctx, tr)

		case tr := <-p.injected:
			p.processTranscript(ctx, tr)

		case res := <-p.deps.Coordinator.Results():
			p.handleResult(ctx, res)

		case rep := <-p.deps.Dispatcher.Reports():
			p.handleReport(rep)

		case cfg := <-p.configCh:
			p.applyConfig(cfg)
		}
	}
}

func (p *Pipeline) shutdown() error {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.deps.Coordinator.Shutdown()

	// The cancellation result, if any, still needs auditing.
	for {
		select {
		case res := <-p.deps.Coordinator.Results():
			p.handleResult(context.Background(), res)
			continue
		default:
		}
		break
	}

	// Close waits for in-flight handlers, then the report channel drains.
	p.deps.Dispatcher.Close()
	for rep := range p.deps.Dispatcher.Reports() {
		p.handleReport(rep)
	}

	p.deps.Log.Info("pipeline stopped")
	return nil
}

// Reload hands a validated config snapshot to the run goroutine. Safe
// to call from the watcher goroutine; an unconsumed older snapshot is
// replaced.
func (p *Pipeline) Reload(cfg *config.Config) {
	for {
		select {
		case p.configCh <- cfg:
			return
		default:
			select {
			case <-p.configCh:
			default:
			}
		}
	}
}

func (p *Pipeline) applyConfig(cfg *config.Config) {
	p.gate.SetThreshold(cfg.ConfidenceThreshold)
	p.interval.SetMin(cfg.MinCommandInterval.Std())
	p.deps.Resolver.SetFloors(cfg.PhoneticFloor, cfg.SemanticFloor)
	p.deps.Registry.SetHighRisk(cfg.HighRiskCommands)
	p.deps.Coordinator.SetTimeouts(cfg.ConfirmTimeout.Std(), cfg.SelectionTimeout.Std())
	p.deps.Log.Info("config applied",
		zap.Float64("confidence_threshold", cfg.ConfidenceThreshold),
		zap.Duration("min_command_interval", cfg.MinCommandInterval.Std()))
}

// processTranscript walks one transcript through the admission chain.
func (p *Pipeline) processTranscript(ctx context.Context, tr model.Transcript) {
	text := intent.Normalize(tr.Text)

	// A live confirmation or selection gets first claim on voice input.
	switch disp, say := p.deps.Coordinator.HandleUtterance(text); disp {
	case confirm.DispositionMatched:
		p.speak(ctx, say)
		return
	case confirm.DispositionUnmatched:
		// Not confirmation input. A new high-risk intent supersedes the
		// live request; anything else leaves it pending.
		if p.trySupersede(ctx, tr) {
			return
		}
		p.speak(ctx, say)
		return
	case confirm.DispositionIdle:
	}

	if ok, reason := p.gate.Admit(tr); !ok {
		p.record(tr, "", 0, model.OutcomeRejected, reason)
		return
	}

	if ok, reason := p.interval.Check(); !ok {
		p.record(tr, "", 0, model.OutcomeRejected, reason)
		return
	}

	in, reason := p.deps.Resolver.Resolve(ctx, tr)
	if in == nil {
		p.record(tr, "", 0, model.OutcomeRejected, reason)
		p.speak(ctx, "Sorry, I don't know how to do that.")
		return
	}

	if out := p.deps.Validator.Validate(ctx, in); !out.OK {
		p.record(tr, in.Name, in.Tier, model.OutcomeRejected, model.ReasonEntityNotFound)
		value, _ := in.Param(out.Param)
		msg := fmt.Sprintf("I couldn't find %s.", value)
		if out.Suggestion != "" {
			msg += fmt.Sprintf(" Did you mean %s?", out.Suggestion)
		}
		p.speak(ctx, msg)
		return
	}

	if query, ok := in.Param("query"); ok {
		p.startSearch(ctx, tr, in, query)
		return
	}

	if in.Tier == model.TierHighRisk {
		id, _ := p.deps.Coordinator.BeginConfirmation(in)
		p.pendingTr[id] = tr
		p.speak(ctx, fmt.Sprintf("Are you sure you want to %s? Say confirm or cancel.",
			spoken(in.Name)))
		return
	}

	p.inflight[in] = tr
	p.deps.Dispatcher.Dispatch(in)
}

// trySupersede checks whether an utterance arriving during a live
// request is itself a high-risk command; if so it replaces the request.
// Reports whether the utterance was claimed.
func (p *Pipeline) trySupersede(ctx context.Context, tr model.Transcript) bool {
	if ok, _ := p.gate.Admit(tr); !ok {
		return false
	}
	in, _ := p.deps.Resolver.Resolve(ctx, tr)
	if in == nil || in.Tier != model.TierHighRisk {
		return false
	}

	if ok, reason := p.interval.Check(); !ok {
		p.record(tr, in.Name, in.Tier, model.OutcomeRejected, reason)
		return true
	}

	id, _ := p.deps.Coordinator.BeginConfirmation(in)
	p.pendingTr[id] = tr
	p.speak(ctx, fmt.Sprintf("Are you sure you want to %s? Say confirm or cancel.",
		spoken(in.Name)))
	return true
}

// startSearch resolves a free-form query against the library and either
// dispatches the single hit or opens a selection prompt over the
// candidates.
func (p *Pipeline) startSearch(ctx context.Context, tr model.Transcript, in *model.Intent, query string) {
	candidates := p.searchLibrary(ctx, query)

	switch len(candidates) {
	case 0:
		p.record(tr, in.Name, in.Tier, model.OutcomeRejected, model.ReasonEntityNotFound)
		p.speak(ctx, fmt.Sprintf("I couldn't find anything matching %s.", query))
	case 1:
		chosen := p.withChoice(in, candidates[0])
		p.inflight[chosen] = tr
		p.deps.Dispatcher.Dispatch(chosen)
	default:
		id, deadline, cands := p.deps.Coordinator.BeginSelection(in, candidates)
		p.pendingTr[id] = tr

		if p.deps.Broker != nil {
			offer := ipc.SelectionOfferPayload{
				RequestID: id,
				Intent:    in.Name,
				Deadline:  deadline,
			}
			for _, c := range cands {
				offer.Candidates = append(offer.Candidates, ipc.Candidate{Index: c.Index, Label: c.Label})
			}
			p.deps.Broker.OfferSelection(offer)
		}
		p.speak(ctx, p.deps.Coordinator.SpeakOptions())
	}
}

// searchLibrary collects names across all entity kinds matching the
// query by substring or close similarity.
func (p *Pipeline) searchLibrary(ctx context.Context, query string) []string {
	q := strings.ToLower(query)
	var out []string
	for _, kind := range []string{"artist", "album", "playlist"} {
		names, err := p.deps.Library.Names(ctx, kind)
		if err != nil {
			p.deps.Log.Warn("library search failed", zap.String("kind", kind), zap.Error(err))
			continue
		}
		for _, name := range names {
			if strings.Contains(strings.ToLower(name), q) || intent.Similarity(name, query) >= 0.6 {
				out = append(out, name)
			}
		}
	}
	return out
}

// handleResult audits and acts on a terminal confirmation or selection
// state.
func (p *Pipeline) handleResult(ctx context.Context, res confirm.Result) {
	tr := p.pendingTr[res.ID]
	delete(p.pendingTr, res.ID)

	if p.deps.Broker != nil {
		p.deps.Broker.AnnounceResult(ipc.PromptResultPayload{
			RequestID: res.ID,
			Kind:      string(res.Kind),
			State:     string(res.State),
			Chosen:    res.Chosen,
			Via:       res.Via,
		})
	}

	name := ""
	tier := model.RiskTier(0)
	if res.Intent != nil {
		name = res.Intent.Name
		tier = res.Intent.Tier
	}

	switch res.State {
	case confirm.StateConfirmed:
		in := res.Intent
		if res.Kind == confirm.KindSelection && res.Chosen >= 0 && res.Chosen < len(res.Candidates) {
			in = p.withChoice(in, res.Candidates[res.Chosen].Label)
		}
		p.inflight[in] = tr
		p.deps.Dispatcher.Dispatch(in)

	case confirm.StateDenied:
		p.record(tr, name, tier, model.OutcomeDenied, model.ReasonConfirmDenied)
		p.speak(ctx, "Cancelled.")

	case confirm.StateExpired:
		p.record(tr, name, tier, model.OutcomeExpired, model.ReasonConfirmExpired)
		p.speak(ctx, fmt.Sprintf("Confirmation for %s timed out.", spoken(name)))

	case confirm.StateCancelled:
		p.record(tr, name, tier, model.OutcomeRejected, model.ReasonConfirmCancelled)
	}
}

// handleReport audits a dispatched intent's outcome.
func (p *Pipeline) handleReport(rep dispatch.Report) {
	tr := p.inflight[rep.Intent]
	delete(p.inflight, rep.Intent)

	p.record(tr, rep.Intent.Name, rep.Intent.Tier, rep.Outcome, rep.Reason)
}

// withChoice returns a copy of the intent carrying the selected label.
func (p *Pipeline) withChoice(in *model.Intent, label string) *model.Intent {
	params := map[string]string{}
	for k, v := range in.Parameters {
		params[k] = v
	}
	params["choice"] = label
	return &model.Intent{
		Name:       in.Name,
		Parameters: params,
		Confidence: in.Confidence,
		Tier:       in.Tier,
	}
}

// record writes one audit entry. A write failure is logged and counted,
// never propagated: the action it describes has already happened.
func (p *Pipeline) record(tr model.Transcript, command string, tier model.RiskTier, outcome model.Outcome, reason model.Reason) {
	err := p.deps.Audit.Record(audit.Entry{
		Command:    command,
		Text:       tr.Text,
		Confidence: tr.Confidence,
		Source:     string(tr.Source),
		Tier:       int(tier),
		Outcome:    string(outcome),
		Reason:     string(reason),
	})
	if err != nil {
		p.mu.Lock()
		p.auditFailures++
		p.mu.Unlock()
		p.deps.Log.Error("audit write failed",
			zap.String("command", command),
			zap.String("outcome", string(outcome)),
			zap.String("reason", string(model.ReasonAuditWriteFailed)),
			zap.Error(err))
	}
}

// speak voices feedback without letting a broken speaker break the
// pipeline.
func (p *Pipeline) speak(ctx context.Context, text string) {
	if p.deps.Speaker == nil || text == "" {
		return
	}
	if err := p.deps.Speaker.Say(ctx, text); err != nil {
		p.deps.Log.Warn("speech output failed", zap.Error(err))
	}
}

func spoken(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

// Status implements the IPC status query.
func (p *Pipeline) Status() ipc.StatusPayload {
	p.mu.Lock()
	running := p.running
	auditFailures := p.auditFailures
	p.mu.Unlock()

	st := ipc.StatusPayload{Running: running, AuditFailures: auditFailures}
	if id, kind, ok := p.deps.Coordinator.Live(); ok {
		st.LiveRequestID = id
		st.LiveKind = string(kind)
	}
	return st
}

// InjectTranscript feeds a replay-source transcript into the pipeline.
// Never blocks the IPC connection goroutine.
func (p *Pipeline) InjectTranscript(text string, confidence float64) error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return fmt.Errorf("pipeline is not running")
	}

	tr := model.Transcript{
		Text:       text,
		Confidence: confidence,
		Timestamp:  time.Now(),
		Source:     model.SourceReplay,
	}
	select {
	case p.injected <- tr:
		return nil
	default:
		return fmt.Errorf("transcript queue full")
	}
}

// ResolveSelection applies a client selection to the live prompt.
func (p *Pipeline) ResolveSelection(requestID string, index int, via string) error {
	return p.deps.Coordinator.ResolveSelection(requestID, index, via)
}

// ResolveConfirmation applies a client confirm/deny to the live request.
func (p *Pipeline) ResolveConfirmation(requestID string, affirmative bool, via string) error {
	return p.deps.Coordinator.ResolveConfirmation(requestID, affirmative, via)
}
