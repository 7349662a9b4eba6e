package intent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/voxgate/voxgate/internal/model"
)

// Resolver maps a transcript to at most one intent.
//
// Resolution order is fixed: exact trigger match, then phonetic matching
// for critical commands, then semantic similarity. The first stage to
// clear its floor wins; if none does, the transcript is dropped with
// ReasonNoIntentMatched.
type Resolver struct {
	registry      *Registry
	phoneticFloor float64
	semanticFloor float64

	embedder Embedder
	index    *exemplarIndex

	log *zap.Logger
}

// ResolverConfig carries the tunable floors.
type ResolverConfig struct {
	PhoneticFloor float64
	SemanticFloor float64
}

// NewResolver creates a resolver without a semantic stage.
func NewResolver(registry *Registry, cfg ResolverConfig, log *zap.Logger) *Resolver {
	return &Resolver{
		registry:      registry,
		phoneticFloor: cfg.PhoneticFloor,
		semanticFloor: cfg.SemanticFloor,
		log:           log,
	}
}

// EnableSemantic attaches an embedding backend and precomputes the
// exemplar index. Call before the pipeline starts; the embedding requests
// run here, not per transcript on the hot path's critical section.
func (r *Resolver) EnableSemantic(ctx context.Context, emb Embedder) error {
	index, err := buildExemplarIndex(ctx, emb, r.registry.Commands())
	if err != nil {
		return fmt.Errorf("enable semantic matching: %w", err)
	}
	r.embedder = emb
	r.index = index
	return nil
}

// SetFloors updates thresholds on config reload. Pipeline goroutine only.
func (r *Resolver) SetFloors(phonetic, semantic float64) {
	r.phoneticFloor = phonetic
	r.semanticFloor = semantic
}

// Resolve maps transcript text to an intent. A nil intent with a non-empty
// reason means the transcript is dropped.
func (r *Resolver) Resolve(ctx context.Context, tr model.Transcript) (*model.Intent, model.Reason) {
	text := Normalize(tr.Text)
	if text == "" {
		return nil, model.ReasonNoIntentMatched
	}

	// Stage 1: exact trigger and parameter-prefix match.
	if in := r.exactMatch(text); in != nil {
		r.log.Debug("intent resolved by exact match",
			zap.String("intent", in.Name), zap.String("text", text))
		return in, ""
	}

	// Stage 2: phonetic fallback for critical commands.
	if cmd, score := phoneticMatch(text, r.registry.Commands(), r.phoneticFloor); cmd != nil {
		in := r.makeIntent(cmd, nil, score)
		r.log.Info("intent resolved by phonetic match",
			zap.String("intent", in.Name),
			zap.String("text", text),
			zap.Float64("score", score))
		return in, ""
	}

	// Stage 3: semantic similarity.
	if r.index != nil && len(r.index.vectors) > 0 {
		if in := r.semanticMatch(ctx, text); in != nil {
			return in, ""
		}
	}

	r.log.Info("no intent matched", zap.String("text", text))
	return nil, model.ReasonNoIntentMatched
}

func (r *Resolver) exactMatch(text string) *model.Intent {
	for i := range r.registry.Commands() {
		cmd := &r.registry.Commands()[i]
		for _, trigger := range cmd.Triggers {
			if text == trigger {
				return r.makeIntent(cmd, nil, 1.0)
			}
		}
		for _, p := range cmd.Prefixes {
			if strings.HasPrefix(text, p.Text) {
				value := strings.TrimSpace(text[len(p.Text):])
				if value == "" {
					continue
				}
				return r.makeIntent(cmd, map[string]string{p.Param: value}, 1.0)
			}
		}
	}
	return nil
}

func (r *Resolver) semanticMatch(ctx context.Context, text string) *model.Intent {
	vectors, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		// Degraded mode: the semantic backend being down must not stop
		// exact/phonetic commands from working on later transcripts.
		r.log.Warn("semantic backend unavailable", zap.Error(err))
		return nil
	}
	if len(vectors) != 1 {
		r.log.Warn("semantic backend returned unexpected vector count",
			zap.Int("count", len(vectors)))
		return nil
	}

	name, score := r.index.match(vectors[0])
	if score < r.semanticFloor {
		r.log.Debug("semantic match below floor",
			zap.String("candidate", name),
			zap.Float64("score", score),
			zap.Float64("floor", r.semanticFloor))
		return nil
	}

	for i := range r.registry.Commands() {
		cmd := &r.registry.Commands()[i]
		if cmd.Name == name {
			r.log.Info("intent resolved by semantic match",
				zap.String("intent", name), zap.Float64("score", score))
			return r.makeIntent(cmd, nil, score)
		}
	}
	return nil
}

// makeIntent builds the immutable intent record, applying the effective
// risk tier and filtering parameters to the command's fixed vocabulary.
func (r *Resolver) makeIntent(cmd *Command, params map[string]string, confidence float64) *model.Intent {
	filtered := map[string]string{}
	for _, key := range cmd.Params {
		if v, ok := params[key]; ok {
			filtered[key] = v
		}
	}
	return &model.Intent{
		Name:       cmd.Name,
		Parameters: filtered,
		Confidence: confidence,
		Tier:       r.registry.TierFor(cmd.Name, cmd.Tier),
	}
}
