// Package entity checks intent parameters against live external state
// before anything executes.
package entity

import (
	"context"

	"go.uber.org/zap"

	"github.com/voxgate/voxgate/internal/intent"
	"github.com/voxgate/voxgate/internal/model"
)

// Library is the entity/state collaborator: lookup-by-name per entity
// kind (artist, album, playlist, player...). Implementations live outside
// the core; tests use StaticLibrary.
type Library interface {
	// Exists reports whether the named entity of the given kind is known.
	Exists(ctx context.Context, kind, name string) (bool, error)
	// Names returns the known names for a kind, used for suggestions.
	// An empty slice is fine; suggestion is best-effort.
	Names(ctx context.Context, kind string) ([]string, error)
}

// entityParams maps parameter keys to the entity kind they reference.
// Parameters not listed here (free-form queries) are not validated.
var entityParams = map[string]string{
	"artist":   "artist",
	"album":    "album",
	"playlist": "playlist",
	"player":   "player",
}

// suggestionFloor is the minimum similarity for a near-miss suggestion.
const suggestionFloor = 0.6

// Validator checks every entity-referencing parameter of an intent.
type Validator struct {
	library Library
	log     *zap.Logger
}

// New creates a validator over the given library collaborator.
func New(library Library, log *zap.Logger) *Validator {
	return &Validator{library: library, log: log}
}

// Validate returns the outcome for the intent. The first missing entity
// short-circuits; remaining parameters are not checked.
func (v *Validator) Validate(ctx context.Context, in *model.Intent) model.ValidationOutcome {
	for param, value := range in.Parameters {
		kind, checked := entityParams[param]
		if !checked {
			continue
		}

		ok, err := v.library.Exists(ctx, kind, value)
		if err != nil {
			// Library unavailable: fail closed, the intent does not execute.
			v.log.Warn("entity lookup failed",
				zap.String("kind", kind), zap.String("name", value), zap.Error(err))
			return model.ValidationOutcome{Param: param}
		}
		if !ok {
			out := model.ValidationOutcome{Param: param}
			if s := v.suggest(ctx, kind, value); s != "" {
				out.Suggestion = s
			}
			v.log.Info("entity not found",
				zap.String("intent", in.Name),
				zap.String("param", param),
				zap.String("value", value),
				zap.String("suggestion", out.Suggestion))
			return out
		}
	}
	return model.Valid()
}

// suggest returns the closest known name above the similarity floor.
func (v *Validator) suggest(ctx context.Context, kind, value string) string {
	names, err := v.library.Names(ctx, kind)
	if err != nil || len(names) == 0 {
		return ""
	}
	best := ""
	bestScore := 0.0
	for _, name := range names {
		if s := intent.Similarity(value, name); s >= suggestionFloor && s > bestScore {
			best = name
			bestScore = s
		}
	}
	return best
}

// StaticLibrary is an in-memory Library for tests and standalone runs.
type StaticLibrary struct {
	// Entries maps kind to known names.
	Entries map[string][]string
}

// Exists reports membership with case-insensitive comparison.
func (l *StaticLibrary) Exists(_ context.Context, kind, name string) (bool, error) {
	for _, n := range l.Entries[kind] {
		if intent.Similarity(n, name) == 1.0 {
			return true, nil
		}
	}
	return false, nil
}

// Names returns the known names for a kind.
func (l *StaticLibrary) Names(_ context.Context, kind string) ([]string, error) {
	return l.Entries[kind], nil
}
