package intent

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/voxgate/voxgate/internal/model"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	return NewResolver(NewRegistry(Builtin()), ResolverConfig{
		PhoneticFloor: 0.7,
		SemanticFloor: 0.78,
	}, zap.NewNop())
}

func resolve(t *testing.T, r *Resolver, text string) (*model.Intent, model.Reason) {
	t.Helper()
	return r.Resolve(context.Background(), model.Transcript{Text: text, Confidence: 0.9})
}

func TestExactTriggerMatch(t *testing.T) {
	r := newTestResolver(t)

	in, reason := resolve(t, r, "turn off the lights")
	if in == nil {
		t.Fatalf("expected intent, got reason %q", reason)
	}
	if in.Name != "lights_off" {
		t.Errorf("intent = %q, want lights_off", in.Name)
	}
	if in.Tier != model.TierSafe {
		t.Errorf("tier = %v, want safe", in.Tier)
	}
	if in.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", in.Confidence)
	}
}

func TestPrefixParameterExtraction(t *testing.T) {
	r := newTestResolver(t)

	in, _ := resolve(t, r, "Play artist Beethoven")
	if in == nil {
		t.Fatal("expected intent")
	}
	if in.Name != "play_artist" {
		t.Errorf("intent = %q, want play_artist", in.Name)
	}
	if got, _ := in.Param("artist"); got != "beethoven" {
		t.Errorf("artist = %q, want beethoven", got)
	}
}

func TestPrefixWithEmptyRemainderFallsThrough(t *testing.T) {
	r := newTestResolver(t)

	// "play artist" with no name must not produce a play_artist intent
	// with an empty parameter. "play" alone is media_resume.
	in, _ := resolve(t, r, "play artist ")
	if in != nil && in.Name == "play_artist" {
		t.Fatalf("empty parameter extracted: %+v", in)
	}
}

func TestHighRiskTierFromStaticClassification(t *testing.T) {
	r := newTestResolver(t)

	in, _ := resolve(t, r, "self destruct")
	if in == nil {
		t.Fatal("expected intent")
	}
	if in.Tier != model.TierHighRisk {
		t.Errorf("tier = %v, want high_risk", in.Tier)
	}
}

func TestConfigHighRiskOverride(t *testing.T) {
	reg := NewRegistry(Builtin())
	reg.SetHighRisk([]string{"media_stop"})
	r := NewResolver(reg, ResolverConfig{PhoneticFloor: 0.7, SemanticFloor: 0.78}, zap.NewNop())

	in, _ := resolve(t, r, "stop")
	if in == nil {
		t.Fatal("expected intent")
	}
	if in.Tier != model.TierHighRisk {
		t.Errorf("tier = %v, want high_risk after override", in.Tier)
	}
}

func TestPhoneticFallbackForCriticalCommands(t *testing.T) {
	r := newTestResolver(t)

	// ASR commonly drops a consonant; "self destruc" is close enough.
	in, _ := resolve(t, r, "self destruc")
	if in == nil {
		t.Fatal("expected phonetic match")
	}
	if in.Name != "self_destruct" {
		t.Errorf("intent = %q, want self_destruct", in.Name)
	}
	if in.Confidence >= 1.0 || in.Confidence < 0.7 {
		t.Errorf("confidence = %v, want [0.7, 1.0)", in.Confidence)
	}
}

func TestPhoneticFallbackIgnoresNonCritical(t *testing.T) {
	r := newTestResolver(t)

	// "pause" is not critical; a near-miss of it must not match phonetically.
	in, reason := resolve(t, r, "pauze please kindly")
	if in != nil {
		t.Fatalf("unexpected match: %+v", in)
	}
	if reason != model.ReasonNoIntentMatched {
		t.Errorf("reason = %q, want %q", reason, model.ReasonNoIntentMatched)
	}
}

func TestNoIntentMatched(t *testing.T) {
	r := newTestResolver(t)

	in, reason := resolve(t, r, "open the pod bay doors")
	if in != nil {
		t.Fatalf("unexpected intent %+v", in)
	}
	if reason != model.ReasonNoIntentMatched {
		t.Errorf("reason = %q, want %q", reason, model.ReasonNoIntentMatched)
	}
}

func TestASRCorrectionButToPlay(t *testing.T) {
	r := newTestResolver(t)

	in, _ := resolve(t, r, "but artist Bach")
	if in == nil {
		t.Fatal("expected intent after 'but' correction")
	}
	if in.Name != "play_artist" {
		t.Errorf("intent = %q, want play_artist", in.Name)
	}
}

// stubEmbedder returns fixed vectors keyed by text.
type stubEmbedder struct {
	vectors map[string][]float64
	err     error
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float64, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float64, len(texts))
	for i, txt := range texts {
		if v, ok := s.vectors[txt]; ok {
			out[i] = v
		} else {
			out[i] = []float64{0, 0, 1}
		}
	}
	return out, nil
}

func TestSemanticMatchAboveFloor(t *testing.T) {
	reg := NewRegistry([]Command{
		{
			Name:      "what_is_playing",
			Tier:      model.TierSafe,
			Triggers:  []string{"what is playing"},
			Exemplars: []string{"tell me the current song"},
		},
	})
	r := NewResolver(reg, ResolverConfig{PhoneticFloor: 0.7, SemanticFloor: 0.78}, zap.NewNop())

	emb := &stubEmbedder{vectors: map[string][]float64{
		"tell me the current song": {1, 0, 0},
		"what is playing":          {0.9, 0.1, 0},
		"which tune is on":         {0.95, 0.05, 0},
	}}
	if err := r.EnableSemantic(context.Background(), emb); err != nil {
		t.Fatalf("enable semantic: %v", err)
	}

	in, _ := resolve(t, r, "which tune is on")
	if in == nil {
		t.Fatal("expected semantic match")
	}
	if in.Name != "what_is_playing" {
		t.Errorf("intent = %q, want what_is_playing", in.Name)
	}
	if in.Confidence < 0.78 {
		t.Errorf("confidence = %v, want >= floor", in.Confidence)
	}
}

func TestSemanticBackendFailureDegradesGracefully(t *testing.T) {
	reg := NewRegistry(Builtin())
	r := NewResolver(reg, ResolverConfig{PhoneticFloor: 0.7, SemanticFloor: 0.78}, zap.NewNop())

	if err := r.EnableSemantic(context.Background(), &stubEmbedder{vectors: map[string][]float64{}}); err != nil {
		t.Fatalf("enable semantic: %v", err)
	}
	r.embedder = &stubEmbedder{err: errors.New("backend down")}

	// Exact matches still work with the backend down.
	in, _ := resolve(t, r, "pause")
	if in == nil || in.Name != "media_pause" {
		t.Fatalf("exact match should survive backend failure, got %+v", in)
	}

	// Unmatched text degrades to NoIntentMatched instead of erroring.
	if in, reason := resolve(t, r, "completely unknown phrase"); in != nil || reason != model.ReasonNoIntentMatched {
		t.Fatalf("got %+v, %q", in, reason)
	}
}
