package intent

import (
	"context"
	"fmt"
	"math"
)

// Embedder is the semantic-similarity collaborator. The daemon treats the
// embedding backend as external; tests inject a stub.
type Embedder interface {
	// Embed returns one vector per input text, all the same dimension.
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// cosine returns the cosine similarity of two equal-length vectors.
func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// exemplarIndex holds precomputed exemplar vectors for semantic matching.
type exemplarIndex struct {
	names   []string
	vectors [][]float64
}

// buildExemplarIndex embeds every exemplar phrase in the library once.
// Model-loading and network calls happen here, at startup, never on the
// pipeline goroutine.
func buildExemplarIndex(ctx context.Context, emb Embedder, commands []Command) (*exemplarIndex, error) {
	var names []string
	var texts []string
	for _, cmd := range commands {
		for _, ex := range cmd.Exemplars {
			names = append(names, cmd.Name)
			texts = append(texts, ex)
		}
		for _, tr := range cmd.Triggers {
			names = append(names, cmd.Name)
			texts = append(texts, tr)
		}
	}
	if len(texts) == 0 {
		return &exemplarIndex{}, nil
	}

	vectors, err := emb.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed intent library: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed intent library: got %d vectors for %d texts", len(vectors), len(texts))
	}
	return &exemplarIndex{names: names, vectors: vectors}, nil
}

// match returns the intent name closest to the query vector and its score.
func (ix *exemplarIndex) match(query []float64) (string, float64) {
	bestName := ""
	bestScore := -1.0
	for i, v := range ix.vectors {
		if s := cosine(query, v); s > bestScore {
			bestScore = s
			bestName = ix.names[i]
		}
	}
	return bestName, bestScore
}
