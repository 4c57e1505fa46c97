package memory

import (
	"context"
	"sort"
	"time"
)

// Scorer is the external retrieval capability boundary: given a query
// and candidate entries, return candidate ids ranked by relevance.
type Scorer interface {
	Score(ctx context.Context, query string, candidates []Entry) ([]string, error)
}

// EmbeddingScorer ranks candidates by cosine similarity of a local
// embedding, blended with recency decay. It is the default Scorer; the
// interface exists so an embedding-service-backed implementation can
// replace it without touching the store.
type EmbeddingScorer struct {
	embedder Embedder
	halfLife time.Duration
}

func NewEmbeddingScorer() *EmbeddingScorer {
	return &EmbeddingScorer{
		embedder: NewHashEmbedder(),
		halfLife: 14 * 24 * time.Hour,
	}
}

type scoredEntry struct {
	id    string
	score float64
}

func (s *EmbeddingScorer) Score(ctx context.Context, query string, candidates []Entry) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	queryVec := s.embedder.Embed(query)
	now := time.Now()

	scored := make([]scoredEntry, 0, len(candidates))
	for _, entry := range candidates {
		similarity := (cosineSimilarity(queryVec, s.embedder.Embed(entry.Content)) + 1) / 2
		age := now.Sub(entry.CreatedAt)
		recency := recencyWeight(age, s.halfLife)
		scored = append(scored, scoredEntry{
			id:    entry.ID,
			score: 0.8*similarity + 0.2*recency,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	ranked := make([]string, 0, len(scored))
	for _, se := range scored {
		ranked = append(ranked, se.id)
	}
	return ranked, nil
}

func recencyWeight(age, halfLife time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	if halfLife <= 0 {
		return 0
	}
	weight := 1.0
	for age > halfLife {
		weight /= 2
		age -= halfLife
	}
	return weight * (1 - 0.5*float64(age)/float64(halfLife))
}
