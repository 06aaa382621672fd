package retrieval

import (
	"context"
	"fmt"
	"sort"

	"kinechat/internal/logger"
	"kinechat/internal/models"
)

// Store is a vector store backend. Implementations may return rows below
// threshold or beyond topK; Retriever enforces both.
type Store interface {
	Name() string
	Search(ctx context.Context, vector []float32, threshold float64, topK int) ([]models.RetrievalResult, error)
}

// Retriever wraps a Store with the ranking rules and the fail-closed policy.
type Retriever struct {
	store     Store
	dimension int
	threshold float64
	topK      int
}

// New builds a retriever. A nil store disables retrieval.
func New(store Store, dimension int, threshold float64, topK int) *Retriever {
	return &Retriever{store: store, dimension: dimension, threshold: threshold, topK: topK}
}

func (r *Retriever) Threshold() float64 { return r.threshold }
func (r *Retriever) TopK() int           { return r.topK }

// Backend names the configured store, or "none".
func (r *Retriever) Backend() string {
	if r.store == nil {
		return "none"
	}
	return r.store.Name()
}

// Search returns at most topK results with similarity >= threshold, best
// first. It never fails: store errors and dimension mismatches yield an
// empty slice.
func (r *Retriever) Search(ctx context.Context, vector []float32, threshold float64, topK int) []models.RetrievalResult {
	out := []models.RetrievalResult{}
	if r.store == nil || len(vector) == 0 || topK <= 0 {
		return out
	}
	log := logger.FromCtx(ctx)
	if r.dimension > 0 && len(vector) != r.dimension {
		log.Warn().Int("want", r.dimension).Int("got", len(vector)).Msg("query embedding dimension mismatch, skipping retrieval")
		return out
	}

	rows, err := r.store.Search(ctx, vector, threshold, topK)
	if err != nil {
		log.Warn().Err(fmt.Errorf("%w: %w", models.ErrRetrievalUnavailable, err)).Str("store", r.store.Name()).Msg("vector search failed")
		return out
	}

	for _, row := range rows {
		if row.Similarity < threshold {
			continue
		}
		if n := len(row.Document.Embedding); n > 0 && n != len(vector) {
			log.Debug().Str("document", row.Document.ID).Int("dimension", n).Msg("dropping document with mismatched embedding")
			continue
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}
