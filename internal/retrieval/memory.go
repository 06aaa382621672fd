package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"kinechat/internal/models"
)

// MemoryStore ranks an in-process document set by cosine similarity.
type MemoryStore struct {
	docs []models.Document
}

func NewMemoryStore(docs []models.Document) *MemoryStore {
	return &MemoryStore{docs: docs}
}

// LoadMemoryStore reads a JSON array of documents with embeddings.
func LoadMemoryStore(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var docs []models.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("decode seed file %s: %w", path, err)
	}
	return NewMemoryStore(docs), nil
}

func (m *MemoryStore) Name() string { return "memory" }
func (m *MemoryStore) Len() int     { return len(m.docs) }

func (m *MemoryStore) Search(ctx context.Context, vector []float32, threshold float64, topK int) ([]models.RetrievalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []models.RetrievalResult
	for _, doc := range m.docs {
		if len(doc.Embedding) != len(vector) {
			continue
		}
		sim := cosine(vector, doc.Embedding)
		if sim >= threshold {
			out = append(out, models.RetrievalResult{Document: doc, Similarity: sim})
		}
	}
	return out, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Documents returns a copy of the loaded documents.
func (m *MemoryStore) Documents() []models.Document {
	out := make([]models.Document, len(m.docs))
	copy(out, m.docs)
	return out
}
