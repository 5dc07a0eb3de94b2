// Package retrieval provides semantic search over item embeddings.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/TobiSchelling/curator/internal/database"
)

// VectorStore persists item embeddings.
type VectorStore interface {
	SaveVector(ctx context.Context, itemID int64, embedding []float64, model string) error
	AllVectors(ctx context.Context) ([]database.VectorRecord, error)
}

// Hit is one nearest-neighbour match.
type Hit struct {
	ItemID     int64
	Similarity float64
}

// Index is a brute-force cosine index over the item_vectors table. Vectors
// are loaded once and kept in sync by Upsert.
type Index struct {
	store VectorStore
	model string

	mu      sync.RWMutex
	loaded  bool
	vectors map[int64][]float64
}

// NewIndex creates an index backed by store. model is recorded with every
// upserted vector.
func NewIndex(store VectorStore, model string) *Index {
	return &Index{store: store, model: model, vectors: make(map[int64][]float64)}
}

// Upsert stores or replaces an item's embedding.
func (ix *Index) Upsert(ctx context.Context, itemID int64, embedding []float64) error {
	if len(embedding) == 0 {
		return fmt.Errorf("empty embedding for item %d", itemID)
	}
	if err := ix.store.SaveVector(ctx, itemID, embedding, ix.model); err != nil {
		return err
	}
	ix.mu.Lock()
	ix.vectors[itemID] = embedding
	ix.mu.Unlock()
	return nil
}

// Len returns the number of indexed vectors.
func (ix *Index) Len(ctx context.Context) (int, error) {
	if err := ix.load(ctx); err != nil {
		return 0, err
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.vectors), nil
}

// Search returns up to topK items most similar to vec, best first.
// Items in exclude are skipped.
func (ix *Index) Search(ctx context.Context, vec []float64, topK int, exclude map[int64]bool) ([]Hit, error) {
	if err := ix.load(ctx); err != nil {
		return nil, err
	}

	ix.mu.RLock()
	hits := make([]Hit, 0, len(ix.vectors))
	for id, v := range ix.vectors {
		if exclude[id] {
			continue
		}
		hits = append(hits, Hit{ItemID: id, Similarity: CosineSimilarity(vec, v)})
	}
	ix.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ItemID > hits[j].ItemID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (ix *Index) load(ctx context.Context) error {
	ix.mu.RLock()
	loaded := ix.loaded
	ix.mu.RUnlock()
	if loaded {
		return nil
	}

	records, err := ix.store.AllVectors(ctx)
	if err != nil {
		return fmt.Errorf("load vectors: %w", err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, r := range records {
		if _, ok := ix.vectors[r.ItemID]; !ok {
			ix.vectors[r.ItemID] = r.Embedding
		}
	}
	ix.loaded = true
	return nil
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched or empty vectors score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
