package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"

	"arlo/internal/agent/ports"
)

// Vectors is the semantic index over past conversations, backed by an
// embedded chromem collection. Embeddings come from the provider; chromem
// never calls out on its own.
type Vectors struct {
	collection *chromem.Collection
	dimension  int
}

// NewVectors opens (or creates) the persistent vector index at path.
// Empty path keeps the index in memory, which tests use.
func NewVectors(path string) (*Vectors, error) {
	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open vector store: %w", err)
		}
	}

	// The embedding function is never used: documents and queries always
	// carry vectors computed by the provider.
	noEmbed := func(_ context.Context, _ string) ([]float32, error) {
		return nil, errors.New("external embeddings only")
	}
	collection, err := db.GetOrCreateCollection("conversations", nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("open vector collection: %w", err)
	}
	return &Vectors{collection: collection}, nil
}

// StoreText saves a text snippet under its embedding. A vector whose
// dimension disagrees with earlier entries yields ErrEmbeddingsUnavailable.
func (v *Vectors) StoreText(ctx context.Context, text string, embedding []float32, metadata map[string]string) error {
	if len(embedding) == 0 {
		return ports.ErrEmbeddingsUnavailable
	}
	if v.dimension == 0 {
		v.dimension = len(embedding)
	} else if v.dimension != len(embedding) {
		return fmt.Errorf("%w: dimension %d, index has %d", ports.ErrEmbeddingsUnavailable, len(embedding), v.dimension)
	}

	doc := chromem.Document{
		ID:        uuid.NewString(),
		Content:   text,
		Embedding: embedding,
		Metadata:  metadata,
	}
	if err := v.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("store embedding: %w", err)
	}
	return nil
}

// SearchResult is one semantic neighbour. Distance is cosine distance
// (0 identical, 2 opposite).
type SearchResult struct {
	Text     string
	Metadata map[string]string
	Distance float32
}

// Search returns the k nearest snippets to the query embedding.
func (v *Vectors) Search(ctx context.Context, embedding []float32, k int) ([]SearchResult, error) {
	if len(embedding) == 0 || (v.dimension != 0 && v.dimension != len(embedding)) {
		return nil, ports.ErrEmbeddingsUnavailable
	}
	if count := v.collection.Count(); count < k {
		k = count
	}
	if k == 0 {
		return nil, nil
	}

	results, err := v.collection.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{
			Text:     r.Content,
			Metadata: r.Metadata,
			Distance: 1 - r.Similarity,
		})
	}
	return out, nil
}

// Count returns the number of stored snippets.
func (v *Vectors) Count() int { return v.collection.Count() }
