package ports

import "errors"

// ErrEmbeddingsUnavailable signals that the provider cannot produce an
// embedding (no endpoint, or dimension mismatch with the vector store).
// Callers skip semantic storage when they see it.
var ErrEmbeddingsUnavailable = errors.New("embeddings unavailable")
