package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"arlo/internal/agent/ports"
	"arlo/internal/logging"
)

// ContextBuilder assembles the memory context handed to agents: recent
// conversation turns, semantically similar past snippets, and the
// knowledge store.
type ContextBuilder struct {
	store    *Store
	vectors  *Vectors
	provider ports.Provider
	log      *logging.Logger

	RecentLimit int
	TopK        int
	MaxDistance float32
}

// NewContextBuilder wires the builder with its defaults.
func NewContextBuilder(store *Store, vectors *Vectors, provider ports.Provider, log *logging.Logger) *ContextBuilder {
	return &ContextBuilder{
		store:       store,
		vectors:     vectors,
		provider:    provider,
		log:         logging.OrNop(log).Component("memory"),
		RecentLimit: 5,
		TopK:        3,
		MaxDistance: 1.2,
	}
}

// Build renders the memory context for the given input. Semantic recall is
// skipped silently when embeddings are unavailable.
func (b *ContextBuilder) Build(ctx context.Context, input string) string {
	var sections []string

	if recent, err := b.store.RecentConversations(b.RecentLimit); err != nil {
		b.log.Warn("recent conversations unavailable", "err", err)
	} else if len(recent) > 0 {
		var sb strings.Builder
		sb.WriteString("## Recent conversation\n")
		for _, c := range recent {
			fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n", c.UserMsg, c.AgentMsg)
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}

	if similar := b.semantic(ctx, input); similar != "" {
		sections = append(sections, similar)
	}

	if knowledge, err := b.store.AllKnowledge(); err != nil {
		b.log.Warn("knowledge unavailable", "err", err)
	} else if len(knowledge) > 0 {
		var sb strings.Builder
		sb.WriteString("## Knowledge\n")
		for k, v := range knowledge {
			fmt.Fprintf(&sb, "- %s: %s\n", k, v)
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}

	return strings.Join(sections, "\n\n")
}

func (b *ContextBuilder) semantic(ctx context.Context, input string) string {
	if b.vectors == nil || b.provider == nil {
		return ""
	}
	embedding, err := b.provider.Embed(ctx, input)
	if err != nil {
		if !errors.Is(err, ports.ErrEmbeddingsUnavailable) {
			b.log.Warn("embed failed", "err", err)
		}
		return ""
	}
	results, err := b.vectors.Search(ctx, embedding, b.TopK)
	if err != nil {
		if !errors.Is(err, ports.ErrEmbeddingsUnavailable) {
			b.log.Warn("semantic search failed", "err", err)
		}
		return ""
	}

	var kept []string
	for _, r := range results {
		if r.Distance < b.MaxDistance {
			kept = append(kept, "- "+r.Text)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	return "## Related memory\n" + strings.Join(kept, "\n")
}
