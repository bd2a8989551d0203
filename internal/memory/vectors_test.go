package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arlo/internal/agent/ports"
	"arlo/internal/llm"
)

func TestVectorsStoreAndSearch(t *testing.T) {
	v, err := NewVectors("")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, v.StoreText(ctx, "deploy notes", []float32{1, 0, 0}, map[string]string{"kind": "conv"}))
	require.NoError(t, v.StoreText(ctx, "api design", []float32{0, 1, 0}, nil))

	results, err := v.Search(ctx, []float32{0.9, 0.1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "deploy notes", results[0].Text)
	assert.Less(t, results[0].Distance, results[1].Distance)
}

func TestVectorsDimensionMismatch(t *testing.T) {
	v, err := NewVectors("")
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, v.StoreText(ctx, "a", []float32{1, 0, 0}, nil))

	err = v.StoreText(ctx, "b", []float32{1, 0}, nil)
	assert.ErrorIs(t, err, ports.ErrEmbeddingsUnavailable)

	_, err = v.Search(ctx, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, ports.ErrEmbeddingsUnavailable)
}

func TestVectorsEmptyIndex(t *testing.T) {
	v, err := NewVectors("")
	require.NoError(t, err)

	results, err := v.Search(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestContextBuilderSections(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveConversation("how do I deploy?", "use the script", nil))
	require.NoError(t, s.SetKnowledge("style", "tabs"))

	v, err := NewVectors("")
	require.NoError(t, err)
	require.NoError(t, v.StoreText(context.Background(), "User: ship it Assistant: done", []float32{1, 0}, nil))

	provider := llm.NewMock(llm.Reply(""))
	provider.EmbedVec = []float32{1, 0}

	b := NewContextBuilder(s, v, provider, nil)
	out := b.Build(context.Background(), "deploy again")

	assert.Contains(t, out, "## Recent conversation")
	assert.Contains(t, out, "use the script")
	assert.Contains(t, out, "## Related memory")
	assert.Contains(t, out, "ship it")
	assert.Contains(t, out, "## Knowledge")
	assert.Contains(t, out, "style")
}

func TestContextBuilderSkipsSemanticWithoutEmbeddings(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveConversation("q", "a", nil))

	v, err := NewVectors("")
	require.NoError(t, err)

	provider := llm.NewMock(llm.Reply(""))
	provider.EmbedErr = ports.ErrEmbeddingsUnavailable

	b := NewContextBuilder(s, v, provider, nil)
	out := b.Build(context.Background(), "anything")
	assert.Contains(t, out, "## Recent conversation")
	assert.NotContains(t, out, "## Related memory")
}
