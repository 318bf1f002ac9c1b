package dedup

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipts/claimaudit/internal/model"
	"github.com/thereceipts/claimaudit/internal/store"
)

// hashEmbedder derives a stable unit vector from the text, so identical
// inputs always embed identically and unrelated inputs are near-orthogonal.
type hashEmbedder struct{}

func (hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	rng := rand.New(rand.NewPCG(h.Sum64(), 0))

	vec := make([]float32, model.EmbeddingDimensions)
	var norm float64
	for i := range vec {
		vec[i] = float32(rng.NormFloat64())
		norm += float64(vec[i]) * float64(vec[i])
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func TestSearcher_AgainstSQLiteStore(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "dedup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	embedder := hashEmbedder{}
	searcher := NewSearcher(embedder, st)

	claimText := "The library of Alexandria was destroyed in a single fire"
	card, err := st.CreateClaimCard(ctx, &model.ClaimCardData{
		ClaimText:   claimText,
		Claimant:    "popular belief",
		Verdict:     model.VerdictFalse,
		ShortAnswer: "No, its decline spanned centuries.",
		DeepAnswer:  "The collection declined through repeated episodes over centuries.",
		Confidence:  model.ConfidenceHigh,
	})
	require.NoError(t, err)

	emb, err := embedder.Embed(ctx, claimText)
	require.NoError(t, err)
	require.NoError(t, st.AttachEmbedding(ctx, card.ID, emb))

	// The same text a second time must dedup against the stored claim at the
	// batch threshold.
	matches, err := searcher.FindSimilar(ctx, claimText, 0.92, 5, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, card.ID, matches[0].Claim.ID)
	assert.Greater(t, matches[0].Similarity, 0.95)

	// An unrelated claim must not match.
	matches, err = searcher.FindSimilar(ctx, "Napoleon was unusually short", 0.92, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)

	// Excluding the stored claim hides it even for identical text.
	best, err := searcher.Best(ctx, claimText, 0.92, []uuid.UUID{card.ID})
	require.NoError(t, err)
	assert.Nil(t, best)
}
