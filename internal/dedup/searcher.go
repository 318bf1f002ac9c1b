// Package dedup finds existing claim cards that duplicate new claim text,
// using embedding similarity against the claim store.
package dedup

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thereceipts/claimaudit/internal/store"
)

// Embedder produces a fixed-dimension vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ClaimSearcher is the slice of the store the searcher needs.
type ClaimSearcher interface {
	SearchClaimsByEmbedding(ctx context.Context, embedding []float32, threshold float64, limit int, excludeIDs []uuid.UUID) ([]store.ClaimMatch, error)
}

// Searcher performs embedding-based duplicate detection. Embedding failures
// fail open: the claim is treated as novel rather than blocking the caller.
type Searcher struct {
	embedder Embedder
	claims   ClaimSearcher
	log      *zap.SugaredLogger
}

func NewSearcher(embedder Embedder, claims ClaimSearcher) *Searcher {
	return &Searcher{
		embedder: embedder,
		claims:   claims,
		log:      zap.S().With("component", "dedup"),
	}
}

// FindSimilar returns existing claims whose similarity to text meets the
// threshold, best first, skipping excludeIDs. A failed embedding yields no
// matches and no error.
func (s *Searcher) FindSimilar(ctx context.Context, text string, threshold float64, limit int, excludeIDs []uuid.UUID) ([]store.ClaimMatch, error) {
	emb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.log.Warnw("embedding failed, treating claim as novel", "error", err)
		return nil, nil
	}
	matches, err := s.claims.SearchClaimsByEmbedding(ctx, emb, threshold, limit, excludeIDs)
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// Best returns the single highest-similarity match at or above threshold, or
// nil when there is none.
func (s *Searcher) Best(ctx context.Context, text string, threshold float64, excludeIDs []uuid.UUID) (*store.ClaimMatch, error) {
	matches, err := s.FindSimilar(ctx, text, threshold, 1, excludeIDs)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return &matches[0], nil
}
