package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/thereceipts/claimaudit/internal/model"
)

// ErrNotFound is returned when a lookup by ID matches no row.
var ErrNotFound = eris.New("store: not found")

// ClaimMatch is one scored hit from a claim embedding search.
type ClaimMatch struct {
	Claim      model.ClaimCard
	Similarity float64
}

// SourceMatch is one scored hit from a verified-source library search.
type SourceMatch struct {
	Source     model.VerifiedSource
	Similarity float64
}

// TopicFilter specifies criteria for listing topic queue entries.
type TopicFilter struct {
	Status model.TopicStatus
	Review model.ReviewStatus
	Limit  int
}

// Store defines the persistence interface for the claim-audit engine.
//
// CreateClaimCard is atomic for the card and its sources and tags: a claim is
// never partially written. AttachEmbedding is the separate second phase of
// claim creation; it may fail or be retried without affecting the card.
type Store interface {
	// Claim cards
	CreateClaimCard(ctx context.Context, data *model.ClaimCardData) (*model.ClaimCard, error)
	GetClaimCard(ctx context.Context, id uuid.UUID) (*model.ClaimCard, error)
	AttachEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error
	SetClaimVisibility(ctx context.Context, id uuid.UUID, visible bool) error
	ListClaimsMissingEmbedding(ctx context.Context, limit int) ([]model.ClaimCard, error)
	SearchClaimsByEmbedding(ctx context.Context, embedding []float32, threshold float64, limit int, excludeIDs []uuid.UUID) ([]ClaimMatch, error)

	// Verified source library
	CreateVerifiedSource(ctx context.Context, src *model.VerifiedSource) error
	SearchSourcesBySimilarity(ctx context.Context, embedding []float32, threshold float64, limit int) ([]SourceMatch, error)

	// Topic queue
	EnqueueTopic(ctx context.Context, text string, priority int, source string) (*model.TopicQueueEntry, error)
	NextQueuedTopic(ctx context.Context) (*model.TopicQueueEntry, error)
	MarkTopicProcessing(ctx context.Context, id uuid.UUID) error
	MarkTopicCompleted(ctx context.Context, id uuid.UUID, blogPostID uuid.UUID) error
	MarkTopicFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	ReviewTopic(ctx context.Context, id uuid.UUID, status model.ReviewStatus, feedback string) error
	ListTopics(ctx context.Context, filter TopicFilter) ([]model.TopicQueueEntry, error)

	// Blog posts
	CreateBlogPost(ctx context.Context, post *model.BlogPost) error
	GetBlogPost(ctx context.Context, id uuid.UUID) (*model.BlogPost, error)
	PublishBlogPost(ctx context.Context, id uuid.UUID) error

	// Routing audit log (append-only)
	InsertRouterDecision(ctx context.Context, d *model.RouterDecision) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
