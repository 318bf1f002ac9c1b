package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipts/claimaudit/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testClaimData(text string) *model.ClaimCardData {
	return &model.ClaimCardData{
		ClaimText:        text,
		Claimant:         "internet meme",
		ClaimType:        "historical",
		Verdict:          model.VerdictFalse,
		ShortAnswer:      "No.",
		DeepAnswer:       "Longer explanation of why the claim does not hold.",
		WhyPersists:      []string{"sounds plausible", "repeated often"},
		Confidence:       model.ConfidenceHigh,
		ConfidenceReason: "multiple primary sources agree",
		Sources: []model.Source{
			{
				Type:               model.SourcePrimaryHistorical,
				Citation:           "Tacitus, Annals 15.44",
				URL:                "https://example.org/tacitus",
				Quote:              "a direct quotation",
				VerificationMethod: "perseus_catalog",
				VerificationStatus: model.StatusVerified,
				ContentType:        model.ContentExactQuote,
				URLVerified:        true,
			},
			{
				Type:               model.SourceScholarlyPeerReviewed,
				Citation:           "Smith (2019), Journal of Ancient History",
				VerificationStatus: model.StatusPartiallyVerified,
				ContentType:        model.ContentVerifiedParaphrase,
			},
		},
		TechniqueTags: []model.TechniqueTag{{Name: "cherry_picking"}},
		CategoryTags:  []model.CategoryTag{{Name: "ancient_rome"}, {Name: "persecution"}},
	}
}

// testVector builds a unit-length embedding whose cosine similarity to
// testVector(0) is cos(angle).
func testVector(angle float64) []float32 {
	v := make([]float32, model.EmbeddingDimensions)
	v[0] = float32(math.Cos(angle))
	v[1] = float32(math.Sin(angle))
	return v
}

// --- Claim cards ---

func TestSQLite_CreateClaimCard_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	card, err := st.CreateClaimCard(ctx, testClaimData("Nero fiddled while Rome burned"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, card.ID)
	assert.True(t, card.VisibleInAudits)

	fetched, err := st.GetClaimCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, "Nero fiddled while Rome burned", fetched.ClaimText)
	assert.Equal(t, model.VerdictFalse, fetched.Verdict)
	assert.Equal(t, model.ConfidenceHigh, fetched.Confidence)
	assert.Equal(t, []string{"sounds plausible", "repeated often"}, fetched.WhyPersists)
	require.Len(t, fetched.Sources, 2)
	assert.Equal(t, "Tacitus, Annals 15.44", fetched.Sources[0].Citation)
	assert.True(t, fetched.Sources[0].URLVerified)
	assert.Equal(t, model.ContentVerifiedParaphrase, fetched.Sources[1].ContentType)
	assert.Len(t, fetched.TechniqueTags, 1)
	assert.Len(t, fetched.CategoryTags, 2)
	assert.Nil(t, fetched.Embedding)
}

func TestSQLite_CreateClaimCard_RejectsInvalidVerdict(t *testing.T) {
	st := newTestSQLiteStore(t)

	data := testClaimData("some claim")
	data.Verdict = "Mostly True"
	_, err := st.CreateClaimCard(context.Background(), data)
	require.Error(t, err)
}

func TestSQLite_CreateClaimCard_RejectsEmptyText(t *testing.T) {
	st := newTestSQLiteStore(t)

	data := testClaimData("")
	_, err := st.CreateClaimCard(context.Background(), data)
	require.Error(t, err)
}

func TestSQLite_GetClaimCard_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetClaimCard(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_AttachEmbedding(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	card, err := st.CreateClaimCard(ctx, testClaimData("claim with embedding"))
	require.NoError(t, err)

	require.NoError(t, st.AttachEmbedding(ctx, card.ID, testVector(0)))

	fetched, err := st.GetClaimCard(ctx, card.ID)
	require.NoError(t, err)
	require.Len(t, fetched.Embedding, model.EmbeddingDimensions)
	assert.InDelta(t, 1.0, float64(fetched.Embedding[0]), 1e-6)
}

func TestSQLite_AttachEmbedding_WrongDimensions(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	card, err := st.CreateClaimCard(ctx, testClaimData("claim"))
	require.NoError(t, err)

	err = st.AttachEmbedding(ctx, card.ID, []float32{1, 2, 3})
	require.Error(t, err)
}

func TestSQLite_AttachEmbedding_MissingClaim(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.AttachEmbedding(context.Background(), uuid.New(), testVector(0))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestSQLite_SetClaimVisibility(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	card, err := st.CreateClaimCard(ctx, testClaimData("claim"))
	require.NoError(t, err)

	require.NoError(t, st.SetClaimVisibility(ctx, card.ID, false))
	fetched, err := st.GetClaimCard(ctx, card.ID)
	require.NoError(t, err)
	assert.False(t, fetched.VisibleInAudits)

	require.NoError(t, st.SetClaimVisibility(ctx, card.ID, true))
	fetched, err = st.GetClaimCard(ctx, card.ID)
	require.NoError(t, err)
	assert.True(t, fetched.VisibleInAudits)
}

func TestSQLite_ListClaimsMissingEmbedding(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	withEmb, err := st.CreateClaimCard(ctx, testClaimData("has embedding"))
	require.NoError(t, err)
	require.NoError(t, st.AttachEmbedding(ctx, withEmb.ID, testVector(0)))

	missing, err := st.CreateClaimCard(ctx, testClaimData("no embedding yet"))
	require.NoError(t, err)

	claims, err := st.ListClaimsMissingEmbedding(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, missing.ID, claims[0].ID)
}

// --- Embedding search ---

func TestSQLite_SearchClaimsByEmbedding_OrdersBySimilarity(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	near, err := st.CreateClaimCard(ctx, testClaimData("near claim"))
	require.NoError(t, err)
	require.NoError(t, st.AttachEmbedding(ctx, near.ID, testVector(0.1)))

	far, err := st.CreateClaimCard(ctx, testClaimData("far claim"))
	require.NoError(t, err)
	require.NoError(t, st.AttachEmbedding(ctx, far.ID, testVector(0.8)))

	matches, err := st.SearchClaimsByEmbedding(ctx, testVector(0), 0.5, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, near.ID, matches[0].Claim.ID)
	assert.Equal(t, far.ID, matches[1].Claim.ID)
	assert.Greater(t, matches[0].Similarity, matches[1].Similarity)
}

func TestSQLite_SearchClaimsByEmbedding_Threshold(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	card, err := st.CreateClaimCard(ctx, testClaimData("some claim"))
	require.NoError(t, err)
	require.NoError(t, st.AttachEmbedding(ctx, card.ID, testVector(0.8)))

	// cos(0.8) is roughly 0.697, below a 0.9 threshold.
	matches, err := st.SearchClaimsByEmbedding(ctx, testVector(0), 0.9, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSQLite_SearchClaimsByEmbedding_ThresholdAboveOne(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	card, err := st.CreateClaimCard(ctx, testClaimData("identical claim"))
	require.NoError(t, err)
	require.NoError(t, st.AttachEmbedding(ctx, card.ID, testVector(0)))

	// Even an identical vector cannot clear a threshold above 1.0.
	matches, err := st.SearchClaimsByEmbedding(ctx, testVector(0), 1.01, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSQLite_SearchClaimsByEmbedding_Excludes(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a, err := st.CreateClaimCard(ctx, testClaimData("claim a"))
	require.NoError(t, err)
	require.NoError(t, st.AttachEmbedding(ctx, a.ID, testVector(0)))

	b, err := st.CreateClaimCard(ctx, testClaimData("claim b"))
	require.NoError(t, err)
	require.NoError(t, st.AttachEmbedding(ctx, b.ID, testVector(0.05)))

	matches, err := st.SearchClaimsByEmbedding(ctx, testVector(0), 0.5, 10, []uuid.UUID{a.ID})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, b.ID, matches[0].Claim.ID)
}

func TestSQLite_SearchClaimsByEmbedding_SkipsMissingEmbeddings(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateClaimCard(ctx, testClaimData("no embedding"))
	require.NoError(t, err)

	matches, err := st.SearchClaimsByEmbedding(ctx, testVector(0), 0.0, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

// --- Verified source library ---

func TestSQLite_VerifiedSource_SearchBySimilarity(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	near := &model.VerifiedSource{
		SourceType:         "book",
		Title:              "The Decline and Fall of the Roman Empire",
		Author:             "Edward Gibbon",
		URL:                "https://books.example.org/gibbon",
		Embedding:          testVector(0.1),
		VerificationMethod: "google_books",
		VerificationStatus: model.StatusVerified,
	}
	require.NoError(t, st.CreateVerifiedSource(ctx, near))

	far := &model.VerifiedSource{
		SourceType:         "paper",
		Title:              "Unrelated Study",
		Author:             "A. Nother",
		URL:                "https://papers.example.org/unrelated",
		Embedding:          testVector(1.2),
		VerificationMethod: "semantic_scholar",
		VerificationStatus: model.StatusVerified,
	}
	require.NoError(t, st.CreateVerifiedSource(ctx, far))

	matches, err := st.SearchSourcesBySimilarity(ctx, testVector(0), 0.9, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, near.ID, matches[0].Source.ID)
	assert.Equal(t, "Edward Gibbon", matches[0].Source.Author)
}

// --- Topic queue ---

func TestSQLite_EnqueueTopic_And_Next(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	low, err := st.EnqueueTopic(ctx, "Did Vikings wear horned helmets?", 1, "manual")
	require.NoError(t, err)
	assert.Equal(t, model.TopicQueued, low.Status)
	assert.Equal(t, model.ReviewPending, low.Review)

	high, err := st.EnqueueTopic(ctx, "Did Einstein fail math?", 5, "auto_suggest")
	require.NoError(t, err)

	next, err := st.NextQueuedTopic(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, high.ID, next.ID)
}

func TestSQLite_NextQueuedTopic_EmptyQueue(t *testing.T) {
	st := newTestSQLiteStore(t)

	next, err := st.NextQueuedTopic(context.Background())
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestSQLite_TopicLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	topic, err := st.EnqueueTopic(ctx, "some topic", 0, "manual")
	require.NoError(t, err)

	require.NoError(t, st.MarkTopicProcessing(ctx, topic.ID))

	// Already processing, cannot claim it twice.
	err = st.MarkTopicProcessing(ctx, topic.ID)
	require.Error(t, err)

	postID := uuid.New()
	require.NoError(t, st.MarkTopicCompleted(ctx, topic.ID, postID))

	topics, err := st.ListTopics(ctx, TopicFilter{Status: model.TopicCompleted})
	require.NoError(t, err)
	require.Len(t, topics, 1)
	require.NotNil(t, topics[0].BlogPostID)
	assert.Equal(t, postID, *topics[0].BlogPostID)
}

func TestSQLite_MarkTopicCompleted_RequiresBlogPost(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	topic, err := st.EnqueueTopic(ctx, "topic", 0, "manual")
	require.NoError(t, err)

	err = st.MarkTopicCompleted(ctx, topic.ID, uuid.Nil)
	require.Error(t, err)
}

func TestSQLite_MarkTopicFailed_RequiresMessage(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	topic, err := st.EnqueueTopic(ctx, "topic", 0, "manual")
	require.NoError(t, err)

	err = st.MarkTopicFailed(ctx, topic.ID, "")
	require.Error(t, err)

	require.NoError(t, st.MarkTopicFailed(ctx, topic.ID, "pipeline stage 3 failed"))

	topics, err := st.ListTopics(ctx, TopicFilter{Status: model.TopicFailed})
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, "pipeline stage 3 failed", topics[0].ErrorMessage)
	assert.Equal(t, 1, topics[0].RetryCount)
}

func TestSQLite_ReviewTopic(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	topic, err := st.EnqueueTopic(ctx, "topic", 0, "manual")
	require.NoError(t, err)

	require.NoError(t, st.ReviewTopic(ctx, topic.ID, model.ReviewNeedsRevision, "tighten the intro"))

	topics, err := st.ListTopics(ctx, TopicFilter{Review: model.ReviewNeedsRevision})
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, "tighten the intro", topics[0].AdminFeedback)
	assert.NotNil(t, topics[0].ReviewedAt)
}

func TestSQLite_ReviewTopic_RejectsInvalidStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	topic, err := st.EnqueueTopic(ctx, "topic", 0, "manual")
	require.NoError(t, err)

	err = st.ReviewTopic(ctx, topic.ID, "looks_fine", "")
	require.Error(t, err)
}

// --- Blog posts ---

func TestSQLite_BlogPost_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	topic, err := st.EnqueueTopic(ctx, "topic", 0, "manual")
	require.NoError(t, err)

	post := &model.BlogPost{
		TopicQueueID: topic.ID,
		Title:        "Five Myths About Ancient Rome",
		ArticleBody:  "Body text.",
		WordCount:    850,
		ClaimCardIDs: []uuid.UUID{uuid.New(), uuid.New()},
	}
	require.NoError(t, st.CreateBlogPost(ctx, post))

	fetched, err := st.GetBlogPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "Five Myths About Ancient Rome", fetched.Title)
	assert.Len(t, fetched.ClaimCardIDs, 2)
	assert.Nil(t, fetched.PublishedAt)
}

func TestSQLite_PublishBlogPost_RequiresApproval(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	topic, err := st.EnqueueTopic(ctx, "topic", 0, "manual")
	require.NoError(t, err)

	post := &model.BlogPost{TopicQueueID: topic.ID, Title: "T", ArticleBody: "B", WordCount: 500}
	require.NoError(t, st.CreateBlogPost(ctx, post))

	// Still pending review.
	err = st.PublishBlogPost(ctx, post.ID)
	require.Error(t, err)

	require.NoError(t, st.ReviewTopic(ctx, topic.ID, model.ReviewApproved, ""))
	require.NoError(t, st.PublishBlogPost(ctx, post.ID))

	fetched, err := st.GetBlogPost(ctx, post.ID)
	require.NoError(t, err)
	assert.NotNil(t, fetched.PublishedAt)

	// Publishing twice fails, published_at is already set.
	err = st.PublishBlogPost(ctx, post.ID)
	require.Error(t, err)
}

// --- Router decisions ---

func TestSQLite_InsertRouterDecision(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	d := &model.RouterDecision{
		QuestionText:         "Did Nero fiddle while Rome burned?",
		ReformulatedQuestion: "Nero fiddled while Rome burned",
		Mode:                 model.RouteExactMatch,
		ClaimCardsReferenced: []uuid.UUID{uuid.New()},
		SearchCandidates: []model.SearchCandidate{
			{ClaimID: uuid.New(), ClaimText: "Nero fiddled while Rome burned", Similarity: 0.97},
		},
		Reasoning:      "top hit above the high confidence band",
		ResponseTimeMS: 412,
	}
	require.NoError(t, st.InsertRouterDecision(ctx, d))
	assert.NotEqual(t, uuid.Nil, d.ID)
}

func TestSQLite_InsertRouterDecision_RejectsInvalidMode(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.InsertRouterDecision(context.Background(), &model.RouterDecision{
		QuestionText: "q",
		Mode:         "SOMETHING_ELSE",
	})
	require.Error(t, err)
}

// --- Migrate ---

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}
