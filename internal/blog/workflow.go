package blog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/thereceipts/claimaudit/internal/agent"
	"github.com/thereceipts/claimaudit/internal/config"
	"github.com/thereceipts/claimaudit/internal/model"
	"github.com/thereceipts/claimaudit/internal/pipeline"
	"github.com/thereceipts/claimaudit/internal/store"
)

// ErrNoTopics is returned by GenerateNext when the queue is empty.
var ErrNoTopics = eris.New("blog: no queued topics")

// Store is the slice of the persistence layer the workflow uses.
type Store interface {
	NextQueuedTopic(ctx context.Context) (*model.TopicQueueEntry, error)
	MarkTopicProcessing(ctx context.Context, id uuid.UUID) error
	MarkTopicCompleted(ctx context.Context, id uuid.UUID, blogPostID uuid.UUID) error
	MarkTopicFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	EnqueueTopic(ctx context.Context, text string, priority int, source string) (*model.TopicQueueEntry, error)
	CreateClaimCard(ctx context.Context, data *model.ClaimCardData) (*model.ClaimCard, error)
	AttachEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error
	CreateBlogPost(ctx context.Context, post *model.BlogPost) error
}

// Deduper finds the best existing claim above a threshold, or nil.
type Deduper interface {
	Best(ctx context.Context, text string, threshold float64, excludeIDs []uuid.UUID) (*store.ClaimMatch, error)
}

// ClaimAuditor runs the full five-stage audit for one question.
type ClaimAuditor interface {
	Run(ctx context.Context, question string) *pipeline.RunResult
}

// Embedder produces the vector attached to a freshly persisted claim.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// AgentCaller is the slice of the agent runner the workflow uses.
type AgentCaller interface {
	CallJSON(ctx context.Context, req agent.Request, out any) error
}

// ComponentClaim is one claim produced by topic decomposition.
type ComponentClaim struct {
	ClaimText string `json:"claim_text"`
	Question  string `json:"question"`
}

// Decomposition is the decomposer's JSON output.
type Decomposition struct {
	Claims []ComponentClaim `json:"component_claims"`
}

// Composition is the composer's JSON output.
type Composition struct {
	Title string `json:"title"`
	Body  string `json:"article_body"`
}

// batchClaim pairs a component claim's text with the card it resolved to,
// so later siblings in the batch can find it.
type batchClaim struct {
	text string
	card *model.ClaimCard
}

// suggestion is the suggester's JSON output.
type suggestion struct {
	Topics []struct {
		Topic    string `json:"topic"`
		Priority int    `json:"priority"`
	} `json:"topics"`
}

// Workflow turns queued topics into unpublished blog posts. A mutex holds
// batch generation to one topic in flight; duplicate-claim races inside a
// batch would otherwise need row-level locking.
type Workflow struct {
	mu sync.Mutex

	store    Store
	dedup    Deduper
	pipeline ClaimAuditor
	embedder Embedder
	agents   AgentCaller

	minClaims      int
	maxClaims      int
	minWords       int
	maxWords       int
	maxSuggest     int
	batchThreshold float64
	topicThreshold float64

	log *zap.SugaredLogger
}

// NewWorkflow creates the decomposer/composer workflow.
func NewWorkflow(cfg *config.Config, st Store, dedup Deduper, auditor ClaimAuditor, embedder Embedder, agents AgentCaller) *Workflow {
	w := &Workflow{
		store:          st,
		dedup:          dedup,
		pipeline:       auditor,
		embedder:       embedder,
		agents:         agents,
		minClaims:      cfg.Blog.MinClaims,
		maxClaims:      cfg.Blog.MaxClaims,
		minWords:       cfg.Blog.MinWords,
		maxWords:       cfg.Blog.MaxWords,
		maxSuggest:     cfg.Blog.MaxSuggest,
		batchThreshold: cfg.Dedup.BatchThreshold,
		topicThreshold: cfg.Dedup.TopicThreshold,
		log:            zap.S().With("component", "blog"),
	}
	if w.minClaims <= 0 {
		w.minClaims = 3
	}
	if w.maxClaims <= 0 {
		w.maxClaims = 12
	}
	if w.minWords <= 0 {
		w.minWords = 400
	}
	if w.maxWords <= 0 {
		w.maxWords = 1600
	}
	if w.maxSuggest <= 0 {
		w.maxSuggest = 10
	}
	if w.batchThreshold <= 0 {
		w.batchThreshold = 0.92
	}
	if w.topicThreshold <= 0 {
		w.topicThreshold = 0.85
	}
	return w
}

// GenerateNext pops the highest-priority queued topic and produces one
// unpublished blog post from it. Returns ErrNoTopics when the queue is empty.
// Any failure after the topic is claimed marks it failed with the error.
func (w *Workflow) GenerateNext(ctx context.Context) (*model.BlogPost, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	topic, err := w.store.NextQueuedTopic(ctx)
	if err != nil {
		return nil, err
	}
	if topic == nil {
		return nil, ErrNoTopics
	}

	if err := w.store.MarkTopicProcessing(ctx, topic.ID); err != nil {
		return nil, err
	}
	w.log.Infow("topic claimed", "topic_id", topic.ID, "topic", topic.TopicText)

	post, err := w.generate(ctx, topic)
	if err != nil {
		w.log.Errorw("topic failed", "topic_id", topic.ID, "error", err)
		if markErr := w.store.MarkTopicFailed(ctx, topic.ID, err.Error()); markErr != nil {
			w.log.Errorw("marking topic failed errored", "topic_id", topic.ID, "error", markErr)
		}
		return nil, err
	}

	if err := w.store.MarkTopicCompleted(ctx, topic.ID, post.ID); err != nil {
		return nil, err
	}
	w.log.Infow("topic completed", "topic_id", topic.ID, "blog_post_id", post.ID, "words", post.WordCount)
	return post, nil
}

func (w *Workflow) generate(ctx context.Context, topic *model.TopicQueueEntry) (*model.BlogPost, error) {
	decomp, err := w.decompose(ctx, topic.TopicText)
	if err != nil {
		return nil, err
	}

	// Component claims resolve strictly in order: a duplicate of an earlier
	// sibling resolves to the sibling's card, never to a second record.
	var claimIDs []uuid.UUID
	var resolved []model.ClaimCard
	var batch []batchClaim
	for _, c := range decomp.Claims {
		card, err := w.resolveClaim(ctx, c, batch)
		if err != nil {
			return nil, err
		}
		batch = append(batch, batchClaim{text: c.ClaimText, card: card})
		claimIDs = append(claimIDs, card.ID)
		resolved = append(resolved, *card)
	}

	comp, err := w.compose(ctx, topic.TopicText, resolved)
	if err != nil {
		return nil, err
	}

	post := &model.BlogPost{
		TopicQueueID: topic.ID,
		Title:        comp.Title,
		ArticleBody:  comp.Body,
		WordCount:    len(strings.Fields(comp.Body)),
		ClaimCardIDs: claimIDs,
	}
	if err := w.store.CreateBlogPost(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

func (w *Workflow) decompose(ctx context.Context, topicText string) (*Decomposition, error) {
	var decomp Decomposition
	err := w.agents.CallJSON(ctx, agent.Request{
		Agent:  "decomposer",
		System: decomposerSystemPrompt,
		Prompt: "Topic: " + topicText,
	}, &decomp)
	if err != nil {
		return nil, err
	}

	if n := len(decomp.Claims); n < w.minClaims || n > w.maxClaims {
		return nil, eris.Errorf("blog: decomposer produced %d component claims, want %d-%d", n, w.minClaims, w.maxClaims)
	}
	for i, c := range decomp.Claims {
		if strings.TrimSpace(c.ClaimText) == "" {
			return nil, eris.Errorf("blog: component claim %d has empty claim text", i+1)
		}
	}
	return &decomp, nil
}

// resolveClaim reuses an existing claim when dedup finds one, otherwise runs
// the full pipeline and persists the result. Embedding attach is best-effort:
// a failure leaves the claim queryable but invisible to similarity search
// until backfill.
func (w *Workflow) resolveClaim(ctx context.Context, c ComponentClaim, batch []batchClaim) (*model.ClaimCard, error) {
	// A sibling with identical text resolves in memory first: its embedding
	// attach may have failed, hiding it from similarity search.
	for _, b := range batch {
		if b.text == c.ClaimText || b.card.ClaimText == c.ClaimText {
			w.log.Infow("reusing sibling claim", "claim_id", b.card.ID, "claim", c.ClaimText)
			return b.card, nil
		}
	}

	match, err := w.dedup.Best(ctx, c.ClaimText, w.batchThreshold, nil)
	if err != nil {
		return nil, err
	}
	if match != nil {
		w.log.Infow("reusing existing claim",
			"claim_id", match.Claim.ID,
			"similarity", match.Similarity,
			"claim", c.ClaimText,
		)
		return &match.Claim, nil
	}

	question := c.Question
	if strings.TrimSpace(question) == "" {
		question = c.ClaimText
	}

	result := w.pipeline.Run(ctx, question)
	if !result.Success {
		return nil, eris.Errorf("blog: pipeline failed for %q: %s", question, result.Err)
	}

	card, err := w.store.CreateClaimCard(ctx, result.ClaimCard)
	if err != nil {
		return nil, err
	}

	if emb, err := w.embedder.Embed(ctx, card.ClaimText); err != nil {
		w.log.Warnw("embedding attach skipped", "claim_id", card.ID, "error", err)
	} else if err := w.store.AttachEmbedding(ctx, card.ID, emb); err != nil {
		w.log.Warnw("embedding attach failed", "claim_id", card.ID, "error", err)
	} else {
		card.Embedding = emb
	}

	return card, nil
}

func (w *Workflow) compose(ctx context.Context, topicText string, claims []model.ClaimCard) (*Composition, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\nResolved claims:\n", topicText)
	for i, c := range claims {
		fmt.Fprintf(&b, "%d. %s\n   Verdict: %s. %s\n", i+1, c.ClaimText, c.Verdict, c.ShortAnswer)
	}

	var comp Composition
	err := w.agents.CallJSON(ctx, agent.Request{
		Agent:  "composer",
		System: composerSystemPrompt,
		Prompt: b.String(),
	}, &comp)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(comp.Title) == "" {
		return nil, eris.New("blog: composer returned empty title")
	}
	words := len(strings.Fields(comp.Body))
	if words < w.minWords || words > w.maxWords {
		return nil, eris.Errorf("blog: composed body is %d words, want %d-%d", words, w.minWords, w.maxWords)
	}
	return &comp, nil
}

// SuggestTopics asks the suggester agent for fresh topics and enqueues the
// ones not already covered by existing claims. The dedup bar here is looser
// than batch dedup: near-duplicate topics waste a whole generation run.
func (w *Workflow) SuggestTopics(ctx context.Context) ([]model.TopicQueueEntry, error) {
	var sugg suggestion
	err := w.agents.CallJSON(ctx, agent.Request{
		Agent:  "suggester",
		System: suggesterSystemPrompt,
		Prompt: fmt.Sprintf("Propose up to %d topics.", w.maxSuggest),
	}, &sugg)
	if err != nil {
		return nil, err
	}

	var enqueued []model.TopicQueueEntry
	for _, t := range sugg.Topics {
		if len(enqueued) >= w.maxSuggest {
			break
		}
		if strings.TrimSpace(t.Topic) == "" {
			continue
		}

		match, err := w.dedup.Best(ctx, t.Topic, w.topicThreshold, nil)
		if err != nil {
			return nil, err
		}
		if match != nil {
			w.log.Debugw("suggested topic already covered",
				"topic", t.Topic,
				"claim_id", match.Claim.ID,
				"similarity", match.Similarity,
			)
			continue
		}

		entry, err := w.store.EnqueueTopic(ctx, t.Topic, t.Priority, "auto_suggest")
		if err != nil {
			return nil, err
		}
		enqueued = append(enqueued, *entry)
	}

	w.log.Infow("topic suggestions enqueued", "proposed", len(sugg.Topics), "enqueued", len(enqueued))
	return enqueued, nil
}
