package store

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/thereceipts/claimaudit/internal/db"
	"github.com/thereceipts/claimaudit/internal/model"
)

// PostgresStore implements Store using pgxpool with pgvector for embedding
// similarity search.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hottest store operations.
var preparedStatements = map[string]string{
	"get_claim_card": `SELECT id, claim_text, claimant, claim_type, claim_type_category, verdict,
	 short_answer, deep_answer, why_persists, confidence_level, confidence_explanation,
	 embedding::text, visible_in_audits, created_at, updated_at FROM claim_cards WHERE id = $1`,
	"attach_embedding": `UPDATE claim_cards SET embedding = $1::vector, updated_at = $2 WHERE id = $3`,
	"next_queued_topic": `SELECT id, topic_text, priority, status, source, review_status, reviewed_at,
	 admin_feedback, blog_post_id, error_message, retry_count, created_at, updated_at
	 FROM topic_queue WHERE status = 'queued' ORDER BY priority DESC, created_at ASC LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS claim_cards (
	id                     UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	claim_text             TEXT NOT NULL,
	claimant               TEXT NOT NULL,
	claim_type             TEXT,
	claim_type_category    TEXT,
	verdict                TEXT NOT NULL,
	short_answer           TEXT NOT NULL,
	deep_answer            TEXT NOT NULL,
	why_persists           JSONB,
	confidence_level       TEXT NOT NULL,
	confidence_explanation TEXT,
	embedding              vector(1536),
	visible_in_audits      BOOLEAN NOT NULL DEFAULT TRUE,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sources (
	id                  UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	claim_card_id       UUID NOT NULL REFERENCES claim_cards(id),
	source_type         TEXT NOT NULL,
	citation            TEXT NOT NULL,
	url                 TEXT,
	quote_text          TEXT,
	usage_context       TEXT,
	verification_method TEXT,
	verification_status TEXT,
	content_type        TEXT,
	url_verified        BOOLEAN NOT NULL DEFAULT FALSE,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS technique_tags (
	id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	claim_card_id UUID NOT NULL REFERENCES claim_cards(id),
	name          TEXT NOT NULL,
	description   TEXT
);

CREATE TABLE IF NOT EXISTS category_tags (
	id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	claim_card_id UUID NOT NULL REFERENCES claim_cards(id),
	name          TEXT NOT NULL,
	description   TEXT
);

CREATE TABLE IF NOT EXISTS verified_sources (
	id                  UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	source_type         TEXT NOT NULL,
	title               TEXT NOT NULL,
	author              TEXT NOT NULL,
	publisher           TEXT,
	publication_date    TEXT,
	isbn                TEXT,
	doi                 TEXT,
	url                 TEXT NOT NULL,
	content_snippet     TEXT,
	topic_keywords      JSONB,
	embedding           vector(1536),
	verification_method TEXT NOT NULL,
	verification_status TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS topic_queue (
	id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	topic_text     TEXT NOT NULL,
	priority       INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'queued',
	source         TEXT,
	review_status  TEXT NOT NULL DEFAULT 'pending_review',
	reviewed_at    TIMESTAMPTZ,
	admin_feedback TEXT,
	blog_post_id   UUID,
	error_message  TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS blog_posts (
	id             UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	topic_queue_id UUID NOT NULL REFERENCES topic_queue(id),
	title          TEXT NOT NULL,
	article_body   TEXT NOT NULL,
	word_count     INTEGER NOT NULL,
	claim_card_ids JSONB NOT NULL,
	published_at   TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS router_decisions (
	id                     UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	question_text          TEXT NOT NULL,
	reformulated_question  TEXT,
	mode_selected          TEXT NOT NULL,
	claim_cards_referenced JSONB,
	search_candidates      JSONB,
	reasoning              TEXT,
	response_time_ms       BIGINT NOT NULL DEFAULT 0,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sources_claim_card_id ON sources(claim_card_id);
CREATE INDEX IF NOT EXISTS idx_technique_tags_claim_card_id ON technique_tags(claim_card_id);
CREATE INDEX IF NOT EXISTS idx_category_tags_claim_card_id ON category_tags(claim_card_id);
CREATE INDEX IF NOT EXISTS idx_topic_queue_status ON topic_queue(status);
CREATE INDEX IF NOT EXISTS idx_topic_queue_review ON topic_queue(review_status);
CREATE INDEX IF NOT EXISTS idx_blog_posts_topic ON blog_posts(topic_queue_id);
CREATE INDEX IF NOT EXISTS idx_claim_cards_embedding ON claim_cards
	USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
CREATE INDEX IF NOT EXISTS idx_verified_sources_embedding ON verified_sources
	USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateClaimCard(ctx context.Context, data *model.ClaimCardData) (*model.ClaimCard, error) {
	if data.ClaimText == "" {
		return nil, eris.New("postgres: claim text is required")
	}
	if !data.Verdict.Valid() {
		return nil, eris.Errorf("postgres: invalid verdict %q", data.Verdict)
	}
	if !data.Confidence.Valid() {
		return nil, eris.Errorf("postgres: invalid confidence %q", data.Confidence)
	}

	id := uuid.New()
	now := time.Now().UTC()

	whyJSON, err := json.Marshal(data.WhyPersists)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal why_persists")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO claim_cards (id, claim_text, claimant, claim_type, claim_type_category,
		 verdict, short_answer, deep_answer, why_persists, confidence_level, confidence_explanation,
		 visible_in_audits, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, TRUE, $12, $13)`,
		id, data.ClaimText, data.Claimant, data.ClaimType, data.ClaimTypeCategory,
		string(data.Verdict), data.ShortAnswer, data.DeepAnswer, whyJSON,
		string(data.Confidence), data.ConfidenceReason, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert claim card")
	}

	card := &model.ClaimCard{
		ID:                id,
		ClaimText:         data.ClaimText,
		Claimant:          data.Claimant,
		ClaimType:         data.ClaimType,
		ClaimTypeCategory: data.ClaimTypeCategory,
		Verdict:           data.Verdict,
		ShortAnswer:       data.ShortAnswer,
		DeepAnswer:        data.DeepAnswer,
		WhyPersists:       data.WhyPersists,
		Confidence:        data.Confidence,
		ConfidenceReason:  data.ConfidenceReason,
		VisibleInAudits:   true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	for _, src := range data.Sources {
		sid := uuid.New()
		_, err = tx.Exec(ctx,
			`INSERT INTO sources (id, claim_card_id, source_type, citation, url, quote_text,
			 usage_context, verification_method, verification_status, content_type, url_verified, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			sid, id, string(src.Type), src.Citation, src.URL, src.Quote, src.UsageContext,
			src.VerificationMethod, string(src.VerificationStatus), string(src.ContentType),
			src.URLVerified, now,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: insert source")
		}
		src.ID = sid
		src.ClaimCardID = id
		src.CreatedAt = now
		card.Sources = append(card.Sources, src)
	}

	for _, tag := range data.TechniqueTags {
		_, err = tx.Exec(ctx,
			`INSERT INTO technique_tags (id, claim_card_id, name, description) VALUES ($1, $2, $3, $4)`,
			uuid.New(), id, tag.Name, tag.Description,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: insert technique tag")
		}
		card.TechniqueTags = append(card.TechniqueTags, tag)
	}

	for _, tag := range data.CategoryTags {
		_, err = tx.Exec(ctx,
			`INSERT INTO category_tags (id, claim_card_id, name, description) VALUES ($1, $2, $3, $4)`,
			uuid.New(), id, tag.Name, tag.Description,
		)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: insert category tag")
		}
		card.CategoryTags = append(card.CategoryTags, tag)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit claim card")
	}
	return card, nil
}

func (s *PostgresStore) GetClaimCard(ctx context.Context, id uuid.UUID) (*model.ClaimCard, error) {
	var c model.ClaimCard
	var whyJSON []byte
	var embText *string

	err := s.pool.QueryRow(ctx,
		`SELECT id, claim_text, claimant, claim_type, claim_type_category, verdict,
		 short_answer, deep_answer, why_persists, confidence_level, confidence_explanation,
		 embedding::text, visible_in_audits, created_at, updated_at
		 FROM claim_cards WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.ClaimText, &c.Claimant, &c.ClaimType, &c.ClaimTypeCategory, &c.Verdict,
		&c.ShortAnswer, &c.DeepAnswer, &whyJSON, &c.Confidence, &c.ConfidenceReason,
		&embText, &c.VisibleInAudits, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "claim card %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get claim card %s", id)
	}

	if len(whyJSON) > 0 {
		if err := json.Unmarshal(whyJSON, &c.WhyPersists); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal why_persists")
		}
	}
	if embText != nil {
		c.Embedding, err = parseVector(*embText)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: parse embedding")
		}
	}
	if err := s.loadClaimChildren(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) AttachEmbedding(ctx context.Context, id uuid.UUID, emb []float32) error {
	if len(emb) != model.EmbeddingDimensions {
		return eris.Errorf("postgres: embedding has %d dimensions, want %d", len(emb), model.EmbeddingDimensions)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE claim_cards SET embedding = $1::vector, updated_at = $2 WHERE id = $3`,
		formatVector(emb), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: attach embedding %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "claim card %s", id)
	}
	return nil
}

func (s *PostgresStore) SetClaimVisibility(ctx context.Context, id uuid.UUID, visible bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE claim_cards SET visible_in_audits = $1, updated_at = $2 WHERE id = $3`,
		visible, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set visibility %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "claim card %s", id)
	}
	return nil
}

func (s *PostgresStore) ListClaimsMissingEmbedding(ctx context.Context, limit int) ([]model.ClaimCard, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, claim_text, claimant, claim_type, claim_type_category, verdict,
		 short_answer, deep_answer, why_persists, confidence_level, confidence_explanation,
		 visible_in_audits, created_at, updated_at
		 FROM claim_cards WHERE embedding IS NULL ORDER BY created_at LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list claims missing embedding")
	}
	defer rows.Close()

	var cards []model.ClaimCard
	for rows.Next() {
		var c model.ClaimCard
		var whyJSON []byte
		err := rows.Scan(&c.ID, &c.ClaimText, &c.Claimant, &c.ClaimType, &c.ClaimTypeCategory,
			&c.Verdict, &c.ShortAnswer, &c.DeepAnswer, &whyJSON, &c.Confidence, &c.ConfidenceReason,
			&c.VisibleInAudits, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan claim card")
		}
		if len(whyJSON) > 0 {
			if err := json.Unmarshal(whyJSON, &c.WhyPersists); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal why_persists")
			}
		}
		cards = append(cards, c)
	}
	return cards, eris.Wrap(rows.Err(), "postgres: list claims iterate")
}

func (s *PostgresStore) SearchClaimsByEmbedding(ctx context.Context, emb []float32, threshold float64, limit int, excludeIDs []uuid.UUID) ([]ClaimMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	exclude := make([]uuid.UUID, 0, len(excludeIDs))
	exclude = append(exclude, excludeIDs...)

	rows, err := s.pool.Query(ctx,
		`SELECT id, 1 - (embedding <=> $1::vector) AS similarity
		 FROM claim_cards
		 WHERE embedding IS NOT NULL
		 AND 1 - (embedding <=> $1::vector) >= $2
		 AND NOT (id = ANY($3))
		 ORDER BY embedding <=> $1::vector
		 LIMIT $4`,
		formatVector(emb), threshold, exclude, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search claims")
	}
	defer rows.Close()

	type scored struct {
		id  uuid.UUID
		sim float64
	}
	var hits []scored
	for rows.Next() {
		var h scored
		if err := rows.Scan(&h.id, &h.sim); err != nil {
			return nil, eris.Wrap(err, "postgres: scan search hit")
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: search claims iterate")
	}

	matches := make([]ClaimMatch, 0, len(hits))
	for _, h := range hits {
		card, err := s.GetClaimCard(ctx, h.id)
		if err != nil {
			return nil, err
		}
		matches = append(matches, ClaimMatch{Claim: *card, Similarity: h.sim})
	}
	return matches, nil
}

func (s *PostgresStore) CreateVerifiedSource(ctx context.Context, src *model.VerifiedSource) error {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	now := time.Now().UTC()
	src.CreatedAt = now
	src.UpdatedAt = now

	keywordsJSON, err := json.Marshal(src.TopicKeywords)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal topic keywords")
	}
	var embArg any
	if len(src.Embedding) > 0 {
		embArg = formatVector(src.Embedding)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO verified_sources (id, source_type, title, author, publisher, publication_date,
		 isbn, doi, url, content_snippet, topic_keywords, embedding,
		 verification_method, verification_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::vector, $13, $14, $15, $16)`,
		src.ID, src.SourceType, src.Title, src.Author, src.Publisher, src.PublicationDate,
		src.ISBN, src.DOI, src.URL, src.ContentSnippet, keywordsJSON, embArg,
		src.VerificationMethod, string(src.VerificationStatus), now, now,
	)
	return eris.Wrap(err, "postgres: insert verified source")
}

func (s *PostgresStore) SearchSourcesBySimilarity(ctx context.Context, emb []float32, threshold float64, limit int) ([]SourceMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_type, title, author, publisher, publication_date, isbn, doi, url,
		 content_snippet, topic_keywords, verification_method, verification_status,
		 created_at, updated_at, 1 - (embedding <=> $1::vector) AS similarity
		 FROM verified_sources
		 WHERE embedding IS NOT NULL
		 AND 1 - (embedding <=> $1::vector) >= $2
		 ORDER BY embedding <=> $1::vector
		 LIMIT $3`,
		formatVector(emb), threshold, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: search sources")
	}
	defer rows.Close()

	var matches []SourceMatch
	for rows.Next() {
		var src model.VerifiedSource
		var keywordsJSON []byte
		var sim float64
		err := rows.Scan(&src.ID, &src.SourceType, &src.Title, &src.Author, &src.Publisher,
			&src.PublicationDate, &src.ISBN, &src.DOI, &src.URL, &src.ContentSnippet,
			&keywordsJSON, &src.VerificationMethod, &src.VerificationStatus,
			&src.CreatedAt, &src.UpdatedAt, &sim)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan source hit")
		}
		if len(keywordsJSON) > 0 {
			if err := json.Unmarshal(keywordsJSON, &src.TopicKeywords); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal topic keywords")
			}
		}
		matches = append(matches, SourceMatch{Source: src, Similarity: sim})
	}
	return matches, eris.Wrap(rows.Err(), "postgres: search sources iterate")
}

func (s *PostgresStore) EnqueueTopic(ctx context.Context, text string, priority int, source string) (*model.TopicQueueEntry, error) {
	if text == "" {
		return nil, eris.New("postgres: topic text is required")
	}
	id := uuid.New()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO topic_queue (id, topic_text, priority, status, source, review_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, text, priority, string(model.TopicQueued), source, string(model.ReviewPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: enqueue topic")
	}

	return &model.TopicQueueEntry{
		ID:        id,
		TopicText: text,
		Priority:  priority,
		Status:    model.TopicQueued,
		Source:    source,
		Review:    model.ReviewPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) NextQueuedTopic(ctx context.Context) (*model.TopicQueueEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, topic_text, priority, status, source, review_status, reviewed_at,
		 admin_feedback, blog_post_id, error_message, retry_count, created_at, updated_at
		 FROM topic_queue WHERE status = $1
		 ORDER BY priority DESC, created_at ASC LIMIT 1`,
		string(model.TopicQueued),
	)
	entry, err := scanTopicPgx(row)
	if eris.Is(err, ErrNotFound) {
		return nil, nil
	}
	return entry, err
}

func (s *PostgresStore) MarkTopicProcessing(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE topic_queue SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(model.TopicProcessing), time.Now().UTC(), id, string(model.TopicQueued),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark topic processing %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "queued topic %s", id)
	}
	return nil
}

func (s *PostgresStore) MarkTopicCompleted(ctx context.Context, id uuid.UUID, blogPostID uuid.UUID) error {
	if blogPostID == uuid.Nil {
		return eris.New("postgres: completed topic requires a blog post id")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE topic_queue SET status = $1, blog_post_id = $2, error_message = NULL, updated_at = $3
		 WHERE id = $4`,
		string(model.TopicCompleted), blogPostID, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark topic completed %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "topic %s", id)
	}
	return nil
}

func (s *PostgresStore) MarkTopicFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	if errMsg == "" {
		return eris.New("postgres: failed topic requires an error message")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE topic_queue SET status = $1, error_message = $2, retry_count = retry_count + 1, updated_at = $3
		 WHERE id = $4`,
		string(model.TopicFailed), errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark topic failed %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "topic %s", id)
	}
	return nil
}

func (s *PostgresStore) ReviewTopic(ctx context.Context, id uuid.UUID, status model.ReviewStatus, feedback string) error {
	switch status {
	case model.ReviewApproved, model.ReviewRejected, model.ReviewNeedsRevision:
	default:
		return eris.Errorf("postgres: invalid review status %q", status)
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE topic_queue SET review_status = $1, reviewed_at = $2, admin_feedback = $3, updated_at = $4
		 WHERE id = $5`,
		string(status), now, feedback, now, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: review topic %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "topic %s", id)
	}
	return nil
}

func (s *PostgresStore) ListTopics(ctx context.Context, filter TopicFilter) ([]model.TopicQueueEntry, error) {
	query := `SELECT id, topic_text, priority, status, source, review_status, reviewed_at,
	 admin_feedback, blog_post_id, error_message, retry_count, created_at, updated_at
	 FROM topic_queue WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.Review != "" {
		args = append(args, string(filter.Review))
		query += ` AND review_status = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY priority DESC, created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list topics")
	}
	defer rows.Close()

	var topics []model.TopicQueueEntry
	for rows.Next() {
		t, err := scanTopicPgx(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, *t)
	}
	return topics, eris.Wrap(rows.Err(), "postgres: list topics iterate")
}

func (s *PostgresStore) CreateBlogPost(ctx context.Context, post *model.BlogPost) error {
	if post.ID == uuid.Nil {
		post.ID = uuid.New()
	}
	post.CreatedAt = time.Now().UTC()

	idsJSON, err := json.Marshal(post.ClaimCardIDs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal claim card ids")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO blog_posts (id, topic_queue_id, title, article_body, word_count, claim_card_ids, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		post.ID, post.TopicQueueID, post.Title, post.ArticleBody, post.WordCount, idsJSON, post.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert blog post")
}

func (s *PostgresStore) GetBlogPost(ctx context.Context, id uuid.UUID) (*model.BlogPost, error) {
	var p model.BlogPost
	var idsJSON []byte
	var publishedAt *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT id, topic_queue_id, title, article_body, word_count, claim_card_ids, published_at, created_at
		 FROM blog_posts WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.TopicQueueID, &p.Title, &p.ArticleBody, &p.WordCount, &idsJSON, &publishedAt, &p.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "blog post %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get blog post %s", id)
	}
	if err := json.Unmarshal(idsJSON, &p.ClaimCardIDs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal claim card ids")
	}
	p.PublishedAt = publishedAt
	return &p, nil
}

func (s *PostgresStore) PublishBlogPost(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE blog_posts SET published_at = $1
		 WHERE id = $2 AND published_at IS NULL
		 AND topic_queue_id IN (SELECT id FROM topic_queue WHERE review_status = $3)`,
		time.Now().UTC(), id, string(model.ReviewApproved),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: publish blog post %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "approved unpublished blog post %s", id)
	}
	return nil
}

func (s *PostgresStore) InsertRouterDecision(ctx context.Context, d *model.RouterDecision) error {
	if !d.Mode.Valid() {
		return eris.Errorf("postgres: invalid routing mode %q", d.Mode)
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now().UTC()

	refsJSON, err := json.Marshal(d.ClaimCardsReferenced)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal referenced claims")
	}
	candsJSON, err := json.Marshal(d.SearchCandidates)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal search candidates")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO router_decisions (id, question_text, reformulated_question, mode_selected,
		 claim_cards_referenced, search_candidates, reasoning, response_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.QuestionText, d.ReformulatedQuestion, string(d.Mode),
		refsJSON, candsJSON, d.Reasoning, d.ResponseTimeMS, d.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert router decision")
}

// helpers

func (s *PostgresStore) loadClaimChildren(ctx context.Context, card *model.ClaimCard) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_type, citation, url, quote_text, usage_context,
		 verification_method, verification_status, content_type, url_verified, created_at
		 FROM sources WHERE claim_card_id = $1 ORDER BY created_at`,
		card.ID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: load sources")
	}
	defer rows.Close()
	for rows.Next() {
		var src model.Source
		err := rows.Scan(&src.ID, &src.Type, &src.Citation, &src.URL, &src.Quote, &src.UsageContext,
			&src.VerificationMethod, &src.VerificationStatus, &src.ContentType, &src.URLVerified, &src.CreatedAt)
		if err != nil {
			return eris.Wrap(err, "postgres: scan source")
		}
		src.ClaimCardID = card.ID
		card.Sources = append(card.Sources, src)
	}
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "postgres: load sources iterate")
	}

	tagRows, err := s.pool.Query(ctx,
		`SELECT name, description FROM technique_tags WHERE claim_card_id = $1 ORDER BY name`,
		card.ID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: load technique tags")
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var tag model.TechniqueTag
		if err := tagRows.Scan(&tag.Name, &tag.Description); err != nil {
			return eris.Wrap(err, "postgres: scan technique tag")
		}
		card.TechniqueTags = append(card.TechniqueTags, tag)
	}
	if err := tagRows.Err(); err != nil {
		return eris.Wrap(err, "postgres: load technique tags iterate")
	}

	catRows, err := s.pool.Query(ctx,
		`SELECT name, description FROM category_tags WHERE claim_card_id = $1 ORDER BY name`,
		card.ID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: load category tags")
	}
	defer catRows.Close()
	for catRows.Next() {
		var tag model.CategoryTag
		if err := catRows.Scan(&tag.Name, &tag.Description); err != nil {
			return eris.Wrap(err, "postgres: scan category tag")
		}
		card.CategoryTags = append(card.CategoryTags, tag)
	}
	return eris.Wrap(catRows.Err(), "postgres: load category tags iterate")
}

func scanTopicPgx(row pgx.Row) (*model.TopicQueueEntry, error) {
	var t model.TopicQueueEntry
	var source, feedback, errMsg *string
	var reviewedAt *time.Time
	var blogPostID *uuid.UUID

	err := row.Scan(&t.ID, &t.TopicText, &t.Priority, &t.Status, &source, &t.Review,
		&reviewedAt, &feedback, &blogPostID, &errMsg, &t.RetryCount, &t.CreatedAt, &t.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "topic")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan topic")
	}

	if source != nil {
		t.Source = *source
	}
	if feedback != nil {
		t.AdminFeedback = *feedback
	}
	if errMsg != nil {
		t.ErrorMessage = *errMsg
	}
	t.ReviewedAt = reviewedAt
	t.BlogPostID = blogPostID
	return &t, nil
}

// formatVector renders a pgvector literal like [0.1,0.2,...].
func formatVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 10)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, eris.Wrapf(err, "parse vector element %q", p)
		}
		out = append(out, float32(f))
	}
	return out, nil
}
