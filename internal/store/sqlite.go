package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/thereceipts/claimaudit/internal/embedding"
	"github.com/thereceipts/claimaudit/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Embeddings are kept
// as JSON arrays and similarity ranking happens in process, which is fine at
// the scale a single-node deployment sees.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS claim_cards (
	id                     TEXT PRIMARY KEY,
	claim_text             TEXT NOT NULL,
	claimant               TEXT NOT NULL,
	claim_type             TEXT,
	claim_type_category    TEXT,
	verdict                TEXT NOT NULL,
	short_answer           TEXT NOT NULL,
	deep_answer            TEXT NOT NULL,
	why_persists           TEXT,
	confidence_level       TEXT NOT NULL,
	confidence_explanation TEXT,
	embedding              TEXT,
	visible_in_audits      INTEGER NOT NULL DEFAULT 1,
	created_at             DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at             DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sources (
	id                  TEXT PRIMARY KEY,
	claim_card_id       TEXT NOT NULL REFERENCES claim_cards(id),
	source_type         TEXT NOT NULL,
	citation            TEXT NOT NULL,
	url                 TEXT,
	quote_text          TEXT,
	usage_context       TEXT,
	verification_method TEXT,
	verification_status TEXT,
	content_type        TEXT,
	url_verified        INTEGER NOT NULL DEFAULT 0,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS technique_tags (
	id            TEXT PRIMARY KEY,
	claim_card_id TEXT NOT NULL REFERENCES claim_cards(id),
	name          TEXT NOT NULL,
	description   TEXT
);

CREATE TABLE IF NOT EXISTS category_tags (
	id            TEXT PRIMARY KEY,
	claim_card_id TEXT NOT NULL REFERENCES claim_cards(id),
	name          TEXT NOT NULL,
	description   TEXT
);

CREATE TABLE IF NOT EXISTS verified_sources (
	id                  TEXT PRIMARY KEY,
	source_type         TEXT NOT NULL,
	title               TEXT NOT NULL,
	author              TEXT NOT NULL,
	publisher           TEXT,
	publication_date    TEXT,
	isbn                TEXT,
	doi                 TEXT,
	url                 TEXT NOT NULL,
	content_snippet     TEXT,
	topic_keywords      TEXT,
	embedding           TEXT,
	verification_method TEXT NOT NULL,
	verification_status TEXT NOT NULL,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS topic_queue (
	id             TEXT PRIMARY KEY,
	topic_text     TEXT NOT NULL,
	priority       INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'queued',
	source         TEXT,
	review_status  TEXT NOT NULL DEFAULT 'pending_review',
	reviewed_at    DATETIME,
	admin_feedback TEXT,
	blog_post_id   TEXT,
	error_message  TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS blog_posts (
	id             TEXT PRIMARY KEY,
	topic_queue_id TEXT NOT NULL REFERENCES topic_queue(id),
	title          TEXT NOT NULL,
	article_body   TEXT NOT NULL,
	word_count     INTEGER NOT NULL,
	claim_card_ids TEXT NOT NULL,
	published_at   DATETIME,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS router_decisions (
	id                     TEXT PRIMARY KEY,
	question_text          TEXT NOT NULL,
	reformulated_question  TEXT,
	mode_selected          TEXT NOT NULL,
	claim_cards_referenced TEXT,
	search_candidates      TEXT,
	reasoning              TEXT,
	response_time_ms       INTEGER NOT NULL DEFAULT 0,
	created_at             DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_sources_claim_card_id ON sources(claim_card_id);
CREATE INDEX IF NOT EXISTS idx_technique_tags_claim_card_id ON technique_tags(claim_card_id);
CREATE INDEX IF NOT EXISTS idx_category_tags_claim_card_id ON category_tags(claim_card_id);
CREATE INDEX IF NOT EXISTS idx_topic_queue_status ON topic_queue(status);
CREATE INDEX IF NOT EXISTS idx_topic_queue_review ON topic_queue(review_status);
CREATE INDEX IF NOT EXISTS idx_blog_posts_topic ON blog_posts(topic_queue_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateClaimCard(ctx context.Context, data *model.ClaimCardData) (*model.ClaimCard, error) {
	if data.ClaimText == "" {
		return nil, eris.New("sqlite: claim text is required")
	}
	if !data.Verdict.Valid() {
		return nil, eris.Errorf("sqlite: invalid verdict %q", data.Verdict)
	}
	if !data.Confidence.Valid() {
		return nil, eris.Errorf("sqlite: invalid confidence %q", data.Confidence)
	}

	id := uuid.New()
	now := time.Now().UTC()

	whyJSON, err := json.Marshal(data.WhyPersists)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal why_persists")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO claim_cards (id, claim_text, claimant, claim_type, claim_type_category,
		 verdict, short_answer, deep_answer, why_persists, confidence_level, confidence_explanation,
		 visible_in_audits, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		id.String(), data.ClaimText, data.Claimant, data.ClaimType, data.ClaimTypeCategory,
		string(data.Verdict), data.ShortAnswer, data.DeepAnswer, string(whyJSON),
		string(data.Confidence), data.ConfidenceReason, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert claim card")
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
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sources (id, claim_card_id, source_type, citation, url, quote_text,
			 usage_context, verification_method, verification_status, content_type, url_verified, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sid.String(), id.String(), string(src.Type), src.Citation, src.URL, src.Quote,
			src.UsageContext, src.VerificationMethod, string(src.VerificationStatus),
			string(src.ContentType), boolToInt(src.URLVerified), now,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: insert source")
		}
		src.ID = sid
		src.ClaimCardID = id
		src.CreatedAt = now
		card.Sources = append(card.Sources, src)
	}

	for _, tag := range data.TechniqueTags {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO technique_tags (id, claim_card_id, name, description) VALUES (?, ?, ?, ?)`,
			uuid.New().String(), id.String(), tag.Name, tag.Description,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: insert technique tag")
		}
		card.TechniqueTags = append(card.TechniqueTags, tag)
	}

	for _, tag := range data.CategoryTags {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO category_tags (id, claim_card_id, name, description) VALUES (?, ?, ?, ?)`,
			uuid.New().String(), id.String(), tag.Name, tag.Description,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: insert category tag")
		}
		card.CategoryTags = append(card.CategoryTags, tag)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit claim card")
	}
	return card, nil
}

func (s *SQLiteStore) GetClaimCard(ctx context.Context, id uuid.UUID) (*model.ClaimCard, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, claim_text, claimant, claim_type, claim_type_category, verdict,
		 short_answer, deep_answer, why_persists, confidence_level, confidence_explanation,
		 embedding, visible_in_audits, created_at, updated_at
		 FROM claim_cards WHERE id = ?`,
		id.String(),
	)
	card, err := scanClaimCard(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadClaimChildren(ctx, card); err != nil {
		return nil, err
	}
	return card, nil
}

func (s *SQLiteStore) AttachEmbedding(ctx context.Context, id uuid.UUID, emb []float32) error {
	if len(emb) != model.EmbeddingDimensions {
		return eris.Errorf("sqlite: embedding has %d dimensions, want %d", len(emb), model.EmbeddingDimensions)
	}
	embJSON, err := json.Marshal(emb)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal embedding")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE claim_cards SET embedding = ?, updated_at = ? WHERE id = ?`,
		string(embJSON), time.Now().UTC(), id.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: attach embedding %s", id)
	}
	return checkRowsAffected(res, "claim card", id.String())
}

func (s *SQLiteStore) SetClaimVisibility(ctx context.Context, id uuid.UUID, visible bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE claim_cards SET visible_in_audits = ?, updated_at = ? WHERE id = ?`,
		boolToInt(visible), time.Now().UTC(), id.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set visibility %s", id)
	}
	return checkRowsAffected(res, "claim card", id.String())
}

func (s *SQLiteStore) ListClaimsMissingEmbedding(ctx context.Context, limit int) ([]model.ClaimCard, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, claim_text, claimant, claim_type, claim_type_category, verdict,
		 short_answer, deep_answer, why_persists, confidence_level, confidence_explanation,
		 embedding, visible_in_audits, created_at, updated_at
		 FROM claim_cards WHERE embedding IS NULL ORDER BY created_at LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list claims missing embedding")
	}
	defer rows.Close()

	var cards []model.ClaimCard
	for rows.Next() {
		c, err := scanClaimCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, *c)
	}
	return cards, eris.Wrap(rows.Err(), "sqlite: list claims iterate")
}

func (s *SQLiteStore) SearchClaimsByEmbedding(ctx context.Context, emb []float32, threshold float64, limit int, excludeIDs []uuid.UUID) ([]ClaimMatch, error) {
	if limit <= 0 {
		limit = 10
	}
	excluded := make(map[uuid.UUID]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding FROM claim_cards WHERE embedding IS NOT NULL`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search claims")
	}
	defer rows.Close()

	type scored struct {
		id  uuid.UUID
		sim float64
	}
	var hits []scored
	for rows.Next() {
		var idStr, embJSON string
		if err := rows.Scan(&idStr, &embJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan embedding row")
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse claim id %s", idStr)
		}
		if excluded[id] {
			continue
		}
		var stored []float32
		if err := json.Unmarshal([]byte(embJSON), &stored); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal embedding for %s", idStr)
		}
		sim := embedding.Cosine(emb, stored)
		if sim >= threshold {
			hits = append(hits, scored{id: id, sim: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: search claims iterate")
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].sim > hits[j].sim })
	if len(hits) > limit {
		hits = hits[:limit]
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

func (s *SQLiteStore) CreateVerifiedSource(ctx context.Context, src *model.VerifiedSource) error {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	now := time.Now().UTC()
	src.CreatedAt = now
	src.UpdatedAt = now

	keywordsJSON, err := json.Marshal(src.TopicKeywords)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal topic keywords")
	}
	var embJSON sql.NullString
	if len(src.Embedding) > 0 {
		b, err := json.Marshal(src.Embedding)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal source embedding")
		}
		embJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO verified_sources (id, source_type, title, author, publisher, publication_date,
		 isbn, doi, url, content_snippet, topic_keywords, embedding,
		 verification_method, verification_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID.String(), src.SourceType, src.Title, src.Author, src.Publisher, src.PublicationDate,
		src.ISBN, src.DOI, src.URL, src.ContentSnippet, string(keywordsJSON), embJSON,
		src.VerificationMethod, string(src.VerificationStatus), now, now,
	)
	return eris.Wrap(err, "sqlite: insert verified source")
}

func (s *SQLiteStore) SearchSourcesBySimilarity(ctx context.Context, emb []float32, threshold float64, limit int) ([]SourceMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_type, title, author, publisher, publication_date, isbn, doi, url,
		 content_snippet, topic_keywords, embedding, verification_method, verification_status,
		 created_at, updated_at
		 FROM verified_sources WHERE embedding IS NOT NULL`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: search sources")
	}
	defer rows.Close()

	var matches []SourceMatch
	for rows.Next() {
		src, stored, err := scanVerifiedSource(rows)
		if err != nil {
			return nil, err
		}
		sim := embedding.Cosine(emb, stored)
		if sim >= threshold {
			src.Embedding = stored
			matches = append(matches, SourceMatch{Source: *src, Similarity: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: search sources iterate")
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *SQLiteStore) EnqueueTopic(ctx context.Context, text string, priority int, source string) (*model.TopicQueueEntry, error) {
	if text == "" {
		return nil, eris.New("sqlite: topic text is required")
	}
	id := uuid.New()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO topic_queue (id, topic_text, priority, status, source, review_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), text, priority, string(model.TopicQueued), source, string(model.ReviewPending), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: enqueue topic")
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

// NextQueuedTopic returns the highest-priority queued topic, or nil when the
// queue is empty. Ties break on enqueue order.
func (s *SQLiteStore) NextQueuedTopic(ctx context.Context) (*model.TopicQueueEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, topic_text, priority, status, source, review_status, reviewed_at,
		 admin_feedback, blog_post_id, error_message, retry_count, created_at, updated_at
		 FROM topic_queue WHERE status = ?
		 ORDER BY priority DESC, created_at ASC LIMIT 1`,
		string(model.TopicQueued),
	)
	entry, err := scanTopic(row)
	if eris.Is(err, ErrNotFound) {
		return nil, nil
	}
	return entry, err
}

func (s *SQLiteStore) MarkTopicProcessing(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE topic_queue SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(model.TopicProcessing), time.Now().UTC(), id.String(), string(model.TopicQueued),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark topic processing %s", id)
	}
	return checkRowsAffected(res, "queued topic", id.String())
}

func (s *SQLiteStore) MarkTopicCompleted(ctx context.Context, id uuid.UUID, blogPostID uuid.UUID) error {
	if blogPostID == uuid.Nil {
		return eris.New("sqlite: completed topic requires a blog post id")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE topic_queue SET status = ?, blog_post_id = ?, error_message = NULL, updated_at = ?
		 WHERE id = ?`,
		string(model.TopicCompleted), blogPostID.String(), time.Now().UTC(), id.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark topic completed %s", id)
	}
	return checkRowsAffected(res, "topic", id.String())
}

func (s *SQLiteStore) MarkTopicFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	if errMsg == "" {
		return eris.New("sqlite: failed topic requires an error message")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE topic_queue SET status = ?, error_message = ?, retry_count = retry_count + 1, updated_at = ?
		 WHERE id = ?`,
		string(model.TopicFailed), errMsg, time.Now().UTC(), id.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark topic failed %s", id)
	}
	return checkRowsAffected(res, "topic", id.String())
}

func (s *SQLiteStore) ReviewTopic(ctx context.Context, id uuid.UUID, status model.ReviewStatus, feedback string) error {
	switch status {
	case model.ReviewApproved, model.ReviewRejected, model.ReviewNeedsRevision:
	default:
		return eris.Errorf("sqlite: invalid review status %q", status)
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE topic_queue SET review_status = ?, reviewed_at = ?, admin_feedback = ?, updated_at = ?
		 WHERE id = ?`,
		string(status), now, feedback, now, id.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: review topic %s", id)
	}
	return checkRowsAffected(res, "topic", id.String())
}

func (s *SQLiteStore) ListTopics(ctx context.Context, filter TopicFilter) ([]model.TopicQueueEntry, error) {
	query := `SELECT id, topic_text, priority, status, source, review_status, reviewed_at,
	 admin_feedback, blog_post_id, error_message, retry_count, created_at, updated_at
	 FROM topic_queue WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Review != "" {
		query += ` AND review_status = ?`
		args = append(args, string(filter.Review))
	}
	query += ` ORDER BY priority DESC, created_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list topics")
	}
	defer rows.Close()

	var topics []model.TopicQueueEntry
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, *t)
	}
	return topics, eris.Wrap(rows.Err(), "sqlite: list topics iterate")
}

func (s *SQLiteStore) CreateBlogPost(ctx context.Context, post *model.BlogPost) error {
	if post.ID == uuid.Nil {
		post.ID = uuid.New()
	}
	post.CreatedAt = time.Now().UTC()

	idsJSON, err := json.Marshal(post.ClaimCardIDs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal claim card ids")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO blog_posts (id, topic_queue_id, title, article_body, word_count, claim_card_ids, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		post.ID.String(), post.TopicQueueID.String(), post.Title, post.ArticleBody,
		post.WordCount, string(idsJSON), post.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert blog post")
}

func (s *SQLiteStore) GetBlogPost(ctx context.Context, id uuid.UUID) (*model.BlogPost, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, topic_queue_id, title, article_body, word_count, claim_card_ids, published_at, created_at
		 FROM blog_posts WHERE id = ?`,
		id.String(),
	)

	var p model.BlogPost
	var idStr, topicStr, idsJSON string
	var publishedAt sql.NullTime
	err := row.Scan(&idStr, &topicStr, &p.Title, &p.ArticleBody, &p.WordCount, &idsJSON, &publishedAt, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "blog post %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan blog post")
	}
	if p.ID, err = uuid.Parse(idStr); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse blog post id")
	}
	if p.TopicQueueID, err = uuid.Parse(topicStr); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse topic queue id")
	}
	if err := json.Unmarshal([]byte(idsJSON), &p.ClaimCardIDs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal claim card ids")
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		p.PublishedAt = &t
	}
	return &p, nil
}

// PublishBlogPost sets the publish timestamp. The owning topic must have been
// approved by review first.
func (s *SQLiteStore) PublishBlogPost(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE blog_posts SET published_at = ?
		 WHERE id = ? AND published_at IS NULL
		 AND topic_queue_id IN (SELECT id FROM topic_queue WHERE review_status = ?)`,
		time.Now().UTC(), id.String(), string(model.ReviewApproved),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: publish blog post %s", id)
	}
	return checkRowsAffected(res, "approved unpublished blog post", id.String())
}

func (s *SQLiteStore) InsertRouterDecision(ctx context.Context, d *model.RouterDecision) error {
	if !d.Mode.Valid() {
		return eris.Errorf("sqlite: invalid routing mode %q", d.Mode)
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now().UTC()

	refsJSON, err := json.Marshal(d.ClaimCardsReferenced)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal referenced claims")
	}
	candsJSON, err := json.Marshal(d.SearchCandidates)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal search candidates")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO router_decisions (id, question_text, reformulated_question, mode_selected,
		 claim_cards_referenced, search_candidates, reasoning, response_time_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID.String(), d.QuestionText, d.ReformulatedQuestion, string(d.Mode),
		string(refsJSON), string(candsJSON), d.Reasoning, d.ResponseTimeMS, d.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert router decision")
}

// helpers

func (s *SQLiteStore) loadClaimChildren(ctx context.Context, card *model.ClaimCard) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_type, citation, url, quote_text, usage_context,
		 verification_method, verification_status, content_type, url_verified, created_at
		 FROM sources WHERE claim_card_id = ? ORDER BY created_at`,
		card.ID.String(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: load sources")
	}
	defer rows.Close()
	for rows.Next() {
		var src model.Source
		var idStr string
		var urlVerified int
		err := rows.Scan(&idStr, &src.Type, &src.Citation, &src.URL, &src.Quote, &src.UsageContext,
			&src.VerificationMethod, &src.VerificationStatus, &src.ContentType, &urlVerified, &src.CreatedAt)
		if err != nil {
			return eris.Wrap(err, "sqlite: scan source")
		}
		if src.ID, err = uuid.Parse(idStr); err != nil {
			return eris.Wrap(err, "sqlite: parse source id")
		}
		src.ClaimCardID = card.ID
		src.URLVerified = urlVerified != 0
		card.Sources = append(card.Sources, src)
	}
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "sqlite: load sources iterate")
	}

	if err := s.loadTags(ctx, card.ID, "technique_tags", func(name, desc string) {
		card.TechniqueTags = append(card.TechniqueTags, model.TechniqueTag{Name: name, Description: desc})
	}); err != nil {
		return err
	}
	return s.loadTags(ctx, card.ID, "category_tags", func(name, desc string) {
		card.CategoryTags = append(card.CategoryTags, model.CategoryTag{Name: name, Description: desc})
	})
}

func (s *SQLiteStore) loadTags(ctx context.Context, claimID uuid.UUID, table string, add func(name, desc string)) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, description FROM `+table+` WHERE claim_card_id = ? ORDER BY name`,
		claimID.String(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: load %s", table)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var desc sql.NullString
		if err := rows.Scan(&name, &desc); err != nil {
			return eris.Wrapf(err, "sqlite: scan %s", table)
		}
		add(name, desc.String)
	}
	return eris.Wrapf(rows.Err(), "sqlite: load %s iterate", table)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanClaimCard(row scannable) (*model.ClaimCard, error) {
	var c model.ClaimCard
	var idStr string
	var whyJSON, embJSON sql.NullString
	var visible int

	err := row.Scan(&idStr, &c.ClaimText, &c.Claimant, &c.ClaimType, &c.ClaimTypeCategory,
		&c.Verdict, &c.ShortAnswer, &c.DeepAnswer, &whyJSON, &c.Confidence, &c.ConfidenceReason,
		&embJSON, &visible, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "claim card")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan claim card")
	}

	if c.ID, err = uuid.Parse(idStr); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse claim id")
	}
	if whyJSON.Valid && whyJSON.String != "" {
		if err := json.Unmarshal([]byte(whyJSON.String), &c.WhyPersists); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal why_persists")
		}
	}
	if embJSON.Valid {
		if err := json.Unmarshal([]byte(embJSON.String), &c.Embedding); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal embedding")
		}
	}
	c.VisibleInAudits = visible != 0
	return &c, nil
}

func scanVerifiedSource(row scannable) (*model.VerifiedSource, []float32, error) {
	var src model.VerifiedSource
	var idStr, keywordsJSON string
	var embJSON sql.NullString

	err := row.Scan(&idStr, &src.SourceType, &src.Title, &src.Author, &src.Publisher,
		&src.PublicationDate, &src.ISBN, &src.DOI, &src.URL, &src.ContentSnippet,
		&keywordsJSON, &embJSON, &src.VerificationMethod, &src.VerificationStatus,
		&src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: scan verified source")
	}
	if src.ID, err = uuid.Parse(idStr); err != nil {
		return nil, nil, eris.Wrap(err, "sqlite: parse source id")
	}
	if keywordsJSON != "" {
		if err := json.Unmarshal([]byte(keywordsJSON), &src.TopicKeywords); err != nil {
			return nil, nil, eris.Wrap(err, "sqlite: unmarshal topic keywords")
		}
	}
	var emb []float32
	if embJSON.Valid {
		if err := json.Unmarshal([]byte(embJSON.String), &emb); err != nil {
			return nil, nil, eris.Wrap(err, "sqlite: unmarshal source embedding")
		}
	}
	return &src, emb, nil
}

func scanTopic(row scannable) (*model.TopicQueueEntry, error) {
	var t model.TopicQueueEntry
	var idStr string
	var source, feedback, errMsg, blogPostID sql.NullString
	var reviewedAt sql.NullTime

	err := row.Scan(&idStr, &t.TopicText, &t.Priority, &t.Status, &source, &t.Review,
		&reviewedAt, &feedback, &blogPostID, &errMsg, &t.RetryCount, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "topic")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan topic")
	}

	if t.ID, err = uuid.Parse(idStr); err != nil {
		return nil, eris.Wrap(err, "sqlite: parse topic id")
	}
	t.Source = source.String
	t.AdminFeedback = feedback.String
	t.ErrorMessage = errMsg.String
	if reviewedAt.Valid {
		ts := reviewedAt.Time
		t.ReviewedAt = &ts
	}
	if blogPostID.Valid && blogPostID.String != "" {
		id, err := uuid.Parse(blogPostID.String)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: parse blog post id")
		}
		t.BlogPostID = &id
	}
	return &t, nil
}
