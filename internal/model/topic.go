package model

import (
	"time"

	"github.com/google/uuid"
)

// TopicStatus is the processing state of a queued topic.
type TopicStatus string

const (
	TopicQueued     TopicStatus = "queued"
	TopicProcessing TopicStatus = "processing"
	TopicCompleted  TopicStatus = "completed"
	TopicFailed     TopicStatus = "failed"
)

// ReviewStatus is the human-review state of a generated article, tracked
// separately from processing status.
type ReviewStatus string

const (
	ReviewPending       ReviewStatus = "pending_review"
	ReviewApproved      ReviewStatus = "approved"
	ReviewRejected      ReviewStatus = "rejected"
	ReviewNeedsRevision ReviewStatus = "needs_revision"
)

// TopicQueueEntry is one pending or completed unit of batch work.
type TopicQueueEntry struct {
	ID        uuid.UUID   `json:"id"`
	TopicText string      `json:"topic_text"`
	Priority  int         `json:"priority"`
	Status    TopicStatus `json:"status"`
	Source    string      `json:"source,omitempty"` // manual, auto_suggest

	Review        ReviewStatus `json:"review_status"`
	ReviewedAt    *time.Time   `json:"reviewed_at,omitempty"`
	AdminFeedback string       `json:"admin_feedback,omitempty"`

	BlogPostID   *uuid.UUID `json:"blog_post_id,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	RetryCount   int        `json:"retry_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BlogPost is a synthesized article referencing the claim cards it was
// composed from. PublishedAt stays nil until explicitly approved.
type BlogPost struct {
	ID           uuid.UUID   `json:"id"`
	TopicQueueID uuid.UUID   `json:"topic_queue_id"`
	Title        string      `json:"title"`
	ArticleBody  string      `json:"article_body"`
	WordCount    int         `json:"word_count"`
	ClaimCardIDs []uuid.UUID `json:"claim_card_ids"`
	PublishedAt  *time.Time  `json:"published_at,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}
