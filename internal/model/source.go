package model

import (
	"time"

	"github.com/google/uuid"
)

// SourceType distinguishes primary historical material from scholarship.
type SourceType string

const (
	SourcePrimaryHistorical     SourceType = "primary_historical"
	SourceScholarlyPeerReviewed SourceType = "scholarly_peer_reviewed"
)

// Valid reports whether t is a member of the closed source-type set.
func (t SourceType) Valid() bool {
	return t == SourcePrimaryHistorical || t == SourceScholarlyPeerReviewed
}

// VerificationStatus records how strongly a source was verified.
type VerificationStatus string

const (
	StatusVerified          VerificationStatus = "verified"
	StatusPartiallyVerified VerificationStatus = "partially_verified"
	StatusUnverified        VerificationStatus = "unverified"
)

// ContentType records the provenance of a source's quoted content.
type ContentType string

const (
	ContentExactQuote         ContentType = "exact_quote"
	ContentVerifiedParaphrase ContentType = "verified_paraphrase"
	ContentUnverified         ContentType = "unverified_content"
)

// Source is one citation attached to a claim card, with the verification
// metadata produced by the multi-tier verifier.
type Source struct {
	ID          uuid.UUID  `json:"id"`
	ClaimCardID uuid.UUID  `json:"claim_card_id"`
	Type        SourceType `json:"source_type"`
	Citation    string     `json:"citation"`
	URL         string     `json:"url,omitempty"`
	Quote       string     `json:"quote_text,omitempty"`
	UsageContext string    `json:"usage_context,omitempty"`

	VerificationMethod string             `json:"verification_method,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status,omitempty"`
	ContentType        ContentType        `json:"content_type,omitempty"`
	// URLVerified is true only when the URL was fetched and returned success.
	URLVerified bool `json:"url_verified"`

	CreatedAt time.Time `json:"created_at"`
}

// VerifiedSource is a reusable, claim-independent bibliographic record in the
// verified source library. Only tier 1-3 verification hits may create one.
type VerifiedSource struct {
	ID uuid.UUID `json:"id"`

	SourceType      string   `json:"source_type"` // book, paper, ancient_text
	Title           string   `json:"title"`
	Author          string   `json:"author"`
	Publisher       string   `json:"publisher,omitempty"`
	PublicationDate string   `json:"publication_date,omitempty"`
	ISBN            string   `json:"isbn,omitempty"`
	DOI             string   `json:"doi,omitempty"`
	URL             string   `json:"url"`
	ContentSnippet  string   `json:"content_snippet,omitempty"`
	TopicKeywords   []string `json:"topic_keywords,omitempty"`

	// Embedding over title+author for similarity lookup.
	Embedding []float32 `json:"-"`

	VerificationMethod string             `json:"verification_method"`
	VerificationStatus VerificationStatus `json:"verification_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
