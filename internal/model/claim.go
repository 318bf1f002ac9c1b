package model

import (
	"time"

	"github.com/google/uuid"
)

// Verdict is the categorical outcome of a claim audit.
type Verdict string

const (
	VerdictTrue                 Verdict = "True"
	VerdictMisleading           Verdict = "Misleading"
	VerdictFalse                Verdict = "False"
	VerdictUnfalsifiable        Verdict = "Unfalsifiable"
	VerdictDependsOnDefinitions Verdict = "Depends on Definitions"
)

// Valid reports whether v is a member of the closed verdict set.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictTrue, VerdictMisleading, VerdictFalse, VerdictUnfalsifiable, VerdictDependsOnDefinitions:
		return true
	}
	return false
}

// Confidence is the tiered confidence level attached to a verdict.
type Confidence string

const (
	ConfidenceHigh   Confidence = "High"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceLow    Confidence = "Low"
)

// Valid reports whether c is a member of the closed confidence set.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// EmbeddingDimensions is the fixed vector size produced by the embedding
// provider. Every stored embedding must match it.
const EmbeddingDimensions = 1536

// ClaimCard is the persisted audit record for one factual assertion.
type ClaimCard struct {
	ID                uuid.UUID  `json:"id"`
	ClaimText         string     `json:"claim_text"`
	Claimant          string     `json:"claimant"`
	ClaimType         string     `json:"claim_type,omitempty"`
	ClaimTypeCategory string     `json:"claim_type_category,omitempty"`
	Verdict           Verdict    `json:"verdict"`
	ShortAnswer       string     `json:"short_answer"`
	DeepAnswer        string     `json:"deep_answer"`
	WhyPersists       []string   `json:"why_persists,omitempty"`
	Confidence        Confidence `json:"confidence_level"`
	ConfidenceReason  string     `json:"confidence_explanation"`

	Sources       []Source       `json:"sources,omitempty"`
	TechniqueTags []TechniqueTag `json:"technique_tags,omitempty"`
	CategoryTags  []CategoryTag  `json:"category_tags,omitempty"`

	// Embedding of ClaimText. Nil means the best-effort attach step has not
	// succeeded yet; a missing embedding is a valid degraded state.
	Embedding []float32 `json:"-"`

	VisibleInAudits bool      `json:"visible_in_audits"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TechniqueTag names a rhetorical technique identified in the claim.
type TechniqueTag struct {
	Name        string `json:"technique_name"`
	Description string `json:"description,omitempty"`
}

// CategoryTag is a navigation category attached to a claim card.
type CategoryTag struct {
	Name        string `json:"category_name"`
	Description string `json:"description,omitempty"`
}

// ClaimCardData is the fully assembled output of a successful pipeline run,
// ready for atomic persistence as a ClaimCard with its sources and tags.
type ClaimCardData struct {
	ClaimText         string         `json:"claim_text"`
	Claimant          string         `json:"claimant"`
	ClaimType         string         `json:"claim_type"`
	ClaimTypeCategory string         `json:"claim_type_category"`
	Verdict           Verdict        `json:"verdict"`
	ShortAnswer       string         `json:"short_answer"`
	DeepAnswer        string         `json:"deep_answer"`
	WhyPersists       []string       `json:"why_persists"`
	Confidence        Confidence     `json:"confidence_level"`
	ConfidenceReason  string         `json:"confidence_explanation"`
	Sources           []Source       `json:"sources"`
	TechniqueTags     []TechniqueTag `json:"technique_tags"`
	CategoryTags      []CategoryTag  `json:"category_tags"`
	AuditSummary      string         `json:"audit_summary"`
	Limitations       []string       `json:"limitations"`
	ChangeVerdictIf   string         `json:"change_verdict_if"`
}
