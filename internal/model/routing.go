package model

import (
	"time"

	"github.com/google/uuid"
)

// RoutingMode is the three-way classification chosen per incoming question.
// It is the single closed type for routing modes; no raw string comparisons.
type RoutingMode string

const (
	// RouteExactMatch means an existing claim card answers the question.
	RouteExactMatch RoutingMode = "EXACT_MATCH"
	// RouteContextual means the answer is synthesized from existing cards.
	RouteContextual RoutingMode = "CONTEXTUAL"
	// RouteNovelClaim means a fresh pipeline run is required.
	RouteNovelClaim RoutingMode = "NOVEL_CLAIM"
)

// Valid reports whether m is a member of the closed routing-mode set.
func (m RoutingMode) Valid() bool {
	switch m {
	case RouteExactMatch, RouteContextual, RouteNovelClaim:
		return true
	}
	return false
}

// SearchCandidate is one scored hit from a claim search, captured in the
// routing audit log.
type SearchCandidate struct {
	ClaimID    uuid.UUID `json:"claim_id"`
	ClaimText  string    `json:"claim_text"`
	Similarity float64   `json:"similarity"`
}

// RouterDecision is an append-only audit snapshot of one routing choice.
// Never mutated after insert.
type RouterDecision struct {
	ID                   uuid.UUID         `json:"id"`
	QuestionText         string            `json:"question_text"`
	ReformulatedQuestion string            `json:"reformulated_question"`
	Mode                 RoutingMode       `json:"mode_selected"`
	ClaimCardsReferenced []uuid.UUID       `json:"claim_cards_referenced,omitempty"`
	SearchCandidates     []SearchCandidate `json:"search_candidates,omitempty"`
	Reasoning            string            `json:"reasoning,omitempty"`
	ResponseTimeMS       int64             `json:"response_time_ms"`
	CreatedAt            time.Time         `json:"created_at"`
}
