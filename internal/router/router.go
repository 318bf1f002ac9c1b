package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/thereceipts/claimaudit/internal/agent"
	"github.com/thereceipts/claimaudit/internal/config"
	"github.com/thereceipts/claimaudit/internal/model"
	"github.com/thereceipts/claimaudit/internal/store"
	"github.com/thereceipts/claimaudit/pkg/anthropic"
)

// maxToolRounds caps the tool-calling loop. A routing decision that needs
// more rounds than this is treated as a fresh-claim case.
const maxToolRounds = 8

const (
	toolSearchClaims = "search_existing_claims"
	toolClaimDetails = "get_claim_details"
	toolGenerateNew  = "generate_new_claim"
)

const routerSystemPrompt = `You route incoming questions for a fact-checking service. An archive of audited claims exists; your job is to decide whether an archived claim already answers this question.

Always call search_existing_claims first. A high similarity score is not enough: reuse is only safe when the archived claim answers the same kind of question. "Could we know whether X happened" is an epistemological question; "did X happen" is a historical one. They may share every keyword and still need different answers. When candidates look close but the question type differs, call get_claim_details before deciding, and answer by synthesizing from the archived material. When nothing in the archive fits, call generate_new_claim.

When you are done, respond with JSON only:

{"answer": "your answer, or empty when a new claim is needed", "reasoning": "why you routed it this way"}`

// ClaimSearcher finds audited claims similar to a query.
type ClaimSearcher interface {
	FindSimilar(ctx context.Context, text string, threshold float64, limit int, excludeIDs []uuid.UUID) ([]store.ClaimMatch, error)
}

// DecisionStore is the slice of the store the router reads and appends to.
type DecisionStore interface {
	GetClaimCard(ctx context.Context, id uuid.UUID) (*model.ClaimCard, error)
	InsertRouterDecision(ctx context.Context, d *model.RouterDecision) error
}

// Decision is the outcome of routing one question.
type Decision struct {
	Mode       model.RoutingMode
	Answer     string
	ClaimIDs   []uuid.UUID
	Candidates []model.SearchCandidate
	Reasoning  string
	Latency    time.Duration
}

// Router classifies each incoming question as reuse, synthesis, or a fresh
// claim, driving an LLM tool loop over the audited-claims archive. Every
// decision lands in the append-only audit log.
type Router struct {
	client   anthropic.Client
	searcher ClaimSearcher
	store    DecisionStore

	modelName   string
	temperature float64
	maxTokens   int64

	highBand    float64
	lowBand     float64
	searchLimit int

	log *zap.SugaredLogger
}

// New creates a router from config.
func New(cfg *config.Config, client anthropic.Client, searcher ClaimSearcher, st DecisionStore) *Router {
	r := &Router{
		client:      client,
		searcher:    searcher,
		store:       st,
		modelName:   cfg.Anthropic.Model,
		temperature: 0.2,
		maxTokens:   2048,
		highBand:    cfg.Router.HighBand,
		lowBand:     cfg.Router.LowBand,
		searchLimit: cfg.Router.SearchLimit,
		log:         zap.S().With("component", "router"),
	}

	if ac, ok := cfg.Agents["router"]; ok {
		if ac.Model != "" {
			r.modelName = ac.Model
		}
		if ac.Temperature > 0 {
			r.temperature = ac.Temperature
		}
		if ac.MaxTokens > 0 {
			r.maxTokens = ac.MaxTokens
		}
	}
	if r.highBand <= 0 {
		r.highBand = 0.92
	}
	if r.lowBand <= 0 {
		r.lowBand = 0.80
	}
	if r.searchLimit <= 0 {
		r.searchLimit = 5
	}
	return r
}

// trail accumulates what the tool loop actually did; the routing mode is
// derived from it, not from the model's self-report.
type trail struct {
	searches       int
	topSimilarity  float64
	detailsFetched bool
	generateCalled bool
	candidates     []model.SearchCandidate
	referenced     []uuid.UUID
}

// Route decides how to answer one question. reformulated may be empty, in
// which case the raw question is searched.
func (r *Router) Route(ctx context.Context, question, reformulated string) (*Decision, error) {
	start := time.Now()
	if reformulated == "" {
		reformulated = question
	}

	tr, answer, reasoning, err := r.runToolLoop(ctx, reformulated)
	if err != nil {
		return nil, err
	}

	mode := r.deriveMode(tr)
	decision := &Decision{
		Mode:       mode,
		Answer:     answer,
		Candidates: tr.candidates,
		Reasoning:  reasoning,
		Latency:    time.Since(start),
	}
	switch mode {
	case model.RouteExactMatch:
		if len(tr.candidates) > 0 {
			decision.ClaimIDs = []uuid.UUID{tr.candidates[0].ClaimID}
		}
	case model.RouteContextual:
		decision.ClaimIDs = tr.referenced
		if len(decision.ClaimIDs) == 0 {
			for _, c := range tr.candidates {
				decision.ClaimIDs = append(decision.ClaimIDs, c.ClaimID)
			}
		}
	case model.RouteNovelClaim:
		decision.Answer = ""
	}

	r.logDecision(ctx, question, reformulated, decision)
	r.log.Infow("question routed",
		"mode", decision.Mode,
		"searches", tr.searches,
		"top_similarity", tr.topSimilarity,
		"latency_ms", decision.Latency.Milliseconds(),
	)
	return decision, nil
}

// deriveMode applies the decision policy in priority order.
func (r *Router) deriveMode(tr *trail) model.RoutingMode {
	switch {
	case tr.generateCalled:
		return model.RouteNovelClaim
	case tr.detailsFetched || tr.searches > 1:
		return model.RouteContextual
	case tr.searches == 1 && tr.topSimilarity >= r.highBand:
		return model.RouteExactMatch
	case tr.searches == 1 && tr.topSimilarity >= r.lowBand:
		return model.RouteContextual
	default:
		return model.RouteNovelClaim
	}
}

func (r *Router) runToolLoop(ctx context.Context, question string) (*trail, string, string, error) {
	tr := &trail{}
	temp := r.temperature
	messages := []anthropic.Message{
		{Role: "user", Content: "Question: " + question},
	}

	for round := 0; round < maxToolRounds; round++ {
		resp, err := r.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       r.modelName,
			MaxTokens:   r.maxTokens,
			System:      routerSystemPrompt,
			Messages:    messages,
			Temperature: &temp,
			Tools:       r.tools(),
		})
		if err != nil {
			return nil, "", "", eris.Wrap(err, "router: tool loop")
		}
		resp.Usage.LogCost(r.modelName, "router")

		uses := resp.ToolUses()
		if len(uses) == 0 {
			answer, reasoning := parseFinal(resp.Text())
			return tr, answer, reasoning, nil
		}

		messages = append(messages, anthropic.Message{Role: "assistant", Blocks: resp.Content})

		var results []anthropic.ContentBlock
		for _, use := range uses {
			out := r.executeTool(ctx, tr, use)
			results = append(results, anthropic.ContentBlock{
				Type:   "tool_result",
				ToolID: use.ToolID,
				Text:   out,
			})
		}
		messages = append(messages, anthropic.Message{Role: "user", Blocks: results})
	}

	r.log.Warnw("tool loop exhausted", "rounds", maxToolRounds, "question", question)
	return tr, "", "tool loop exhausted", nil
}

func (r *Router) tools() []anthropic.Tool {
	return []anthropic.Tool{
		{
			Name:        toolSearchClaims,
			Description: "Semantic search over audited claims. Returns candidates with similarity scores.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "search text"},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        toolClaimDetails,
			Description: "Fetch the full audit record of one claim by id.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"claim_id": map[string]any{"type": "string", "description": "claim uuid"},
				},
				"required": []string{"claim_id"},
			},
		},
		{
			Name:        toolGenerateNew,
			Description: "Declare that no archived claim fits and a new audit is needed.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{"type": "string", "description": "why the archive does not fit"},
				},
				"required": []string{"reason"},
			},
		},
	}
}

// executeTool runs one tool call and returns its result text. Tool errors
// become error text for the model, never loop failures.
func (r *Router) executeTool(ctx context.Context, tr *trail, use anthropic.ContentBlock) string {
	switch use.ToolName {
	case toolSearchClaims:
		var in struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal(use.ToolInput, &in); err != nil || in.Query == "" {
			return `{"error": "search_existing_claims requires a query"}`
		}
		return r.searchClaims(ctx, tr, in.Query)

	case toolClaimDetails:
		var in struct {
			ClaimID string `json:"claim_id"`
		}
		if err := json.Unmarshal(use.ToolInput, &in); err != nil {
			return `{"error": "get_claim_details requires a claim_id"}`
		}
		return r.claimDetails(ctx, tr, in.ClaimID)

	case toolGenerateNew:
		tr.generateCalled = true
		return `{"acknowledged": true, "note": "a new claim audit will be scheduled"}`

	default:
		return `{"error": "unknown tool"}`
	}
}

func (r *Router) searchClaims(ctx context.Context, tr *trail, query string) string {
	tr.searches++

	matches, err := r.searcher.FindSimilar(ctx, query, r.lowBand, r.searchLimit, nil)
	if err != nil {
		r.log.Warnw("claim search failed", "query", query, "error", err)
		return `{"error": "search unavailable"}`
	}

	type hit struct {
		ClaimID    string  `json:"claim_id"`
		ClaimText  string  `json:"claim_text"`
		Verdict    string  `json:"verdict"`
		Similarity float64 `json:"similarity"`
	}
	hits := make([]hit, 0, len(matches))
	for i, m := range matches {
		if tr.searches == 1 && i == 0 && m.Similarity > tr.topSimilarity {
			tr.topSimilarity = m.Similarity
		}
		tr.candidates = append(tr.candidates, model.SearchCandidate{
			ClaimID:    m.Claim.ID,
			ClaimText:  m.Claim.ClaimText,
			Similarity: m.Similarity,
		})
		hits = append(hits, hit{
			ClaimID:    m.Claim.ID.String(),
			ClaimText:  m.Claim.ClaimText,
			Verdict:    string(m.Claim.Verdict),
			Similarity: m.Similarity,
		})
	}

	out, _ := json.Marshal(map[string]any{"candidates": hits})
	return string(out)
}

func (r *Router) claimDetails(ctx context.Context, tr *trail, rawID string) string {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return `{"error": "claim_id is not a valid uuid"}`
	}

	card, err := r.store.GetClaimCard(ctx, id)
	if err != nil {
		r.log.Warnw("claim details fetch failed", "claim_id", rawID, "error", err)
		return `{"error": "claim not found"}`
	}

	tr.detailsFetched = true
	tr.referenced = append(tr.referenced, card.ID)

	out, _ := json.Marshal(map[string]any{
		"claim_id":     card.ID.String(),
		"claim_text":   card.ClaimText,
		"claim_type":   card.ClaimType,
		"verdict":      card.Verdict,
		"short_answer": card.ShortAnswer,
		"deep_answer":  card.DeepAnswer,
		"confidence":   card.Confidence,
	})
	return string(out)
}

// logDecision appends to the audit log. Audit failures never fail routing.
func (r *Router) logDecision(ctx context.Context, question, reformulated string, d *Decision) {
	err := r.store.InsertRouterDecision(ctx, &model.RouterDecision{
		QuestionText:         question,
		ReformulatedQuestion: reformulated,
		Mode:                 d.Mode,
		ClaimCardsReferenced: d.ClaimIDs,
		SearchCandidates:     d.Candidates,
		Reasoning:            d.Reasoning,
		ResponseTimeMS:       d.Latency.Milliseconds(),
	})
	if err != nil {
		r.log.Errorw("router decision audit failed", "question", question, "error", err)
	}
}

func parseFinal(text string) (answer, reasoning string) {
	raw, err := agent.ExtractJSON(text)
	if err != nil {
		return text, ""
	}
	var out struct {
		Answer    string `json:"answer"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return text, ""
	}
	return out.Answer, out.Reasoning
}
