package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/thereceipts/claimaudit/internal/agent"
	"github.com/thereceipts/claimaudit/internal/model"
	"github.com/thereceipts/claimaudit/internal/verify"
)

// Stage names, in execution order.
const (
	StageIdentify = "identify-claim"
	StageSources  = "collect-sources"
	StageReview   = "adversarial-review"
	StageProse    = "write-prose"
	StageSummary  = "publish-summary"
)

// Bounds on how many source queries the identifier may propose.
const (
	minSourceQueries = 1
	maxSourceQueries = 8
)

// AgentCaller is the slice of the agent runner the pipeline uses.
type AgentCaller interface {
	CallJSON(ctx context.Context, req agent.Request, out any) error
	CallText(ctx context.Context, req agent.Request) (string, error)
}

// SourceVerifier resolves one source query through the verification ladder.
type SourceVerifier interface {
	Verify(ctx context.Context, claimText, sourceQuery, typeHint string) (*verify.Result, error)
}

// ProgressSink receives stage transition events. It is a side channel only:
// the pipeline produces identical results with or without one attached.
type ProgressSink interface {
	Notify(event string, payload map[string]any)
}

// SourceQuery is one evidence lookup proposed by the identifier.
type SourceQuery struct {
	Query        string `json:"query"`
	TypeHint     string `json:"type_hint"`
	UsageContext string `json:"usage_context"`
}

// Identification is the output of stage 1.
type Identification struct {
	ClaimText         string               `json:"claim_text"`
	Claimant          string               `json:"claimant"`
	ClaimType         string               `json:"claim_type"`
	ClaimTypeCategory string               `json:"claim_type_category"`
	SourceQueries     []SourceQuery        `json:"source_queries"`
	TechniqueTags     []model.TechniqueTag `json:"technique_tags"`
	CategoryTags      []model.CategoryTag  `json:"category_tags"`
}

// SourceFindings is the output of stage 2.
type SourceFindings struct {
	Sources         []model.Source
	EvidenceSummary string
}

// Review is the output of stage 3.
type Review struct {
	Verdict          model.Verdict    `json:"verdict"`
	Confidence       model.Confidence `json:"confidence_level"`
	ConfidenceReason string           `json:"confidence_explanation"`
	Limitations      []string         `json:"limitations"`
	ChangeVerdictIf  string           `json:"change_verdict_if"`
}

// Prose is the output of stage 4.
type Prose struct {
	ShortAnswer string   `json:"short_answer"`
	DeepAnswer  string   `json:"deep_answer"`
	WhyPersists []string `json:"why_persists"`
}

// Summary is the output of stage 5.
type Summary struct {
	AuditSummary string `json:"audit_summary"`
}

// accumulator unions the typed stage outputs. Each stage reads the fields of
// all prior stages and fills exactly its own.
type accumulator struct {
	Identification Identification
	Findings       SourceFindings
	Review         Review
	Prose          Prose
	Summary        Summary
}

// StageTrace records one completed stage for diagnostics.
type StageTrace struct {
	Stage      string        `json:"stage"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
}

// RunResult is the structured outcome of a pipeline run. On failure Stages
// holds only the stages that completed and ClaimCard is nil.
type RunResult struct {
	Success    bool
	Question   string
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
	Stages     []StageTrace
	ClaimCard  *model.ClaimCardData
	Err        string
}

// Pipeline runs the five-stage claim audit. Fail-fast: the first stage error
// stops the run with no retries and no partial persistence.
type Pipeline struct {
	agents   AgentCaller
	verifier SourceVerifier
	sink     ProgressSink
	log      *zap.SugaredLogger
}

// New creates a pipeline. sink may be nil.
func New(agents AgentCaller, verifier SourceVerifier, sink ProgressSink) *Pipeline {
	return &Pipeline{
		agents:   agents,
		verifier: verifier,
		sink:     sink,
		log:      zap.S().With("component", "pipeline"),
	}
}

// Run audits one question end to end.
func (p *Pipeline) Run(ctx context.Context, question string) *RunResult {
	result := &RunResult{
		Question:  question,
		StartedAt: time.Now(),
	}
	acc := &accumulator{}

	stages := []struct {
		name string
		run  func(context.Context, *accumulator) error
	}{
		{StageIdentify, func(ctx context.Context, acc *accumulator) error { return p.identifyClaim(ctx, question, acc) }},
		{StageSources, p.collectSources},
		{StageReview, p.adversarialReview},
		{StageProse, p.writeProse},
		{StageSummary, p.publishSummary},
	}

	for _, stage := range stages {
		start := time.Now()
		p.notify("stage_started", map[string]any{"stage": stage.name})

		err := stage.run(ctx, acc)
		end := time.Now()
		p.notify("stage_finished", map[string]any{
			"stage":       stage.name,
			"duration_ms": end.Sub(start).Milliseconds(),
			"success":     err == nil,
		})

		if err != nil {
			p.log.Errorw("stage failed", "stage", stage.name, "question", question, "error", err)
			result.FinishedAt = time.Now()
			result.Duration = result.FinishedAt.Sub(result.StartedAt)
			result.Err = fmt.Sprintf("%s: %v", stage.name, err)
			return result
		}

		result.Stages = append(result.Stages, StageTrace{
			Stage:      stage.name,
			StartedAt:  start,
			FinishedAt: end,
			Duration:   end.Sub(start),
		})
		p.log.Infow("stage completed", "stage", stage.name, "duration", end.Sub(start))
	}

	result.Success = true
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)
	result.ClaimCard = assembleCard(acc)
	return result
}

func (p *Pipeline) notify(event string, payload map[string]any) {
	if p.sink == nil {
		return
	}
	p.sink.Notify(event, payload)
}

func (p *Pipeline) identifyClaim(ctx context.Context, question string, acc *accumulator) error {
	var ident Identification
	err := p.agents.CallJSON(ctx, agent.Request{
		Agent:  "identifier",
		System: identifierSystemPrompt,
		Prompt: "Question: " + question,
	}, &ident)
	if err != nil {
		return err
	}

	if strings.TrimSpace(ident.ClaimText) == "" {
		return eris.New("pipeline: identifier returned empty claim text")
	}
	if n := len(ident.SourceQueries); n < minSourceQueries || n > maxSourceQueries {
		return eris.Errorf("pipeline: identifier proposed %d source queries, want %d-%d", n, minSourceQueries, maxSourceQueries)
	}

	acc.Identification = ident
	return nil
}

// collectSources resolves every proposed query through the verifier, then has
// the source checker summarize what the evidence establishes. Unverified
// results are kept as sources; the verdict stage weighs them down.
func (p *Pipeline) collectSources(ctx context.Context, acc *accumulator) error {
	claimText := acc.Identification.ClaimText

	for _, q := range acc.Identification.SourceQueries {
		vr, err := p.verifier.Verify(ctx, claimText, q.Query, q.TypeHint)
		if err != nil {
			return eris.Wrapf(err, "pipeline: verify source %q", q.Query)
		}

		acc.Findings.Sources = append(acc.Findings.Sources, model.Source{
			Type:               sourceTypeFromHint(q.TypeHint),
			Citation:           vr.Citation,
			URL:                vr.URL,
			Quote:              vr.Quote,
			UsageContext:       q.UsageContext,
			VerificationMethod: vr.Method,
			VerificationStatus: vr.Status,
			ContentType:        vr.ContentType,
			URLVerified:        vr.URLVerified,
		})
	}

	summary, err := p.agents.CallText(ctx, agent.Request{
		Agent:  "source_checker",
		System: sourceCheckerSystemPrompt,
		Prompt: evidencePrompt(claimText, acc.Findings.Sources),
	})
	if err != nil {
		return err
	}
	acc.Findings.EvidenceSummary = summary
	return nil
}

func (p *Pipeline) adversarialReview(ctx context.Context, acc *accumulator) error {
	var review Review
	err := p.agents.CallJSON(ctx, agent.Request{
		Agent:  "reviewer",
		System: reviewerSystemPrompt,
		Prompt: reviewPrompt(acc),
	}, &review)
	if err != nil {
		return err
	}

	if !review.Verdict.Valid() {
		return eris.Errorf("pipeline: reviewer returned invalid verdict %q", review.Verdict)
	}
	if !review.Confidence.Valid() {
		return eris.Errorf("pipeline: reviewer returned invalid confidence %q", review.Confidence)
	}

	acc.Review = review
	return nil
}

func (p *Pipeline) writeProse(ctx context.Context, acc *accumulator) error {
	var prose Prose
	err := p.agents.CallJSON(ctx, agent.Request{
		Agent:  "prose_writer",
		System: proseWriterSystemPrompt,
		Prompt: prosePrompt(acc),
	}, &prose)
	if err != nil {
		return err
	}

	if strings.TrimSpace(prose.ShortAnswer) == "" || strings.TrimSpace(prose.DeepAnswer) == "" {
		return eris.New("pipeline: prose writer returned empty answer")
	}

	acc.Prose = prose
	return nil
}

func (p *Pipeline) publishSummary(ctx context.Context, acc *accumulator) error {
	var summary Summary
	err := p.agents.CallJSON(ctx, agent.Request{
		Agent:  "summarizer",
		System: summarizerSystemPrompt,
		Prompt: summaryPrompt(acc),
	}, &summary)
	if err != nil {
		return err
	}
	if strings.TrimSpace(summary.AuditSummary) == "" {
		return eris.New("pipeline: summarizer returned empty summary")
	}

	acc.Summary = summary
	return nil
}

func assembleCard(acc *accumulator) *model.ClaimCardData {
	return &model.ClaimCardData{
		ClaimText:         acc.Identification.ClaimText,
		Claimant:          acc.Identification.Claimant,
		ClaimType:         acc.Identification.ClaimType,
		ClaimTypeCategory: acc.Identification.ClaimTypeCategory,
		Verdict:           acc.Review.Verdict,
		ShortAnswer:       acc.Prose.ShortAnswer,
		DeepAnswer:        acc.Prose.DeepAnswer,
		WhyPersists:       acc.Prose.WhyPersists,
		Confidence:        acc.Review.Confidence,
		ConfidenceReason:  acc.Review.ConfidenceReason,
		Sources:           acc.Findings.Sources,
		TechniqueTags:     acc.Identification.TechniqueTags,
		CategoryTags:      acc.Identification.CategoryTags,
		AuditSummary:      acc.Summary.AuditSummary,
		Limitations:       acc.Review.Limitations,
		ChangeVerdictIf:   acc.Review.ChangeVerdictIf,
	}
}

func sourceTypeFromHint(hint string) model.SourceType {
	h := strings.ToLower(hint)
	if strings.Contains(h, "scholar") || strings.Contains(h, "peer") || strings.Contains(h, "academic") {
		return model.SourceScholarlyPeerReviewed
	}
	return model.SourcePrimaryHistorical
}

func evidencePrompt(claimText string, sources []model.Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Claim: %s\n\nSources:\n", claimText)
	for i, s := range sources {
		fmt.Fprintf(&b, "%d. %s [%s, %s]", i+1, s.Citation, s.VerificationStatus, s.VerificationMethod)
		if s.Quote != "" {
			fmt.Fprintf(&b, "\n   Quote: %s", s.Quote)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func reviewPrompt(acc *accumulator) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Claim: %s\nClaimant: %s\nClaim type: %s\n\nEvidence summary: %s\n\n",
		acc.Identification.ClaimText, acc.Identification.Claimant, acc.Identification.ClaimType,
		acc.Findings.EvidenceSummary)
	b.WriteString(evidencePrompt(acc.Identification.ClaimText, acc.Findings.Sources))
	return b.String()
}

func prosePrompt(acc *accumulator) string {
	review, _ := json.Marshal(acc.Review)
	var b strings.Builder
	b.WriteString(reviewPrompt(acc))
	fmt.Fprintf(&b, "\nReview: %s\n", review)
	return b.String()
}

func summaryPrompt(acc *accumulator) string {
	var b strings.Builder
	b.WriteString(prosePrompt(acc))
	fmt.Fprintf(&b, "\nShort answer: %s\n", acc.Prose.ShortAnswer)
	return b.String()
}
