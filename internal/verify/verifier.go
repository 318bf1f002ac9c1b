package verify

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/thereceipts/claimaudit/internal/config"
	"github.com/thereceipts/claimaudit/internal/model"
	"github.com/thereceipts/claimaudit/internal/resilience"
	"github.com/thereceipts/claimaudit/internal/store"
	"github.com/thereceipts/claimaudit/pkg/ancient"
	"github.com/thereceipts/claimaudit/pkg/googlebooks"
	"github.com/thereceipts/claimaudit/pkg/semanticscholar"
	"github.com/thereceipts/claimaudit/pkg/tavily"
)

// Verification method identifiers recorded on results.
const (
	MethodGoogleBooks     = "google_books"
	MethodSemanticScholar = "semantic_scholar"
	MethodWebSearch       = "tavily_web_search"
	MethodUnverified      = "llm_unverified"

	libraryReusePrefix = "library_reuse_"
)

// Snippet length cap applied to abstracts and web content.
const maxQuoteLen = 500

// Result is the outcome of one source verification attempt. The ladder
// always produces a Result; Success=false means every tier missed and the
// tier-5 fallback was used.
type Result struct {
	Success     bool
	Tier        int
	Method      string
	Status      model.VerificationStatus
	Citation    string
	URL         string
	Quote       string
	ContentType model.ContentType
	URLVerified bool
	Metadata    map[string]string
}

// Embedder produces the fixed-dimension vector for a source query.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// SourceLibrary is the slice of the store the verifier reads and writes.
type SourceLibrary interface {
	SearchSourcesBySimilarity(ctx context.Context, embedding []float32, threshold float64, limit int) ([]store.SourceMatch, error)
	CreateVerifiedSource(ctx context.Context, src *model.VerifiedSource) error
}

// RelevanceClient is the chat-completion surface used for the library
// relevance gate. Satisfied by *openai.Client.
type RelevanceClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Deps bundles the verifier's external collaborators.
type Deps struct {
	Embedder  Embedder
	Library   SourceLibrary
	Relevance RelevanceClient
	Books     googlebooks.Client
	Papers    semanticscholar.Client
	Ancient   ancient.Client
	Web       tavily.Client
}

// Verifier walks the tier ladder for each source query: verified-source
// library, Google Books, Semantic Scholar, Perseus/CCEL, Tavily, and an
// unverified fallback. The first hit wins.
type Verifier struct {
	deps  Deps
	tiers *TiersConfig

	relevanceModel string
	lookupTimeout  time.Duration
	urlTimeout     time.Duration
	retry          resilience.RetryConfig

	urlClient *http.Client
	urlCache  *cache.Cache

	log *zap.SugaredLogger
}

// New creates a verifier. A nil tiers config means the default ladder.
func New(cfg *config.Config, tiers *TiersConfig, deps Deps) *Verifier {
	if tiers == nil {
		tiers = DefaultTiers()
	}

	lookupSecs := cfg.Verify.LookupTimeoutSecs
	if lookupSecs <= 0 {
		lookupSecs = 10
	}
	urlSecs := cfg.Verify.URLTimeoutSecs
	if urlSecs <= 0 {
		urlSecs = 5
	}
	if cfg.Verify.LibraryThreshold > 0 {
		tiers.Library.Threshold = cfg.Verify.LibraryThreshold
	}
	if cfg.Verify.LibraryCandidates > 0 {
		tiers.Library.Candidates = cfg.Verify.LibraryCandidates
	}

	relevanceModel := cfg.OpenAI.RelevanceModel
	if relevanceModel == "" {
		relevanceModel = openai.GPT4oMini
	}

	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("verify", "lookup")

	return &Verifier{
		deps:           deps,
		tiers:          tiers,
		relevanceModel: relevanceModel,
		lookupTimeout:  time.Duration(lookupSecs) * time.Second,
		urlTimeout:     time.Duration(urlSecs) * time.Second,
		retry:          retry,
		urlClient:      &http.Client{Timeout: time.Duration(urlSecs) * time.Second},
		urlCache:       cache.New(time.Hour, 10*time.Minute),
		log:            zap.S().With("component", "verify"),
	}
}

// Verify runs the tier ladder for one source query. typeHint is free text
// from the upstream agent (e.g. "historical book", "peer-reviewed study",
// "ancient text") and gates which external tiers run. Tier failures are
// logged misses; the only returned error is context cancellation.
func (v *Verifier) Verify(ctx context.Context, claimText, sourceQuery, typeHint string) (*Result, error) {
	hint := strings.ToLower(typeHint)

	type tierFn struct {
		name string
		run  func(context.Context) (*Result, *model.VerifiedSource, error)
	}

	ladder := []tierFn{
		{tierNameLibrary, func(ctx context.Context) (*Result, *model.VerifiedSource, error) {
			r, err := v.searchLibrary(ctx, claimText, sourceQuery)
			return r, nil, err
		}},
		{tierNameGoogleBooks, func(ctx context.Context) (*Result, *model.VerifiedSource, error) {
			if !hintMatches(hint, "book", "historical") {
				return nil, nil, nil
			}
			return v.searchBooks(ctx, sourceQuery)
		}},
		{tierNameSemanticScholar, func(ctx context.Context) (*Result, *model.VerifiedSource, error) {
			if !hintMatches(hint, "scholar", "peer", "academic") {
				return nil, nil, nil
			}
			return v.searchPapers(ctx, sourceQuery)
		}},
		{tierNameAncientTexts, func(ctx context.Context) (*Result, *model.VerifiedSource, error) {
			if !hintMatches(hint, "ancient", "religious", "patristic", "classical") {
				return nil, nil, nil
			}
			return v.searchAncient(ctx, sourceQuery)
		}},
		{tierNameWebSearch, func(ctx context.Context) (*Result, *model.VerifiedSource, error) {
			return v.searchWeb(ctx, sourceQuery)
		}},
	}

	for _, tier := range ladder {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "verify: canceled")
		}
		if !v.tiers.Enabled(tier.name) {
			continue
		}

		result, libRecord, err := tier.run(ctx)
		if err != nil {
			v.log.Warnw("tier lookup failed", "tier", tier.name, "query", sourceQuery, "error", err)
			continue
		}
		if result == nil {
			continue
		}

		v.log.Infow("source verified",
			"tier", result.Tier,
			"method", result.Method,
			"status", result.Status,
			"query", sourceQuery,
		)
		v.maybeAddToLibrary(ctx, result, libRecord)
		return result, nil
	}

	return v.unverifiedFallback(sourceQuery), nil
}

// searchLibrary checks the verified-source library for a reusable record.
// Each candidate above the similarity threshold passes through an LLM
// relevance gate before reuse.
func (v *Verifier) searchLibrary(ctx context.Context, claimText, sourceQuery string) (*Result, error) {
	emb, err := v.deps.Embedder.Embed(ctx, claimText+" "+sourceQuery)
	if err != nil {
		return nil, eris.Wrap(err, "verify: embed source query")
	}

	matches, err := v.deps.Library.SearchSourcesBySimilarity(ctx, emb, v.tiers.Library.Threshold, v.tiers.Library.Candidates)
	if err != nil {
		return nil, eris.Wrap(err, "verify: search source library")
	}

	for _, m := range matches {
		relevant, err := v.isRelevant(ctx, claimText, m.Source)
		if err != nil {
			v.log.Warnw("relevance gate failed", "source", m.Source.Title, "error", err)
			continue
		}
		if !relevant {
			v.log.Debugw("library candidate rejected", "source", m.Source.Title, "similarity", m.Similarity)
			continue
		}

		src := m.Source
		return &Result{
			Success:     true,
			Tier:        TierLibrary,
			Method:      libraryReusePrefix + src.VerificationMethod,
			Status:      model.StatusVerified,
			Citation:    formatLibraryCitation(src),
			URL:         src.URL,
			ContentType: model.ContentExactQuote,
			URLVerified: v.checkURL(ctx, src.URL),
			Metadata: map[string]string{
				"library_id": src.ID.String(),
				"similarity": strconv.FormatFloat(m.Similarity, 'f', 4, 64),
			},
		}, nil
	}

	return nil, nil
}

// isRelevant asks a small LLM whether a library record actually supports the
// claim. Temperature 0 and a tiny token budget keep it a cheap yes/no.
func (v *Verifier) isRelevant(ctx context.Context, claimText string, src model.VerifiedSource) (bool, error) {
	prompt := fmt.Sprintf(
		"Claim: %s\n\nSource: %s by %s\n\nIs this source relevant to verifying the claim? Answer YES or NO.",
		claimText, src.Title, src.Author,
	)

	resp, err := resilience.Do(ctx, v.retry, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		ctx, cancel := context.WithTimeout(ctx, v.lookupTimeout)
		defer cancel()
		return v.deps.Relevance.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       v.relevanceModel,
			Temperature: 0,
			MaxTokens:   10,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
		})
	})
	if err != nil {
		return false, eris.Wrap(err, "verify: relevance check")
	}
	if len(resp.Choices) == 0 {
		return false, eris.New("verify: empty relevance response")
	}

	answer := strings.ToUpper(strings.TrimSpace(resp.Choices[0].Message.Content))
	return strings.Contains(answer, "YES"), nil
}

func (v *Verifier) searchBooks(ctx context.Context, query string) (*Result, *model.VerifiedSource, error) {
	vol, err := resilience.Do(ctx, v.retry, func(ctx context.Context) (*googlebooks.Volume, error) {
		ctx, cancel := context.WithTimeout(ctx, v.lookupTimeout)
		defer cancel()
		return v.deps.Books.Search(ctx, query)
	})
	if err != nil {
		return nil, nil, err
	}
	if vol == nil {
		return nil, nil, nil
	}

	author := strings.Join(vol.Authors, ", ")
	citation := vol.Title
	if author != "" {
		citation = fmt.Sprintf("%s by %s", vol.Title, author)
	}
	if vol.Publisher != "" || vol.PublishedDate != "" {
		citation = fmt.Sprintf("%s (%s)", citation, strings.TrimSuffix(strings.TrimSpace(vol.Publisher+" "+vol.PublishedDate), " "))
	}

	result := &Result{
		Success:     true,
		Tier:        TierGoogleBooks,
		Method:      MethodGoogleBooks,
		Status:      model.StatusVerified,
		Citation:    citation,
		URL:         vol.URL,
		Quote:       truncate(vol.Description, maxQuoteLen),
		ContentType: model.ContentExactQuote,
		URLVerified: v.checkURL(ctx, vol.URL),
		Metadata:    map[string]string{"isbn": vol.ISBN},
	}
	record := &model.VerifiedSource{
		SourceType:         "book",
		Title:              vol.Title,
		Author:             author,
		Publisher:          vol.Publisher,
		PublicationDate:    vol.PublishedDate,
		ISBN:               vol.ISBN,
		URL:                vol.URL,
		ContentSnippet:     truncate(vol.Description, maxQuoteLen),
		VerificationMethod: MethodGoogleBooks,
		VerificationStatus: model.StatusVerified,
	}
	return result, record, nil
}

func (v *Verifier) searchPapers(ctx context.Context, query string) (*Result, *model.VerifiedSource, error) {
	paper, err := resilience.Do(ctx, v.retry, func(ctx context.Context) (*semanticscholar.Paper, error) {
		ctx, cancel := context.WithTimeout(ctx, v.lookupTimeout)
		defer cancel()
		return v.deps.Papers.Search(ctx, query)
	})
	if err != nil {
		return nil, nil, err
	}
	if paper == nil {
		return nil, nil, nil
	}

	author := strings.Join(paper.Authors, ", ")
	citation := paper.Title
	if author != "" {
		citation = fmt.Sprintf("%s (%d). %s.", author, paper.Year, paper.Title)
		if paper.Venue != "" {
			citation = fmt.Sprintf("%s %s.", citation, paper.Venue)
		}
	}

	contentType := model.ContentExactQuote
	if paper.Abstract != "" {
		contentType = model.ContentVerifiedParaphrase
	}

	result := &Result{
		Success:     true,
		Tier:        TierSemanticScholar,
		Method:      MethodSemanticScholar,
		Status:      model.StatusVerified,
		Citation:    citation,
		URL:         paper.URL,
		Quote:       truncate(paper.Abstract, maxQuoteLen),
		ContentType: contentType,
		URLVerified: v.checkURL(ctx, paper.URL),
		Metadata:    map[string]string{"doi": paper.DOI},
	}
	record := &model.VerifiedSource{
		SourceType:         "paper",
		Title:              paper.Title,
		Author:             author,
		PublicationDate:    strconv.Itoa(paper.Year),
		DOI:                paper.DOI,
		URL:                paper.URL,
		ContentSnippet:     truncate(paper.Abstract, maxQuoteLen),
		VerificationMethod: MethodSemanticScholar,
		VerificationStatus: model.StatusVerified,
	}
	return result, record, nil
}

// searchAncient tries Perseus first, then CCEL. Perseus gives a search-page
// match only, so its results stay partially verified.
func (v *Verifier) searchAncient(ctx context.Context, query string) (*Result, *model.VerifiedSource, error) {
	hit, err := resilience.Do(ctx, v.retry, func(ctx context.Context) (*ancient.Hit, error) {
		ctx, cancel := context.WithTimeout(ctx, v.lookupTimeout)
		defer cancel()
		return v.deps.Ancient.SearchPerseus(ctx, query)
	})
	if err != nil {
		v.log.Warnw("perseus lookup failed", "query", query, "error", err)
	} else if hit != nil {
		result := &Result{
			Success:     true,
			Tier:        TierAncientTexts,
			Method:      hit.Method,
			Status:      model.StatusPartiallyVerified,
			Citation:    fmt.Sprintf("%s (Perseus Digital Library)", query),
			URL:         hit.URL,
			ContentType: model.ContentVerifiedParaphrase,
			URLVerified: true,
		}
		record := &model.VerifiedSource{
			SourceType:         "ancient_text",
			Title:              query,
			URL:                hit.URL,
			VerificationMethod: hit.Method,
			VerificationStatus: model.StatusPartiallyVerified,
		}
		return result, record, nil
	}

	hit, err = resilience.Do(ctx, v.retry, func(ctx context.Context) (*ancient.Hit, error) {
		ctx, cancel := context.WithTimeout(ctx, v.lookupTimeout)
		defer cancel()
		return v.deps.Ancient.SearchCCEL(ctx, query)
	})
	if err != nil {
		return nil, nil, err
	}
	if hit == nil {
		return nil, nil, nil
	}

	result := &Result{
		Success:     true,
		Tier:        TierAncientTexts,
		Method:      hit.Method,
		Status:      model.StatusVerified,
		Citation:    fmt.Sprintf("%s (Christian Classics Ethereal Library)", query),
		URL:         hit.URL,
		ContentType: model.ContentExactQuote,
		URLVerified: v.checkURL(ctx, hit.URL),
	}
	record := &model.VerifiedSource{
		SourceType:         "ancient_text",
		Title:              query,
		URL:                hit.URL,
		VerificationMethod: hit.Method,
		VerificationStatus: model.StatusVerified,
	}
	return result, record, nil
}

// searchWeb is the tier-4 catch-all. Web hits never enter the library.
func (v *Verifier) searchWeb(ctx context.Context, query string) (*Result, *model.VerifiedSource, error) {
	results, err := resilience.Do(ctx, v.retry, func(ctx context.Context) ([]tavily.Result, error) {
		ctx, cancel := context.WithTimeout(ctx, v.lookupTimeout)
		defer cancel()
		return v.deps.Web.Search(ctx, query, 1)
	})
	if err != nil {
		return nil, nil, err
	}
	if len(results) == 0 {
		return nil, nil, nil
	}

	top := results[0]
	return &Result{
		Success:     true,
		Tier:        TierWebSearch,
		Method:      MethodWebSearch,
		Status:      model.StatusPartiallyVerified,
		Citation:    top.Title,
		URL:         top.URL,
		Quote:       truncate(top.Content, maxQuoteLen),
		ContentType: model.ContentVerifiedParaphrase,
		URLVerified: v.checkURL(ctx, top.URL),
	}, nil, nil
}

// unverifiedFallback is tier 5: every ladder tier missed. The result still
// carries a citation so downstream prose can name what it could not verify.
func (v *Verifier) unverifiedFallback(query string) *Result {
	return &Result{
		Success:     false,
		Tier:        TierUnverified,
		Method:      MethodUnverified,
		Status:      model.StatusUnverified,
		Citation:    "Source for: " + query,
		URL:         "",
		ContentType: model.ContentUnverified,
		URLVerified: false,
	}
}

// maybeAddToLibrary writes a verified source back to the library. Only tier
// 1-3 hits qualify: tier 0 is already in the library and tier 4+ results are
// not strong enough to reuse.
func (v *Verifier) maybeAddToLibrary(ctx context.Context, result *Result, record *model.VerifiedSource) {
	if record == nil || !result.Success {
		return
	}
	if result.Tier < TierGoogleBooks || result.Tier > TierAncientTexts {
		return
	}

	emb, err := v.deps.Embedder.Embed(ctx, strings.TrimSpace(record.Title+" "+record.Author))
	if err != nil {
		v.log.Warnw("library writeback embed failed", "title", record.Title, "error", err)
		return
	}
	record.Embedding = emb

	if err := v.deps.Library.CreateVerifiedSource(ctx, record); err != nil {
		v.log.Warnw("library writeback failed", "title", record.Title, "error", err)
		return
	}
	v.log.Debugw("source added to library", "title", record.Title, "method", record.VerificationMethod)
}

// checkURL reports whether a URL answers a HEAD request with 200. Results
// are memoized so repeated citations of one URL within a batch cost one
// request.
func (v *Verifier) checkURL(ctx context.Context, rawURL string) bool {
	if rawURL == "" {
		return false
	}
	if cached, ok := v.urlCache.Get(rawURL); ok {
		return cached.(bool)
	}

	ctx, cancel := context.WithTimeout(ctx, v.urlTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		v.urlCache.SetDefault(rawURL, false)
		return false
	}

	resp, err := v.urlClient.Do(req)
	if err != nil {
		v.urlCache.SetDefault(rawURL, false)
		return false
	}
	defer resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK
	v.urlCache.SetDefault(rawURL, ok)
	return ok
}

func hintMatches(hint string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(hint, kw) {
			return true
		}
	}
	return false
}

func formatLibraryCitation(src model.VerifiedSource) string {
	if src.Author != "" {
		return fmt.Sprintf("%s by %s", src.Title, src.Author)
	}
	return src.Title
}

// truncate cuts s to at most n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
