package verify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thereceipts/claimaudit/internal/config"
	"github.com/thereceipts/claimaudit/internal/model"
	"github.com/thereceipts/claimaudit/internal/store"
	"github.com/thereceipts/claimaudit/pkg/ancient"
	"github.com/thereceipts/claimaudit/pkg/googlebooks"
	"github.com/thereceipts/claimaudit/pkg/semanticscholar"
	"github.com/thereceipts/claimaudit/pkg/tavily"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeEmbedder struct {
	vec   []float32
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

type fakeLibrary struct {
	matches   []store.SourceMatch
	searchErr error
	created   []*model.VerifiedSource
}

func (f *fakeLibrary) SearchSourcesBySimilarity(ctx context.Context, embedding []float32, threshold float64, limit int) ([]store.SourceMatch, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.matches, nil
}

func (f *fakeLibrary) CreateVerifiedSource(ctx context.Context, src *model.VerifiedSource) error {
	f.created = append(f.created, src)
	return nil
}

type fakeRelevance struct {
	answer string
	err    error
	calls  int
}

func (f *fakeRelevance) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.calls++
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.answer}},
		},
	}, nil
}

type fakeBooks struct {
	vol   *googlebooks.Volume
	err   error
	calls int
}

func (f *fakeBooks) Search(ctx context.Context, query string) (*googlebooks.Volume, error) {
	f.calls++
	return f.vol, f.err
}

type fakePapers struct {
	paper *semanticscholar.Paper
	err   error
	calls int
}

func (f *fakePapers) Search(ctx context.Context, query string) (*semanticscholar.Paper, error) {
	f.calls++
	return f.paper, f.err
}

type fakeAncient struct {
	perseusHit   *ancient.Hit
	perseusErr   error
	ccelHit      *ancient.Hit
	ccelErr      error
	perseusCalls int
	ccelCalls    int
}

func (f *fakeAncient) SearchPerseus(ctx context.Context, query string) (*ancient.Hit, error) {
	f.perseusCalls++
	return f.perseusHit, f.perseusErr
}

func (f *fakeAncient) SearchCCEL(ctx context.Context, query string) (*ancient.Hit, error) {
	f.ccelCalls++
	return f.ccelHit, f.ccelErr
}

type fakeWeb struct {
	results []tavily.Result
	err     error
	calls   int
}

func (f *fakeWeb) Search(ctx context.Context, query string, maxResults int) ([]tavily.Result, error) {
	f.calls++
	return f.results, f.err
}

type fixture struct {
	verifier  *Verifier
	embedder  *fakeEmbedder
	library   *fakeLibrary
	relevance *fakeRelevance
	books     *fakeBooks
	papers    *fakePapers
	ancients  *fakeAncient
	web       *fakeWeb
}

func newFixture(tiers *TiersConfig) *fixture {
	f := &fixture{
		embedder:  &fakeEmbedder{vec: []float32{0.1, 0.2}},
		library:   &fakeLibrary{},
		relevance: &fakeRelevance{answer: "YES"},
		books:     &fakeBooks{},
		papers:    &fakePapers{},
		ancients:  &fakeAncient{},
		web:       &fakeWeb{},
	}
	f.verifier = New(&config.Config{}, tiers, Deps{
		Embedder:  f.embedder,
		Library:   f.library,
		Relevance: f.relevance,
		Books:     f.books,
		Papers:    f.papers,
		Ancient:   f.ancients,
		Web:       f.web,
	})
	return f
}

func libraryMatch(similarity float64) store.SourceMatch {
	return store.SourceMatch{
		Source: model.VerifiedSource{
			ID:                 uuid.New(),
			SourceType:         "book",
			Title:              "The History of the Decline and Fall of the Roman Empire",
			Author:             "Edward Gibbon",
			URL:                "",
			VerificationMethod: MethodGoogleBooks,
			VerificationStatus: model.StatusVerified,
		},
		Similarity: similarity,
	}
}

func TestVerify_LibraryHitShortCircuits(t *testing.T) {
	f := newFixture(nil)
	f.library.matches = []store.SourceMatch{libraryMatch(0.91)}

	result, err := f.verifier.Verify(context.Background(), "Rome fell in 476", "Gibbon decline and fall", "historical book")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, TierLibrary, result.Tier)
	assert.Equal(t, "library_reuse_google_books", result.Method)
	assert.Equal(t, model.StatusVerified, result.Status)
	assert.Equal(t, model.ContentExactQuote, result.ContentType)
	assert.Empty(t, result.Quote)
	assert.Contains(t, result.Citation, "Edward Gibbon")

	assert.Zero(t, f.books.calls, "external tiers should not run after a library hit")
	assert.Zero(t, f.web.calls)
	assert.Empty(t, f.library.created, "library reuse must not write back")
}

func TestVerify_RelevanceGateRejectsCandidate(t *testing.T) {
	f := newFixture(nil)
	f.library.matches = []store.SourceMatch{libraryMatch(0.93)}
	f.relevance.answer = "NO"
	f.web.results = []tavily.Result{{Title: "Some page", URL: "", Content: "text"}}

	result, err := f.verifier.Verify(context.Background(), "Rome fell in 476", "unrelated query", "")
	require.NoError(t, err)

	assert.Equal(t, 1, f.relevance.calls)
	assert.Equal(t, TierWebSearch, result.Tier, "rejected candidate should fall through the ladder")
}

func TestVerify_GoogleBooksHitAndWriteback(t *testing.T) {
	f := newFixture(nil)
	f.books.vol = &googlebooks.Volume{
		Title:         "The Annals",
		Authors:       []string{"Tacitus"},
		Publisher:     "Penguin",
		PublishedDate: "1956",
		ISBN:          "9780140440607",
		Description:   "Annals of imperial Rome.",
	}

	result, err := f.verifier.Verify(context.Background(), "Nero blamed the Christians", "Tacitus Annals", "historical book")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, TierGoogleBooks, result.Tier)
	assert.Equal(t, MethodGoogleBooks, result.Method)
	assert.Equal(t, model.StatusVerified, result.Status)
	assert.Equal(t, model.ContentExactQuote, result.ContentType)
	assert.Contains(t, result.Citation, "The Annals by Tacitus")
	assert.Equal(t, "9780140440607", result.Metadata["isbn"])

	require.Len(t, f.library.created, 1)
	created := f.library.created[0]
	assert.Equal(t, "book", created.SourceType)
	assert.Equal(t, "The Annals", created.Title)
	assert.NotEmpty(t, created.Embedding, "writeback must carry an embedding")
}

func TestVerify_HintGatesTiers(t *testing.T) {
	f := newFixture(nil)
	f.papers.paper = &semanticscholar.Paper{
		Title:    "Persecution in the Early Church",
		Authors:  []string{"W.H.C. Frend"},
		Year:     1965,
		Venue:    "JRS",
		Abstract: strings.Repeat("a", 700),
		URL:      "",
		DOI:      "10.1000/x",
	}

	result, err := f.verifier.Verify(context.Background(), "claim", "Frend persecution", "peer-reviewed study")
	require.NoError(t, err)

	assert.Zero(t, f.books.calls, "book tier should be skipped without a book hint")
	assert.Equal(t, 1, f.papers.calls)
	assert.Equal(t, TierSemanticScholar, result.Tier)
	assert.Equal(t, model.ContentVerifiedParaphrase, result.ContentType)
	assert.Len(t, result.Quote, 500, "abstract should be capped")
	assert.Equal(t, "10.1000/x", result.Metadata["doi"])
}

func TestVerify_AncientFallsBackToCCEL(t *testing.T) {
	f := newFixture(nil)
	f.ancients.ccelHit = &ancient.Hit{Method: ancient.MethodCCEL, URL: ""}

	result, err := f.verifier.Verify(context.Background(), "claim", "Augustine Confessions", "ancient religious text")
	require.NoError(t, err)

	assert.Equal(t, 1, f.ancients.perseusCalls)
	assert.Equal(t, 1, f.ancients.ccelCalls)
	assert.Equal(t, TierAncientTexts, result.Tier)
	assert.Equal(t, ancient.MethodCCEL, result.Method)
	assert.Equal(t, model.StatusVerified, result.Status)
	assert.Equal(t, model.ContentExactQuote, result.ContentType)

	require.Len(t, f.library.created, 1)
	assert.Equal(t, "ancient_text", f.library.created[0].SourceType)
}

func TestVerify_PerseusHitIsPartiallyVerified(t *testing.T) {
	f := newFixture(nil)
	f.ancients.perseusHit = &ancient.Hit{Method: ancient.MethodPerseus, URL: "https://www.perseus.tufts.edu/hopper/searchresults?q=x"}

	result, err := f.verifier.Verify(context.Background(), "claim", "Tacitus Annals 15.44", "ancient classical text")
	require.NoError(t, err)

	assert.Equal(t, model.StatusPartiallyVerified, result.Status)
	assert.Equal(t, ancient.MethodPerseus, result.Method)
	assert.True(t, result.URLVerified)
	assert.Zero(t, f.ancients.ccelCalls, "perseus hit should skip ccel")
}

func TestVerify_WebSearchNeverWritesBack(t *testing.T) {
	f := newFixture(nil)
	f.web.results = []tavily.Result{{
		Title:   "Great Fire of Rome",
		URL:     "",
		Content: strings.Repeat("b", 900),
		Score:   0.8,
	}}

	result, err := f.verifier.Verify(context.Background(), "claim", "great fire of Rome 64 AD", "")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, TierWebSearch, result.Tier)
	assert.Equal(t, model.StatusPartiallyVerified, result.Status)
	assert.Equal(t, model.ContentVerifiedParaphrase, result.ContentType)
	assert.Len(t, result.Quote, 500)
	assert.Empty(t, f.library.created, "web hits must not enter the library")
}

func TestVerify_UnverifiedFallback(t *testing.T) {
	f := newFixture(nil)

	result, err := f.verifier.Verify(context.Background(), "claim", "obscure source", "")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, TierUnverified, result.Tier)
	assert.Equal(t, MethodUnverified, result.Method)
	assert.Equal(t, model.StatusUnverified, result.Status)
	assert.Equal(t, model.ContentUnverified, result.ContentType)
	assert.Equal(t, "Source for: obscure source", result.Citation)
	assert.Empty(t, result.URL)
	assert.False(t, result.URLVerified)
}

func TestVerify_TierErrorIsAMiss(t *testing.T) {
	f := newFixture(nil)
	f.books.err = eris.New("googlebooks: status 500")
	f.web.results = []tavily.Result{{Title: "fallback page"}}

	result, err := f.verifier.Verify(context.Background(), "claim", "query", "historical book")
	require.NoError(t, err)

	assert.Equal(t, TierWebSearch, result.Tier, "tier error should fall through, not abort")
}

func TestVerify_EmbeddingFailureSkipsLibrary(t *testing.T) {
	f := newFixture(nil)
	f.embedder.err = eris.New("embedding: provider failure")
	f.web.results = []tavily.Result{{Title: "page"}}

	result, err := f.verifier.Verify(context.Background(), "claim", "query", "")
	require.NoError(t, err)

	assert.Equal(t, TierWebSearch, result.Tier)
	assert.Empty(t, f.library.created)
}

func TestVerify_DisabledTierIsSkipped(t *testing.T) {
	tiers := DefaultTiers()
	tiers.Tiers[tierNameWebSearch] = TierSettings{Enabled: false}

	f := newFixture(tiers)
	f.web.results = []tavily.Result{{Title: "page"}}

	result, err := f.verifier.Verify(context.Background(), "claim", "query", "")
	require.NoError(t, err)

	assert.Zero(t, f.web.calls)
	assert.Equal(t, TierUnverified, result.Tier)
}

func TestVerify_CanceledContext(t *testing.T) {
	f := newFixture(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.verifier.Verify(ctx, "claim", "query", "")
	require.Error(t, err)
}

func TestCheckURL_MemoizesResults(t *testing.T) {
	var heads int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			heads++
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newFixture(nil)
	ctx := context.Background()

	assert.True(t, f.verifier.checkURL(ctx, srv.URL))
	assert.True(t, f.verifier.checkURL(ctx, srv.URL))
	assert.Equal(t, 1, heads, "second check should hit the cache")
}

func TestCheckURL_Non200IsUnverified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newFixture(nil)
	assert.False(t, f.verifier.checkURL(context.Background(), srv.URL))
}

func TestCheckURL_EmptyURL(t *testing.T) {
	f := newFixture(nil)
	assert.False(t, f.verifier.checkURL(context.Background(), ""))
}

func TestTruncate_RuneBoundary(t *testing.T) {
	// "δό" is 4 bytes; cutting at 3 must not split the second rune.
	got := truncate("δόξα", 3)
	assert.Equal(t, "δ", got)
	assert.True(t, utf8.ValidString(got))

	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "abc", truncate("abc", 10))
}

func TestVerify_QuoteCapKeepsValidUTF8(t *testing.T) {
	f := newFixture(nil)
	f.web.results = []tavily.Result{{
		Title:   "Greek passage",
		Content: strings.Repeat("ω", 400), // 800 bytes of two-byte runes
	}}

	result, err := f.verifier.Verify(context.Background(), "claim", "query", "")
	require.NoError(t, err)

	assert.True(t, utf8.ValidString(result.Quote))
	assert.LessOrEqual(t, len(result.Quote), maxQuoteLen)
}
