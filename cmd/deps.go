package main

import (
	"context"

	"github.com/rotisserie/eris"
	openai "github.com/sashabaranov/go-openai"

	"github.com/thereceipts/claimaudit/internal/agent"
	"github.com/thereceipts/claimaudit/internal/blog"
	"github.com/thereceipts/claimaudit/internal/dedup"
	"github.com/thereceipts/claimaudit/internal/embedding"
	"github.com/thereceipts/claimaudit/internal/pipeline"
	"github.com/thereceipts/claimaudit/internal/store"
	"github.com/thereceipts/claimaudit/internal/verify"
	"github.com/thereceipts/claimaudit/pkg/ancient"
	anthropicpkg "github.com/thereceipts/claimaudit/pkg/anthropic"
	"github.com/thereceipts/claimaudit/pkg/googlebooks"
	"github.com/thereceipts/claimaudit/pkg/semanticscholar"
	"github.com/thereceipts/claimaudit/pkg/tavily"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "claimaudit.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initEmbedder() (*embedding.Service, error) {
	return embedding.NewService(cfg.OpenAI)
}

func initVerifier(st store.Store, embedder *embedding.Service) (*verify.Verifier, error) {
	var tiers *verify.TiersConfig
	if cfg.Verify.TiersFile != "" {
		loaded, err := verify.LoadTiers(cfg.Verify.TiersFile)
		if err != nil {
			return nil, err
		}
		tiers = loaded
	}

	return verify.New(cfg, tiers, verify.Deps{
		Embedder:  embedder,
		Library:   st,
		Relevance: openai.NewClient(cfg.OpenAI.Key),
		Books:     googlebooks.NewClient(cfg.Verify.GoogleBooksKey),
		Papers:    semanticscholar.NewClient(cfg.Verify.SemanticScholarKey),
		Ancient:   ancient.NewClient(),
		Web:       tavily.NewClient(cfg.Verify.TavilyKey),
	}), nil
}

func initRunner() *agent.Runner {
	return agent.NewRunner(anthropicpkg.NewClient(cfg.Anthropic.Key), cfg)
}

func initPipeline(st store.Store, embedder *embedding.Service, sink pipeline.ProgressSink) (*pipeline.Pipeline, error) {
	verifier, err := initVerifier(st, embedder)
	if err != nil {
		return nil, err
	}
	return pipeline.New(initRunner(), verifier, sink), nil
}

func initWorkflow(st store.Store, embedder *embedding.Service) (*blog.Workflow, error) {
	p, err := initPipeline(st, embedder, nil)
	if err != nil {
		return nil, err
	}
	searcher := dedup.NewSearcher(embedder, st)
	return blog.NewWorkflow(cfg, st, searcher, p, embedder, initRunner()), nil
}
