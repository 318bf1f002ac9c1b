// Package embedding wraps the OpenAI embeddings API behind a typed service
// with retry, batching, and cosine-similarity helpers.
package embedding

import (
	"context"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/thereceipts/claimaudit/internal/config"
	"github.com/thereceipts/claimaudit/internal/resilience"
)

// Dimensions is the vector size produced by the configured embedding model.
const Dimensions = 1536

// ErrEmbedding marks embedding-provider failures so callers can apply their
// fail-open dedup policy with errors.Is.
var ErrEmbedding = eris.New("embedding: provider failure")

// maxBatchInputs caps inputs per CreateEmbeddings call.
const maxBatchInputs = 100

// Client is the subset of the OpenAI client used by the service.
type Client interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Service generates fixed-length embedding vectors for text.
type Service struct {
	client  Client
	model   openai.EmbeddingModel
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	timeout time.Duration
}

// NewService creates an embedding service from configuration.
func NewService(cfg config.OpenAIConfig) (*Service, error) {
	if cfg.Key == "" {
		return nil, eris.New("embedding: OpenAI API key not configured")
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("openai", "create_embeddings")
	return &Service{
		client:  openai.NewClient(cfg.Key),
		model:   openai.EmbeddingModel(cfg.EmbeddingModel),
		limiter: rate.NewLimiter(rate.Limit(10), 20),
		retry:   retry,
		timeout: timeout,
	}, nil
}

// NewServiceWithClient builds a service around an injected client. Used by
// tests and by callers that share one OpenAI client across services.
func NewServiceWithClient(client Client, model string) *Service {
	return &Service{
		client:  client,
		model:   openai.EmbeddingModel(model),
		limiter: rate.NewLimiter(rate.Inf, 1),
		retry:   resilience.RetryConfig{MaxAttempts: 1},
	}
}

// Embed generates the embedding vector for a single text. It returns a typed
// error (wrapping ErrEmbedding) on failure, never a nil vector with nil error,
// so callers can distinguish provider outages and fail open.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, eris.Wrap(ErrEmbedding, "empty text")
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(ErrEmbedding, err.Error())
	}

	vec, err := resilience.Do(ctx, s.retry, func(ctx context.Context) ([]float32, error) {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: s.model,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 {
			return nil, eris.New("no embedding data in response")
		}
		return resp.Data[0].Embedding, nil
	})
	if err != nil {
		return nil, eris.Wrapf(ErrEmbedding, "embed: %v", err)
	}

	if len(vec) != Dimensions {
		return nil, eris.Wrapf(ErrEmbedding, "unexpected dimensions %d (want %d)", len(vec), Dimensions)
	}
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts, preserving input order.
// Entries that fail (empty text, failed chunk) come back nil; a nil entry is
// not an error for the batch as a whole.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))

	for start := 0; start < len(texts); start += maxBatchInputs {
		end := min(start+maxBatchInputs, len(texts))
		chunk := texts[start:end]

		var inputs []string
		var positions []int
		for i, t := range chunk {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			inputs = append(inputs, t)
			positions = append(positions, start+i)
		}
		if len(inputs) == 0 {
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return out, eris.Wrap(ErrEmbedding, err.Error())
		}

		resp, err := resilience.Do(ctx, s.retry, func(ctx context.Context) (openai.EmbeddingResponse, error) {
			if s.timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, s.timeout)
				defer cancel()
			}
			return s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
				Input: inputs,
				Model: s.model,
			})
		})
		if err != nil {
			zap.L().Warn("embedding: batch chunk failed",
				zap.Int("offset", start),
				zap.Int("size", len(inputs)),
				zap.Error(err),
			)
			continue
		}

		for i, d := range resp.Data {
			if i >= len(positions) || len(d.Embedding) != Dimensions {
				continue
			}
			out[positions[i]] = d.Embedding
		}
	}

	return out, nil
}

// Cosine returns the cosine similarity of two vectors: 1.0 for identical
// direction, monotonically decreasing with angular distance. Mismatched or
// zero-magnitude vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
