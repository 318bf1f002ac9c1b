// Package agent executes LLM agent calls with retry, cost logging, and strict
// JSON output handling.
package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/thereceipts/claimaudit/internal/config"
	"github.com/thereceipts/claimaudit/internal/resilience"
	"github.com/thereceipts/claimaudit/pkg/anthropic"
)

// Request describes one agent invocation. Model and sampling parameters come
// from configuration; the caller supplies the prompts.
type Request struct {
	// Agent is the config name of the agent, used for overrides and cost logs.
	Agent  string
	System string
	Prompt string
}

// Runner executes agent requests against the Anthropic API.
type Runner struct {
	client  anthropic.Client
	cfg     *config.Config
	retry   resilience.RetryConfig
	timeout time.Duration
	log     *zap.SugaredLogger
}

// NewRunner builds a Runner from the application config.
func NewRunner(client anthropic.Client, cfg *config.Config) *Runner {
	timeout := time.Duration(cfg.Anthropic.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "create_message")
	return &Runner{
		client:  client,
		cfg:     cfg,
		retry:   retry,
		timeout: timeout,
		log:     zap.S().With("component", "agent"),
	}
}

// CallText runs the request and returns the model's text output.
func (r *Runner) CallText(ctx context.Context, req Request) (string, error) {
	resp, err := r.call(ctx, req)
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", eris.Errorf("agent: %s returned no text", req.Agent)
	}
	return text, nil
}

// CallJSON runs the request, extracts the JSON document from the output, and
// unmarshals it into out. Malformed output fails fast; the caller decides
// whether the operation as a whole is retried.
func (r *Runner) CallJSON(ctx context.Context, req Request, out any) error {
	text, err := r.CallText(ctx, req)
	if err != nil {
		return err
	}
	doc, err := ExtractJSON(text)
	if err != nil {
		return eris.Wrapf(err, "agent: %s output", req.Agent)
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return eris.Wrapf(err, "agent: %s returned invalid JSON", req.Agent)
	}
	return nil
}

func (r *Runner) call(ctx context.Context, req Request) (*anthropic.MessageResponse, error) {
	model, temperature, maxTokens, err := r.params(req.Agent)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	resp, err := resilience.Do(ctx, r.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return r.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:       model,
			MaxTokens:   maxTokens,
			System:      req.System,
			Messages:    []anthropic.Message{{Role: "user", Content: req.Prompt}},
			Temperature: &temperature,
		})
	})
	if err != nil {
		return nil, eris.Wrapf(err, "agent: %s call", req.Agent)
	}

	r.log.Debugw("agent call finished",
		"agent", req.Agent,
		"model", model,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	resp.Usage.LogCost(model, req.Agent)
	return resp, nil
}

// params resolves model and sampling parameters for an agent. A missing
// agents entry is a configuration error, not a silent fallback.
func (r *Runner) params(agentName string) (model string, temperature float64, maxTokens int64, err error) {
	ac, err := r.cfg.Agent(agentName)
	if err != nil {
		return "", 0, 0, err
	}
	temperature = ac.Temperature
	if temperature <= 0 {
		temperature = 0.3
	}
	return ac.Model, temperature, ac.MaxTokens, nil
}
