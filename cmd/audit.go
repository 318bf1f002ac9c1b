package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thereceipts/claimaudit/internal/pipeline"
)

var auditNoPersist bool

// progressLogger streams pipeline stage events to the log.
type progressLogger struct{}

func (progressLogger) Notify(event string, payload map[string]any) {
	fields := make([]zap.Field, 0, len(payload)+1)
	for k, v := range payload {
		fields = append(fields, zap.Any(k, v))
	}
	zap.L().Info("pipeline "+event, fields...)
}

var auditCmd = &cobra.Command{
	Use:   "audit <question>",
	Short: "Audit a single claim through the full pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		question := args[0]

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		embedder, err := initEmbedder()
		if err != nil {
			return err
		}

		p, err := initPipeline(st, embedder, progressLogger{})
		if err != nil {
			return err
		}

		result := p.Run(ctx, question)
		if !result.Success {
			zap.L().Error("audit failed",
				zap.String("question", question),
				zap.String("error", result.Err),
				zap.Int("completed_stages", len(result.Stages)),
			)
			return eris.Errorf("audit failed: %s", result.Err)
		}

		if !auditNoPersist {
			card, err := st.CreateClaimCard(ctx, result.ClaimCard)
			if err != nil {
				return eris.Wrap(err, "persist claim card")
			}

			// Embedding attach is the best-effort second phase; backfill
			// repairs any claim this step misses.
			if emb, err := embedder.Embed(ctx, card.ClaimText); err != nil {
				zap.L().Warn("embedding attach skipped", zap.String("claim_id", card.ID.String()), zap.Error(err))
			} else if err := st.AttachEmbedding(ctx, card.ID, emb); err != nil {
				zap.L().Warn("embedding attach failed", zap.String("claim_id", card.ID.String()), zap.Error(err))
			}

			zap.L().Info("claim card persisted",
				zap.String("claim_id", card.ID.String()),
				zap.String("verdict", string(card.Verdict)),
			)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*pipeline.RunResult
			DurationMS int64 `json:"duration_ms"`
		}{result, result.Duration.Milliseconds()})
	},
}

func init() {
	auditCmd.Flags().BoolVar(&auditNoPersist, "no-persist", false, "run the audit without writing the claim card")
	rootCmd.AddCommand(auditCmd)
}
