package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thereceipts/claimaudit/internal/dedup"
	"github.com/thereceipts/claimaudit/internal/model"
	"github.com/thereceipts/claimaudit/internal/router"
	anthropicpkg "github.com/thereceipts/claimaudit/pkg/anthropic"
)

var (
	routeReformulated string
	routeGenerate     bool
)

var routeCmd = &cobra.Command{
	Use:   "route <question>",
	Short: "Route a question against the audited-claims archive",
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

		searcher := dedup.NewSearcher(embedder, st)
		r := router.New(cfg, anthropicpkg.NewClient(cfg.Anthropic.Key), searcher, st)

		decision, err := r.Route(ctx, question, routeReformulated)
		if err != nil {
			return eris.Wrap(err, "route question")
		}

		if decision.Mode == model.RouteNovelClaim && routeGenerate {
			zap.L().Info("no archived claim fits, running a fresh audit", zap.String("question", question))

			p, err := initPipeline(st, embedder, nil)
			if err != nil {
				return err
			}
			result := p.Run(ctx, question)
			if !result.Success {
				return eris.Errorf("audit failed: %s", result.Err)
			}
			card, err := st.CreateClaimCard(ctx, result.ClaimCard)
			if err != nil {
				return eris.Wrap(err, "persist claim card")
			}
			if emb, err := embedder.Embed(ctx, card.ClaimText); err == nil {
				if err := st.AttachEmbedding(ctx, card.ID, emb); err != nil {
					zap.L().Warn("embedding attach failed", zap.Error(err))
				}
			}
			decision.ClaimIDs = append(decision.ClaimIDs, card.ID)
			decision.Answer = card.ShortAnswer
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(decision)
	},
}

func init() {
	routeCmd.Flags().StringVar(&routeReformulated, "reformulated", "", "reformulated question used for search (defaults to the question)")
	routeCmd.Flags().BoolVar(&routeGenerate, "generate", false, "run a fresh audit when the router chooses NOVEL_CLAIM")
	rootCmd.AddCommand(routeCmd)
}
