package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	backfillLimit   int
	backfillWorkers int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill-embeddings",
	Short: "Attach embeddings to claims missing them",
	Long:  "Repairs claims whose best-effort embedding attach failed at creation time, restoring them to similarity search.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

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

		claims, err := st.ListClaimsMissingEmbedding(ctx, backfillLimit)
		if err != nil {
			return eris.Wrap(err, "list claims missing embedding")
		}
		if len(claims) == 0 {
			zap.L().Info("no claims missing embeddings")
			return nil
		}

		zap.L().Info("backfilling embeddings",
			zap.Int("claims", len(claims)),
			zap.Int("workers", backfillWorkers),
		)

		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(backfillWorkers)
		for _, claim := range claims {
			g.Go(func() error {
				emb, err := embedder.Embed(ctx, claim.ClaimText)
				if err != nil {
					return eris.Wrapf(err, "embed claim %s", claim.ID)
				}
				if err := st.AttachEmbedding(ctx, claim.ID, emb); err != nil {
					return eris.Wrapf(err, "attach embedding %s", claim.ID)
				}
				zap.L().Debug("embedding attached", zap.String("claim_id", claim.ID.String()))
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		zap.L().Info("backfill complete", zap.Int("claims", len(claims)))
		return nil
	},
}

func init() {
	backfillCmd.Flags().IntVar(&backfillLimit, "limit", 500, "maximum claims to repair in one run")
	backfillCmd.Flags().IntVar(&backfillWorkers, "workers", 4, "concurrent embedding requests")
	rootCmd.AddCommand(backfillCmd)
}
