package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thereceipts/claimaudit/internal/blog"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a blog post from the next queued topic",
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

		workflow, err := initWorkflow(st, embedder)
		if err != nil {
			return err
		}

		post, err := workflow.GenerateNext(ctx)
		if eris.Is(err, blog.ErrNoTopics) {
			zap.L().Info("topic queue is empty")
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "generate blog post")
		}

		zap.L().Info("blog post generated",
			zap.String("post_id", post.ID.String()),
			zap.String("title", post.Title),
			zap.Int("words", post.WordCount),
			zap.Int("claims", len(post.ClaimCardIDs)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(post)
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
}
