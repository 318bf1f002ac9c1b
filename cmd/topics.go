package main

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thereceipts/claimaudit/internal/model"
	"github.com/thereceipts/claimaudit/internal/store"
)

var (
	topicPriority     int
	topicListStatus   string
	topicListReview   string
	topicListLimit    int
	topicReviewStatus string
	topicReviewNote   string
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Manage the topic queue",
}

var topicsAddCmd = &cobra.Command{
	Use:   "add <topic text>",
	Short: "Enqueue a topic for blog generation",
	Args:  cobra.ExactArgs(1),
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

		entry, err := st.EnqueueTopic(ctx, args[0], topicPriority, "manual")
		if err != nil {
			return eris.Wrap(err, "enqueue topic")
		}

		zap.L().Info("topic enqueued",
			zap.String("topic_id", entry.ID.String()),
			zap.Int("priority", entry.Priority),
		)
		return printJSON(entry)
	},
}

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued topics",
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

		topics, err := st.ListTopics(ctx, store.TopicFilter{
			Status: model.TopicStatus(topicListStatus),
			Review: model.ReviewStatus(topicListReview),
			Limit:  topicListLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list topics")
		}
		return printJSON(topics)
	},
}

var topicsSuggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Ask the suggester agent for new topics and enqueue novel ones",
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

		entries, err := workflow.SuggestTopics(ctx)
		if err != nil {
			return eris.Wrap(err, "suggest topics")
		}

		zap.L().Info("topics suggested", zap.Int("enqueued", len(entries)))
		return printJSON(entries)
	},
}

var topicsReviewCmd = &cobra.Command{
	Use:   "review <topic-id>",
	Short: "Record a review decision on a completed topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrap(err, "parse topic id")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.ReviewTopic(ctx, id, model.ReviewStatus(topicReviewStatus), topicReviewNote); err != nil {
			return eris.Wrap(err, "review topic")
		}

		zap.L().Info("topic reviewed",
			zap.String("topic_id", id.String()),
			zap.String("status", topicReviewStatus),
		)
		return nil
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish <post-id>",
	Short: "Publish an approved blog post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrap(err, "parse post id")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.PublishBlogPost(ctx, id); err != nil {
			return eris.Wrap(err, "publish blog post")
		}

		zap.L().Info("blog post published", zap.String("post_id", id.String()))
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	topicsAddCmd.Flags().IntVar(&topicPriority, "priority", 1, "queue priority, higher runs first")
	topicsListCmd.Flags().StringVar(&topicListStatus, "status", "", "filter by processing status")
	topicsListCmd.Flags().StringVar(&topicListReview, "review", "", "filter by review status")
	topicsListCmd.Flags().IntVar(&topicListLimit, "limit", 50, "maximum rows")
	topicsReviewCmd.Flags().StringVar(&topicReviewStatus, "status", "approved", "review status: approved, rejected, needs_revision")
	topicsReviewCmd.Flags().StringVar(&topicReviewNote, "feedback", "", "review feedback")

	topicsCmd.AddCommand(topicsAddCmd, topicsListCmd, topicsSuggestCmd, topicsReviewCmd)
	rootCmd.AddCommand(topicsCmd, publishCmd)
}
