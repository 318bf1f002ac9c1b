package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thereceipts/claimaudit/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "claimaudit",
	Short: "Claim audit engine",
	Long:  "Audits factual claims through a five-stage LLM pipeline with multi-tier source verification, deduplicates claims by embedding similarity, and composes reviewed blog posts from queued topics.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
