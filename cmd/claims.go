package main

import (
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var claimHidden bool

var claimsCmd = &cobra.Command{
	Use:   "claims",
	Short: "Inspect and manage audited claims",
}

var claimsShowCmd = &cobra.Command{
	Use:   "show <claim-id>",
	Short: "Print one claim card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrap(err, "parse claim id")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		card, err := st.GetClaimCard(ctx, id)
		if err != nil {
			return eris.Wrap(err, "get claim card")
		}
		return printJSON(card)
	},
}

var claimsVisibilityCmd = &cobra.Command{
	Use:   "visibility <claim-id>",
	Short: "Toggle whether a claim appears in audits",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := uuid.Parse(args[0])
		if err != nil {
			return eris.Wrap(err, "parse claim id")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.SetClaimVisibility(ctx, id, !claimHidden); err != nil {
			return eris.Wrap(err, "set claim visibility")
		}

		zap.L().Info("claim visibility updated",
			zap.String("claim_id", id.String()),
			zap.Bool("visible", !claimHidden),
		)
		return nil
	},
}

func init() {
	claimsVisibilityCmd.Flags().BoolVar(&claimHidden, "hidden", false, "hide the claim from audits")
	claimsCmd.AddCommand(claimsShowCmd, claimsVisibilityCmd)
	rootCmd.AddCommand(claimsCmd)
}
