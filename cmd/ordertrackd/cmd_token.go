package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rickgao/order-tracker/internal/auth"
	"github.com/rickgao/order-tracker/internal/version"
)

var tokenCmd = &cobra.Command{
	Use:   "token <subscriberId>",
	Short: "Issue a session token for a subscriber",
	Long: `Issue a session token signed with auth.token_secret.

The token authorizes SUBSCRIBE_ORDER requests made as the given subscriber
until auth.token_ttl elapses.`,
	Args: cobra.ExactArgs(1),
	RunE: runToken,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(version.Get())
	},
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	signer, err := auth.NewSigner(cfg.Auth.TokenSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}
	token, err := signer.Issue(args[0])
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
