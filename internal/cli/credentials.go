package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rithikashettigar/ChainVerify-Forensics/internal/auth"
	"github.com/rithikashettigar/ChainVerify-Forensics/internal/config"
)

var (
	keyOwner string
	tokenTTL time.Duration
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var apikeyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Generate an API key and print its auth.api_keys entry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		plaintext, hash, prefix, err := auth.GenerateAPIKey()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "API key (shown once): %s\n\n", plaintext)
		fmt.Fprintln(out, "Add to chainverify.yaml under auth.api_keys:")
		fmt.Fprintf(out, "  - owner: %q\n    prefix: %q\n    hash: %q\n", keyOwner, prefix, hash)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a JWT for an owner using the configured secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Auth.JWTSecret == "" {
			return errors.New("auth.jwt_secret is not configured")
		}
		ttl := tokenTTL
		if ttl <= 0 {
			ttl = cfg.Auth.JWTExpiration
		}
		token, err := auth.IssueJWT(cfg.Auth.JWTSecret, keyOwner, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	apikeyCreateCmd.Flags().StringVar(&keyOwner, "owner", "", "owner the key authenticates as (required)")
	_ = apikeyCreateCmd.MarkFlagRequired("owner")
	tokenCmd.Flags().StringVar(&keyOwner, "owner", "", "owner the token authenticates as (required)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime; defaults to auth.jwt_expiration")
	_ = tokenCmd.MarkFlagRequired("owner")

	apikeyCmd.AddCommand(apikeyCreateCmd)
	rootCmd.AddCommand(apikeyCmd, tokenCmd)
}
