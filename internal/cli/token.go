package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iliyamo/brick-focus/internal/config"
	"github.com/iliyamo/brick-focus/internal/utils"
)

var (
	tokenAccount string
	tokenTTL     time.Duration
	tokenSave    bool
)

// tokenCmd stands in for the external identity provider in development.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development bearer token signed with JWT_SECRET",
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := os.Getenv("JWT_SECRET")
		if secret == "" {
			return errors.New("JWT_SECRET is not set")
		}
		acct := tokenAccount
		if acct == "" {
			acct = uuid.NewString()
		}
		tok, err := utils.NewAccessToken(secret, acct, string(cfg.Source), tokenTTL)
		if err != nil {
			return err
		}
		if tokenSave {
			if err := config.SaveScope(cfg.StateFile, config.Scope{AccountID: acct, Token: tok.Token}); err != nil {
				return err
			}
		}
		if jsonOutput {
			return outputJSON(map[string]any{"accountId": acct, "token": tok.Token, "expiresAt": tok.Exp})
		}
		fmt.Printf("BRICK_ACCOUNT_ID=%s\n", acct)
		fmt.Printf("BRICK_TOKEN=%s\n", tok.Token)
		if tokenSave {
			fmt.Fprintf(os.Stderr, "scope saved to %s\n", cfg.StateFile)
		}
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenAccount, "account", "", "account id (default: a new uuid)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 30*24*time.Hour, "token lifetime")
	tokenCmd.Flags().BoolVar(&tokenSave, "save", false, "persist account and token to BRICK_STATE_FILE")
	rootCmd.AddCommand(tokenCmd)
}
