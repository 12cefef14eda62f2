package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/brick-focus/internal/client/pairing"
)

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Link devices to one account with a six digit code",
}

var pairCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Issue a link code for this account (valid 5 minutes)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireScope(); err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		p := &pairing.Pairer{Remote: newAPI(), Log: log}
		lc, err := p.Create(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(lc)
		}
		fmt.Printf("Link code: %s\n", lc.Code)
		fmt.Printf("  Expires: %s (in %s)\n", lc.ExpiresAt.Local().Format(time.Kitchen), time.Until(lc.ExpiresAt).Round(time.Second))
		return nil
	},
}

var pairRedeemCmd = &cobra.Command{
	Use:   "redeem <code>",
	Short: "Adopt the account that issued code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		p := &pairing.Pairer{Remote: newAPI(), StateFile: cfg.StateFile, Log: log}
		scope, err := p.Redeem(ctx, args[0])
		switch {
		case errors.Is(err, pairing.ErrCodeInvalid),
			errors.Is(err, pairing.ErrCodeNotFound),
			errors.Is(err, pairing.ErrCodeExpired):
			return err
		case err != nil:
			return fmt.Errorf("redeem: %w", err)
		}
		if jsonOutput {
			return outputJSON(map[string]string{"accountId": scope.AccountID, "stateFile": cfg.StateFile})
		}
		fmt.Printf("Paired with account %s\n", scope.AccountID)
		fmt.Printf("  Scope saved to %s\n", cfg.StateFile)
		return nil
	},
}

func init() {
	pairCmd.AddCommand(pairCreateCmd, pairRedeemCmd)
	rootCmd.AddCommand(pairCmd)
}
