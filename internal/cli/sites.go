package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var siteIcon string

var sitesCmd = &cobra.Command{
	Use:   "sites",
	Short: "Manage blocked sites",
}

var sitesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List blocked sites",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		o, err := newOneShot(ctx)
		if err != nil {
			return err
		}
		sites := o.rep.GetSites()
		if jsonOutput {
			return outputJSON(sites)
		}
		if len(sites) == 0 {
			fmt.Println("No blocked sites")
			return nil
		}
		for _, s := range sites {
			fmt.Printf("%s  %s\n", s.Icon, s.Domain)
		}
		return nil
	},
}

var sitesAddCmd = &cobra.Command{
	Use:   "add <domain>",
	Short: "Block a site (scheme, www. and path are stripped)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		o, err := newOneShot(ctx)
		if err != nil {
			return err
		}
		s, err := o.rep.AddSite(ctx, args[0], siteIcon, time.Now())
		if err != nil {
			return fmt.Errorf("add %s: %w", args[0], err)
		}
		if jsonOutput {
			return outputJSON(s)
		}
		fmt.Printf("Blocked %s\n", s.Domain)
		return nil
	},
}

var sitesRemoveCmd = &cobra.Command{
	Use:     "remove <domain>",
	Aliases: []string{"rm"},
	Short:   "Unblock a site",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		o, err := newOneShot(ctx)
		if err != nil {
			return err
		}
		if err := o.rep.RemoveSite(ctx, args[0]); err != nil {
			return fmt.Errorf("remove %s: %w", args[0], err)
		}
		fmt.Printf("Unblocked %s\n", args[0])
		return nil
	},
}

func init() {
	sitesAddCmd.Flags().StringVar(&siteIcon, "icon", "", "display glyph (default 🌐)")
	sitesCmd.AddCommand(sitesListCmd, sitesAddCmd, sitesRemoveCmd)
	rootCmd.AddCommand(sitesCmd)
}
