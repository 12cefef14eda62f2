package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/brick-focus/internal/client/timer"
	"github.com/iliyamo/brick-focus/internal/model"
)

var lockDuration time.Duration

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the focus switch and blocked sites",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		o, err := newOneShot(ctx)
		if err != nil {
			return err
		}
		printFocus(o.rep.GetFocus(), len(o.rep.GetSites()))
		return nil
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Turn focus mode on, optionally for a fixed duration",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		o, err := newOneShot(ctx)
		if err != nil {
			return err
		}
		var dur *int
		if lockDuration > 0 {
			secs := int(lockDuration / time.Second)
			dur = &secs
		}
		if err := o.rep.SetLocked(ctx, true, dur, time.Now()); err != nil {
			return err
		}
		printFocus(o.rep.GetFocus(), -1)
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Turn focus mode off",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		o, err := newOneShot(ctx)
		if err != nil {
			return err
		}
		if err := o.rep.SetLocked(ctx, false, nil, time.Now()); err != nil {
			return err
		}
		printFocus(o.rep.GetFocus(), -1)
		return nil
	},
}

var toggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Flip focus mode; loses gracefully to a concurrent flip",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		o, err := newOneShot(ctx)
		if err != nil {
			return err
		}
		var dur *int
		if lockDuration > 0 {
			secs := int(lockDuration / time.Second)
			dur = &secs
		}
		if err := o.rep.Toggle(ctx, dur, time.Now()); err != nil {
			return err
		}
		printFocus(o.rep.GetFocus(), -1)
		return nil
	},
}

func printFocus(rec model.FocusRecord, sites int) {
	if jsonOutput {
		_ = outputJSON(rec)
		return
	}
	e := timer.New(nil, nil)
	d := e.Update(rec)
	e.Stop()
	if !rec.Locked {
		fmt.Println("Focus: off")
	} else {
		fmt.Printf("Focus: on since %s\n", rec.LockStartedAt.Local().Format(time.Kitchen))
		if d.Mode == timer.CountingDown {
			fmt.Printf("  Remaining: %s\n", timer.FormatHHMMSS(d.Remaining))
		} else {
			fmt.Printf("  Elapsed: %s\n", timer.FormatHHMMSS(d.Elapsed))
		}
	}
	if sites >= 0 {
		fmt.Printf("  Blocked sites: %d\n", sites)
	}
	fmt.Printf("  Last updated: %s\n", rec.LastUpdated.Format(time.RFC3339))
}

func init() {
	lockCmd.Flags().DurationVar(&lockDuration, "duration", 0, "countdown length, e.g. 25m (default: open-ended)")
	toggleCmd.Flags().DurationVar(&lockDuration, "duration", 0, "countdown length when the toggle locks")
	rootCmd.AddCommand(statusCmd, lockCmd, unlockCmd, toggleCmd)
}
