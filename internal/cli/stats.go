package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/brick-focus/internal/client/analytics"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show focus time, streak and most blocked sites",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireScope(); err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()
		r := analytics.NewRecorder(newAPI(), cfg.Source, log)
		s := r.Stats(ctx, time.Now())
		h := r.History(ctx)
		if jsonOutput {
			return outputJSON(map[string]any{"stats": s, "history": h})
		}
		fmt.Printf("Today: %d sessions, %dm focused, %d blocked\n", s.Today.TotalSessions, s.Today.TotalMinutes, s.Today.BlockedAttempts)
		fmt.Printf("Week:  %d sessions, %dh%02dm focused, %d blocked\n", s.Week.TotalSessions, s.Week.TotalHours, s.Week.TotalMinutes%60, s.Week.BlockedAttempts)
		fmt.Printf("Streak: %d days\n", s.Streak)
		fmt.Printf("All time: %d sessions, avg %dm\n", h.TotalSessions, h.AverageMinutes)
		if len(s.TopBlocked) > 0 {
			fmt.Println("Most blocked:")
			for _, d := range s.TopBlocked {
				fmt.Printf("  %-24s %d\n", d.Domain, d.Count)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
