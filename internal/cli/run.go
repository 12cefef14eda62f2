package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/brick-focus/internal/client/agent"
	"github.com/iliyamo/brick-focus/internal/client/analytics"
	"github.com/iliyamo/brick-focus/internal/client/enforce"
	"github.com/iliyamo/brick-focus/internal/client/pairing"
	"github.com/iliyamo/brick-focus/internal/client/replica"
	"github.com/iliyamo/brick-focus/internal/client/timer"
	"github.com/iliyamo/brick-focus/internal/client/transport"
	"github.com/iliyamo/brick-focus/internal/logging"
)

var (
	runQuiet bool
	runPair  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent: live sync, countdown and local blocking",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runPair == "" {
			if err := requireScope(); err != nil {
				return err
			}
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		api := newAPI()
		tr := transport.New(transport.Options{
			API:          api,
			PollInterval: cfg.PollInterval,
			Heartbeat:    cfg.Heartbeat,
			Log:          logging.Logger("transport"),
			ExternalPoll: true,
		})
		noticeURL := "http://" + cfg.NoticeAddr
		compiler := enforce.NewCompiler(&enforce.MemoryPrimitive{}, noticeURL, logging.Logger("enforce"))

		a := agent.New(agent.Options{
			Transport: tr,
			Replica:   replica.New(cfg.AccountID, api, cfg.Source, logging.Logger("replica")),
			Timer:     timer.New(nil, logging.Logger("timer")),
			Compiler:  compiler,
			Recorder:  analytics.NewRecorder(api, cfg.Source, logging.Logger("analytics")),
			Log:       logging.Logger("agent"),
			OnDisplay: display,
		})
		notice := enforce.NewNoticeServer(compiler, a, logging.Logger("notice"))

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return a.Run(gctx) })
		g.Go(func() error { return enforce.Serve(gctx, notice, cfg.NoticeAddr) })
		if runPair != "" {
			// pairing while running goes through the agent so the live
			// subscriptions move to the new account
			p := &pairing.Pairer{Remote: api, StateFile: cfg.StateFile, Rebinder: a, Log: log}
			g.Go(func() error {
				if _, err := p.Redeem(gctx, runPair); err != nil {
					log.Warnw("pairing failed", "err", err)
				}
				return nil
			})
		}
		log.Infow("agent started", "account_id", cfg.AccountID, "notice", noticeURL)
		return g.Wait()
	},
}

// display rewrites one terminal line per tick.
func display(d timer.Display) {
	if runQuiet || jsonOutput {
		return
	}
	switch d.Mode {
	case timer.CountingDown:
		fmt.Printf("\r🧱 focus  %s left ", d.Text())
	case timer.CountingUp:
		fmt.Printf("\r🧱 focus  %s     ", d.Text())
	default:
		fmt.Printf("\r   idle            ")
	}
}

func init() {
	runCmd.Flags().BoolVar(&runQuiet, "quiet", false, "no countdown line")
	runCmd.Flags().StringVar(&runPair, "pair", "", "redeem a link code once running")
	rootCmd.AddCommand(runCmd)
}
