// Package cli implements brickctl, the command-line client of the record
// store.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/brick-focus/internal/client/analytics"
	"github.com/iliyamo/brick-focus/internal/client/replica"
	"github.com/iliyamo/brick-focus/internal/client/transport"
	"github.com/iliyamo/brick-focus/internal/config"
	"github.com/iliyamo/brick-focus/internal/logging"
)

var (
	jsonOutput bool
	cfg        config.ClientConfig
	log        = zap.NewNop().Sugar()

	rootCmd = &cobra.Command{
		Use:   "brickctl",
		Short: "brickctl - focus mode from the command line",
		Long: `brickctl reads and flips the shared focus switch of an account, manages
its blocked sites, links devices with six digit codes, and can run as a
long-lived agent that enforces blocking locally.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err.Error())
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	config.LoadDotEnv()
	cfg = config.LoadClient()
	if s, ok, err := config.LoadScope(cfg.StateFile); err != nil {
		return err
	} else if ok {
		cfg = cfg.ApplyScope(s)
	}
	if _, err := logging.Setup(cfg.Env); err != nil {
		return err
	}
	log = logging.Logger("brickctl")
	return nil
}

// errNoScope is returned by commands that need an account.
var errNoScope = errors.New("no account: set BRICK_ACCOUNT_ID and BRICK_TOKEN, run `brickctl token --save`, or pair this device")

func requireScope() error {
	if cfg.AccountID == "" || cfg.Token == "" {
		return errNoScope
	}
	return nil
}

func newAPI() *transport.API {
	return transport.NewAPI(cfg.APIURL, cfg.RequestTimeout, nil, cfg.AccountID, cfg.Token)
}

// oneShot is a replica plus recorder for commands that make one change
// and exit.  Lock commits made here open a session like any other client.
type oneShot struct {
	api *transport.API
	rep *replica.Replica
	rec *analytics.Recorder
}

func newOneShot(ctx context.Context) (*oneShot, error) {
	if err := requireScope(); err != nil {
		return nil, err
	}
	api := newAPI()
	o := &oneShot{
		api: api,
		rep: replica.New(cfg.AccountID, api, cfg.Source, log),
		rec: analytics.NewRecorder(api, cfg.Source, log),
	}
	o.rep.SetListeners(replica.Listeners{
		Commit: func(c replica.Commit) {
			if err := o.rec.OnCommit(ctx, c); err != nil {
				log.Warnw("session bookkeeping failed", "err", err)
			}
		},
	})
	if err := o.rep.Refresh(ctx); err != nil {
		return nil, err
	}
	return o, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), 2*cfg.RequestTimeout+5*time.Second)
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
