package main // record-store server entry point

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/brick-focus/internal/config"
	"github.com/iliyamo/brick-focus/internal/database"
	"github.com/iliyamo/brick-focus/internal/handler"
	"github.com/iliyamo/brick-focus/internal/logging"
	"github.com/iliyamo/brick-focus/internal/middleware"
	"github.com/iliyamo/brick-focus/internal/queue"
	"github.com/iliyamo/brick-focus/internal/realtime"
	"github.com/iliyamo/brick-focus/internal/repository"
	"github.com/iliyamo/brick-focus/internal/router"
	queue_publisher "github.com/iliyamo/brick-focus/internal/service"
)

// Expired link codes are kept this long so late redeemers are told
// "expired" rather than "not found".
const linkCodeGrace = time.Hour

func main() {
	config.LoadDotEnv()
	cfg := config.Load()

	zl, err := logging.Setup(cfg.Env)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = zl.Sync() }()
	lg := logging.Logger("server")

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		lg.Fatalw("database unavailable", "err", err)
	}
	defer func() { _ = db.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		lg.Fatalw("migration failed", "err", err)
	}

	rdb, err := config.NewRedisClient(ctx, config.LoadRedisConfig())
	if err != nil {
		lg.Warnw("redis unavailable: no rate limit, no stats cache, in-process change dispatch", "err", err)
	} else {
		defer func() { _ = rdb.Close() }()
	}

	rtCfg := config.LoadRealtimeConfig()
	hub := realtime.NewHub(rtCfg, logging.Logger("realtime"))
	defer hub.Close()

	g, gctx := errgroup.WithContext(ctx)

	var changes realtime.Publisher = hub
	if rdb != nil {
		bridge := realtime.NewRedisBridge(rdb, rtCfg.RedisChannel, hub, logging.Logger("realtime"))
		changes = bridge
		g.Go(func() error {
			if err := bridge.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	amqpURL := config.AMQPURL()
	events := queue_publisher.New(amqpURL, logging.Logger("publisher"))
	defer func() { _ = events.Close() }()

	if cfg.ConsumerEnabled {
		consumer := &queue.Consumer{URL: amqpURL, Dir: config.EventsLogDir(), Log: logging.Logger("consumer")}
		g.Go(func() error {
			if err := consumer.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	codes := repository.NewLinkCodeRepo(db)
	g.Go(func() error { return purgeLinkCodes(gctx, codes) })

	api := &handler.API{
		Focus:     repository.NewFocusRepo(db),
		Sites:     repository.NewSiteRepo(db),
		Sessions:  repository.NewSessionRepo(db),
		Attempts:  repository.NewAttemptRepo(db),
		Codes:     codes,
		Changes:   changes,
		Events:    events,
		JWTSecret: cfg.JWTSecret,
		AccessTTL: time.Duration(cfg.AccessTTLMin) * time.Minute,
		Log:       logging.Logger("api"),
	}

	rl := config.LoadRateLimitConfig()
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLog(logging.Logger("http")))
	router.RegisterRoutes(e, db)
	router.RegisterV1(e, api, router.V1{
		JWTSecret: cfg.JWTSecret,
		Limit:     middleware.NewTokenBucket(rl, rl.API, rdb, logging.Logger("ratelimit")),
		Verify:    middleware.NewTokenBucket(rl, rl.Verify, rdb, logging.Logger("ratelimit")),
		Stats:     middleware.NewStatsCache(config.LoadStatsCacheConfig(), rdb, logging.Logger("statscache")),
		Hub:       hub,
	})
	if cfg.RelayEnabled {
		router.RegisterRelay(e, handler.NewRelay(hub, logging.Logger("relay")))
	}

	addr := ":" + cfg.Port
	g.Go(func() error {
		lg.Infow("listening", "addr", addr, "env", cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		hub.Close()
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		lg.Errorw("server stopped", "err", err)
		os.Exit(1)
	}
	lg.Info("server stopped")
}

func purgeLinkCodes(ctx context.Context, codes *repository.LinkCodeRepo) error {
	t := time.NewTicker(10 * time.Minute)
	defer t.Stop()
	lg := logging.Logger("linkcodes")
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			n, err := codes.PurgeExpired(ctx, now.Add(-linkCodeGrace))
			if err != nil {
				lg.Warnw("purge failed", "err", err)
				continue
			}
			if n > 0 {
				lg.Debugw("purged expired link codes", "count", n)
			}
		}
	}
}
