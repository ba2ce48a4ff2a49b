// cmd/api/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/briangreenhill/productcache/cache"
	"github.com/briangreenhill/productcache/catalog"
	"github.com/briangreenhill/productcache/gateway"
	"github.com/briangreenhill/productcache/internal/config"
	"github.com/briangreenhill/productcache/internal/http/routes"
	"github.com/briangreenhill/productcache/internal/jobs"
	"github.com/briangreenhill/productcache/internal/metrics"
)

func main() {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config error")
	}
	if lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil && lvl != zerolog.NoLevel {
		logger = logger.Level(lvl)
	}
	logger.Info().Str("port", cfg.Port).Str("remote", cfg.Remote.BaseURL).Msg("starting api")

	// Remote gateway
	client, err := gateway.New(cfg.Remote.BaseURL,
		gateway.WithTimeout(cfg.Remote.Timeout),
		gateway.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway error")
	}
	api := catalog.NewAPI(client,
		catalog.WithCollection(cfg.Remote.Collection),
		catalog.WithCreatePath(cfg.CreatePathOrDefault()),
	)

	// Cache and metrics
	m := metrics.NewCacheMetrics()
	qc := cache.New(
		cache.WithLogger(logger),
		cache.WithMetrics(m),
		cache.WithGCTime(cfg.Cache.GCTime),
	)
	m.TrackEntries(qc.Len)
	store := catalog.NewStore(api, qc,
		catalog.WithStaleTime(cfg.Cache.StaleTime),
		catalog.WithStoreLogger(logger),
	)

	// Background cache maintenance
	sched := jobs.NewScheduler(qc, logger)
	if err := sched.Collect(jobs.DefaultSchedule); err != nil {
		logger.Fatal().Err(err).Msg("schedule error")
	}
	sched.Start()
	defer sched.Stop(5 * time.Second)

	// Router / server
	s := routes.New(routes.ServerOptions{
		Store:   store,
		Cache:   qc,
		Metrics: m.Handler(),
	})
	h := hlog.NewHandler(logger)(s.Router)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server error")
	}
	qc.Clear()
	logger.Info().Msg("stopped")
}
