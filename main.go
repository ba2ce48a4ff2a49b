package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/briangreenhill/productcache/cache"
	"github.com/briangreenhill/productcache/catalog"
	"github.com/briangreenhill/productcache/cli"
	"github.com/briangreenhill/productcache/gateway"
	"github.com/briangreenhill/productcache/internal/config"
	"github.com/briangreenhill/productcache/internal/metrics"
)

const version = "productcache v0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runCLI(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("command failed")
	}
}

func runCLI(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		args = []string{"help"}
	}
	switch args[0] {
	case "version", "--version", "-v":
		_, err := fmt.Fprintln(out, version)
		return err
	case "help", "--help", "-h":
		return printUsage(out, newRegistry(nil))
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := newApp(cfg, newLogger(cfg.LogLevel, os.Stderr))
	if err != nil {
		return err
	}

	registry := newRegistry(a)
	cmd, ok := registry.Get(args[0])
	if !ok {
		return fmt.Errorf("unknown command: %s", args[0])
	}
	v, err := cmd.Run(ctx, args[1:])
	if err != nil {
		return fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	return printJSON(out, v)
}

// app is the client stack a command runs against
type app struct {
	cache   *cache.QueryCache
	store   *catalog.Store
	metrics *metrics.CacheMetrics
}

func newApp(cfg config.Config, logger zerolog.Logger) (*app, error) {
	client, err := gateway.New(cfg.Remote.BaseURL,
		gateway.WithTimeout(cfg.Remote.Timeout),
		gateway.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	api := catalog.NewAPI(client,
		catalog.WithCollection(cfg.Remote.Collection),
		catalog.WithCreatePath(cfg.CreatePathOrDefault()),
	)
	m := metrics.NewCacheMetrics()
	qc := cache.New(
		cache.WithLogger(logger),
		cache.WithMetrics(m),
		cache.WithGCTime(cfg.Cache.GCTime),
	)
	store := catalog.NewStore(api, qc,
		catalog.WithStaleTime(cfg.Cache.StaleTime),
		catalog.WithStoreLogger(logger),
	)
	return &app{cache: qc, store: store, metrics: m}, nil
}

func newLogger(level string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w}).Level(lvl).With().Timestamp().Logger()
}

func printUsage(out io.Writer, registry *cli.Registry) error {
	var b strings.Builder
	b.WriteString("Usage: productcache <command> [options]\n\nCommands:\n")
	for _, cmd := range registry.List() {
		fmt.Fprintf(&b, "  %-11s %s\n", cmd.Name(), cmd.Usage())
	}
	b.WriteString("  version     Show the version\n")
	b.WriteString("\nEnvironment:\n")
	b.WriteString("  CATALOG_BASE_URL     Remote service root (default https://dummyjson.com)\n")
	b.WriteString("  CATALOG_COLLECTION   Resource collection (default products)\n")
	b.WriteString("  CATALOG_CREATE_PATH  Path below the collection for creates (default add)\n")
	b.WriteString("  CATALOG_TIMEOUT      Per-request timeout (default 10s)\n")
	b.WriteString("  CATALOG_CONFIG_FILE  Optional YAML config file\n")
	b.WriteString("  LOG_LEVEL            debug, info, warn or error\n")
	_, err := io.WriteString(out, b.String())
	return err
}

func printJSON(out io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
