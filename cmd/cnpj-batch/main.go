// Command cnpj-batch resolves a list of CNPJs against the registry in
// rate-limited batches and writes a semicolon-delimited report.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Sternrassler/cnpj-batch-client/pkg/batch"
	"github.com/Sternrassler/cnpj-batch-client/pkg/config"
	"github.com/Sternrassler/cnpj-batch-client/pkg/logging"
	"github.com/Sternrassler/cnpj-batch-client/pkg/lookup"
	"github.com/Sternrassler/cnpj-batch-client/pkg/metrics"
	"github.com/Sternrassler/cnpj-batch-client/pkg/projector"
	"github.com/Sternrassler/cnpj-batch-client/pkg/ratelimit"
	"github.com/Sternrassler/cnpj-batch-client/pkg/report"
	"github.com/dustin/go-humanize"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitConfig    = 2
	exitCancelled = 130
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("cnpj-batch", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath  = fs.String("config", "", "Path to a YAML configuration file")
		envPath     = fs.String("env", ".env", "Path to a .env file (ignored if missing unless set explicitly)")
		inputPath   = fs.String("in", "", "File with one CNPJ per line")
		outputPath  = fs.String("out", "", "Report destination")
		fields      = fs.String("fields", "", "Comma separated field list")
		sentinel    = fs.String("sentinel", "", "Value written for unresolved fields")
		batchSize   = fs.Int("batch-size", 0, "Identifiers per batch")
		cooldown    = fs.Duration("cooldown", 0, "Pause between batches")
		itemDelay   = fs.Duration("item-delay", 0, "Pause after every identifier")
		baseURL     = fs.String("base-url", "", "Registry base URL")
		metricsAddr = fs.String("metrics-addr", "", "Serve Prometheus metrics on this address")
		logLevel    = fs.String("log-level", "", "debug, info, warn, error or disabled")
		pretty      = fs.Bool("pretty", false, "Human readable log output")
		clean       = fs.Bool("clean", false, "Strip non-digit characters from identifiers")
		printRows   = fs.Bool("print", false, "Also print the report lines to stdout")
	)
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if err := config.LoadEnvFile(*envPath, set["env"]); err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return exitConfig
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return exitConfig
	}

	// Flags take precedence over file and environment.
	if set["in"] {
		cfg.Report.Input = *inputPath
	}
	if set["out"] {
		cfg.Report.Output = *outputPath
	}
	if set["fields"] {
		cfg.Report.Fields = config.SplitFields(*fields)
	}
	if set["sentinel"] {
		cfg.Report.Sentinel = *sentinel
	}
	if set["batch-size"] {
		cfg.Batch.Size = *batchSize
	}
	if set["cooldown"] {
		cfg.Batch.Cooldown = *cooldown
	}
	if set["item-delay"] {
		cfg.Batch.ItemDelay = *itemDelay
	}
	if set["base-url"] {
		cfg.Lookup.BaseURL = *baseURL
	}
	if set["metrics-addr"] {
		cfg.Metrics.Addr = *metricsAddr
	}
	if set["log-level"] {
		cfg.Logging.Level = *logLevel
	}
	if set["pretty"] {
		cfg.Logging.Pretty = *pretty
	}
	if set["clean"] {
		cfg.Report.CleanIdentifiers = *clean
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return exitConfig
	}

	logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
		Output: stderr,
	})
	logger := logging.NewLogger(logging.ComponentCLI)

	ids, err := report.ReadIdentifiersFile(cfg.Report.Input)
	if err != nil {
		logger.Error().Err(err).Str("input", cfg.Report.Input).Msg("Cannot read identifiers")
		return exitConfig
	}
	if cfg.Report.CleanIdentifiers {
		ids = report.CleanIdentifiers(ids)
	}

	store, closeStore, err := newThrottleStore(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Cannot connect to Redis")
		return exitConfig
	}
	defer closeStore()

	tracker := ratelimit.NewTracker(store, logging.NewLogger(logging.ComponentRateLimit))
	tracker.SetMaxWait(cfg.Lookup.MaxThrottleWait)

	var failed atomic.Int64
	lookupCfg := cfg.LookupConfig()
	lookupCfg.Throttle = tracker
	lookupCfg.Notifier = func(string, error) { failed.Add(1) }

	client, err := lookup.New(lookupCfg)
	if err != nil {
		logger.Error().Err(err).Msg("Cannot create lookup client")
		return exitConfig
	}

	scheduler, err := batch.New(client, cfg.BatchConfig(),
		batch.WithProjector(projector.Projector{Sentinel: cfg.Report.Sentinel}))
	if err != nil {
		logger.Error().Err(err).Msg("Invalid batch configuration")
		return exitConfig
	}

	if cfg.Metrics.Addr != "" {
		metricsCtx, stopMetrics := context.WithCancel(context.Background())
		defer stopMetrics()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.Metrics.Addr, logging.NewLogger(logging.ComponentMetrics)); err != nil {
				logger.Warn().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	start := time.Now()
	task := scheduler.Start(ctx, ids, cfg.FieldSpec(), progressPrinter(stderr))
	logger.Info().
		Str("run_id", task.RunID()).
		Str("input", cfg.Report.Input).
		Int("total", len(ids)).
		Msg("Run started")

	rows, runErr := task.Wait()
	if len(ids) > 0 {
		fmt.Fprintln(stderr)
	}

	written, err := report.WriteFile(cfg.Report.Output, rows)
	if err != nil {
		logger.Error().Err(err).Str("output", cfg.Report.Output).Msg("Cannot write report, dumping rows to stdout")
		var writeErr *report.WriteError
		if errors.As(err, &writeErr) {
			if _, dumpErr := report.Write(stdout, writeErr.Rows); dumpErr != nil {
				logger.Error().Err(dumpErr).Msg("Cannot dump rows to stdout")
			}
		}
		return exitFailure
	}

	if *printRows {
		if _, err := report.Write(stdout, rows); err != nil {
			logger.Warn().Err(err).Msg("Cannot print rows")
		}
	}

	fmt.Fprintf(stderr, "Wrote %s rows (%s) to %s in %s, %s without data\n",
		humanize.Comma(int64(len(rows))),
		humanize.Bytes(uint64(written)),
		cfg.Report.Output,
		time.Since(start).Round(time.Second),
		humanize.Comma(failed.Load()),
	)

	if runErr != nil {
		if errors.Is(runErr, batch.ErrRunCancelled) {
			logger.Warn().Err(runErr).Msg("Run cancelled, partial report written")
			return exitCancelled
		}
		logger.Error().Err(runErr).Msg("Run failed")
		return exitFailure
	}

	return exitOK
}

// progressPrinter renders progress on a single terminal line.
func progressPrinter(w io.Writer) batch.ProgressFunc {
	return func(completed, total int) {
		pct := float64(completed) / float64(total) * 100
		fmt.Fprintf(w, "\rProcessed %s/%s (%.0f%%)",
			humanize.Comma(int64(completed)), humanize.Comma(int64(total)), pct)
	}
}

// newThrottleStore returns a Redis store when configured, memory otherwise.
// REDIS_URL accepts either host:port or a redis:// URL.
func newThrottleStore(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (ratelimit.Store, func(), error) {
	if cfg.URL == "" {
		return ratelimit.NewMemoryStore(), func() {}, nil
	}

	opts := &redis.Options{Addr: cfg.URL}
	if strings.Contains(cfg.URL, "://") {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}

	redisClient := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}

	logger.Info().Str("addr", opts.Addr).Msg("Using Redis for throttle state")
	return ratelimit.NewRedisStore(redisClient, cfg.KeyPrefix), func() { redisClient.Close() }, nil
}
