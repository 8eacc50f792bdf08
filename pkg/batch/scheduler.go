package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/cnpj-batch-client/pkg/logging"
	"github.com/Sternrassler/cnpj-batch-client/pkg/lookup"
	"github.com/Sternrassler/cnpj-batch-client/pkg/projector"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	// ErrInvalidBatchSize is returned for a batch size of zero or less.
	ErrInvalidBatchSize = errors.New("batch size must be > 0")

	// ErrInvalidDelay is returned for negative item delays or cooldowns.
	ErrInvalidDelay = errors.New("delays must be >= 0")

	// ErrRunCancelled is returned when the context ends before every identifier was processed.
	ErrRunCancelled = errors.New("run cancelled")
)

// Prometheus metrics for batch runs.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cnpj_runs_total",
		Help: "Total batch runs by outcome",
	}, []string{"outcome"})

	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cnpj_batches_total",
		Help: "Total number of completed batches",
	})

	cooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cnpj_cooldowns_total",
		Help: "Total number of cooldowns between batches",
	})

	cooldownSecondsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cnpj_cooldown_seconds_total",
		Help: "Total time spent cooling down between batches",
	})

	runProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cnpj_run_progress_ratio",
		Help: "Fraction of identifiers processed in the most recent run",
	})
)

// Config holds scheduler configuration.
type Config struct {
	// BatchSize is the number of identifiers looked up between cooldowns.
	BatchSize int

	// ItemDelay is waited after every identifier, including the last one.
	ItemDelay time.Duration

	// BatchCooldown is waited between batches, never after the final batch.
	BatchCooldown time.Duration
}

// DefaultConfig returns the pacing accepted by the public registry.
func DefaultConfig() Config {
	return Config{
		BatchSize:     3,
		ItemDelay:     1 * time.Second,
		BatchCooldown: 60 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w (got %d)", ErrInvalidBatchSize, c.BatchSize)
	}
	if c.ItemDelay < 0 || c.BatchCooldown < 0 {
		return fmt.Errorf("%w (item delay %s, cooldown %s)", ErrInvalidDelay, c.ItemDelay, c.BatchCooldown)
	}
	return nil
}

// ProgressFunc receives the number of identifiers processed so far and the total.
// It is invoked on the worker goroutine after every identifier.
type ProgressFunc func(completed, total int)

// Progress is a snapshot of a run's advancement.
type Progress struct {
	Completed int
	Total     int
}

// Ratio returns Completed/Total, or 1 for an empty run.
func (p Progress) Ratio() float64 {
	if p.Total == 0 {
		return 1
	}
	return float64(p.Completed) / float64(p.Total)
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithProjector sets the projector used to build rows.
func WithProjector(p projector.Projector) Option {
	return func(s *Scheduler) { s.projector = p }
}

// WithSleeper replaces the delay implementation.
func WithSleeper(sleeper Sleeper) Option {
	return func(s *Scheduler) {
		if sleeper != nil {
			s.sleeper = sleeper
		}
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// Scheduler drives lookups batch by batch on a single worker.
type Scheduler struct {
	client    lookup.Client
	projector projector.Projector
	sleeper   Sleeper
	config    Config
	logger    zerolog.Logger
}

// New creates a scheduler. It fails fast on invalid configuration.
func New(client lookup.Client, config Config, opts ...Option) (*Scheduler, error) {
	if client == nil {
		return nil, fmt.Errorf("lookup client is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		client:    client,
		projector: projector.New(),
		sleeper:   TimerSleeper,
		config:    config,
		logger:    logging.NewLogger(logging.ComponentBatch),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the scheduler configuration.
func (s *Scheduler) Config() Config {
	return s.config
}

// Run processes ids synchronously and returns one row per identifier in input order.
// When ctx ends early the rows completed so far are returned with ErrRunCancelled.
func (s *Scheduler) Run(ctx context.Context, ids []string, fields projector.FieldSpec, onProgress ProgressFunc) ([]projector.Row, error) {
	return s.run(ctx, uuid.NewString(), ids, fields, onProgress)
}

func (s *Scheduler) run(ctx context.Context, runID string, ids []string, fields projector.FieldSpec, onProgress ProgressFunc) ([]projector.Row, error) {
	logger := s.logger.With().Str("run_id", runID).Logger()
	total := len(ids)

	if total == 0 {
		logger.Info().Msg("No identifiers to process")
		runsTotal.WithLabelValues("completed").Inc()
		return []projector.Row{}, nil
	}

	start := time.Now()
	batches := Partition(ids, s.config.BatchSize)
	rows := make([]projector.Row, 0, total)
	completed := 0
	absent := 0

	runProgress.Set(0)
	logger.Info().
		Int("total", total).
		Int("batches", len(batches)).
		Int("batch_size", s.config.BatchSize).
		Dur("item_delay", s.config.ItemDelay).
		Dur("cooldown", s.config.BatchCooldown).
		Msg("Starting batch run")

	report := func() {
		runProgress.Set(float64(completed) / float64(total))
		if onProgress != nil {
			onProgress(completed, total)
		}
	}

	stop := func(cause error) ([]projector.Row, error) {
		runsTotal.WithLabelValues("cancelled").Inc()
		logger.Warn().
			Err(cause).
			Int("completed", completed).
			Int("total", total).
			Dur("duration", time.Since(start)).
			Msg("Batch run cancelled")
		return rows, fmt.Errorf("%w after %d/%d identifiers: %w", ErrRunCancelled, completed, total, cause)
	}

	for b, chunk := range batches {
		batchStart := time.Now()

		for _, cnpj := range chunk {
			if err := ctx.Err(); err != nil {
				return stop(err)
			}

			result := s.client.Lookup(ctx, cnpj)

			// A lookup cut short by cancellation did not really fail; drop it.
			if err := ctx.Err(); err != nil {
				return stop(err)
			}

			rows = append(rows, s.projector.Project(result, fields))
			completed++
			if !result.IsPresent() {
				absent++
			}

			err := s.sleeper.Sleep(ctx, s.config.ItemDelay)
			report()
			if err != nil {
				return stop(err)
			}
		}

		batchesTotal.Inc()
		logger.Info().
			Int("batch", b+1).
			Int("batches", len(batches)).
			Int("completed", completed).
			Int("total", total).
			Dur("duration", time.Since(batchStart)).
			Msg("Batch complete")

		if b == len(batches)-1 {
			break
		}

		logger.Info().
			Int("batch", b+1).
			Dur("cooldown", s.config.BatchCooldown).
			Msg("Cooling down before next batch")
		cooldownsTotal.Inc()
		cooldownSecondsTotal.Add(s.config.BatchCooldown.Seconds())
		if err := s.sleeper.Sleep(ctx, s.config.BatchCooldown); err != nil {
			return stop(err)
		}
	}

	runsTotal.WithLabelValues("completed").Inc()
	logger.Info().
		Int("total", total).
		Int("absent", absent).
		Dur("duration", time.Since(start)).
		Msg("Batch run complete")

	return rows, nil
}

// Partition splits ids into contiguous chunks of at most size elements,
// preserving order. It panics if size <= 0.
func Partition(ids []string, size int) [][]string {
	if size <= 0 {
		panic(fmt.Sprintf("batch: partition size must be > 0 (got %d)", size))
	}

	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end:end])
	}
	return chunks
}
