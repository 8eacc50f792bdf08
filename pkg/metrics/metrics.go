// Package metrics exposes the Prometheus registry used by the batch client.
// Metrics are defined in their own packages (lookup, batch, ratelimit) and
// registered through promauto; this package serves them over HTTP.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registerer used by the client.
var Registry = prometheus.DefaultRegisterer

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// NewServer builds the metrics HTTP server for addr.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Serve runs the metrics server until ctx is done.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	srv := NewServer(addr)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Metrics Documentation
//
// Lookup Metrics (pkg/lookup):
//   - cnpj_lookups_total{outcome} (Counter): lookups by outcome (present, absent)
//   - cnpj_lookup_duration_seconds (Histogram): lookup duration including pacing waits
//   - cnpj_lookup_errors_total{class} (Counter): failures by class
//     (network, timeout, client, server, rate_limit, decode, cancelled)
//
// Batch Metrics (pkg/batch):
//   - cnpj_runs_total{outcome} (Counter): runs by outcome (completed, cancelled)
//   - cnpj_batches_total (Counter): completed batches
//   - cnpj_cooldowns_total (Counter): cooldowns between batches
//   - cnpj_cooldown_seconds_total (Counter): configured cooldown time spent
//   - cnpj_run_progress_ratio (Gauge): progress of the most recent run
//
// Throttle Metrics (pkg/ratelimit):
//   - cnpj_throttle_remaining (Gauge): X-RateLimit-Remaining as last reported
//   - cnpj_throttle_blocks_total (Counter): 429 responses received
//   - cnpj_throttle_waits_total (Counter): requests held until the window reset
//
// Example Prometheus Queries:
//
//   # Share of lookups degraded to sentinel rows
//   sum(rate(cnpj_lookups_total{outcome="absent"}[15m])) / sum(rate(cnpj_lookups_total[15m]))
//
//   # Rate limit pressure
//   rate(cnpj_lookup_errors_total{class="rate_limit"}[15m])
