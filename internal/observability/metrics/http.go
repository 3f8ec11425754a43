// Package metrics keeps process-wide counters and latency histograms and
// exposes them in the Prometheus text format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	httpRequests = defaultRegistry.counter("http_requests_total",
		"Total number of HTTP requests processed.", "handler", "method", "code")
	httpErrors = defaultRegistry.counter("http_request_errors_total",
		"Total number of HTTP requests that resulted in a server error.", "handler", "method")
	httpLatency = defaultRegistry.histogram("http_request_duration_seconds",
		"HTTP request duration in seconds.", "handler", "method")

	ledgerCalls = defaultRegistry.counter("ledger_calls_total",
		"Ledger program calls by method, kind and outcome.", "method", "kind", "outcome")
	ledgerLatency = defaultRegistry.histogram("ledger_call_duration_seconds",
		"Ledger call latency in seconds, including confirmation for writes.", "method", "kind")

	scans = defaultRegistry.counter("agreement_scans_total",
		"Agreement scans that reached the ledger, by role and outcome.", "role", "outcome")
	scanSkipped = defaultRegistry.counter("agreement_scan_skipped_total",
		"Agreement records skipped during a scan because they could not be read.", "role")

	cacheEvents = defaultRegistry.counter("cache_events_total",
		"Cache lookups and invalidations.", "cache", "event")
)

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	defaultRegistry.inc(httpRequests, handler, method, strconv.Itoa(status))
	if status >= 500 {
		defaultRegistry.inc(httpErrors, handler, method)
	}
	defaultRegistry.observe(httpLatency, duration, handler, method)
}

// ObserveLedgerCall records one read or write against a ledger program.
func ObserveLedgerCall(method, kind string, ok bool, duration time.Duration) {
	defaultRegistry.inc(ledgerCalls, method, kind, outcome(ok))
	defaultRegistry.observe(ledgerLatency, duration, method, kind)
}

// ObserveScan records a completed agreement scan.
func ObserveScan(role string, ok bool, skipped int) {
	defaultRegistry.inc(scans, role, outcome(ok))
	for i := 0; i < skipped; i++ {
		defaultRegistry.inc(scanSkipped, role)
	}
}

// ObserveCache records a cache event such as "hit", "miss" or "invalidate".
func ObserveCache(cache, event string) {
	defaultRegistry.inc(cacheEvents, cache, event)
}

// LedgerCalls returns the recorded number of ledger calls for a series.
func LedgerCalls(method, kind string, ok bool) uint64 {
	return defaultRegistry.value(ledgerCalls, method, kind, outcome(ok))
}

// CacheEvents returns the recorded number of cache events for a series.
func CacheEvents(cache, event string) uint64 {
	return defaultRegistry.value(cacheEvents, cache, event)
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, defaultRegistry.render())
	})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
