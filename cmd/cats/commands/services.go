package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quantarax/cats/internal/eventlog"
	"github.com/quantarax/cats/internal/observability"
	"github.com/quantarax/cats/internal/validation"
)

// services bundles the ambient stack shared by recv and send.
type services struct {
	logger  *observability.Logger
	metrics *observability.Metrics
	health  *observability.HealthChecker
	events  eventlog.Multi
	store   *eventlog.SQLiteStore

	closers  []io.Closer
	server   *http.Server
	shutdown func(context.Context) error
}

func newServices(ctx context.Context, role string) (*services, error) {
	logger, logCloser, err := observability.OpenLogger("cats-"+role, version, observability.LogOptions{
		Level: cfg.Log.Level,
		File:  cfg.Log.File,
	})
	if err != nil {
		return nil, err
	}

	rt := &services{
		logger:  logger.WithRole(role),
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
		health:  observability.NewHealthChecker(version),
		closers: []io.Closer{logCloser},
	}

	if os.Getenv(observability.JaegerEndpointEnv) == "" {
		rt.logger.Debug("tracing disabled, " + observability.JaegerEndpointEnv + " is unset")
	}
	shutdown, err := observability.InitTracing(ctx, "cats-"+role)
	if err != nil {
		rt.logger.Error(err, "tracing disabled")
		shutdown = func(context.Context) error { return nil }
	}
	rt.shutdown = shutdown

	if cfg.Log.CSVDir != "" {
		if err := validation.Directory("csv_dir", cfg.Log.CSVDir); err != nil {
			rt.Close()
			return nil, err
		}
		csvSink, err := eventlog.NewCSVSink(cfg.Log.CSVDir, cfg.Log.Prefix, time.Now())
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.events = append(rt.events, csvSink)
		rt.closers = append(rt.closers, csvSink)
	}
	if cfg.Log.EventDB != "" {
		store, err := eventlog.OpenSQLiteStore(cfg.Log.EventDB, rt.logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.store = store
		rt.events = append(rt.events, store)
		rt.closers = append(rt.closers, store)
	}
	return rt, nil
}

// serve exposes /metrics and /health when a metrics address is configured.
func (rt *services) serve() {
	if cfg.Observability.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.metrics.Handler())
	mux.Handle("/health", rt.health.Handler())
	rt.server = &http.Server{
		Addr:              cfg.Observability.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	rt.logger.Info("serving /metrics and /health on " + cfg.Observability.MetricsAddr)
	go func() {
		if err := rt.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error(err, "metrics server failed")
		}
	}()
}

// summary prints per-session event counts from the SQLite store, if one is
// configured.
func (rt *services) summary(ctx context.Context, out io.Writer) {
	if rt.store == nil {
		return
	}
	if err := rt.store.Flush(ctx); err != nil {
		rt.logger.Error(err, "event store flush")
		return
	}
	sessions, err := rt.store.Sessions(ctx)
	if err != nil {
		rt.logger.Error(err, "event store sessions")
		return
	}
	for _, id := range sessions {
		counts, err := rt.store.CountByType(ctx, id)
		if err != nil {
			rt.logger.Error(err, "event store counts")
			return
		}
		types := make([]string, 0, len(counts))
		for typ := range counts {
			types = append(types, typ)
		}
		sort.Strings(types)
		fmt.Fprintf(out, "Session %s:", id)
		for _, typ := range types {
			fmt.Fprintf(out, " %s=%d", typ, counts[typ])
		}
		fmt.Fprintln(out)
	}
}

// Close releases everything in reverse order of acquisition.
func (rt *services) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if rt.server != nil {
		_ = rt.server.Shutdown(ctx)
	}
	if rt.shutdown != nil {
		_ = rt.shutdown(ctx)
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			rt.logger.Error(err, "close failed")
		}
	}
}
