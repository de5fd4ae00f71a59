package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/radiodrama/internal/config"
)

// HealthChecker is a dependency whose state gates /readyz.
type HealthChecker interface {
	Healthy() bool
}

// Runtime owns process-wide telemetry and, in server mode, the HTTP
// endpoints for health, readiness and metrics.
type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	metrics       http.Handler
	telemetryStop func(context.Context) error
	checks        []HealthChecker
	ready         atomic.Bool
	wg            sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "runtime")),
	}
}

// Setup installs the global tracer and meter providers.
func (r *Runtime) Setup(ctx context.Context) error {
	shutdown, handler, err := setupTelemetry(ctx, r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryStop = shutdown
	r.metrics = handler
	return nil
}

// Shutdown flushes telemetry.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r.telemetryStop == nil {
		return nil
	}
	err := r.telemetryStop(ctx)
	r.telemetryStop = nil
	return err
}

// Serve runs the HTTP endpoints until ctx is cancelled. /readyz reports ready
// only while every check is healthy.
func (r *Runtime) Serve(ctx context.Context, checks ...HealthChecker) error {
	r.checks = checks

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if r.metrics != nil {
		if r.cfg.Telemetry.PrometheusBind == "" {
			mux.Handle("/metrics", r.metrics)
		} else {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", r.metrics)
			r.metricsServer = &http.Server{
				Addr:              r.cfg.Telemetry.PrometheusBind,
				Handler:           metricsMux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			r.listen(r.metricsServer, "metrics")
		}
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.listen(r.httpServer, "http")

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()
	return nil
}

func (r *Runtime) listen(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.isReady() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) isReady() bool {
	if !r.ready.Load() {
		return false
	}
	for _, c := range r.checks {
		if c != nil && !c.Healthy() {
			return false
		}
	}
	return true
}
