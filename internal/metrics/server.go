package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"

	"github.com/mastermobile/callexport/internal/config"
	"github.com/mastermobile/callexport/internal/support/logger"
)

// StartServer exposes the recorder's registry over HTTP for the duration of
// the run. A blank listen address disables the endpoint.
func StartServer(lc fx.Lifecycle, cfg *config.Config, rec Recorder) {
	addr := cfg.CallExport.Metrics.ListenAddr
	if addr == "" {
		return
	}
	prom, ok := rec.(*PrometheusRecorder)
	if !ok {
		logger.Warnf("Metrics endpoint requested but recorder has no registry, skipping")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prom.GetRegistry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Infof("Metrics endpoint listening on %s", addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Warnf("Metrics endpoint stopped: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
