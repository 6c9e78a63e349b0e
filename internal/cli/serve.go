package cli

import (
	"context"
	"errors"
	"io/fs"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"cbs-motion-planner/internal/logging"
	"cbs-motion-planner/internal/observability"
	"cbs-motion-planner/internal/precompute"
	"cbs-motion-planner/internal/server"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP planning service",
		Long: `Run the HTTP planning service.

Endpoints:
  POST /route       plan one flight, cached pairs first
  POST /cbs         plan conflict-free flights for several drones
  POST /precompute  rebuild the path cache
  GET  /paths       cached paths as GeoJSON
  GET  /health      service status
  GET  /metrics     Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			metrics, err := observability.NewCollector(prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			a, err := newApp(flags, cmd.ErrOrStderr(), metrics)
			if err != nil {
				return err
			}

			shutdown, err := observability.InitTracing(ctx, a.cfg.Tracing, a.logger)
			if err != nil {
				return err
			}
			defer observability.ShutdownWithTimeout(context.WithoutCancel(ctx), shutdown, a.logger)

			srv := server.New(a.planner, a.registry, metrics, a.logger, server.Options{
				AllowedOrigin:  a.cfg.Server.AllowedOrigin,
				RequestTimeout: a.cfg.Server.RequestTimeout,
				CacheFile:      a.cfg.Data.CacheFile,
				Workers:        runtime.NumCPU(),
			})

			if a.cfg.Data.CacheFile != "" {
				cache, err := precompute.Load(a.cfg.Data.CacheFile)
				switch {
				case err == nil:
					srv.SetCache(cache)
					a.logger.Info(ctx, "loaded path cache",
						logging.String("path", a.cfg.Data.CacheFile),
						logging.Int("entries", cache.Len()))
				case errors.Is(err, fs.ErrNotExist):
					a.logger.Info(ctx, "no path cache yet; POST /precompute builds one")
				default:
					a.logger.Warn(ctx, "ignoring unreadable path cache", logging.Err(err))
				}
			}

			return srv.ListenAndServe(ctx, a.cfg.Server.Addr, a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout)
		},
	}
}
