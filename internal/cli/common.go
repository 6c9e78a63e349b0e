package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"cbs-motion-planner/internal/config"
	"cbs-motion-planner/internal/endpoint"
	"cbs-motion-planner/internal/logging"
	"cbs-motion-planner/internal/observability"
	"cbs-motion-planner/internal/obstacle"
	"cbs-motion-planner/internal/planner"
)

// app is the wiring every command shares.
type app struct {
	cfg      config.Config
	logger   logging.Logger
	registry *endpoint.Registry
	planner  *planner.Planner
}

// newApp loads configuration and builds the planner. Logs go to logOut so
// they never mix with command output. A missing buildings file leaves the
// registry nil, which only matters to commands that resolve building IDs.
func newApp(flags *globalFlags, logOut io.Writer, metrics *observability.Collector) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.LoggerConfig(logOut))

	var registry *endpoint.Registry
	if cfg.Data.BuildingsFile != "" {
		registry, err = endpoint.LoadRegistry(cfg.Data.BuildingsFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Warn(context.Background(), "building registry not found", logging.String("path", cfg.Data.BuildingsFile))
			registry = nil
		case err != nil:
			return nil, err
		}
	}

	opts := []planner.Option{planner.WithLogger(logger)}
	if metrics != nil {
		opts = append(opts, planner.WithSearchObserver(metrics), planner.WithCBSObserver(metrics))
	}
	var resolver endpoint.Resolver
	if registry != nil {
		resolver = registry
	}
	p, err := planner.New(cfg.PlannerConfig(), obstacle.NewGeoJSONSource(cfg.Data.ObstaclesDir, logger), resolver, opts...)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, registry: registry, planner: p}, nil
}

func (a *app) requireRegistry() (*endpoint.Registry, error) {
	if a.registry == nil {
		return nil, fmt.Errorf("%w: no building registry at %q", planner.ErrInvalidEndpoint, a.cfg.Data.BuildingsFile)
	}
	return a.registry, nil
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
