// Package planner is the public face of the motion planner. It takes and
// returns geographic coordinates, builds one local frame per call, and maps
// every failure to one of a small set of typed errors.
package planner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"cbs-motion-planner/internal/cbs"
	"cbs-motion-planner/internal/endpoint"
	"cbs-motion-planner/internal/geo"
	"cbs-motion-planner/internal/logging"
	"cbs-motion-planner/internal/obstacle"
	"cbs-motion-planner/internal/search"
)

// Outcomes callers are expected to tell apart with errors.Is.
var (
	ErrInvalidEndpoint             = endpoint.ErrInvalidEndpoint
	ErrNoPathFound                 = search.ErrNoPath
	ErrConflictResolutionExhausted = cbs.ErrConflictResolutionExhausted
	ErrObstacleDataUnavailable     = obstacle.ErrDataUnavailable
	ErrInvalidRequest              = search.ErrInvalidRequest
)

// AgentError ties a failure to one agent of a multi-agent request.
type AgentError = cbs.AgentError

// Waypoint is one geographic sample of a path.
type Waypoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
	T   int     `json:"t"`
}

// Point returns the waypoint position.
func (w Waypoint) Point() geo.Point3D {
	return geo.Point3D{Lat: w.Lat, Lon: w.Lon, Alt: w.Alt}
}

// Path is a time-ordered geographic flight path.
type Path struct {
	AgentID   string     `json:"agentId"`
	Waypoints []Waypoint `json:"waypoints"`
	Cost      float64    `json:"cost"`
}

// AgentRequest is one agent of a multi-agent request. When OriginID or
// DestinationID is set the matching endpoint is resolved through the
// planner's Resolver and altitude policy, replacing Start or End.
type AgentRequest struct {
	ID            string      `json:"id" yaml:"id"`
	Start         geo.Point3D `json:"start" yaml:"start"`
	End           geo.Point3D `json:"end" yaml:"end"`
	OriginID      string      `json:"originId,omitempty" yaml:"origin_id,omitempty"`
	DestinationID string      `json:"destinationId,omitempty" yaml:"destination_id,omitempty"`
	MaxAltitude   float64     `json:"maxAltitude,omitempty" yaml:"max_altitude,omitempty"`
}

// Config gathers the tuning of every layer.
type Config struct {
	Search      search.Config
	CBS         cbs.Options
	Altitude    endpoint.AltitudePolicy
	MaxAltitude float64 // ceiling used when a request does not give one
}

// DefaultConfig returns the defaults of every layer and a 200 m ceiling.
func DefaultConfig() Config {
	return Config{
		Search:      search.DefaultConfig(),
		CBS:         cbs.DefaultOptions(),
		Altitude:    endpoint.DefaultAltitudePolicy(),
		MaxAltitude: 200,
	}
}

// Option configures a Planner.
type Option func(*options)

type options struct {
	logger         logging.Logger
	tracer         trace.Tracer
	searchObserver search.Observer
	cbsObserver    cbs.Observer
}

// WithLogger sets the logger for the planner and the layers below it.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithSearchObserver reports every single-agent search.
func WithSearchObserver(obs search.Observer) Option {
	return func(o *options) { o.searchObserver = obs }
}

// WithCBSObserver reports every CBS run.
func WithCBSObserver(obs cbs.Observer) Option {
	return func(o *options) { o.cbsObserver = obs }
}

// Planner plans single- and multi-agent paths. It is safe for concurrent
// use; requests share nothing but the read-only configuration.
type Planner struct {
	cfg      Config
	source   obstacle.Source
	resolver endpoint.Resolver
	searcher *search.Searcher
	solver   *cbs.Solver
	logger   logging.Logger
	tracer   trace.Tracer
}

// New wires a planner. source and resolver may be nil for callers that only
// use PlanSingleAgentPath or PlanAgents.
func New(cfg Config, source obstacle.Source, resolver endpoint.Resolver, opts ...Option) (*Planner, error) {
	o := options{logger: logging.Noop(), tracer: otel.Tracer("cbs-motion-planner/internal/planner")}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Noop()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("cbs-motion-planner/internal/planner")
	}
	if !(cfg.MaxAltitude > 0) {
		return nil, fmt.Errorf("%w: max altitude must be positive", ErrInvalidRequest)
	}

	searchOpts := []search.Option{search.WithLogger(o.logger)}
	if o.searchObserver != nil {
		searchOpts = append(searchOpts, search.WithObserver(o.searchObserver))
	}
	searcher, err := search.NewSearcher(cfg.Search, searchOpts...)
	if err != nil {
		return nil, err
	}

	solverOpts := []cbs.SolverOption{cbs.WithLogger(o.logger), cbs.WithTracer(o.tracer)}
	if o.cbsObserver != nil {
		solverOpts = append(solverOpts, cbs.WithObserver(o.cbsObserver))
	}
	solver, err := cbs.NewSolver(searcher, cfg.CBS, solverOpts...)
	if err != nil {
		return nil, err
	}

	return &Planner{
		cfg:      cfg,
		source:   source,
		resolver: resolver,
		searcher: searcher,
		solver:   solver,
		logger:   o.logger,
		tracer:   o.tracer,
	}, nil
}

// Config returns the planner configuration.
func (p *Planner) Config() Config { return p.cfg }

// LoadObstacles fetches one obstacle snapshot from the configured source.
// Every failure, including a missing source, wraps
// ErrObstacleDataUnavailable.
func (p *Planner) LoadObstacles(ctx context.Context) ([]obstacle.Obstacle, error) {
	if p.source == nil {
		return nil, fmt.Errorf("%w: no obstacle source configured", ErrObstacleDataUnavailable)
	}
	obstacles, err := p.source.LoadObstacles(ctx)
	if err != nil {
		if errors.Is(err, ErrObstacleDataUnavailable) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrObstacleDataUnavailable, err)
	}
	if obstacles == nil {
		return nil, fmt.Errorf("%w: source returned no snapshot", ErrObstacleDataUnavailable)
	}
	return obstacles, nil
}

// PlanSingleAgentPath plans one agent against an explicit obstacle snapshot.
// A nil snapshot is rejected; pass an empty slice for open airspace.
func (p *Planner) PlanSingleAgentPath(ctx context.Context, start, end geo.Point3D, obstacles []obstacle.Obstacle, maxAltitude float64) (Path, error) {
	return p.planSingle(ctx, "agent", start, end, obstacles, maxAltitude)
}

func (p *Planner) planSingle(ctx context.Context, agentID string, start, end geo.Point3D, obstacles []obstacle.Obstacle, maxAltitude float64) (path Path, err error) {
	ctx, span := p.tracer.Start(ctx, "planner.PlanSingleAgentPath",
		trace.WithAttributes(
			attribute.String("agent", agentID),
			attribute.Int("obstacles", len(obstacles)),
			attribute.Float64("max_altitude", maxAltitude),
		),
	)
	defer func() { endSpan(span, err) }()

	if obstacles == nil {
		return Path{}, fmt.Errorf("%w: nil obstacle snapshot", ErrObstacleDataUnavailable)
	}
	if err := checkCeiling(maxAltitude); err != nil {
		return Path{}, err
	}
	if err := checkEndpoint(start, maxAltitude); err != nil {
		return Path{}, fmt.Errorf("start: %w", err)
	}
	if err := checkEndpoint(end, maxAltitude); err != nil {
		return Path{}, fmt.Errorf("end: %w", err)
	}

	frame := geo.NewFrame(start.Horizontal())
	index, err := obstacle.NewIndex(frame, obstacles)
	if err != nil {
		return Path{}, fmt.Errorf("%w: %w", ErrObstacleDataUnavailable, err)
	}

	started := time.Now()
	req := search.Request{
		AgentID:     agentID,
		Start:       frame.ToLocal(start),
		Goal:        frame.ToLocal(end),
		MaxAltitude: maxAltitude,
		Obstacles:   index,
	}
	p.logger.Debug(ctx, "planning single path",
		logging.String("agent", agentID),
		logging.Int("obstacles_near_route", len(index.QueryRegion(geo.RouteBounds(req.Start, req.Goal, p.cfg.Search.BoundsMargin, maxAltitude)))))

	result, err := p.searcher.Search(ctx, req)
	if err != nil {
		return Path{}, err
	}

	path = toGeographic(frame, result)
	p.logger.Info(ctx, "single path planned",
		logging.String("agent", agentID),
		logging.Int("waypoints", len(path.Waypoints)),
		logging.Float64("cost_m", path.Cost),
		logging.Duration("elapsed", time.Since(started)))
	return path, nil
}

// PlanMultiAgentPaths loads obstacles once from the configured source and
// returns a conflict-free path per agent.
func (p *Planner) PlanMultiAgentPaths(ctx context.Context, agents []AgentRequest) (map[string]Path, error) {
	obstacles, err := p.LoadObstacles(ctx)
	if err != nil {
		return nil, err
	}
	return p.PlanAgents(ctx, agents, obstacles)
}

// PlanAgents is PlanMultiAgentPaths against an explicit snapshot.
func (p *Planner) PlanAgents(ctx context.Context, agents []AgentRequest, obstacles []obstacle.Obstacle) (result map[string]Path, err error) {
	ctx, planID := logging.EnsureRequestID(ctx)
	ctx, span := p.tracer.Start(ctx, "planner.PlanMultiAgentPaths",
		trace.WithAttributes(
			attribute.String("plan_id", planID),
			attribute.Int("agents", len(agents)),
			attribute.Int("obstacles", len(obstacles)),
		),
	)
	defer func() { endSpan(span, err) }()

	if obstacles == nil {
		return nil, fmt.Errorf("%w: nil obstacle snapshot", ErrObstacleDataUnavailable)
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: no agents", ErrInvalidRequest)
	}

	resolved := make([]AgentRequest, len(agents))
	for i, a := range agents {
		r, err := p.resolveAgent(ctx, a, obstacles)
		if err != nil {
			return nil, &AgentError{AgentID: a.ID, Err: err}
		}
		resolved[i] = r
	}

	frame := geo.NewFrame(resolved[0].Start.Horizontal())
	index, err := obstacle.NewIndex(frame, obstacles)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrObstacleDataUnavailable, err)
	}

	local := make([]cbs.Agent, len(resolved))
	for i, a := range resolved {
		local[i] = cbs.Agent{
			ID:          a.ID,
			Start:       frame.ToLocal(a.Start),
			Goal:        frame.ToLocal(a.End),
			MaxAltitude: a.MaxAltitude,
		}
	}

	started := time.Now()
	sol, err := p.solver.Solve(ctx, local, index)
	if err != nil {
		p.logger.Warn(ctx, "multi-agent planning failed",
			logging.Int("agents", len(agents)),
			logging.Int("expanded", sol.Expanded),
			logging.Err(err))
		return nil, err
	}

	result = make(map[string]Path, len(sol.Paths))
	for id, path := range sol.Paths {
		result[id] = toGeographic(frame, path)
	}
	p.logger.Info(ctx, "multi-agent paths planned",
		logging.Int("agents", len(agents)),
		logging.Int("expanded", sol.Expanded),
		logging.Int("generated", sol.Generated),
		logging.Int("constraints", len(sol.Constraints)),
		logging.Float64("cost_m", sol.Cost),
		logging.Duration("elapsed", time.Since(started)))
	return result, nil
}

// PlanBetween resolves two building endpoints with the altitude policy and
// plans a single path between them, ignoring other agents.
func (p *Planner) PlanBetween(ctx context.Context, originID, destinationID string) (Path, error) {
	obstacles, err := p.LoadObstacles(ctx)
	if err != nil {
		return Path{}, err
	}
	return p.PlanBetweenWith(ctx, originID, destinationID, obstacles)
}

// PlanBetweenWith is PlanBetween against an explicit snapshot.
func (p *Planner) PlanBetweenWith(ctx context.Context, originID, destinationID string, obstacles []obstacle.Obstacle) (Path, error) {
	if p.resolver == nil {
		return Path{}, fmt.Errorf("%w: no endpoint resolver configured", ErrInvalidEndpoint)
	}
	start, err := p.cfg.Altitude.Resolve(ctx, p.resolver, originID, obstacles, p.cfg.MaxAltitude)
	if err != nil {
		return Path{}, fmt.Errorf("origin: %w", err)
	}
	end, err := p.cfg.Altitude.Resolve(ctx, p.resolver, destinationID, obstacles, p.cfg.MaxAltitude)
	if err != nil {
		return Path{}, fmt.Errorf("destination: %w", err)
	}
	return p.planSingle(ctx, originID+"->"+destinationID, start, end, obstacles, p.cfg.MaxAltitude)
}

func (p *Planner) resolveAgent(ctx context.Context, a AgentRequest, obstacles []obstacle.Obstacle) (AgentRequest, error) {
	if a.ID == "" {
		return a, fmt.Errorf("%w: agent without id", ErrInvalidRequest)
	}
	if a.MaxAltitude == 0 {
		a.MaxAltitude = p.cfg.MaxAltitude
	}
	if err := checkCeiling(a.MaxAltitude); err != nil {
		return a, err
	}

	if a.OriginID != "" || a.DestinationID != "" {
		if p.resolver == nil {
			return a, fmt.Errorf("%w: no endpoint resolver configured", ErrInvalidEndpoint)
		}
	}
	var err error
	if a.OriginID != "" {
		if a.Start, err = p.cfg.Altitude.Resolve(ctx, p.resolver, a.OriginID, obstacles, a.MaxAltitude); err != nil {
			return a, err
		}
	}
	if a.DestinationID != "" {
		if a.End, err = p.cfg.Altitude.Resolve(ctx, p.resolver, a.DestinationID, obstacles, a.MaxAltitude); err != nil {
			return a, err
		}
	}

	if err := checkEndpoint(a.Start, a.MaxAltitude); err != nil {
		return a, fmt.Errorf("start: %w", err)
	}
	if err := checkEndpoint(a.End, a.MaxAltitude); err != nil {
		return a, fmt.Errorf("end: %w", err)
	}
	return a, nil
}

func checkCeiling(maxAltitude float64) error {
	if !(maxAltitude > 0) || math.IsInf(maxAltitude, 0) {
		return fmt.Errorf("%w: max altitude %v must be positive", ErrInvalidRequest, maxAltitude)
	}
	return nil
}

func checkEndpoint(p geo.Point3D, maxAltitude float64) error {
	if !p.Valid() {
		return fmt.Errorf("%w: coordinates (%v, %v, %v) out of range", ErrInvalidEndpoint, p.Lat, p.Lon, p.Alt)
	}
	if p.Alt < 0 || p.Alt > maxAltitude {
		return fmt.Errorf("%w: altitude %.1f outside [0, %.1f]", ErrInvalidEndpoint, p.Alt, maxAltitude)
	}
	return nil
}

func toGeographic(frame geo.Frame, p search.Path) Path {
	out := Path{AgentID: p.AgentID, Cost: p.Cost, Waypoints: make([]Waypoint, len(p.Samples))}
	for i, s := range p.Samples {
		g := frame.ToGeo(s.Position)
		out.Waypoints[i] = Waypoint{Lat: g.Lat, Lon: g.Lon, Alt: g.Alt, T: s.T}
	}
	return out
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
