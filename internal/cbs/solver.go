// Package cbs coordinates several agents with Conflict-Based Search. The high
// level searches a tree of constraint sets; the low level is the space-time
// A* of package search.
package cbs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"cbs-motion-planner/internal/geo"
	"cbs-motion-planner/internal/logging"
	"cbs-motion-planner/internal/obstacle"
	"cbs-motion-planner/internal/search"
)

var (
	// ErrConflictResolutionExhausted is returned when every branch was
	// discarded or the expansion budget ran out before a conflict-free node
	// was found.
	ErrConflictResolutionExhausted = errors.New("cbs: conflict resolution exhausted")

	// ErrUnresolvedConflict is returned by ValidateSolution.
	ErrUnresolvedConflict = errors.New("cbs: paths conflict")

	// ErrInvalidAgents reports an empty agent list or duplicate IDs.
	ErrInvalidAgents = errors.New("cbs: invalid agents")
)

// Solve outcomes reported to an Observer.
const (
	OutcomeSolved    = "solved"
	OutcomeExhausted = "exhausted"
	OutcomeNoPath    = "no_path"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// AgentError ties a failure to one agent.
type AgentError struct {
	AgentID string
	Err     error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.AgentID, e.Err)
}

func (e *AgentError) Unwrap() error { return e.Err }

// Agent is one CBS participant, in the local frame of the obstacle index.
type Agent struct {
	ID          string
	Start       geo.Vec3
	Goal        geo.Vec3
	MaxAltitude float64
}

// PathFinder is the low-level search.
type PathFinder interface {
	Search(ctx context.Context, req search.Request) (search.Path, error)
}

// Observer receives one call per finished Solve.
type Observer interface {
	ObserveCBS(outcome string, expanded int, elapsed time.Duration)
}

// Options tune the high-level search.
type Options struct {
	Strategy       Strategy `yaml:"strategy"`
	SafetyDistance float64  `yaml:"safety_distance"`
	MaxExpansions  int      `yaml:"max_expansions"` // 0 means unlimited
	Parallel       bool     `yaml:"parallel"`
}

// DefaultOptions returns breadth-first CBS with a 5 m separation.
func DefaultOptions() Options {
	return Options{
		Strategy:       StrategyFIFO,
		SafetyDistance: 5,
		MaxExpansions:  2000,
		Parallel:       true,
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	if _, err := ParseStrategy(string(o.Strategy)); err != nil {
		return err
	}
	if !(o.SafetyDistance > 0) {
		return fmt.Errorf("cbs: safety distance must be positive, got %v", o.SafetyDistance)
	}
	if o.MaxExpansions < 0 {
		return fmt.Errorf("cbs: max expansions must not be negative, got %d", o.MaxExpansions)
	}
	return nil
}

// Solution is a conflict-free set of paths.
type Solution struct {
	Paths       map[string]search.Path
	Order       []string
	Cost        float64
	Expanded    int // constraint tree nodes expanded
	Generated   int // constraint tree nodes created, root included
	Constraints []search.Constraint
}

// SolverOption configures a Solver.
type SolverOption func(*Solver)

// WithObserver reports every finished Solve to o.
func WithObserver(o Observer) SolverOption {
	return func(s *Solver) { s.observer = o }
}

// WithLogger sets the logger used for expansion records.
func WithLogger(l logging.Logger) SolverOption {
	return func(s *Solver) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) SolverOption {
	return func(s *Solver) {
		if t != nil {
			s.tracer = t
		}
	}
}

// Solver runs CBS. It keeps no state between calls.
type Solver struct {
	finder   PathFinder
	opts     Options
	observer Observer
	logger   logging.Logger
	tracer   trace.Tracer
}

// NewSolver creates a solver on top of finder.
func NewSolver(finder PathFinder, opts Options, options ...SolverOption) (*Solver, error) {
	if finder == nil {
		return nil, errors.New("cbs: path finder is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.Strategy, _ = ParseStrategy(string(opts.Strategy))

	s := &Solver{
		finder: finder,
		opts:   opts,
		logger: logging.Noop(),
		tracer: otel.Tracer("cbs-motion-planner/internal/cbs"),
	}
	for _, o := range options {
		o(s)
	}
	return s, nil
}

// Options returns the solver options.
func (s *Solver) Options() Options { return s.opts }

// Solve returns one conflict-free path per agent. A root agent without any
// path fails with an *AgentError wrapping search.ErrNoPath.
func (s *Solver) Solve(ctx context.Context, agents []Agent, index *obstacle.Index) (Solution, error) {
	ctx, span := s.tracer.Start(ctx, "cbs.Solve",
		trace.WithAttributes(
			attribute.Int("agents", len(agents)),
			attribute.String("strategy", string(s.opts.Strategy)),
		),
	)
	defer span.End()

	started := time.Now()
	sol, err := s.solve(ctx, agents, index)
	elapsed := time.Since(started)

	outcome := outcomeOf(err)
	if s.observer != nil {
		s.observer.ObserveCBS(outcome, sol.Expanded, elapsed)
	}
	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("expanded", sol.Expanded),
		attribute.Int("generated", sol.Generated),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	} else {
		span.SetStatus(codes.Ok, outcome)
	}
	return sol, err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSolved
	case errors.Is(err, ErrConflictResolutionExhausted):
		return OutcomeExhausted
	case errors.Is(err, search.ErrNoPath):
		return OutcomeNoPath
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}

func (s *Solver) solve(ctx context.Context, agents []Agent, index *obstacle.Index) (Solution, error) {
	if index == nil {
		return Solution{}, fmt.Errorf("%w: obstacle index is required", ErrInvalidAgents)
	}
	byID, order, err := indexAgents(agents)
	if err != nil {
		return Solution{}, err
	}

	root, err := s.root(ctx, agents, index)
	if err != nil {
		return Solution{}, err
	}

	var (
		nextID    uint64 = 1
		generated        = 1
		expanded         = 0
	)
	frontier := NewFrontier(s.opts.Strategy)
	frontier.Push(root)

	for {
		if err := ctx.Err(); err != nil {
			return Solution{Expanded: expanded, Generated: generated}, err
		}
		node, ok := frontier.Pop()
		if !ok {
			return Solution{Expanded: expanded, Generated: generated},
				fmt.Errorf("%w: frontier empty after %d expansions", ErrConflictResolutionExhausted, expanded)
		}
		if s.opts.MaxExpansions > 0 && expanded >= s.opts.MaxExpansions {
			return Solution{Expanded: expanded, Generated: generated},
				fmt.Errorf("%w: expansion budget of %d reached", ErrConflictResolutionExhausted, s.opts.MaxExpansions)
		}
		expanded++

		conflict, found := DetectConflict(order, node.Paths, s.opts.SafetyDistance)
		if !found {
			s.logger.Debug(ctx, "cbs solved",
				logging.Int("node", int(node.ID)),
				logging.Int("depth", node.Depth),
				logging.Int("expanded", expanded))
			return Solution{
				Paths:       node.Paths,
				Order:       order,
				Cost:        node.Cost,
				Expanded:    expanded,
				Generated:   generated,
				Constraints: node.Constraints.List(),
			}, nil
		}
		if conflict.Missing {
			return Solution{Expanded: expanded, Generated: generated},
				&AgentError{AgentID: conflict.AgentA, Err: search.ErrNoPath}
		}

		s.logger.Debug(ctx, "cbs conflict",
			logging.Int("node", int(node.ID)),
			logging.Int("depth", node.Depth),
			logging.String("agent_a", conflict.AgentA),
			logging.String("agent_b", conflict.AgentB),
			logging.Int("t", conflict.T),
			logging.Float64("distance", conflict.Distance))

		children, err := s.branch(ctx, node, conflict, byID, index)
		if err != nil {
			return Solution{Expanded: expanded, Generated: generated}, err
		}
		for _, child := range children {
			if child == nil {
				continue
			}
			child.ID = nextID
			nextID++
			generated++
			frontier.Push(child)
		}
	}
}

func indexAgents(agents []Agent) (map[string]Agent, []string, error) {
	if len(agents) == 0 {
		return nil, nil, fmt.Errorf("%w: no agents", ErrInvalidAgents)
	}
	byID := make(map[string]Agent, len(agents))
	order := make([]string, 0, len(agents))
	for _, a := range agents {
		if a.ID == "" {
			return nil, nil, fmt.Errorf("%w: agent without id", ErrInvalidAgents)
		}
		if _, dup := byID[a.ID]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate agent id %q", ErrInvalidAgents, a.ID)
		}
		byID[a.ID] = a
		order = append(order, a.ID)
	}
	return byID, order, nil
}

// root plans every agent without constraints.
func (s *Solver) root(ctx context.Context, agents []Agent, index *obstacle.Index) (*Node, error) {
	paths := make([]search.Path, len(agents))
	errs := make([]error, len(agents))
	plan := func(i int) {
		p, err := s.finder.Search(ctx, request(agents[i], index, search.ConstraintSet{}))
		if err != nil {
			errs[i] = &AgentError{AgentID: agents[i].ID, Err: err}
			return
		}
		paths[i] = p
	}

	if s.opts.Parallel && len(agents) > 1 {
		var g errgroup.Group
		for i := range agents {
			g.Go(func() error { plan(i); return nil })
		}
		_ = g.Wait()
	} else {
		for i := range agents {
			if plan(i); errs[i] != nil {
				break
			}
		}
	}
	// The first failing agent in request order wins, whatever finished first.
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	node := &Node{ID: 0, Paths: make(map[string]search.Path, len(agents))}
	for i, a := range agents {
		node.Paths[a.ID] = paths[i]
	}
	node.Cost = node.sumCost()
	return node, nil
}

// branch builds the two children of node for conflict. A child whose agent
// cannot be replanned under the new constraint is returned as nil.
func (s *Solver) branch(ctx context.Context, node *Node, conflict Conflict, agents map[string]Agent, index *obstacle.Index) ([2]*Node, error) {
	constraints := [2]search.Constraint{
		{AgentID: conflict.AgentA, Cell: conflict.CellA, T: conflict.T},
		{AgentID: conflict.AgentB, Cell: conflict.CellB, T: conflict.T},
	}

	var children [2]*Node
	replan := func(ctx context.Context, i int) error {
		c := constraints[i]
		set := node.Constraints.With(c)
		p, err := s.finder.Search(ctx, request(agents[c.AgentID], index, set))
		if errors.Is(err, search.ErrNoPath) {
			s.logger.Debug(ctx, "cbs branch discarded",
				logging.Int("parent", int(node.ID)),
				logging.String("agent", c.AgentID),
				logging.Int("t", c.T))
			return nil
		}
		if err != nil {
			return &AgentError{AgentID: c.AgentID, Err: err}
		}

		paths := make(map[string]search.Path, len(node.Paths))
		for id, path := range node.Paths {
			paths[id] = path
		}
		paths[c.AgentID] = p
		child := &Node{
			ParentID:    node.ID,
			Depth:       node.Depth + 1,
			Constraints: set,
			Paths:       paths,
		}
		child.Cost = child.sumCost()
		children[i] = child
		return nil
	}

	if s.opts.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		for i := range constraints {
			g.Go(func() error { return replan(gctx, i) })
		}
		if err := g.Wait(); err != nil {
			return children, err
		}
		return children, nil
	}

	for i := range constraints {
		if err := replan(ctx, i); err != nil {
			return children, err
		}
	}
	return children, nil
}

// request leaves GridOrigin at zero so every agent searches the same lattice
// and a vertex constraint on a cell means the same position for all of them.
func request(a Agent, index *obstacle.Index, constraints search.ConstraintSet) search.Request {
	return search.Request{
		AgentID:     a.ID,
		Start:       a.Start,
		Goal:        a.Goal,
		MaxAltitude: a.MaxAltitude,
		Obstacles:   index,
		Constraints: constraints,
	}
}
