// Package search implements single-agent space-time A* over a quantized
// local grid. A state is a cell plus an integer tick, so an agent may wait
// in place to let another agent pass.
package search

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"cbs-motion-planner/internal/geo"
	"cbs-motion-planner/internal/logging"
	"cbs-motion-planner/internal/obstacle"
)

var (
	// ErrNoPath is returned when the open set empties or every remaining
	// state is past the time horizon.
	ErrNoPath = errors.New("search: no path found")

	// ErrInvalidRequest reports a malformed request or configuration.
	ErrInvalidRequest = errors.New("search: invalid request")
)

// Search outcomes reported to an Observer.
const (
	OutcomeFound     = "found"
	OutcomeNoPath    = "no_path"
	OutcomeCancelled = "cancelled"
	OutcomeInvalid   = "invalid"
)

// Observer receives one call per finished search.
type Observer interface {
	ObserveSearch(outcome string, expanded int, elapsed time.Duration)
}

// Config holds the search parameters shared by every agent.
type Config struct {
	HorizontalStep   float64 `yaml:"horizontal_step"`   // metres per cell in x and y
	VerticalStep     float64 `yaml:"vertical_step"`     // metres per cell in z
	Speed            float64 `yaml:"speed"`             // metres per second
	Tick             float64 `yaml:"tick"`              // seconds per tick
	Diagonal         bool    `yaml:"diagonal"`          // 26-connected moves instead of 6
	ArrivalTolerance float64 `yaml:"arrival_tolerance"` // metres, strict
	Horizon          int     `yaml:"horizon"`           // ticks
	BoundsMargin     float64 `yaml:"bounds_margin"`     // metres around start and goal
	MaxExpanded      int     `yaml:"max_expanded"`      // 0 means unlimited
}

// DefaultConfig returns the planner defaults.
func DefaultConfig() Config {
	return Config{
		HorizontalStep:   5,
		VerticalStep:     5,
		Speed:            20,
		Tick:             1,
		Diagonal:         true,
		ArrivalTolerance: 5,
		Horizon:          300,
		BoundsMargin:     200,
		MaxExpanded:      2_000_000,
	}
}

// Validate checks that the configuration can produce at least one move.
func (c Config) Validate() error {
	switch {
	case !(c.HorizontalStep > 0) || !(c.VerticalStep > 0):
		return fmt.Errorf("%w: grid steps must be positive", ErrInvalidRequest)
	case !(c.Speed > 0) || !(c.Tick > 0):
		return fmt.Errorf("%w: speed and tick must be positive", ErrInvalidRequest)
	case !(c.ArrivalTolerance > 0):
		return fmt.Errorf("%w: arrival tolerance must be positive", ErrInvalidRequest)
	case c.Horizon <= 0:
		return fmt.Errorf("%w: horizon must be positive", ErrInvalidRequest)
	case c.BoundsMargin < 0:
		return fmt.Errorf("%w: bounds margin must not be negative", ErrInvalidRequest)
	case c.MaxExpanded < 0:
		return fmt.Errorf("%w: max expanded must not be negative", ErrInvalidRequest)
	case math.Min(c.HorizontalStep, c.VerticalStep) > c.Speed*c.Tick:
		return fmt.Errorf("%w: a single grid step is longer than one tick of flight", ErrInvalidRequest)
	case c.snapReach() > c.Speed*c.Tick:
		return fmt.Errorf("%w: half a grid cell is longer than one tick of flight", ErrInvalidRequest)
	}
	return nil
}

// snapReach is the farthest an off-lattice point lies from its nearest cell.
func (c Config) snapReach() float64 {
	h, v := c.HorizontalStep/2, c.VerticalStep/2
	return math.Sqrt(2*h*h + v*v)
}

// Request is one single-agent query. Positions are in the local frame the
// obstacle index was built in.
type Request struct {
	AgentID     string
	Start       geo.Vec3
	Goal        geo.Vec3
	MaxAltitude float64
	Obstacles   *obstacle.Index
	Constraints ConstraintSet
	// Bounds limits the horizontal search area. When zero it is derived
	// from start and goal plus Config.BoundsMargin.
	Bounds geo.Bounds
	// GridOrigin anchors the lattice. Requests planned together must share
	// it so equal cells mean equal positions; the zero value anchors the
	// lattice at the frame origin.
	GridOrigin geo.Vec3
}

// Sample is one point of a path. Samples of a path have T = 0, 1, 2, ...
// The sample at T = 0 is the exact start; its Cell is the lattice cell the
// start snaps to. Every later sample sits on the lattice.
type Sample struct {
	Cell     Cell     `json:"cell"`
	Position geo.Vec3 `json:"position"`
	T        int      `json:"t"`
}

// Path is the result of a successful search.
type Path struct {
	AgentID string   `json:"agentId"`
	Samples []Sample `json:"samples"`
	Cost    float64  `json:"cost"`
}

// Empty reports whether the path has no samples.
func (p Path) Empty() bool { return len(p.Samples) == 0 }

// At returns the sample at tick t, if the path covers it.
func (p Path) At(t int) (Sample, bool) {
	if t < 0 || t >= len(p.Samples) {
		return Sample{}, false
	}
	return p.Samples[t], true
}

// Duration returns the number of ticks from the first to the last sample.
func (p Path) Duration() int {
	if p.Empty() {
		return 0
	}
	return p.Samples[len(p.Samples)-1].T
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithObserver reports every finished search to o.
func WithObserver(o Observer) Option {
	return func(s *Searcher) { s.observer = o }
}

// WithLogger sets the logger used for per-search debug records.
func WithLogger(l logging.Logger) Option {
	return func(s *Searcher) { s.logger = l }
}

// Searcher runs space-time A*. It holds no per-search state and is safe for
// concurrent use.
type Searcher struct {
	cfg      Config
	moves    []move
	observer Observer
	logger   logging.Logger
}

// NewSearcher validates cfg and precomputes the move set.
func NewSearcher(cfg Config, opts ...Option) (*Searcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Searcher{
		cfg:    cfg,
		moves:  buildMoves(cfg),
		logger: logging.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Noop()
	}
	return s, nil
}

// Config returns the searcher configuration.
func (s *Searcher) Config() Config { return s.cfg }

// Grid returns the lattice anchored at origin.
func (s *Searcher) Grid(origin geo.Vec3) Grid {
	return Grid{Origin: origin, HorizontalStep: s.cfg.HorizontalStep, VerticalStep: s.cfg.VerticalStep}
}

// Search returns the cheapest path from req.Start to within the arrival
// tolerance of req.Goal that avoids every obstacle and constraint. Identical
// requests produce identical paths.
func (s *Searcher) Search(ctx context.Context, req Request) (Path, error) {
	started := time.Now()
	path, expanded, err := s.search(ctx, req)

	outcome := OutcomeFound
	switch {
	case err == nil:
	case errors.Is(err, ErrNoPath):
		outcome = OutcomeNoPath
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = OutcomeCancelled
	default:
		outcome = OutcomeInvalid
	}
	elapsed := time.Since(started)
	if s.observer != nil {
		s.observer.ObserveSearch(outcome, expanded, elapsed)
	}
	s.logger.Debug(ctx, "search finished",
		logging.String("agent", req.AgentID),
		logging.String("outcome", outcome),
		logging.Int("expanded", expanded),
		logging.Int("constraints", req.Constraints.Len()),
		logging.Duration("elapsed", elapsed))
	return path, err
}

func (s *Searcher) validate(req Request) error {
	switch {
	case req.Obstacles == nil:
		return fmt.Errorf("%w: obstacle index is required", ErrInvalidRequest)
	case !(req.MaxAltitude > 0) || math.IsInf(req.MaxAltitude, 0):
		return fmt.Errorf("%w: max altitude %v must be positive", ErrInvalidRequest, req.MaxAltitude)
	case !finite(req.Start) || !finite(req.Goal):
		return fmt.Errorf("%w: start and goal must be finite", ErrInvalidRequest)
	case req.Start.Z < 0 || req.Start.Z > req.MaxAltitude:
		return fmt.Errorf("%w: start altitude %.1f outside [0, %.1f]", ErrInvalidRequest, req.Start.Z, req.MaxAltitude)
	case req.Goal.Z < 0 || req.Goal.Z > req.MaxAltitude:
		return fmt.Errorf("%w: goal altitude %.1f outside [0, %.1f]", ErrInvalidRequest, req.Goal.Z, req.MaxAltitude)
	}
	return nil
}

func (s *Searcher) search(ctx context.Context, req Request) (Path, int, error) {
	if err := s.validate(req); err != nil {
		return Path{}, 0, err
	}

	grid := s.Grid(req.GridOrigin)
	startCell := grid.Quantize(req.Start)
	position := func(st State) geo.Vec3 {
		if st.T == 0 {
			return req.Start
		}
		return grid.Position(st.Cell)
	}
	reach := s.cfg.Speed * s.cfg.Tick
	bounds := req.Bounds
	if bounds.IsZero() {
		bounds = geo.RouteBounds(req.Start, req.Goal, s.cfg.BoundsMargin, req.MaxAltitude)
	}
	bounds.Min.Z, bounds.Max.Z = 0, req.MaxAltitude

	agent := req.AgentID
	tolerance := s.cfg.ArrivalTolerance
	heuristic := func(p geo.Vec3) float64 {
		// Any point within the tolerance is a goal, so the remaining cost is
		// at least the distance minus the tolerance.
		return math.Max(0, p.DistanceTo(req.Goal)-tolerance)
	}

	// Past the agent's last constrained tick no constraint can apply, so
	// later ticks of the same cell are one state. Tick 0 sits off the
	// lattice and never merges with later ticks.
	collapseAt := max(req.Constraints.LastTick(agent)+1, 1)
	keyOf := func(st State) State {
		if st.T > collapseAt {
			st.T = collapseAt
		}
		return st
	}

	if req.Obstacles.Collides(req.Start) {
		return Path{}, 0, fmt.Errorf("%w: agent %s starts inside an obstacle", ErrNoPath, agent)
	}
	if req.Constraints.Forbids(agent, startCell, 0) {
		return Path{}, 0, fmt.Errorf("%w: agent %s start is forbidden at tick 0", ErrNoPath, agent)
	}

	openSet := &priorityQueue{}
	heap.Init(openSet)
	open := make(map[State]*searchNode)
	closed := make(map[State]struct{})

	var seq uint64
	startNode := &searchNode{State: State{Cell: startCell}, G: 0, H: heuristic(req.Start)}
	startNode.F = startNode.H
	heap.Push(openSet, startNode)
	open[keyOf(startNode.State)] = startNode

	expanded := 0
	for openSet.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return Path{}, expanded, err
		}

		current := heap.Pop(openSet).(*searchNode)
		key := keyOf(current.State)
		delete(open, key)
		closed[key] = struct{}{}
		expanded++

		pos := position(current.State)
		if pos.DistanceTo(req.Goal) < tolerance {
			return buildPath(agent, position, current), expanded, nil
		}
		if current.State.T >= s.cfg.Horizon {
			continue
		}
		if s.cfg.MaxExpanded > 0 && expanded >= s.cfg.MaxExpanded {
			return Path{}, expanded, fmt.Errorf("%w: agent %s exceeded %d expansions", ErrNoPath, agent, s.cfg.MaxExpanded)
		}

		nextT := current.State.T + 1
		for _, m := range s.moves {
			cell := current.State.Cell.Add(m.delta)
			p := grid.Position(cell)

			if !bounds.Contains(p) {
				continue
			}
			if req.Obstacles.Collides(p) {
				continue
			}
			if req.Constraints.Forbids(agent, cell, nextT) {
				continue
			}
			next := State{Cell: cell, T: nextT}
			nextKey := keyOf(next)
			if _, done := closed[nextKey]; done {
				continue
			}

			cost := m.cost
			if current.State.T == 0 {
				// The first hop leaves the exact start for the lattice.
				if cost = p.DistanceTo(pos); cost > reach {
					continue
				}
			}
			tentativeG := current.G + cost
			if existing, ok := open[nextKey]; ok {
				if tentativeG < existing.G {
					// Found a better path to this state
					existing.State = next
					existing.G = tentativeG
					existing.F = tentativeG + existing.H
					existing.Parent = current
					heap.Fix(openSet, existing.index)
				}
				continue
			}

			seq++
			node := &searchNode{State: next, G: tentativeG, H: heuristic(p), Parent: current, seq: seq}
			node.F = node.G + node.H
			heap.Push(openSet, node)
			open[nextKey] = node
		}
	}

	return Path{}, expanded, fmt.Errorf("%w: agent %s within %d ticks", ErrNoPath, agent, s.cfg.Horizon)
}

func buildPath(agent string, position func(State) geo.Vec3, goal *searchNode) Path {
	samples := make([]Sample, goal.State.T+1)
	for node := goal; node != nil; node = node.Parent {
		samples[node.State.T] = Sample{
			Cell:     node.State.Cell,
			Position: position(node.State),
			T:        node.State.T,
		}
	}
	return Path{AgentID: agent, Samples: samples, Cost: goal.G}
}

func finite(v geo.Vec3) bool {
	for _, f := range [...]float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
