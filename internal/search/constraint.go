package search

import (
	"fmt"
	"sort"
)

// Constraint forbids one agent from occupying a cell at a tick.
type Constraint struct {
	AgentID string `json:"agentId"`
	Cell    Cell   `json:"cell"`
	T       int    `json:"t"`
}

func (c Constraint) String() string {
	return fmt.Sprintf("%s@(%d,%d,%d)t%d", c.AgentID, c.Cell.X, c.Cell.Y, c.Cell.Z, c.T)
}

// ConstraintSet is an immutable set of constraints. With returns a new set,
// so a parent's set can be shared by its children without copying on read.
// The zero value is an empty set.
type ConstraintSet struct {
	set  map[Constraint]struct{}
	last map[string]int
}

// NewConstraintSet builds a set from cs.
func NewConstraintSet(cs ...Constraint) ConstraintSet {
	var s ConstraintSet
	for _, c := range cs {
		s = s.With(c)
	}
	return s
}

// With returns a copy of s that also contains c.
func (s ConstraintSet) With(c Constraint) ConstraintSet {
	next := ConstraintSet{
		set:  make(map[Constraint]struct{}, len(s.set)+1),
		last: make(map[string]int, len(s.last)+1),
	}
	for k := range s.set {
		next.set[k] = struct{}{}
	}
	for k, v := range s.last {
		next.last[k] = v
	}
	next.set[c] = struct{}{}
	if t, ok := next.last[c.AgentID]; !ok || c.T > t {
		next.last[c.AgentID] = c.T
	}
	return next
}

// Forbids reports whether agent may not be at cell at tick t.
func (s ConstraintSet) Forbids(agent string, cell Cell, t int) bool {
	if len(s.set) == 0 {
		return false
	}
	_, ok := s.set[Constraint{AgentID: agent, Cell: cell, T: t}]
	return ok
}

// LastTick returns the latest constrained tick for agent, or -1.
func (s ConstraintSet) LastTick(agent string) int {
	if t, ok := s.last[agent]; ok {
		return t
	}
	return -1
}

// Len returns the number of constraints.
func (s ConstraintSet) Len() int { return len(s.set) }

// List returns the constraints ordered by agent, tick and cell.
func (s ConstraintSet) List() []Constraint {
	out := make([]Constraint, 0, len(s.set))
	for c := range s.set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.AgentID != b.AgentID {
			return a.AgentID < b.AgentID
		}
		if a.T != b.T {
			return a.T < b.T
		}
		if a.Cell.X != b.Cell.X {
			return a.Cell.X < b.Cell.X
		}
		if a.Cell.Y != b.Cell.Y {
			return a.Cell.Y < b.Cell.Y
		}
		return a.Cell.Z < b.Cell.Z
	})
	return out
}
