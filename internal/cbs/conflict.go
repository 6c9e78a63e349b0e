package cbs

import (
	"fmt"

	"cbs-motion-planner/internal/geo"
	"cbs-motion-planner/internal/search"
)

// Conflict witnesses two agents closer than the safety distance at one tick.
// Missing marks an agent without any path; such a conflict cannot be
// resolved by adding constraints.
type Conflict struct {
	AgentA    string      `json:"agentA"`
	AgentB    string      `json:"agentB,omitempty"`
	T         int         `json:"t"`
	CellA     search.Cell `json:"cellA"`
	CellB     search.Cell `json:"cellB"`
	PositionA geo.Vec3    `json:"positionA"`
	PositionB geo.Vec3    `json:"positionB"`
	Distance  float64     `json:"distance"`
	Missing   bool        `json:"missing,omitempty"`
}

func (c Conflict) String() string {
	if c.Missing {
		return fmt.Sprintf("agent %s has no path", c.AgentA)
	}
	return fmt.Sprintf("%s/%s at t=%d (%.2fm)", c.AgentA, c.AgentB, c.T, c.Distance)
}

// DetectConflict returns the first conflict among paths. Pairs are scanned
// in order (a before b for every a earlier in order), then by agent a's
// ticks. A tick that agent b's path does not cover is not compared.
func DetectConflict(order []string, paths map[string]search.Path, safety float64) (Conflict, bool) {
	for _, id := range order {
		if paths[id].Empty() {
			return Conflict{AgentA: id, T: -1, Missing: true}, true
		}
	}

	for i := 0; i < len(order); i++ {
		a := paths[order[i]]
		for j := i + 1; j < len(order); j++ {
			b := paths[order[j]]
			for _, sa := range a.Samples {
				sb, ok := b.At(sa.T)
				if !ok {
					continue
				}
				if d := sa.Position.DistanceTo(sb.Position); d < safety {
					return Conflict{
						AgentA:    order[i],
						AgentB:    order[j],
						T:         sa.T,
						CellA:     sa.Cell,
						CellB:     sb.Cell,
						PositionA: sa.Position,
						PositionB: sb.Position,
						Distance:  d,
					}, true
				}
			}
		}
	}
	return Conflict{}, false
}

// ValidateSolution checks that every agent has a path and that no two paths
// come closer than safety at any shared tick.
func ValidateSolution(order []string, paths map[string]search.Path, safety float64) error {
	if c, found := DetectConflict(order, paths, safety); found {
		return fmt.Errorf("%w: %s", ErrUnresolvedConflict, c)
	}
	return nil
}
