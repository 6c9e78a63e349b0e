package search

import (
	"math"

	"cbs-motion-planner/internal/geo"
)

// Cell is a quantized position on the lattice.
type Cell struct {
	X, Y, Z int32
}

// Add returns c + other.
func (c Cell) Add(other Cell) Cell {
	return Cell{X: c.X + other.X, Y: c.Y + other.Y, Z: c.Z + other.Z}
}

// State is a search node key: a cell at a tick.
type State struct {
	Cell Cell
	T    int
}

// Grid maps cells to local positions. Searches that share an origin share a
// lattice, so two agents in the same cell are at the same position.
type Grid struct {
	Origin         geo.Vec3
	HorizontalStep float64
	VerticalStep   float64
}

// Position returns the local position of a cell.
func (g Grid) Position(c Cell) geo.Vec3 {
	return geo.Vec3{
		X: g.Origin.X + float64(c.X)*g.HorizontalStep,
		Y: g.Origin.Y + float64(c.Y)*g.HorizontalStep,
		Z: g.Origin.Z + float64(c.Z)*g.VerticalStep,
	}
}

// Quantize returns the cell nearest to v.
func (g Grid) Quantize(v geo.Vec3) Cell {
	return Cell{
		X: int32(math.Round((v.X - g.Origin.X) / g.HorizontalStep)),
		Y: int32(math.Round((v.Y - g.Origin.Y) / g.HorizontalStep)),
		Z: int32(math.Round((v.Z - g.Origin.Z) / g.VerticalStep)),
	}
}

type move struct {
	delta Cell
	cost  float64
}

// buildMoves returns the fixed, ordered move set. Stay comes first and costs
// nothing. Moves longer than reach are dropped.
func buildMoves(cfg Config) []move {
	reach := cfg.Speed * cfg.Tick
	moves := []move{{delta: Cell{}, cost: 0}}

	add := func(dx, dy, dz int32) {
		x := float64(dx) * cfg.HorizontalStep
		y := float64(dy) * cfg.HorizontalStep
		z := float64(dz) * cfg.VerticalStep
		length := math.Sqrt(x*x + y*y + z*z)
		if length <= reach {
			moves = append(moves, move{delta: Cell{X: dx, Y: dy, Z: dz}, cost: length})
		}
	}

	if !cfg.Diagonal {
		add(1, 0, 0)
		add(-1, 0, 0)
		add(0, 1, 0)
		add(0, -1, 0)
		add(0, 0, 1)
		add(0, 0, -1)
		return moves
	}

	for dz := int32(-1); dz <= 1; dz++ {
		for dy := int32(-1); dy <= 1; dy++ {
			for dx := int32(-1); dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				add(dx, dy, dz)
			}
		}
	}
	return moves
}
