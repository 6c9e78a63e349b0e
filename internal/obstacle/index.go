package obstacle

import (
	"fmt"

	"github.com/dhconnelly/rtreego"

	"cbs-motion-planner/internal/geo"
)

// pointTolerance is the half-width of the query box used for point lookups.
const pointTolerance = 1e-6

// surfaceMargin widens every projected cylinder so a point the index accepts
// also clears the great-circle predicate in Collides.
const surfaceMargin = 1e-6

// cylinderEntry wraps a projected obstacle for R-tree storage
type cylinderEntry struct {
	obstacle Obstacle
	center   geo.Vec3
	bbox     rtreego.Rect
}

// Bounds implements rtreego.Spatial interface
func (c *cylinderEntry) Bounds() rtreego.Rect {
	return c.bbox
}

func (c *cylinderEntry) covers(v geo.Vec3) bool {
	return v.Z >= 0 && v.Z <= c.obstacle.Height &&
		v.HorizontalDistanceTo(c.center) <= c.obstacle.Radius+surfaceMargin
}

// Index holds an immutable obstacle snapshot projected into one local frame.
// It is safe for concurrent readers.
type Index struct {
	frame   geo.Frame
	tree    *rtreego.Rtree
	entries []*cylinderEntry
}

// NewIndex projects every obstacle into frame and indexes its footprint.
func NewIndex(frame geo.Frame, obstacles []Obstacle) (*Index, error) {
	tree := rtreego.NewTree(2, 25, 50) // 2D, min 25, max 50 entries per node
	entries := make([]*cylinderEntry, 0, len(obstacles))

	for _, o := range obstacles {
		if err := o.Validate(); err != nil {
			return nil, err
		}
		center := frame.Project(o.Center)
		bbox, err := rtreego.NewRect(
			rtreego.Point{center.X - o.Radius, center.Y - o.Radius},
			[]float64{2 * o.Radius, 2 * o.Radius},
		)
		if err != nil {
			return nil, fmt.Errorf("index obstacle %q: %w", o.ID, err)
		}
		entry := &cylinderEntry{obstacle: o, center: center, bbox: bbox}
		tree.Insert(entry)
		entries = append(entries, entry)
	}

	return &Index{frame: frame, tree: tree, entries: entries}, nil
}

// Frame returns the frame the index was projected into.
func (ix *Index) Frame() geo.Frame { return ix.frame }

// Len returns the number of indexed obstacles.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.entries)
}

// Obstacles returns the indexed obstacles in insertion order.
func (ix *Index) Obstacles() []Obstacle {
	if ix == nil {
		return nil
	}
	out := make([]Obstacle, len(ix.entries))
	for i, e := range ix.entries {
		out[i] = e.obstacle
	}
	return out
}

// Collides reports whether the local position v lies inside any obstacle.
func (ix *Index) Collides(v geo.Vec3) bool {
	if ix == nil || len(ix.entries) == 0 || v.Z < 0 {
		return false
	}

	hit := false
	query := rtreego.Point{v.X, v.Y}.ToRect(pointTolerance)
	ix.tree.SearchIntersect(query, func(_ []rtreego.Spatial, obj rtreego.Spatial) (refuse, abort bool) {
		if obj.(*cylinderEntry).covers(v) {
			hit = true
			return true, true
		}
		return true, false
	})
	return hit
}

// QueryRegion returns obstacles whose footprint intersects the horizontal
// extent of b.
func (ix *Index) QueryRegion(b geo.Bounds) []Obstacle {
	if ix == nil || len(ix.entries) == 0 {
		return nil
	}
	width, depth := b.Max.X-b.Min.X, b.Max.Y-b.Min.Y
	if width <= 0 || depth <= 0 {
		return nil
	}
	bbox, err := rtreego.NewRect(rtreego.Point{b.Min.X, b.Min.Y}, []float64{width, depth})
	if err != nil {
		return nil
	}

	results := ix.tree.SearchIntersect(bbox)
	obstacles := make([]Obstacle, 0, len(results))
	for _, item := range results {
		obstacles = append(obstacles, item.(*cylinderEntry).obstacle)
	}
	return obstacles
}
