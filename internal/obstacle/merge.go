package obstacle

// containmentTolerance absorbs rounding when comparing radii in metres.
const containmentTolerance = 1e-6

// RemoveContained removes cylinders that are fully contained within another
// cylinder: horizontally enclosed and no taller. Of two identical cylinders
// the first one is kept. Order of the survivors is preserved.
func RemoveContained(obstacles []Obstacle) []Obstacle {
	if len(obstacles) <= 1 {
		return obstacles
	}

	contained := make([]bool, len(obstacles))
	for i := 0; i < len(obstacles); i++ {
		if contained[i] {
			continue
		}
		for j := 0; j < len(obstacles); j++ {
			if i == j || contained[j] {
				continue
			}

			// Check if cylinder i is contained in cylinder j
			if isContainedIn(obstacles[i], obstacles[j]) {
				if i < j && isContainedIn(obstacles[j], obstacles[i]) {
					contained[j] = true
					continue
				}
				contained[i] = true
				break
			}

			// Check if cylinder j is contained in cylinder i
			if isContainedIn(obstacles[j], obstacles[i]) {
				contained[j] = true
			}
		}
	}

	result := make([]Obstacle, 0, len(obstacles))
	for i, o := range obstacles {
		if !contained[i] {
			result = append(result, o)
		}
	}
	return result
}

// isContainedIn checks if cylinder a is fully contained within cylinder b
func isContainedIn(a, b Obstacle) bool {
	if a.Height > b.Height {
		return false
	}
	d := a.Center.DistanceMeters(b.Center)
	return d+a.Radius <= b.Radius+containmentTolerance
}
