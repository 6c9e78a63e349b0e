package search

// searchNode represents a node in the space-time A* search
type searchNode struct {
	State  State
	G      float64 // Cost from start to this node
	H      float64 // Heuristic cost from this node to the goal
	F      float64 // Total cost (G + H)
	Parent *searchNode
	seq    uint64 // insertion order, the final tie-break
	index  int    // Index in the heap
}

// priorityQueue implements heap.Interface for the A* open set. Ties on F go
// to the node closer to the goal, then to the earlier insertion.
type priorityQueue []*searchNode

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	a, b := pq[i], pq[j]
	if a.F != b.F {
		return a.F < b.F
	}
	if a.H != b.H {
		return a.H < b.H
	}
	return a.seq < b.seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	n := len(*pq)
	node := x.(*searchNode)
	node.index = n
	*pq = append(*pq, node)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	node := old[n-1]
	old[n-1] = nil
	node.index = -1
	*pq = old[0 : n-1]
	return node
}
