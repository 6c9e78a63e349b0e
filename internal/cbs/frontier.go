package cbs

import (
	"container/heap"
	"fmt"
	"strings"
	"sync"

	"cbs-motion-planner/internal/search"
)

// Node is a constraint tree node. Children share nothing mutable with their
// parent: the constraint set is copy-on-write and paths are values.
type Node struct {
	ID          uint64
	ParentID    uint64
	Depth       int
	Constraints search.ConstraintSet
	Paths       map[string]search.Path
	Cost        float64
}

func (n *Node) sumCost() float64 {
	total := 0.0
	for _, p := range n.Paths {
		total += p.Cost
	}
	return total
}

// Strategy selects the frontier ordering.
type Strategy string

const (
	// StrategyFIFO expands nodes breadth-first and returns the first
	// conflict-free node found.
	StrategyFIFO Strategy = "fifo"
	// StrategyCost expands the node with the lowest total path cost first.
	StrategyCost Strategy = "cost"
)

// ParseStrategy accepts "fifo" and "cost", case-insensitively. An empty
// string selects FIFO.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyFIFO:
		return StrategyFIFO, nil
	case StrategyCost:
		return StrategyCost, nil
	}
	return "", fmt.Errorf("cbs: unknown frontier strategy %q", s)
}

// Frontier holds the unexpanded nodes of one Solve call. Implementations are
// safe for concurrent use.
type Frontier interface {
	Push(n *Node)
	Pop() (*Node, bool)
	Len() int
}

// NewFrontier returns an empty frontier for strategy.
func NewFrontier(strategy Strategy) Frontier {
	if strategy == StrategyCost {
		return &costFrontier{}
	}
	return &fifoFrontier{}
}

type fifoFrontier struct {
	mu    sync.Mutex
	nodes []*Node
	head  int
}

func (f *fifoFrontier) Push(n *Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes = append(f.nodes, n)
}

func (f *fifoFrontier) Pop() (*Node, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.head == len(f.nodes) {
		return nil, false
	}
	n := f.nodes[f.head]
	f.nodes[f.head] = nil
	f.head++
	if f.head > 64 && f.head*2 >= len(f.nodes) {
		f.nodes = append([]*Node(nil), f.nodes[f.head:]...)
		f.head = 0
	}
	return n, true
}

func (f *fifoFrontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.nodes) - f.head
}

type costFrontier struct {
	mu   sync.Mutex
	heap nodeHeap
}

func (f *costFrontier) Push(n *Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	heap.Push(&f.heap, n)
}

func (f *costFrontier) Pop() (*Node, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.heap.Len() == 0 {
		return nil, false
	}
	return heap.Pop(&f.heap).(*Node), true
}

func (f *costFrontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heap.Len()
}

// nodeHeap orders nodes by total cost, then by creation order.
type nodeHeap []*Node

func (h nodeHeap) Len() int { return len(h) }

func (h nodeHeap) Less(i, j int) bool {
	if h[i].Cost != h[j].Cost {
		return h[i].Cost < h[j].Cost
	}
	return h[i].ID < h[j].ID
}

func (h nodeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *nodeHeap) Push(x any) { *h = append(*h, x.(*Node)) }

func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	node := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return node
}
