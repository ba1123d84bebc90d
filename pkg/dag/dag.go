// Package dag models the dependency graph between jobs of a workflow. Edges
// point from a prerequisite to its dependents, so a topological sort yields
// a valid execution order.
package dag

import "errors"

var (
	ErrVertexExist        = errors.New("dag: vertex already exists")
	ErrVertexTailNotExist = errors.New("dag: tail vertex does not exist")
	ErrVertexHeadNotExist = errors.New("dag: head vertex does not exist")
	ErrEdgeExist          = errors.New("dag: edge already exists")
	ErrCycleExist         = errors.New("dag: cycle detected")
)

type Dag struct {
	nodes     []string
	adjacency map[string][]string
	visited   map[string]bool
}

func NewGraph() *Dag {
	return &Dag{
		nodes:     make([]string, 0),
		adjacency: make(map[string][]string),
		visited:   make(map[string]bool),
	}
}

func (g *Dag) AddVertex(u string) error {
	for _, node := range g.nodes {
		if node == u {
			return ErrVertexExist
		}
	}
	g.nodes = append(g.nodes, u)
	return nil
}

// AddEdge records that u must complete before v.
func (g *Dag) AddEdge(u, v string) error {
	existTail := false
	existHead := false
	for _, node := range g.nodes {
		if u == node {
			existTail = true
		}
		if v == node {
			existHead = true
		}
	}
	if !existTail {
		return ErrVertexTailNotExist
	}
	if !existHead {
		return ErrVertexHeadNotExist
	}

	for _, node := range g.adjacency[u] {
		if node == v {
			return ErrEdgeExist
		}
	}

	g.adjacency[u] = append(g.adjacency[u], v)
	return nil
}

func (g *Dag) hasCycle(node string) bool {
	g.visited[node] = true
	for _, neighbor := range g.adjacency[node] {
		if g.visited[neighbor] {
			return true
		} else if g.hasCycle(neighbor) {
			return true
		}
	}
	g.visited[node] = false
	return false
}

// Validate reports ErrCycleExist if the graph contains a cycle.
func (g *Dag) Validate() error {
	g.visited = make(map[string]bool)
	for _, node := range g.nodes {
		if g.hasCycle(node) {
			return ErrCycleExist
		}
	}
	return nil
}

// Sort returns the vertices in topological order. Vertices whose
// prerequisites are all satisfied are emitted in insertion order, so two
// independent jobs keep the order they were declared in. Returns
// ErrCycleExist if no such order exists.
func (g *Dag) Sort() ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	for _, node := range g.nodes {
		indegree[node] = 0
	}
	for _, targets := range g.adjacency {
		for _, v := range targets {
			indegree[v]++
		}
	}

	order := make([]string, 0, len(g.nodes))
	emitted := make(map[string]bool, len(g.nodes))
	for len(order) < len(g.nodes) {
		progressed := false
		for _, node := range g.nodes {
			if emitted[node] || indegree[node] != 0 {
				continue
			}
			emitted[node] = true
			order = append(order, node)
			for _, v := range g.adjacency[node] {
				indegree[v]--
			}
			progressed = true
		}
		if !progressed {
			return nil, ErrCycleExist
		}
	}
	return order, nil
}
