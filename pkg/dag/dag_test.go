package dag

import (
	"errors"
	"testing"
)

func build(t *testing.T, nodes []string, edges [][2]string) *Dag {
	t.Helper()
	g := NewGraph()
	for _, n := range nodes {
		if err := g.AddVertex(n); err != nil {
			t.Fatal(err)
		}
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			t.Fatal(err)
		}
	}
	return g
}

func TestAddVertexDuplicate(t *testing.T) {
	g := NewGraph()
	if err := g.AddVertex("a"); err != nil {
		t.Fatal(err)
	}
	if err := g.AddVertex("a"); !errors.Is(err, ErrVertexExist) {
		t.Fatalf("got %v, want ErrVertexExist", err)
	}
}

func TestAddEdgeMissingVertex(t *testing.T) {
	g := NewGraph()
	if err := g.AddVertex("a"); err != nil {
		t.Fatal(err)
	}
	if err := g.AddEdge("a", "b"); !errors.Is(err, ErrVertexHeadNotExist) {
		t.Fatalf("got %v, want ErrVertexHeadNotExist", err)
	}
	if err := g.AddEdge("b", "a"); !errors.Is(err, ErrVertexTailNotExist) {
		t.Fatalf("got %v, want ErrVertexTailNotExist", err)
	}
}

func TestAddEdgeDuplicate(t *testing.T) {
	g := build(t, []string{"a", "b"}, [][2]string{{"a", "b"}})
	if err := g.AddEdge("a", "b"); !errors.Is(err, ErrEdgeExist) {
		t.Fatalf("got %v, want ErrEdgeExist", err)
	}
}

func TestValidateDetectsCycle(t *testing.T) {
	g := build(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}})
	if err := g.Validate(); !errors.Is(err, ErrCycleExist) {
		t.Fatalf("got %v, want ErrCycleExist", err)
	}
}

func TestValidateAcceptsAcyclic(t *testing.T) {
	g := build(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"a", "c"}, {"b", "c"}})
	if err := g.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestSortRespectsEdges(t *testing.T) {
	g := build(t, []string{"test", "lint", "deploy"}, [][2]string{
		{"lint", "test"},
		{"test", "deploy"},
	})
	order, err := g.Sort()
	if err != nil {
		t.Fatal(err)
	}
	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	if pos["lint"] > pos["test"] || pos["test"] > pos["deploy"] {
		t.Errorf("order %v violates edges", order)
	}
}

func TestSortKeepsDeclarationOrderForIndependentNodes(t *testing.T) {
	g := build(t, []string{"c", "a", "b"}, nil)
	order, err := g.Sort()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"c", "a", "b"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestSortCycle(t *testing.T) {
	g := build(t, []string{"a", "b"}, [][2]string{{"a", "b"}, {"b", "a"}})
	if _, err := g.Sort(); !errors.Is(err, ErrCycleExist) {
		t.Fatalf("got %v, want ErrCycleExist", err)
	}
}
