package runner

import (
	"testing"

	"github.com/gantryci/gantry/pkg/logger"
	"github.com/gantryci/gantry/pkg/workflow"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore("", logger.InitLogger("error", "test"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreSaveAndGet(t *testing.T) {
	s := testStore(t)
	run := &workflow.Run{ID: "r1", WorkflowName: "ci", Status: workflow.StatusRunning, CreatedAt: 100}
	if err := s.SaveRun(run); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetRun("r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.WorkflowName != "ci" || got.Status != workflow.StatusRunning {
		t.Errorf("got %+v", got)
	}
}

func TestStoreActiveRuns(t *testing.T) {
	s := testStore(t)
	for _, run := range []*workflow.Run{
		{ID: "done", Status: workflow.StatusSuccess, CreatedAt: 1},
		{ID: "live", Status: workflow.StatusRunning, CreatedAt: 2},
		{ID: "queued", Status: workflow.StatusPending, CreatedAt: 3},
	} {
		if err := s.SaveRun(run); err != nil {
			t.Fatal(err)
		}
	}
	active, err := s.ActiveRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2", len(active))
	}
	ids := map[string]bool{}
	for _, r := range active {
		ids[r.ID] = true
	}
	if !ids["live"] || !ids["queued"] {
		t.Errorf("active ids = %v", ids)
	}
}

func TestStoreDelete(t *testing.T) {
	s := testStore(t)
	if err := s.SaveRun(&workflow.Run{ID: "r1", Status: workflow.StatusPending}); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteRun("r1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetRun("r1"); err == nil {
		t.Fatal("expected error after delete")
	}
}
