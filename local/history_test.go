package local

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/gantryci/gantry/pkg/logger"
	"github.com/gantryci/gantry/pkg/workflow"
)

func testHistory(t *testing.T) *History {
	t.Helper()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"), logger.InitLogger("error", "history-test"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func historyRun(id string, createdAt int64) *workflow.Run {
	return &workflow.Run{
		ID:           id,
		WorkflowName: "ci",
		Status:       workflow.StatusSuccess,
		CreatedAt:    createdAt,
	}
}

func TestHistoryListNewestFirst(t *testing.T) {
	h := testHistory(t)
	for i := 1; i <= 3; i++ {
		if err := h.Append(historyRun(fmt.Sprintf("run-%d", i), int64(i*100))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	runs, err := h.List(0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	if runs[0].ID != "run-3" || runs[2].ID != "run-1" {
		t.Fatalf("wrong order: %s .. %s", runs[0].ID, runs[2].ID)
	}

	capped, err := h.List(2)
	if err != nil {
		t.Fatalf("list capped: %v", err)
	}
	if len(capped) != 2 || capped[0].ID != "run-3" {
		t.Fatalf("capped list wrong: %d entries", len(capped))
	}
}

func TestHistoryPrefixLookup(t *testing.T) {
	h := testHistory(t)
	if err := h.Append(historyRun("abc123", 100)); err != nil {
		t.Fatal(err)
	}
	if err := h.Append(historyRun("abd456", 200)); err != nil {
		t.Fatal(err)
	}

	run, err := h.Get("abc")
	if err != nil {
		t.Fatalf("get by prefix: %v", err)
	}
	if run.ID != "abc123" {
		t.Fatalf("got %s", run.ID)
	}

	if _, err := h.Get("ab"); err == nil {
		t.Fatal("ambiguous prefix should error")
	}
	if _, err := h.Get("zzz"); err != ErrNotFound {
		t.Fatalf("missing run: got %v, want ErrNotFound", err)
	}
}

func TestHistoryPrunesOldest(t *testing.T) {
	h := testHistory(t)
	for i := 0; i < MaxHistory+5; i++ {
		if err := h.Append(historyRun(fmt.Sprintf("run-%04d", i), int64(i))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	runs, err := h.List(0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != MaxHistory {
		t.Fatalf("history holds %d runs, want %d", len(runs), MaxHistory)
	}
	// The newest survives, the first five are gone.
	if runs[0].ID != fmt.Sprintf("run-%04d", MaxHistory+4) {
		t.Fatalf("newest is %s", runs[0].ID)
	}
	if _, err := h.Get("run-0004"); err != ErrNotFound {
		t.Fatalf("pruned run still present: %v", err)
	}
}
