package logstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteThenReadAll(t *testing.T) {
	store := NewStore(t.TempDir())
	w, err := store.OpenWriter("run1", "cell1")
	if err != nil {
		t.Fatal(err)
	}
	records := []string{"line one", "line two", "line three"}
	for _, rec := range records {
		if _, err := w.Write([]byte(rec)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := store.ReadAll("run1", "cell1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(records) {
		t.Fatalf("records = %d, want %d", len(got), len(records))
	}
	for i, rec := range records {
		if string(got[i]) != rec {
			t.Errorf("record %d = %q, want %q", i, got[i], rec)
		}
	}
}

func TestReadAllMissingFile(t *testing.T) {
	store := NewStore(t.TempDir())
	got, err := store.ReadAll("nope", "nope")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("records = %d, want 0", len(got))
	}
}

func TestAppendAcrossReopens(t *testing.T) {
	store := NewStore(t.TempDir())
	for i := 0; i < 2; i++ {
		w, err := store.OpenWriter("run1", "cell1")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.WriteSync([]byte("chunk")); err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
	}
	got, err := store.ReadAll("run1", "cell1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("records = %d, want 2", len(got))
	}
}

// A torn tail, as left behind by a crash mid-write, must not break the
// records written before it.
func TestTornTailTolerated(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	w, err := store.OpenWriter("run1", "cell1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("intact")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(dir, "run1", "cell1.log")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	// Half a record header.
	if _, err := f.Write([]byte{0xA9}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got, err := store.ReadAll("run1", "cell1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || string(got[0]) != "intact" {
		t.Errorf("records = %v", got)
	}
}

func TestTail(t *testing.T) {
	store := NewStore(t.TempDir())
	w, err := store.OpenWriter("run1", "cell1")
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range []string{"a", "b", "c", "d"} {
		if _, err := w.Write([]byte(rec)); err != nil {
			t.Fatal(err)
		}
	}
	w.Close()

	got, err := store.Tail("run1", "cell1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || string(got[0]) != "c" || string(got[1]) != "d" {
		t.Errorf("tail = %v", got)
	}
}

func TestWriterSizeAdvances(t *testing.T) {
	store := NewStore(t.TempDir())
	w, err := store.OpenWriter("run1", "cell1")
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	before := w.Size()
	if _, err := w.Write([]byte("abc")); err != nil {
		t.Fatal(err)
	}
	if w.Size() <= before {
		t.Errorf("size did not advance: %d -> %d", before, w.Size())
	}
}
