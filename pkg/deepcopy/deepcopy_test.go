package deepcopy

import "testing"

func TestSliceIsolated(t *testing.T) {
	orig := []string{"3.6", "3.7", "3.8"}
	c := Slice(orig)
	c[1] = "3.9"
	if orig[1] != "3.7" {
		t.Errorf("original mutated: got %q, want %q", orig[1], "3.7")
	}
	if Slice[string](nil) != nil {
		t.Error("Slice(nil) should stay nil")
	}
}

func TestMapIsolated(t *testing.T) {
	orig := map[string]string{"python-version": "3.6"}
	c := Map(orig)
	c["python-version"] = "3.8"
	if orig["python-version"] != "3.6" {
		t.Errorf("original mutated: got %q, want %q", orig["python-version"], "3.6")
	}
	if Map[string, string](nil) != nil {
		t.Error("Map(nil) should stay nil")
	}
}
