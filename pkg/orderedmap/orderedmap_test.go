package orderedmap

import (
	"encoding/json"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestSetPreservesInsertionOrder(t *testing.T) {
	om := New[string, int]()
	om.Set("c", 3)
	om.Set("a", 1)
	om.Set("b", 2)
	om.Set("a", 10)

	want := []string{"c", "a", "b"}
	got := om.Keys()
	if len(got) != len(want) {
		t.Fatalf("got %d keys, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if om.Get("a") != 10 {
		t.Errorf("Get(a) = %d, want 10", om.Get("a"))
	}
}

func TestDelete(t *testing.T) {
	om := New[string, int]()
	om.Set("a", 1)
	om.Set("b", 2)
	om.Set("c", 3)
	om.Delete("b")

	if om.Exists("b") {
		t.Error("b still exists after delete")
	}
	want := []string{"a", "c"}
	for i, k := range om.Keys() {
		if k != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, k, want[i])
		}
	}
}

func TestUnmarshalYAMLKeepsDocumentOrder(t *testing.T) {
	src := `
lint: 1
docstyle: 2
test: 3
`
	var om OrderedMap[string, int]
	if err := yaml.Unmarshal([]byte(src), &om); err != nil {
		t.Fatal(err)
	}
	want := []string{"lint", "docstyle", "test"}
	for i, k := range om.Keys() {
		if k != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, k, want[i])
		}
	}
}

func TestUnmarshalYAMLRejectsSequence(t *testing.T) {
	var om OrderedMap[string, int]
	if err := yaml.Unmarshal([]byte("[1, 2]"), &om); err == nil {
		t.Fatal("expected error for sequence node")
	}
}

func TestFromMapSorted(t *testing.T) {
	om := FromMap(map[string]int{"test": 3, "lint": 1, "docstyle": 2})
	om.Sort()

	want := []string{"docstyle", "lint", "test"}
	for i, k := range om.Keys() {
		if k != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, k, want[i])
		}
	}
	if om.Get("lint") != 1 {
		t.Errorf("Get(lint) = %d, want 1", om.Get("lint"))
	}
}

func TestMarshalJSONOrder(t *testing.T) {
	om := New[string, string]()
	om.Set("python-version", "3.6")
	om.Set("os", "ubuntu")

	b, err := json.Marshal(om)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"python-version":"3.6","os":"ubuntu"}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	om := New[string, int]()
	om.Set("b", 2)
	om.Set("a", 1)

	b, err := json.Marshal(om)
	if err != nil {
		t.Fatal(err)
	}
	var back OrderedMap[string, int]
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	want := []string{"b", "a"}
	for i, k := range back.Keys() {
		if k != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, k, want[i])
		}
	}
}

func TestDeepCopyIsolation(t *testing.T) {
	om := New[string, int]()
	om.Set("a", 1)
	cp := om.DeepCopy()
	cp.Set("b", 2)
	cp.Set("a", 99)

	if om.Exists("b") {
		t.Error("copy mutation leaked into original")
	}
	if om.Get("a") != 1 {
		t.Errorf("original a = %d, want 1", om.Get("a"))
	}
}

func TestMerge(t *testing.T) {
	a := New[string, int]()
	a.Set("x", 1)
	b := New[string, int]()
	b.Set("y", 2)
	b.Set("x", 9)

	a.Merge(b)
	if a.Get("x") != 9 || a.Get("y") != 2 {
		t.Errorf("merge result x=%d y=%d", a.Get("x"), a.Get("y"))
	}
	want := []string{"x", "y"}
	for i, k := range a.Keys() {
		if k != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, k, want[i])
		}
	}
}
