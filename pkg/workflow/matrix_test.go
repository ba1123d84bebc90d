package workflow

import (
	"reflect"
	"testing"

	"github.com/gantryci/gantry/pkg/orderedmap"
)

func axisMatrix(axes ...[2]any) *Strategy {
	m := &Matrix{Axes: orderedmap.New[string, []string]()}
	for _, a := range axes {
		m.Axes.Set(a[0].(string), a[1].([]string))
	}
	return &Strategy{Matrix: m}
}

func cellValues(cells []Cell) [][]string {
	out := make([][]string, 0, len(cells))
	for _, c := range cells {
		out = append(out, c.Values.Values())
	}
	return out
}

func TestExpandSingleAxis(t *testing.T) {
	cells := Expand(axisMatrix([2]any{"python-version", []string{"3.6", "3.7", "3.8"}}))
	if len(cells) != 3 {
		t.Fatalf("cells = %d, want 3", len(cells))
	}
	want := [][]string{{"3.6"}, {"3.7"}, {"3.8"}}
	if got := cellValues(cells); !reflect.DeepEqual(got, want) {
		t.Errorf("values = %v, want %v", got, want)
	}
	for i, c := range cells {
		if c.Index != i {
			t.Errorf("cell %d has index %d", i, c.Index)
		}
	}
}

func TestExpandTwoAxesOrder(t *testing.T) {
	cells := Expand(axisMatrix(
		[2]any{"os", []string{"linux", "darwin"}},
		[2]any{"python-version", []string{"3.6", "3.7"}},
	))
	want := [][]string{
		{"linux", "3.6"},
		{"linux", "3.7"},
		{"darwin", "3.6"},
		{"darwin", "3.7"},
	}
	if got := cellValues(cells); !reflect.DeepEqual(got, want) {
		t.Errorf("values = %v, want %v", got, want)
	}
}

func TestExpandNoMatrix(t *testing.T) {
	cells := Expand(nil)
	if len(cells) != 1 {
		t.Fatalf("cells = %d, want 1", len(cells))
	}
	if cells[0].Values.Len() != 0 {
		t.Errorf("cell values = %v, want empty", cells[0].Values.Keys())
	}
	if cells[0].Label() != "" {
		t.Errorf("label = %q, want empty", cells[0].Label())
	}
}

func TestExpandExclude(t *testing.T) {
	s := axisMatrix(
		[2]any{"os", []string{"linux", "darwin"}},
		[2]any{"python-version", []string{"3.6", "3.7"}},
	)
	s.Matrix.Exclude = []map[string]string{{"os": "darwin", "python-version": "3.6"}}
	cells := Expand(s)
	want := [][]string{
		{"linux", "3.6"},
		{"linux", "3.7"},
		{"darwin", "3.7"},
	}
	if got := cellValues(cells); !reflect.DeepEqual(got, want) {
		t.Errorf("values = %v, want %v", got, want)
	}
}

func TestExpandIncludeExtends(t *testing.T) {
	s := axisMatrix([2]any{"python-version", []string{"3.6", "3.7"}})
	s.Matrix.Include = []map[string]string{{"python-version": "3.7", "experimental": "true"}}
	cells := Expand(s)
	if len(cells) != 2 {
		t.Fatalf("cells = %d, want 2", len(cells))
	}
	if cells[0].Values.Exists("experimental") {
		t.Error("include leaked into non-matching cell")
	}
	if got := cells[1].Values.Get("experimental"); got != "true" {
		t.Errorf("experimental = %q, want true", got)
	}
}

func TestExpandIncludeAppends(t *testing.T) {
	s := axisMatrix([2]any{"python-version", []string{"3.6"}})
	s.Matrix.Include = []map[string]string{{"python-version": "3.9"}}
	cells := Expand(s)
	if len(cells) != 2 {
		t.Fatalf("cells = %d, want 2", len(cells))
	}
	if got := cells[1].Values.Get("python-version"); got != "3.9" {
		t.Errorf("appended cell value = %q, want 3.9", got)
	}
}

func TestCellLabel(t *testing.T) {
	cells := Expand(axisMatrix(
		[2]any{"python-version", []string{"3.6"}},
		[2]any{"os", []string{"ubuntu-latest"}},
	))
	if got := cells[0].Label(); got != "3.6, ubuntu-latest" {
		t.Errorf("label = %q", got)
	}
}

func TestCellEnv(t *testing.T) {
	cells := Expand(axisMatrix([2]any{"python-version", []string{"3.6"}}))
	env := cells[0].Env()
	if got := env["GANTRY_MATRIX_PYTHON_VERSION"]; got != "3.6" {
		t.Errorf("GANTRY_MATRIX_PYTHON_VERSION = %q, want 3.6", got)
	}
}
