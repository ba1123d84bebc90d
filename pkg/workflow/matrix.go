package workflow

import (
	"regexp"
	"strings"

	"github.com/gantryci/gantry/pkg/orderedmap"
)

// Cell is one combination of matrix values. A job without a matrix expands
// to a single cell with no values.
type Cell struct {
	Index  int                                   `json:"index"`
	Values orderedmap.OrderedMap[string, string] `json:"values"`
}

// Expand fans the strategy out into its cells. Axes combine in declaration
// order with the last axis varying fastest, exclude entries drop every cell
// they fully match, and include entries either extend the cells whose axis
// values they match or append a new cell when they match none.
func Expand(s *Strategy) []Cell {
	if s == nil || s.Matrix == nil {
		return []Cell{{Values: orderedmap.New[string, string]()}}
	}
	m := s.Matrix

	cells := []Cell{{Values: orderedmap.New[string, string]()}}
	_ = m.Axes.Range(func(axis string, values []string) error {
		next := make([]Cell, 0, len(cells)*len(values))
		for _, cell := range cells {
			for _, v := range values {
				grown := Cell{Values: cell.Values.DeepCopy()}
				grown.Values.Set(axis, v)
				next = append(next, grown)
			}
		}
		cells = next
		return nil
	})
	if m.Axes.Len() == 0 {
		cells = cells[:0]
	}

	if len(m.Exclude) > 0 {
		kept := cells[:0]
		for _, cell := range cells {
			if !excluded(cell, m.Exclude) {
				kept = append(kept, cell)
			}
		}
		cells = kept
	}

	for _, inc := range m.Include {
		matched := false
		for i := range cells {
			if includeMatches(cells[i], inc, m.Axes) {
				matched = true
				for k, v := range inc {
					cells[i].Values.Set(k, v)
				}
			}
		}
		if !matched {
			extra := Cell{Values: orderedmap.New[string, string]()}
			_ = m.Axes.Range(func(axis string, _ []string) error {
				if v, ok := inc[axis]; ok {
					extra.Values.Set(axis, v)
				}
				return nil
			})
			for k, v := range inc {
				if !extra.Values.Exists(k) {
					extra.Values.Set(k, v)
				}
			}
			cells = append(cells, extra)
		}
	}

	for i := range cells {
		cells[i].Index = i
	}
	return cells
}

func excluded(cell Cell, excludes []map[string]string) bool {
	for _, ex := range excludes {
		if len(ex) == 0 {
			continue
		}
		all := true
		for k, v := range ex {
			if !cell.Values.Exists(k) || cell.Values.Get(k) != v {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// includeMatches reports whether every include key that names a declared
// axis agrees with the cell. Keys outside the axes never disqualify a
// match; they are the payload the include adds.
func includeMatches(cell Cell, inc map[string]string, axes orderedmap.OrderedMap[string, []string]) bool {
	overlap := false
	for k, v := range inc {
		if !axes.Exists(k) {
			continue
		}
		overlap = true
		if cell.Values.Get(k) != v {
			return false
		}
	}
	return overlap
}

// Label renders the cell values for run output, e.g. "3.6" for a single
// axis or "3.6, ubuntu-latest" for several.
func (c Cell) Label() string {
	if c.Values.Len() == 0 {
		return ""
	}
	return strings.Join(c.Values.Values(), ", ")
}

var envChar = regexp.MustCompile(`[^A-Z0-9_]`)

// Env exposes the cell values to step processes as GANTRY_MATRIX_<AXIS>
// variables, with the axis name upper-cased and illegal characters mapped
// to underscores.
func (c Cell) Env() map[string]string {
	env := make(map[string]string, c.Values.Len())
	_ = c.Values.Range(func(axis, value string) error {
		key := "GANTRY_MATRIX_" + envChar.ReplaceAllString(strings.ToUpper(axis), "_")
		env[key] = value
		return nil
	})
	return env
}
