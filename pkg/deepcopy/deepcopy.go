// Package deepcopy holds the small copy helpers the workflow model needs
// when expanding matrices: cells must never share mutable state.
package deepcopy

// Slice returns a copy of orig. Element values are copied by assignment.
func Slice[T any](orig []T) []T {
	if orig == nil {
		return nil
	}
	c := make([]T, len(orig))
	copy(c, orig)
	return c
}

// Map returns a copy of orig. Values are copied by assignment.
func Map[K comparable, V any](orig map[K]V) map[K]V {
	if orig == nil {
		return nil
	}
	c := make(map[K]V, len(orig))
	for k, v := range orig {
		c[k] = v
	}
	return c
}
