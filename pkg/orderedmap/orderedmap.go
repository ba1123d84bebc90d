// Package orderedmap provides a generic insertion-ordered map. Workflow
// files are YAML mappings whose declaration order is load-bearing (jobs run
// and matrix axes expand in the order the author wrote them), so every
// mapping in the model goes through this type instead of a plain map.
package orderedmap

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gantryci/gantry/pkg/deepcopy"
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

type OrderedMap[K constraints.Ordered, V any] struct {
	keys   []K
	values map[K]V
}

func New[K constraints.Ordered, V any]() OrderedMap[K, V] {
	return OrderedMap[K, V]{
		keys:   make([]K, 0),
		values: make(map[K]V),
	}
}

// FromMap builds an OrderedMap from a plain map. The key order is the map
// iteration order and therefore unspecified; callers that care about order
// should Sort afterwards or build the map with Set calls.
func FromMap[K constraints.Ordered, V any](m map[K]V) OrderedMap[K, V] {
	om := New[K, V]()
	om.values = m
	om.keys = maps.Keys(m)
	return om
}

func (om *OrderedMap[K, V]) Len() int {
	return len(om.keys)
}

func (om *OrderedMap[K, V]) Set(key K, value V) {
	if om.values == nil {
		om.values = make(map[K]V)
	}
	if _, ok := om.values[key]; !ok {
		om.keys = append(om.keys, key)
	}
	om.values[key] = value
}

func (om *OrderedMap[K, V]) Get(key K) V {
	value, ok := om.values[key]
	if !ok {
		var zero V
		return zero
	}
	return value
}

func (om *OrderedMap[K, V]) Exists(key K) bool {
	_, ok := om.values[key]
	return ok
}

func (om *OrderedMap[K, V]) Delete(key K) {
	if _, ok := om.values[key]; !ok {
		return
	}
	delete(om.values, key)
	i := slices.Index(om.keys, key)
	om.keys = append(om.keys[:i], om.keys[i+1:]...)
}

func (om *OrderedMap[K, V]) Sort() {
	slices.Sort(om.keys)
}

// Keys returns the keys in insertion order. The slice is shared with the
// map; callers must not mutate it.
func (om *OrderedMap[K, V]) Keys() []K {
	return om.keys
}

func (om *OrderedMap[K, V]) Values() []V {
	values := make([]V, 0, len(om.keys))
	for _, key := range om.keys {
		values = append(values, om.values[key])
	}
	return values
}

// Range calls fn for every entry in insertion order, stopping at the first
// error and returning it.
func (om *OrderedMap[K, V]) Range(fn func(key K, value V) error) error {
	for _, key := range om.keys {
		if err := fn(key, om.values[key]); err != nil {
			return err
		}
	}
	return nil
}

func (om *OrderedMap[K, V]) Merge(other OrderedMap[K, V]) {
	_ = other.Range(func(key K, value V) error {
		om.Set(key, value)
		return nil
	})
}

func (om *OrderedMap[K, V]) DeepCopy() OrderedMap[K, V] {
	return OrderedMap[K, V]{
		keys:   deepcopy.Slice(om.keys),
		values: deepcopy.Map(om.values),
	}
}

// UnmarshalYAML decodes a YAML mapping node entry by entry so the document
// order survives the trip through the decoder.
func (om *OrderedMap[K, V]) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("yaml: line %d: cannot unmarshal %s into an ordered map", node.Line, node.ShortTag())
	}
	for i := 0; i < len(node.Content); i += 2 {
		var k K
		if err := node.Content[i].Decode(&k); err != nil {
			return err
		}
		var v V
		if err := node.Content[i+1].Decode(&v); err != nil {
			return err
		}
		om.Set(k, v)
	}
	return nil
}

// MarshalJSON writes the entries as a JSON object in insertion order.
func (om OrderedMap[K, V]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range om.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(fmt.Sprint(key))
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(om.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (om *OrderedMap[K, V]) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("json: cannot unmarshal %v into an ordered map", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		var k K
		if err := json.Unmarshal([]byte(fmt.Sprintf("%q", keyTok)), &k); err != nil {
			return err
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		var v V
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		om.Set(k, v)
	}
	return nil
}
