package graph

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/leofalp/stategraph/checkpoint"
)

// State is the canonical key/value state of one run.
type State map[string]any

type channelKind int

const (
	channelOverwrite channelKind = iota
	channelAppend
	channelAggregate
)

// Channel is the merge policy bound to a state key.
type Channel struct {
	kind    channelKind
	combine func(current, update any) any
}

// Overwrite keeps the last written value. Two tasks writing the key in the
// same super-step is a configuration error.
func Overwrite() Channel {
	return Channel{kind: channelOverwrite}
}

// Append accumulates every contribution into a list. A slice contribution is
// flattened into the list; any other value is appended as one element.
func Append() Channel {
	return Channel{kind: channelAppend}
}

// Aggregate folds each contribution into the current value with combine.
// combine is called once per contribution, in task order, and must not
// mutate its arguments. The writes of a subgraph run are combined with each
// other before they reach the parent, so combine should be associative.
func Aggregate(combine func(current, update any) any) Channel {
	return Channel{kind: channelAggregate, combine: combine}
}

func (channel Channel) String() string {
	switch channel.kind {
	case channelAppend:
		return "append"
	case channelAggregate:
		return "aggregate"
	default:
		return "overwrite"
	}
}

// Schema declares every state key of a graph together with its channel.
type Schema map[string]Channel

// Keys returns the declared keys in sorted order.
func (schema Schema) Keys() []string {
	return slices.Sorted(maps.Keys(schema))
}

func (schema Schema) validate() error {
	for key, channel := range schema {
		if key == "" {
			return fmt.Errorf("%w: schema contains an empty key", ErrValidation)
		}
		if channel.kind == channelAggregate && channel.combine == nil {
			return fmt.Errorf("%w: aggregate channel for key %q has no combine function", ErrValidation, key)
		}
	}
	return nil
}

// checkKeys returns ErrValidation for the first key of values not in the schema.
func (schema Schema) checkKeys(values map[string]any) error {
	for _, key := range slices.Sorted(maps.Keys(values)) {
		if _, ok := schema[key]; !ok {
			return fmt.Errorf("%w: unknown state key %q", ErrValidation, key)
		}
	}
	return nil
}

// merge applies one super-step's writes to state in place. writes must be in
// task order; keys nobody wrote keep their value.
func (schema Schema) merge(state State, writes []map[string]any) error {
	contributions := make(map[string][]any)
	var touched []string
	for _, update := range writes {
		for _, key := range slices.Sorted(maps.Keys(update)) {
			if _, seen := contributions[key]; !seen {
				touched = append(touched, key)
			}
			contributions[key] = append(contributions[key], update[key])
		}
	}

	for _, key := range touched {
		channel, ok := schema[key]
		if !ok {
			return fmt.Errorf("%w: unknown state key %q", ErrValidation, key)
		}
		values := contributions[key]

		switch channel.kind {
		case channelOverwrite:
			if len(values) > 1 {
				return fmt.Errorf("%w: overwrite key %q written by %d tasks in one super-step", ErrValidation, key, len(values))
			}
			state[key] = values[0]
		case channelAppend:
			list := asList(state[key])
			for _, value := range values {
				list = append(list, asList(value)...)
			}
			state[key] = list
		case channelAggregate:
			current := state[key]
			for _, value := range values {
				current = channel.combine(current, value)
			}
			state[key] = current
		}
	}
	return nil
}

// fold reduces several contributions to one that merges to the same result.
// Aggregate contributions are combined with each other first, which relies
// on combine being associative.
func (channel Channel) fold(values []any) any {
	switch channel.kind {
	case channelAppend:
		list := []any{}
		for _, value := range values {
			list = append(list, asList(value)...)
		}
		return list
	case channelAggregate:
		current := values[0]
		for _, value := range values[1:] {
			current = channel.combine(current, value)
		}
		return current
	default:
		return values[len(values)-1]
	}
}

// asList flattens a slice value into []any. nil yields an empty list and any
// non-slice value a single element.
func asList(value any) []any {
	switch typed := value.(type) {
	case nil:
		return []any{}
	case []any:
		return slices.Clone(typed)
	case []byte:
		return []any{typed}
	}

	reflected := reflect.ValueOf(value)
	if reflected.Kind() != reflect.Slice && reflected.Kind() != reflect.Array {
		return []any{value}
	}
	list := make([]any, reflected.Len())
	for i := range list {
		list[i] = reflected.Index(i).Interface()
	}
	return list
}

// normalizeState rewrites every value into its checkpoint shape so that live
// and resumed runs observe the same types.
func normalizeState(state State) (State, error) {
	normalized, err := checkpoint.NormalizeMap(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if normalized == nil {
		normalized = make(map[string]any)
	}
	return normalized, nil
}

// View is a read-only projection of state handed to nodes and routers.
// Values are copies; mutating them never affects the run.
type View struct {
	values map[string]any
}

func newView(values map[string]any) View {
	copied := make(map[string]any, len(values))
	for key, value := range values {
		copied[key] = deepCopy(value)
	}
	return View{values: copied}
}

// NewView builds a View from plain values. It is mostly useful to call node
// functions directly in tests.
func NewView(values map[string]any) View {
	return newView(values)
}

// Get returns the raw value of key and whether it is present.
func (view View) Get(key string) (any, bool) {
	value, ok := view.values[key]
	if !ok {
		return nil, false
	}
	return deepCopy(value), true
}

// Has reports whether key is present in the view.
func (view View) Has(key string) bool {
	_, ok := view.values[key]
	return ok
}

// Keys returns the visible keys in sorted order.
func (view View) Keys() []string {
	return slices.Sorted(maps.Keys(view.values))
}

// Len returns the number of visible keys.
func (view View) Len() int {
	return len(view.values)
}

// Map returns a copy of every visible value.
func (view View) Map() map[string]any {
	copied := make(map[string]any, len(view.values))
	for key, value := range view.values {
		copied[key] = deepCopy(value)
	}
	return copied
}

func (view View) String() string {
	parts := make([]string, 0, len(view.values))
	for _, key := range view.Keys() {
		parts = append(parts, fmt.Sprintf("%s=%v", key, view.values[key]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// project copies the declared keys out of state and overlays payload.
func project(state State, keys []string, payload map[string]any) map[string]any {
	projected := make(map[string]any, len(keys)+len(payload))
	for _, key := range keys {
		if value, ok := state[key]; ok {
			projected[key] = deepCopy(value)
		}
	}
	for key, value := range payload {
		projected[key] = deepCopy(value)
	}
	return projected
}

// deepCopy copies the containers that appear in normalized state. Other
// values are returned as they are.
func deepCopy(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		copied := make(map[string]any, len(typed))
		for key, inner := range typed {
			copied[key] = deepCopy(inner)
		}
		return copied
	case []any:
		copied := make([]any, len(typed))
		for i, inner := range typed {
			copied[i] = deepCopy(inner)
		}
		return copied
	default:
		return value
	}
}

func copyState(state map[string]any) State {
	copied := make(State, len(state))
	for key, value := range state {
		copied[key] = deepCopy(value)
	}
	return copied
}
