package graph

import (
	"fmt"

	"github.com/leofalp/stategraph/internal/convert"
)

// Get reads key from view and converts it to T. Values read back from a
// checkpoint are JSON shaped, so structs and typed slices are rebuilt through
// their JSON representation.
func Get[T any](view View, key string) (T, error) {
	value, ok, err := Lookup[T](view, key)
	if err != nil {
		return value, err
	}
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: key %q is not visible to this node", ErrValidation, key)
	}
	return value, nil
}

// Lookup is like Get but reports a missing key with ok=false instead of an error.
func Lookup[T any](view View, key string) (value T, ok bool, err error) {
	raw, ok := view.values[key]
	if !ok {
		return value, false, nil
	}
	value, err = convert.As[T](raw)
	if err != nil {
		return value, true, fmt.Errorf("%w: key %q: %w", ErrValidation, key, err)
	}
	return value, true, nil
}
