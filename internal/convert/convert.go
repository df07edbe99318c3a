// Package convert turns loosely typed state values into Go types.
//
// State values come back from checkpoints in their JSON shape (maps, []any,
// float64), while live values may still be the structs a node produced. As
// handles both, and FromString additionally accepts the slightly broken JSON
// that completion services tend to return.
package convert

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// As converts value to T. A value that already has type T is returned as-is;
// strings are parsed with FromString when T is not a string; anything else is
// converted through its JSON encoding.
func As[T any](value any) (T, error) {
	var result T

	if typed, ok := value.(T); ok {
		return typed, nil
	}
	if value == nil {
		return result, nil
	}

	if content, isString := value.(string); isString && reflect.TypeFor[T]().Kind() != reflect.String {
		return FromString[T](content)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return result, fmt.Errorf("convert %T: %w", value, err)
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("convert %T to %T: %w", value, result, err)
	}
	return result, nil
}

// FromString parses content into T. Primitive kinds use strconv; other kinds
// are decoded as JSON, retrying once after jsonrepair and then after
// unwrapping {"type": ..., "value": ...} wrappers.
func FromString[T any](content string) (T, error) {
	var result T
	target := reflect.ValueOf(&result).Elem()
	trimmed := strings.TrimSpace(content)

	switch target.Kind() {
	case reflect.String:
		if unwrapped, err := unwrapPrimitive(trimmed); err == nil {
			target.SetString(unwrapped)
			return result, nil
		}
		target.SetString(content)
		return result, nil

	case reflect.Bool:
		parsed, err := parsePrimitive(trimmed, strconv.ParseBool)
		if err != nil {
			return result, fmt.Errorf("parse %q as bool: %w", content, err)
		}
		target.SetBool(parsed)
		return result, nil

	case reflect.Float32, reflect.Float64:
		parsed, err := parsePrimitive(trimmed, func(text string) (float64, error) {
			return strconv.ParseFloat(text, 64)
		})
		if err != nil {
			return result, fmt.Errorf("parse %q as float: %w", content, err)
		}
		target.SetFloat(parsed)
		return result, nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		parsed, err := parsePrimitive(trimmed, func(text string) (int64, error) {
			return strconv.ParseInt(text, 10, 64)
		})
		if err != nil {
			return result, fmt.Errorf("parse %q as int: %w", content, err)
		}
		target.SetInt(parsed)
		return result, nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		parsed, err := parsePrimitive(trimmed, func(text string) (uint64, error) {
			return strconv.ParseUint(text, 10, 64)
		})
		if err != nil {
			return result, fmt.Errorf("parse %q as uint: %w", content, err)
		}
		target.SetUint(parsed)
		return result, nil
	}

	err := json.Unmarshal([]byte(trimmed), &result)
	if err == nil {
		return result, nil
	}

	repaired, repairErr := jsonrepair.JSONRepair(trimmed)
	if repairErr != nil {
		return result, fmt.Errorf("decode %T: %w (repair failed: %v)", result, err, repairErr)
	}
	if err = json.Unmarshal([]byte(repaired), &result); err == nil {
		return result, nil
	}

	if unwrapped, unwrapErr := unwrapSchemaValues(repaired); unwrapErr == nil {
		if retryErr := json.Unmarshal([]byte(unwrapped), &result); retryErr == nil {
			return result, nil
		}
	}
	return result, fmt.Errorf("decode repaired content as %T: %w", result, err)
}

// parsePrimitive runs parse on the text, then on the value of a
// {"type": ..., "value": ...} wrapper if the first attempt fails.
func parsePrimitive[V any](text string, parse func(string) (V, error)) (V, error) {
	parsed, err := parse(text)
	if err == nil {
		return parsed, nil
	}
	if unwrapped, unwrapErr := unwrapPrimitive(text); unwrapErr == nil {
		if parsed, retryErr := parse(unwrapped); retryErr == nil {
			return parsed, nil
		}
	}
	return parsed, err
}

// unwrapPrimitive extracts the value of a {"type": ..., "value": ...} object.
func unwrapPrimitive(content string) (string, error) {
	if !strings.HasPrefix(content, "{") {
		return "", fmt.Errorf("not an object")
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return "", err
	}
	value, hasValue := data["value"]
	if _, hasType := data["type"]; !hasType || !hasValue || len(data) != 2 {
		return "", fmt.Errorf("not a schema-wrapped value")
	}

	switch typed := value.(type) {
	case string:
		return typed, nil
	case float64, bool:
		return fmt.Sprintf("%v", typed), nil
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	}
}

func unwrapSchemaValues(content string) (string, error) {
	var data any
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return "", err
	}
	encoded, err := json.Marshal(unwrapRecursive(data))
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func unwrapRecursive(data any) any {
	switch typed := data.(type) {
	case map[string]any:
		if _, hasType := typed["type"]; hasType {
			if value, hasValue := typed["value"]; hasValue && len(typed) == 2 {
				return unwrapRecursive(value)
			}
		}
		unwrapped := make(map[string]any, len(typed))
		for key, value := range typed {
			unwrapped[key] = unwrapRecursive(value)
		}
		return unwrapped
	case []any:
		unwrapped := make([]any, len(typed))
		for index, value := range typed {
			unwrapped[index] = unwrapRecursive(value)
		}
		return unwrapped
	default:
		return data
	}
}
