// Package flatten converts nested signalling payloads into flat dotted-key
// maps suitable for attaching to a span as event attributes.
package flatten

import (
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
)

// MaxDepth bounds the nesting the flattener will walk. Payloads come from the
// signalling layer and are not trusted to be acyclic or sane; anything deeper
// than this is treated as malformed.
const MaxDepth = 10

// DepthError reports a payload that nests deeper than MaxDepth. Prefix is the
// dotted key path at which the limit was hit.
type DepthError struct {
	Prefix string
}

func (e *DepthError) Error() string {
	return fmt.Sprintf("flatten: payload exceeds max depth %d at %q", MaxDepth, e.Prefix)
}

// frame is one pending nested map on the traversal stack.
type frame struct {
	prefix string
	depth  int
	value  map[string]any
}

// Flatten walks payload and returns a flat map from dotted key paths to
// primitive leaf values, each key prefixed with prefix. Nested maps recurse
// into dotted sub-keys; primitive leaves (strings, booleans, integer and float
// types) are kept; anything else (slices, funcs, structs) is dropped silently.
//
// The traversal is iterative with an explicit stack and fails with *DepthError
// once a branch nests deeper than MaxDepth. Flatten is pure: payload is never
// mutated and the result is independent of map iteration order.
func Flatten(prefix string, payload map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(payload))
	stack := []frame{{prefix: prefix, depth: 1, value: payload}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.depth > MaxDepth {
			return nil, &DepthError{Prefix: f.prefix}
		}

		for k, v := range f.value {
			key := k
			if f.prefix != "" {
				key = f.prefix + "." + k
			}
			switch val := v.(type) {
			case map[string]any:
				stack = append(stack, frame{prefix: key, depth: f.depth + 1, value: val})
			case string, bool,
				int, int8, int16, int32, int64,
				uint, uint8, uint16, uint32, uint64,
				float32, float64:
				out[key] = val
			}
		}
	}

	return out, nil
}

// Attributes converts a flattened map into span event attributes. Keys are
// emitted in sorted order so event attributes are deterministic.
func Attributes(flat map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch v := flat[k].(type) {
		case string:
			attrs = append(attrs, attribute.String(k, v))
		case bool:
			attrs = append(attrs, attribute.Bool(k, v))
		case int:
			attrs = append(attrs, attribute.Int(k, v))
		case int64:
			attrs = append(attrs, attribute.Int64(k, v))
		case float64:
			attrs = append(attrs, attribute.Float64(k, v))
		default:
			// Remaining numeric widths funnel through fmt; they are rare in
			// decoded JSON payloads.
			attrs = append(attrs, attribute.String(k, fmt.Sprint(v)))
		}
	}
	return attrs
}
