// Package cloneutil provides the copy/merge primitives ExecutionContext
// relies on to implement its immutable withX builder methods without
// aliasing the receiver's maps and slices.
package cloneutil

import (
	"fmt"
	"maps"

	"dario.cat/mergo"
	"github.com/mohae/deepcopy"
)

// CloneMap creates a shallow copy of any map type with comparable keys,
// returning an initialized empty map for a nil input so callers never have
// to nil-check before writing to the result.
func CloneMap[K comparable, V any](src map[K]V) map[K]V {
	if src == nil {
		return make(map[K]V)
	}
	return maps.Clone(src)
}

// CopyMaps merges multiple maps into a new map, with later maps overriding
// earlier ones on key collision (last-write-wins). Nil maps are skipped.
func CopyMaps[K comparable, V any](srcs ...map[K]V) map[K]V {
	result := make(map[K]V)
	for _, src := range srcs {
		if src != nil {
			maps.Copy(result, src)
		}
	}
	return result
}

// Merge combines dst and src into a new map, with src values overriding
// dst on key collision and slice values appended rather than replaced.
// Neither input is mutated.
func Merge[D, S ~map[string]any](dst D, src S, kind string) (D, error) {
	var zero D
	dstClone := CloneMap(dst)
	srcClone := CloneMap(src)
	if len(srcClone) > 0 {
		if err := mergo.Merge(&dstClone, srcClone, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
			return zero, fmt.Errorf("failed to merge %s: %w", kind, err)
		}
	}
	return dstClone, nil
}

// DeepCopy returns a deep copy of v using github.com/mohae/deepcopy, so a
// value handed to a child context or sibling can be freely mutated by its
// strategy without reaching back into the parent's state.
func DeepCopy[T any](v T) (T, error) {
	var zero T
	copied := deepcopy.Copy(v)
	result, ok := copied.(T)
	if !ok {
		return zero, fmt.Errorf("failed to cast copied value to type %T", zero)
	}
	return result, nil
}
