package jsonutil

import (
	"encoding/json"
	"fmt"
)

// Canonical serializes v with stable key ordering so that identical inputs
// always produce identical bytes. It round-trips through map[string]any:
// encoding/json sorts map keys on marshal, which gives the canonical form
// regardless of struct field order.
func Canonical(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical marshal: %w", err)
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return "", fmt.Errorf("canonical reparse: %w", err)
	}
	out, err := json.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("canonical remarshal: %w", err)
	}
	return string(out), nil
}

// MergeCanonical canonicalizes two values merged into a single object.
// Keys from b win on collision, matching a plain map merge.
func MergeCanonical(a, b any) (string, error) {
	merged := make(map[string]any)
	for _, v := range []any{a, b} {
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("canonical merge marshal: %w", err)
		}
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return "", fmt.Errorf("canonical merge reparse: %w", err)
		}
		for k, val := range fields {
			merged[k] = val
		}
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
