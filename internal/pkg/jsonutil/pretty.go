package jsonutil

import (
	"encoding/json"
	"strings"
)

// Pretty re-indents a JSON document for the audit dump. Anything that does
// not parse comes back unchanged rather than erroring, since the dump is
// best-effort.
func Pretty(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	var v any
	if json.Unmarshal([]byte(raw), &v) != nil {
		return raw
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return raw
	}
	return string(out)
}
