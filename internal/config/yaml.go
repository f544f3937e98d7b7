package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// coerceToJSONBytes returns the config document as JSON bytes. Files with a
// .yaml/.yml extension are decoded and re-encoded; anything else is passed
// through as-is. Funneling both formats into one strict JSON decode is what
// lets Parse reject unknown keys regardless of how the file is written.
//
// The returned format tag ("json" or "yaml") is for error context only.
func coerceToJSONBytes(path string, data []byte) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, "json", nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "yaml", fmt.Errorf("decode yaml: %w", err)
	}
	out, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, "yaml", fmt.Errorf("re-encode yaml: %w", err)
	}
	return out, "yaml", nil
}

// stringifyKeys rewrites every map in a decoded YAML tree to string keys,
// which json.Marshal requires. yaml.v3 already yields map[string]any for
// plain mappings; the map[any]any arm covers non-scalar keys.
func stringifyKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			t[k] = stringifyKeys(child)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[fmt.Sprint(k)] = stringifyKeys(child)
		}
		return out
	case []any:
		for i, child := range t {
			t[i] = stringifyKeys(child)
		}
		return t
	default:
		return v
	}
}
