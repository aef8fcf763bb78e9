package config

import (
	"slices"
	"strings"
)

// secretKeys are masked by MaskSecrets.
var secretKeys = map[string]bool{
	"llm.api_key":    true,
	"brave.api_key":  true,
	"telegram.token": true,
}

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten converts nested maps into dot-separated keys:
// {"llm": {"provider": "gemini"}} becomes {"llm.provider": "gemini"}.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto("", m, out)
	return out
}

func flattenInto(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := v.(map[string]any); ok {
			flattenInto(key, child, out)
			continue
		}
		out[key] = v
	}
}

// Unflatten is the inverse of Flatten. A key that collides with a scalar
// on its path replaces the scalar with a map.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range flat {
		setPath(out, strings.Split(k, "."), v)
	}
	return out
}

func setPath(m map[string]any, path []string, v any) {
	if len(path) == 1 {
		m[path[0]] = v
		return
	}
	child, ok := m[path[0]].(map[string]any)
	if !ok {
		child = make(map[string]any)
		m[path[0]] = child
	}
	setPath(child, path[1:], v)
}

// MaskSecrets returns a copy of flat with non-empty secret values shown as
// "***" followed by their last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		s, ok := v.(string)
		if !secretKeys[k] || !ok || s == "" {
			out[k] = v
			continue
		}
		out[k] = mask(s)
	}
	return out
}

func mask(s string) string {
	r := []rune(s)
	if len(r) <= 4 {
		return "***" + s
	}
	return "***" + string(r[len(r)-4:])
}

// SortedKeys returns the keys of flat in lexical order.
func SortedKeys(flat map[string]any) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
