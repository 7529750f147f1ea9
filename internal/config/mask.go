package config

import "strings"

// sensitiveKeyParts marks a field as credential-bearing when its name
// contains one of these, case-insensitive. The same list drives log
// redaction in internal/observability.
var sensitiveKeyParts = []string{"apikey", "api_key", "password", "token", "secret", "auth"}

// IsSensitiveKey reports whether a field name looks credential-bearing.
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}

// MaskValue hides the middle of a secret, keeping just enough of the
// ends for a user to recognize which credential it is. Empty input
// stays empty so an unset field does not read as a set one.
func MaskValue(s string) string {
	r := []rune(s)
	switch n := len(r); {
	case n == 0:
		return ""
	case n <= 8:
		return "****"
	case n <= 11:
		return string(r[:2]) + "****" + string(r[n-2:])
	default:
		return string(r[:4]) + "****" + string(r[n-4:])
	}
}

// Mask deep-clones a raw configuration map with every credential value
// hidden: fields with sensitive names, and every value of an env map.
// The result is safe to send to a client UI.
func Mask(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = maskNode(k, v)
	}
	return out
}

func maskNode(key string, v any) any {
	switch val := v.(type) {
	case map[string]any:
		masked := make(map[string]any, len(val))
		// env maps hold child process variables; every value may be a
		// credential regardless of its name.
		envMap := strings.EqualFold(key, "env")
		for k, child := range val {
			if envMap {
				if s, ok := child.(string); ok {
					masked[k] = MaskValue(s)
					continue
				}
			}
			masked[k] = maskNode(k, child)
		}
		return masked
	case []any:
		masked := make([]any, len(val))
		for i, child := range val {
			masked[i] = maskNode(key, child)
		}
		return masked
	case string:
		if IsSensitiveKey(key) {
			return MaskValue(val)
		}
		return val
	default:
		return val
	}
}

// Unmask merges an edited configuration back over the original. A
// sensitive value still carrying the **** filler is restored from the
// original; anything else is accepted as a rotation. Map keys the edit
// leaves out are preserved. Arrays are taken from the edit wholesale,
// with elements paired to the original by index for restoring masked
// values inside them.
func Unmask(original, incoming map[string]any) map[string]any {
	out := make(map[string]any, len(original)+len(incoming))
	for k, v := range original {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = unmaskNode(k, original[k], v)
	}
	return out
}

func unmaskNode(key string, orig, incoming any) any {
	switch in := incoming.(type) {
	case map[string]any:
		origMap, _ := orig.(map[string]any)
		if strings.EqualFold(key, "env") {
			restored := make(map[string]any, len(in))
			for k, child := range in {
				restored[k] = restoreValue(origMap[k], child)
			}
			for k, v := range origMap {
				if _, ok := in[k]; !ok {
					restored[k] = v
				}
			}
			return restored
		}
		return Unmask(origMap, in)
	case []any:
		origList, _ := orig.([]any)
		restored := make([]any, len(in))
		for i, child := range in {
			var origChild any
			if i < len(origList) {
				origChild = origList[i]
			}
			restored[i] = unmaskNode(key, origChild, child)
		}
		return restored
	case string:
		if IsSensitiveKey(key) {
			return restoreValue(orig, in)
		}
		return in
	default:
		return in
	}
}

func restoreValue(orig, incoming any) any {
	s, ok := incoming.(string)
	if !ok || !strings.Contains(s, "****") {
		return incoming
	}
	if origStr, ok := orig.(string); ok {
		return origStr
	}
	return incoming
}
