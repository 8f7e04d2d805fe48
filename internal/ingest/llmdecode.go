package ingest

// Helpers for picking typed values out of the map[string]any the LLM
// Gateway's lenient JSON parser hands back. encoding/json decodes all JSON
// numbers into float64 when the target is interface{}, so integer fields
// need an explicit float64->int conversion rather than a type assertion.

func asString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func asBool(m map[string]any, key string) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func asInt(m map[string]any, key string) (int, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func asObject(m map[string]any, key string) map[string]any {
	if v, ok := m[key]; ok {
		if obj, ok := v.(map[string]any); ok {
			return obj
		}
	}
	return nil
}

func asItemsSlice(m map[string]any) []any {
	if v, ok := m["items"]; ok {
		if arr, ok := v.([]any); ok {
			return arr
		}
	}
	return nil
}
