package ecoflow

// Flatten converts a nested key/value document into a single-level map with
// dot-joined keys:
//
//	{"bms_emsStatus": {"chgState": 1}} => {"bms_emsStatus.chgState": 1}
//
// Leaf values are kept as-is. A non-object root maps to the empty-string key.
func Flatten(obj any) map[string]any {
	result := map[string]any{}
	flattenInto(result, "", obj)
	return result
}

func flattenInto(dst map[string]any, prefix string, obj any) {
	m, ok := obj.(map[string]any)
	if !ok {
		dst[prefix] = obj
		return
	}
	for k, v := range m {
		fullKey := k
		if prefix != "" {
			fullKey = prefix + "." + k
		}
		flattenInto(dst, fullKey, v)
	}
}
