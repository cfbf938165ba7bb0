package shipping

// sanitizeDepthLimit bounds recursion over untrusted JSON-like trees. Carrier
// payloads nest two to three levels in practice.
const sanitizeDepthLimit = 8

// sanitizeTree recursively strips nil and empty-string fields from a
// JSON-like tree. The carrier rejects some payload shapes when optional
// fields are present but empty, so every candidate body passes through here
// before transmission. Zero numbers are kept: a zero weight is data, not
// absence.
func sanitizeTree(value any) any {
	return sanitizeAtDepth(value, 0)
}

func sanitizeAtDepth(value any, depth int) any {
	if depth > sanitizeDepthLimit {
		return value
	}

	switch v := value.(type) {
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, sanitizeAtDepth(item, depth+1))
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			if item == nil {
				continue
			}
			if s, ok := item.(string); ok && s == "" {
				continue
			}
			out[key] = sanitizeAtDepth(item, depth+1)
		}
		return out
	default:
		return value
	}
}
