package shipping

// rateKeyField is the synthetic tag attached to entries recovered from a
// map-shaped rates container. The container key becomes a last-resort
// provider/service/option-id hint.
const rateKeyField = "__rate_key"

// entryContainerProbes is the fixed priority list of envelope locations the
// extractor checks for the rate entry list. The carrier moves the container
// around between payload variants.
var entryContainerProbes = [][]string{
	{"data"},
	{"quotations"},
	{"results"},
	{"items"},
	{"rates"},
	{"quotation_scope", "rates"},
	{"data", "rates"},
	{"data", "quotations"},
	{"data", "results"},
	{"quotation"},
}

// entryMarkerKeys identify an object that is itself a single rate entry
// rather than an envelope around one.
var entryMarkerKeys = []string{
	"option_id", "id", "quotation_id", "quote_id",
	"price", "total_price", "total_pricing", "amount",
	"provider_name", "provider", "service", "service_level_name", "name",
}

// ExtractEntries locates the list of rate entries inside an arbitrary
// response envelope. Entries are returned raw; callers flatten each one
// before normalization.
func ExtractEntries(body any) []any {
	if entries, ok := body.([]any); ok {
		return entries
	}

	for _, path := range entryContainerProbes {
		entries := toEntryList(dig(body, path...))
		if len(entries) > 0 {
			return entries
		}
	}

	return nil
}

// toEntryList coerces a candidate container into an entry list. A list is
// used directly. A map is treated as rates grouped by an internal key: every
// object value is flattened into the list, tagged with its container key
// under __rate_key. A map that matches no grouping but carries entry-marker
// keys is treated as a single-entry list.
func toEntryList(candidate any) []any {
	switch v := candidate.(type) {
	case []any:
		return v
	case map[string]any:
		entries := make([]any, 0, len(v))
		for _, key := range sortedKeys(v) {
			switch value := v[key].(type) {
			case []any:
				for _, item := range value {
					if m, ok := item.(map[string]any); ok {
						entries = append(entries, withRateKey(m, key))
					}
				}
			case map[string]any:
				entries = append(entries, withRateKey(value, key))
			}
		}
		if len(entries) > 0 {
			return entries
		}

		for _, marker := range entryMarkerKeys {
			if _, ok := v[marker]; ok {
				return []any{v}
			}
		}
		return nil
	default:
		return nil
	}
}

func withRateKey(entry map[string]any, key string) map[string]any {
	out := make(map[string]any, len(entry)+1)
	for k, v := range entry {
		out[k] = v
	}
	out[rateKeyField] = key
	return out
}

// FlattenEntry merges an entry's nested attributes and quotation sub-objects
// into a single flat field namespace so the normalizer can probe uniformly.
// The pricing and service keys always end up as maps; provider keeps its
// original value since a bare provider string is itself a usable label.
// provider_name and service_name are back-filled from the nested provider
// and service objects only when the entry did not carry them at top level.
func FlattenEntry(entry any) map[string]any {
	entryMap, ok := entry.(map[string]any)
	if !ok {
		return map[string]any{}
	}

	attributes := asMap(entryMap["attributes"])
	quotation := asMap(entryMap["quotation"])
	pricing := asMap(entryMap["pricing"])
	service := asMap(entryMap["service"])
	provider := asMap(entryMap["provider"])

	flat := make(map[string]any, len(entryMap)+len(attributes)+len(quotation))
	for k, v := range entryMap {
		flat[k] = v
	}
	for k, v := range attributes {
		flat[k] = v
	}
	for k, v := range quotation {
		flat[k] = v
	}

	flat["pricing"] = pricing
	flat["service"] = service
	setOrDelete(flat, "provider", entryMap["provider"])
	setOrDelete(flat, "provider_name", firstScalar(entryMap["provider_name"], provider["name"], provider["display_name"]))
	setOrDelete(flat, "service_name", firstScalar(entryMap["service_name"], service["name"], service["service_level_name"]))

	return flat
}

func setOrDelete(m map[string]any, key string, value any) {
	if value == nil {
		delete(m, key)
		return
	}
	m[key] = value
}

func firstScalar(values ...any) any {
	for _, v := range values {
		if scalarText(v) != "" {
			return v
		}
	}
	return nil
}

// dig walks a path of map keys, returning nil when any hop is missing or not
// a map.
func dig(value any, path ...string) any {
	current := value
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[key]
	}
	return current
}

func asMap(value any) map[string]any {
	if m, ok := value.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
