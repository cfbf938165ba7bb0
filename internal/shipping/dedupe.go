package shipping

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/impetus-mx/storefront-api/internal/model"
)

// Generic labels that cannot serve as dedup keys: two unrelated options both
// labeled "Proveedor"/"Servicio estándar" are not the same rate. The sets are
// tunable constants, not a complete classifier.
var (
	genericProviderLabels = map[string]bool{
		"proveedor": true,
		"carrier":   true,
		"courier":   true,
	}
	genericServiceLabels = map[string]bool{
		"servicio":          true,
		"servicio estandar": true,
		"standard":          true,
	}
)

var (
	labelPunctPattern      = regexp.MustCompile(`[._-]+`)
	labelWhitespacePattern = regexp.MustCompile(`\s+`)
	stripMarks             = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
)

// normalizeLabelForKey folds a provider/service label into a dedup key:
// trimmed, casefolded, diacritics stripped, punctuation runs collapsed to
// single spaces.
func normalizeLabelForKey(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if stripped, _, err := transform.String(stripMarks, value); err == nil {
		value = stripped
	}
	value = labelPunctPattern.ReplaceAllString(value, " ")
	value = labelWhitespacePattern.ReplaceAllString(value, " ")
	return strings.TrimSpace(value)
}

// Dedupe collapses duplicate options in two passes. Pass 1 merges entries
// sharing quotation id and cent-rounded price: the same carrier rate line
// reported twice. Pass 2 merges by normalized provider+service label, unless
// either label is missing or generic, in which case the option keeps a
// per-option key so distinct-but-unlabeled rates are not merged away.
// Insertion order is preserved so repeated runs produce identical output.
func Dedupe(options []model.NormalizedOption) []model.NormalizedOption {
	byRateLine := collapse(options, func(option model.NormalizedOption) string {
		return option.QuotationID + ":" + formatPrice(option.PriceMXN)
	})

	return collapse(byRateLine, func(option model.NormalizedOption) string {
		providerKey := normalizeLabelForKey(option.Provider)
		serviceKey := normalizeLabelForKey(option.Service)
		if providerKey != "" && serviceKey != "" &&
			!genericProviderLabels[providerKey] && !genericServiceLabels[serviceKey] {
			return providerKey + ":" + serviceKey
		}
		return "option:" + option.OptionID + ":" + formatPrice(option.PriceMXN)
	})
}

func collapse(options []model.NormalizedOption, keyFn func(model.NormalizedOption) string) []model.NormalizedOption {
	index := make(map[string]int, len(options))
	out := make([]model.NormalizedOption, 0, len(options))

	for _, option := range options {
		key := keyFn(option)
		if at, seen := index[key]; seen {
			out[at] = preferOption(out[at], option)
			continue
		}
		index[key] = len(out)
		out = append(out, option)
	}
	return out
}

// preferOption picks the better of two colliding records: strict quality
// first, then selectable, then lower price, then fewer estimated days, then
// fewer warnings, else the first seen.
func preferOption(a, b model.NormalizedOption) model.NormalizedOption {
	if a.Quality != b.Quality {
		if a.Quality == model.QualityStrict {
			return a
		}
		return b
	}

	if a.Selectable != b.Selectable {
		if a.Selectable {
			return a
		}
		return b
	}

	if a.PriceMXN != b.PriceMXN {
		if a.PriceMXN <= b.PriceMXN {
			return a
		}
		return b
	}

	if a.EstimatedDays != nil && b.EstimatedDays != nil && *a.EstimatedDays != *b.EstimatedDays {
		if *a.EstimatedDays < *b.EstimatedDays {
			return a
		}
		return b
	}

	if len(a.Warnings) != len(b.Warnings) {
		if len(a.Warnings) < len(b.Warnings) {
			return a
		}
		return b
	}

	return a
}
