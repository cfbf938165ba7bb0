package shipping

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/impetus-mx/storefront-api/internal/model"
)

// probe is one step in an ordered field-resolution chain: where the value was
// found matters as much as the value itself (a __rate_key hit downgrades the
// option's quality).
type probe struct {
	source string
	value  any
}

// labelKeys are the sub-fields pickText descends into when a probed value is
// itself an object instead of a label.
var labelKeys = []string{"name", "display_name", "title", "label", "code", "service_level_name", "description"}

// pickTextDepthLimit bounds recursion into nested label-like objects.
const pickTextDepthLimit = 3

// scalarText renders a scalar candidate as a trimmed label, or "" when the
// value is not scalar or is the serialization artifact "[object Object]".
func scalarText(value any) string {
	var text string
	switch v := value.(type) {
	case string:
		text = v
	case float64:
		text = formatNumber(v)
	case int:
		text = strconv.Itoa(v)
	default:
		return ""
	}
	text = strings.TrimSpace(text)
	if text == "[object Object]" {
		return ""
	}
	return text
}

// formatNumber renders a float the way the carrier's own JSON does: integers
// without a decimal point.
func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// pickText resolves a candidate to a textual label, descending into nested
// label-like sub-objects up to pickTextDepthLimit levels.
func pickText(value any) string {
	return pickTextAtDepth(value, 0)
}

func pickTextAtDepth(value any, depth int) string {
	if text := scalarText(value); text != "" {
		return text
	}
	if depth >= pickTextDepthLimit {
		return ""
	}
	if m, ok := value.(map[string]any); ok {
		for _, key := range labelKeys {
			if text := pickTextAtDepth(m[key], depth+1); text != "" {
				return text
			}
		}
	}
	return ""
}

// pickSourceAndText walks a probe chain and returns the first non-empty
// label together with the probe that produced it.
func pickSourceAndText(probes []probe) (value, source string) {
	for _, p := range probes {
		if text := pickText(p.value); text != "" {
			return text, p.source
		}
	}
	return "", ""
}

// truthy mirrors the carrier API's loose notion of presence: nil, empty
// string, zero and false all count as absent.
func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	case bool:
		return v
	default:
		return true
	}
}

func firstTruthy(values ...any) any {
	for _, v := range values {
		if truthy(v) {
			return v
		}
	}
	return nil
}

// toNumber coerces a scalar to a float, returning 0 for anything that does
// not parse as a finite number.
func toNumber(value any) float64 {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return v
	case int:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0
		}
		return f
	case bool:
		if v {
			return 1
		}
		return 0
	default:
		return 0
	}
}

var firstNumberPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)`)

// pickDays resolves a day count from a list of candidate values: numeric
// values are used directly, strings get their first decimal-or-integer run
// extracted. Only positive finite values count.
func pickDays(candidates []any) *int {
	for _, candidate := range candidates {
		if candidate == nil {
			continue
		}
		if s, ok := candidate.(string); ok && s == "" {
			continue
		}

		if numeric := toNumber(candidate); numeric > 0 {
			days := int(math.Round(numeric))
			return &days
		}

		if s, ok := candidate.(string); ok {
			if match := firstNumberPattern.FindString(s); match != "" {
				if parsed, err := strconv.ParseFloat(match, 64); err == nil && parsed > 0 {
					days := int(math.Round(parsed))
					return &days
				}
			}
		}
	}
	return nil
}

func pickEstimatedDays(value map[string]any) *int {
	return pickDays([]any{
		value["estimated_delivery_days"],
		value["estimated_days"],
		value["delivery_days"],
		value["delivery_time_days"],
		value["eta_days"],
		value["transit_days"],
		value["business_days"],
		value["min_days"],
		value["max_days"],
		value["eta_min_days"],
		value["eta_max_days"],
		dig(value, "delivery_estimate", "min_days"),
		dig(value, "delivery_estimate", "max_days"),
		dig(value, "service_level", "estimated_days"),
	})
}

// pickEstimatedDayRange probes min- and max-specific field variants
// independently and orders the resulting bounds.
func pickEstimatedDayRange(value map[string]any) (minDays, maxDays *int) {
	minDays = pickDays([]any{
		value["min_days"],
		value["eta_min_days"],
		dig(value, "delivery_estimate", "min_days"),
		dig(value, "service_level", "min_days"),
	})
	maxDays = pickDays([]any{
		value["max_days"],
		value["eta_max_days"],
		dig(value, "delivery_estimate", "max_days"),
		dig(value, "service_level", "max_days"),
	})

	if minDays != nil && maxDays != nil && *minDays > *maxDays {
		minDays, maxDays = maxDays, minDays
	}
	return minDays, maxDays
}

var digitsOnlyPattern = regexp.MustCompile(`^\d+$`)

// pickEstimatedText probes the free-text delivery estimate fields. A purely
// numeric match is rejected: that is a day count leaked into a text slot.
func pickEstimatedText(value map[string]any) *string {
	text, _ := pickSourceAndText([]probe{
		{"estimated_delivery_text", value["estimated_delivery_text"]},
		{"estimated_delivery", value["estimated_delivery"]},
		{"delivery_time_text", value["delivery_time_text"]},
		{"delivery_time_label", value["delivery_time_label"]},
		{"delivery_time", value["delivery_time"]},
		{"estimated_delivery_time", value["estimated_delivery_time"]},
		{"delivery_window", value["delivery_window"]},
		{"transit_time", value["transit_time"]},
		{"transit_days_text", value["transit_days_text"]},
		{"eta_text", value["eta_text"]},
		{"eta", value["eta"]},
		{"estimated_arrival", value["estimated_arrival"]},
		{"delivery_promise", value["delivery_promise"]},
		{"promise", value["promise"]},
		{"schedule", value["schedule"]},
		{"service_level.delivery_time", dig(value, "service_level", "delivery_time")},
		{"service_level.estimated_delivery", dig(value, "service_level", "estimated_delivery")},
		{"service_level.eta", dig(value, "service_level", "eta")},
	})

	if text == "" || digitsOnlyPattern.MatchString(text) {
		return nil
	}
	return &text
}

// Default labels used when the carrier supplied no usable provider or
// service metadata. Options carrying both defaults are informational only.
const (
	defaultProviderLabel = "Proveedor"
	defaultServiceLabel  = "Servicio estándar"
)

// NormalizeEntry maps a flattened rate entry to a canonical option. It
// returns nil for entries with no quotation id or without a positive finite
// price; those are dropped rather than surfaced as garbage options.
func NormalizeEntry(value map[string]any) *model.NormalizedOption {
	if len(value) == 0 {
		return nil
	}

	optionIDCandidate, optionIDSource := pickSourceAndText([]probe{
		{"option_id", value["option_id"]},
		{"id", value["id"]},
		{"quote_id", value["quote_id"]},
		{"quotation_id", value["quotation_id"]},
		{"rate_id", value["rate_id"]},
		{"service_code", value["service_code"]},
		{rateKeyField, value[rateKeyField]},
	})

	providerFromPayload, _ := pickSourceAndText([]probe{
		{"provider_name", value["provider_name"]},
		{"provider.name", dig(value, "provider", "name")},
		{"provider.display_name", dig(value, "provider", "display_name")},
		{"provider.title", dig(value, "provider", "title")},
		{"provider.label", dig(value, "provider", "label")},
		{"carrier", value["carrier"]},
		{"courier", value["courier"]},
		{"company", value["company"]},
		{rateKeyField, value[rateKeyField]},
		{"provider", value["provider"]},
	})

	serviceFromPayload, _ := pickSourceAndText([]probe{
		{"service_level_name", value["service_level_name"]},
		{"service_level.name", dig(value, "service_level", "name")},
		{"service_name", value["service_name"]},
		{"service.name", dig(value, "service", "name")},
		{"service.service_level_name", dig(value, "service", "service_level_name")},
		{"delivery_type", value["delivery_type"]},
		{"product", value["product"]},
		{"name", value["name"]},
		{"service_code", value["service_code"]},
		{"service", value["service"]},
	})

	provider := providerFromPayload
	if provider == "" {
		provider = defaultProviderLabel
	}
	service := serviceFromPayload
	if service == "" {
		service = defaultServiceLabel
	}

	amount := toNumber(firstTruthy(
		value["total_pricing"],
		value["total_price"],
		value["total"],
		value["total_cost"],
		value["total_amount"],
		value["final_price"],
		value["rate"],
		value["cost"],
		value["price"],
		value["amount"],
		dig(value, "pricing", "total"),
		dig(value, "pricing", "price"),
		dig(value, "pricing", "amount"),
		dig(value, "pricing", "final_price"),
		dig(value, "cost_breakdown", "total"),
	))

	quotationID := scalarText(firstTruthy(value["quotation_id"], value["quote_id"], value["id"]))
	estimatedDays := pickEstimatedDays(value)
	estimatedMin, estimatedMax := pickEstimatedDayRange(value)
	estimatedText := pickEstimatedText(value)

	if quotationID == "" || amount <= 0 {
		return nil
	}

	priceMXN := math.Round(amount*100) / 100

	isProviderPlaceholder := providerFromPayload == ""
	isServicePlaceholder := serviceFromPayload == ""
	hasStrongOptionID := optionIDCandidate != "" && optionIDSource != rateKeyField

	var warnings []string
	if !hasStrongOptionID {
		warnings = append(warnings, model.WarnMissingOptionIDOriginal)
	}
	if isProviderPlaceholder {
		warnings = append(warnings, model.WarnMissingProvider)
	}
	if isServicePlaceholder {
		warnings = append(warnings, model.WarnMissingService)
	}

	quality := model.QualityFallback
	if hasStrongOptionID && !isProviderPlaceholder && !isServicePlaceholder {
		quality = model.QualityStrict
	}

	selectable := true
	if quality == model.QualityFallback && isProviderPlaceholder && isServicePlaceholder {
		selectable = false
		warnings = append(warnings, model.WarnInsufficientMetadata)
	}

	optionID := optionIDCandidate
	if optionID == "" {
		optionID = fallbackOptionID(quotationID, priceMXN, provider, service)
	}

	return &model.NormalizedOption{
		OptionID:         optionID,
		Provider:         provider,
		Service:          service,
		PriceMXN:         priceMXN,
		EstimatedDays:    estimatedDays,
		EstimatedMinDays: estimatedMin,
		EstimatedMaxDays: estimatedMax,
		EstimatedText:    estimatedText,
		QuotationID:      quotationID,
		Quality:          quality,
		Selectable:       selectable,
		Warnings:         warnings,
	}
}

// fallbackOptionID synthesizes a deterministic option id for entries that
// carried no real identifier, so repeated normalization of identical carrier
// data yields the same id.
func fallbackOptionID(quotationID string, priceMXN float64, provider, service string) string {
	seed := fmt.Sprintf("%s|%s|%s|%s", quotationID, formatPrice(priceMXN), provider, service)
	sum := sha1.Sum([]byte(seed))
	return "fb_" + hex.EncodeToString(sum[:])[:12]
}

func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', 2, 64)
}

// NormalizedResponse is the outcome of normalizing one raw carrier response.
type NormalizedResponse struct {
	SourceCount     int
	StrictOptions   []model.NormalizedOption
	FallbackOptions []model.NormalizedOption
	Options         []model.NormalizedOption
}

// Normalize runs the full extract/flatten/normalize/dedupe/rank pipeline over
// a raw carrier response body.
func Normalize(body any) NormalizedResponse {
	source := ExtractEntries(body)

	normalized := make([]model.NormalizedOption, 0, len(source))
	for _, entry := range source {
		if option := NormalizeEntry(FlattenEntry(entry)); option != nil {
			normalized = append(normalized, *option)
		}
	}

	deduped := Dedupe(normalized)

	var strict, fallback []model.NormalizedOption
	for _, option := range deduped {
		if option.Quality == model.QualityStrict {
			strict = append(strict, option)
		} else {
			fallback = append(fallback, option)
		}
	}
	sortByPrice(strict)
	sortByPrice(fallback)

	options := make([]model.NormalizedOption, 0, len(deduped))
	options = append(options, strict...)
	options = append(options, fallback...)

	return NormalizedResponse{
		SourceCount:     len(source),
		StrictOptions:   strict,
		FallbackOptions: fallback,
		Options:         options,
	}
}

func sortByPrice(options []model.NormalizedOption) {
	sort.SliceStable(options, func(i, j int) bool {
		return options[i].PriceMXN < options[j].PriceMXN
	})
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
