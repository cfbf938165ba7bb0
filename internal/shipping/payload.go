// Package shipping implements the quote engine for the carrier aggregator:
// request payload-shape negotiation, response flattening and normalization,
// option deduplication and ranking, and the retry orchestrator.
package shipping

import "strings"

// Address describes one endpoint of a shipment. The origin is operator
// configured; the destination usually carries only a country and postal code.
type Address struct {
	Name        string `json:"name,omitempty" mapstructure:"name"`
	Company     string `json:"company,omitempty" mapstructure:"company"`
	Phone       string `json:"phone,omitempty" mapstructure:"phone"`
	Email       string `json:"email,omitempty" mapstructure:"email"`
	CountryCode string `json:"country_code,omitempty" mapstructure:"country_code"`
	PostalCode  string `json:"postal_code,omitempty" mapstructure:"postal_code"`
	State       string `json:"state,omitempty" mapstructure:"state"`
	City        string `json:"city,omitempty" mapstructure:"city"`
	Colony      string `json:"colony,omitempty" mapstructure:"colony"`
	Street      string `json:"street,omitempty" mapstructure:"street"`
	Number      string `json:"number,omitempty" mapstructure:"number"`
	Reference   string `json:"reference,omitempty" mapstructure:"reference"`
}

// Parcel describes one box to quote.
type Parcel struct {
	Weight       float64 `json:"weight"`
	Length       float64 `json:"length"`
	Width        float64 `json:"width"`
	Height       float64 `json:"height"`
	DistanceUnit string  `json:"distance_unit,omitempty"`
	WeightUnit   string  `json:"weight_unit,omitempty"`
}

// QuoteRequest is the abstract origin/destination/parcel description the
// candidate builder turns into concrete carrier request bodies.
type QuoteRequest struct {
	Origin      Address
	Destination Address
	Parcels     []Parcel
}

// Placeholder contact values. The carrier rejects addresses whose required
// contact fields are empty, even when the business has no real value yet.
const (
	placeholderOriginName   = "IMPETUS"
	placeholderCustomerName = "Cliente IMPETUS"
	placeholderPhone        = "5511111111"
)

// BuildCandidates produces the ordered list of structurally distinct request
// bodies to try against the carrier's quote endpoint. The order reflects
// observed acceptance likelihood and must stay fixed: callers depend on
// candidate indexes being reproducible.
func BuildCandidates(req QuoteRequest) []map[string]any {
	parcelsWeightUnit := buildParcels(req.Parcels, false)
	parcelsMassUnit := buildParcels(req.Parcels, true)
	addressFrom := buildLegacyOrigin(req.Origin)
	addressTo := buildLegacyDestination(req.Destination)
	addressFromV1 := buildAddressV1(req.Origin, false)
	addressToV1 := buildAddressV1(req.Destination, true)

	candidates := []map[string]any{
		{
			"quotation": map[string]any{
				"address_from": addressFromV1,
				"address_to":   addressToV1,
				"parcels":      parcelsMassUnit,
			},
		},
		{
			"quotation": map[string]any{
				"address_from": addressFromV1,
				"address_to":   addressToV1,
				"parcels":      parcelsWeightUnit,
			},
		},
		{
			"address_from": addressFromV1,
			"address_to":   addressToV1,
			"parcels":      parcelsMassUnit,
		},
		{
			"address_from": addressFromV1,
			"address_to":   addressToV1,
			"parcels":      parcelsWeightUnit,
		},
		rawPayload(req),
		{
			"origin":      looseAddress(req.Origin),
			"destination": looseAddress(req.Destination),
			"parcels":     parcelsMassUnit,
		},
		{
			"address_from": addressFrom,
			"address_to":   addressTo,
			"parcels":      parcelsMassUnit,
		},
		{
			"shipment": map[string]any{
				"address_from": addressFrom,
				"address_to":   addressTo,
				"parcels":      parcelsMassUnit,
			},
		},
		{
			"address_from": map[string]any{
				"zip":     addressFrom["zip"],
				"country": addressFrom["country"],
			},
			"address_to": map[string]any{
				"zip":     addressTo["zip"],
				"country": addressTo["country"],
			},
			"parcels": parcelsWeightUnit,
		},
	}

	out := make([]map[string]any, len(candidates))
	for i, candidate := range candidates {
		out[i] = sanitizeTree(candidate).(map[string]any)
	}
	return out
}

// rawPayload is the verbatim passthrough candidate: the quote request in its
// loose caller-facing shape, sanitized but otherwise untouched.
func rawPayload(req QuoteRequest) map[string]any {
	return map[string]any{
		"origin":      looseAddress(req.Origin),
		"destination": looseAddress(req.Destination),
		"parcels":     buildParcels(req.Parcels, false),
	}
}

func buildParcels(parcels []Parcel, useMassUnit bool) []any {
	out := make([]any, 0, len(parcels))
	for _, p := range parcels {
		distanceUnit := p.DistanceUnit
		if distanceUnit == "" {
			distanceUnit = "cm"
		}
		weightUnit := p.WeightUnit
		if weightUnit == "" {
			weightUnit = "kg"
		}

		parcel := map[string]any{
			"weight": p.Weight,
			"length": p.Length,
			"width":  p.Width,
			"height": p.Height,
		}
		if useMassUnit {
			parcel["distance_unit"] = strings.ToUpper(distanceUnit)
			parcel["mass_unit"] = strings.ToUpper(weightUnit)
		} else {
			parcel["distance_unit"] = strings.ToLower(distanceUnit)
			parcel["weight_unit"] = strings.ToLower(weightUnit)
		}
		out = append(out, parcel)
	}
	return out
}

func buildStreet(a Address) string {
	parts := make([]string, 0, 2)
	if a.Street != "" {
		parts = append(parts, a.Street)
	}
	if a.Number != "" {
		parts = append(parts, a.Number)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func areaLevel(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "N/A"
	}
	return value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// buildLegacyOrigin maps the origin address onto the carrier's older
// zip/country field naming.
func buildLegacyOrigin(origin Address) map[string]any {
	return map[string]any{
		"name":         firstNonEmpty(origin.Name, placeholderOriginName),
		"company":      firstNonEmpty(origin.Company, placeholderOriginName),
		"phone":        firstNonEmpty(origin.Phone, placeholderPhone),
		"email":        origin.Email,
		"zip":          origin.PostalCode,
		"country":      firstNonEmpty(origin.CountryCode, "MX"),
		"province":     origin.State,
		"city":         origin.City,
		"neighborhood": origin.Colony,
		"address1":     buildStreet(origin),
		"reference":    origin.Colony,
	}
}

func buildLegacyDestination(destination Address) map[string]any {
	return map[string]any{
		"name":         firstNonEmpty(destination.Name, placeholderCustomerName),
		"company":      destination.Company,
		"phone":        firstNonEmpty(destination.Phone, placeholderPhone),
		"email":        destination.Email,
		"zip":          destination.PostalCode,
		"country":      firstNonEmpty(destination.CountryCode, "MX"),
		"province":     destination.State,
		"city":         destination.City,
		"neighborhood": destination.Colony,
		"address1":     buildStreet(destination),
		"reference":    destination.Reference,
	}
}

// buildAddressV1 maps an address onto the carrier's v1 field naming with
// area levels. Required-but-absent fields get placeholder defaults so the
// payload is structurally complete.
func buildAddressV1(a Address, isDestination bool) map[string]any {
	defaultReference := "Origen IMPETUS"
	defaultCompany := placeholderOriginName
	defaultName := placeholderOriginName
	if isDestination {
		defaultReference = "Cotizacion web"
		defaultCompany = "Cliente"
		defaultName = placeholderCustomerName
	}

	return map[string]any{
		"country_code": firstNonEmpty(a.CountryCode, "MX"),
		"postal_code":  a.PostalCode,
		"area_level1":  areaLevel(a.State),
		"area_level2":  areaLevel(a.City),
		"area_level3":  areaLevel(a.Colony),
		"company":      firstNonEmpty(a.Company, defaultCompany),
		"name":         firstNonEmpty(a.Name, defaultName),
		"phone":        firstNonEmpty(a.Phone, placeholderPhone),
		"email":        a.Email,
		"street1":      firstNonEmpty(buildStreet(a), "N/A"),
		"reference":    firstNonEmpty(a.Reference, a.Colony, defaultReference),
	}
}

// looseAddress is the untranslated caller-facing address shape.
func looseAddress(a Address) map[string]any {
	return map[string]any{
		"name":         a.Name,
		"company":      a.Company,
		"phone":        a.Phone,
		"email":        a.Email,
		"country_code": a.CountryCode,
		"postal_code":  a.PostalCode,
		"state":        a.State,
		"city":         a.City,
		"colony":       a.Colony,
		"street":       a.Street,
		"number":       a.Number,
		"reference":    a.Reference,
	}
}
