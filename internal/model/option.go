package model

// Quality classifies how much of a shipping option's identity was recovered
// from genuine carrier fields versus defaulted or synthesized values.
type Quality string

const (
	// QualityStrict means the option id came from a real carrier identifier
	// and both provider and service were resolved from real fields.
	QualityStrict Quality = "strict"
	// QualityFallback means at least one identity field was defaulted or the
	// option id was synthesized.
	QualityFallback Quality = "fallback"
)

// Warning codes recorded on normalized options.
const (
	WarnMissingOptionIDOriginal = "missing_option_id_original"
	WarnMissingProvider         = "missing_provider"
	WarnMissingService          = "missing_service"
	WarnInsufficientMetadata    = "insufficient_metadata_for_checkout"
)

// NormalizedOption is the canonical shipping rate option surfaced to the
// storefront. It is the contract between the quote engine, the snapshot
// store and the checkout flow.
type NormalizedOption struct {
	OptionID         string   `json:"option_id"`
	Provider         string   `json:"provider"`
	Service          string   `json:"service"`
	PriceMXN         float64  `json:"price_mxn"`
	EstimatedDays    *int     `json:"estimated_days"`
	EstimatedMinDays *int     `json:"estimated_min_days"`
	EstimatedMaxDays *int     `json:"estimated_max_days"`
	EstimatedText    *string  `json:"estimated_text"`
	QuotationID      string   `json:"quotation_id"`
	Quality          Quality  `json:"quality"`
	Selectable       bool     `json:"selectable"`
	Warnings         []string `json:"warnings,omitempty"`
}
