package model

import (
	"sort"
	"strconv"
	"strings"
)

// CartItem is a single storefront cart line: a catalog price id plus quantity.
type CartItem struct {
	PriceID  string `json:"priceId"`
	Quantity int    `json:"quantity"`
}

// QuoteSnapshot is a frozen shipping quotation: the cart it was computed for,
// the total weight and the normalized options offered. A snapshot is
// referenced at checkout time by quote id or by its signed token.
type QuoteSnapshot struct {
	PostalCode       string             `json:"postal_code"`
	Items            []CartItem         `json:"items"`
	TotalWeightGrams int                `json:"total_weight_grams"`
	Options          []NormalizedOption `json:"options"`
	QuoteID          string             `json:"quote_id"`
	ExpiresAt        int64              `json:"expires_at"` // epoch milliseconds
}

// OptionByID returns the snapshot option with the given option id.
func (s *QuoteSnapshot) OptionByID(optionID string) (*NormalizedOption, bool) {
	for i := range s.Options {
		if s.Options[i].OptionID == optionID {
			return &s.Options[i], true
		}
	}
	return nil, false
}

// CartSignature derives a canonical signature for a list of cart items:
// "priceId:quantity" pairs sorted lexicographically and joined with commas.
// Checkout uses it to verify a cart byte-for-byte against a stored quote.
func CartSignature(items []CartItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, item.PriceID+":"+strconv.Itoa(item.Quantity))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
