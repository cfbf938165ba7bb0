package api

import (
	"regexp"
	"strings"

	"github.com/impetus-mx/storefront-api/internal/catalog"
	"github.com/impetus-mx/storefront-api/internal/model"
)

var postalCodePattern = regexp.MustCompile(`^\d{5}$`)

const maxItemQuantity = 99

// validatePostalCode requires a 5-digit Mexican ZIP, whitespace-trimmed.
func validatePostalCode(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if !postalCodePattern.MatchString(code) {
		return "", &ValidationError{Message: "El codigo postal debe tener 5 digitos."}
	}
	return code, nil
}

// validateItems checks the cart against the published catalog: every priceId
// must be allowed and quantities must fall in [1, 99].
func validateItems(items []model.CartItem, cat *catalog.Catalog) ([]model.CartItem, error) {
	if len(items) == 0 {
		return nil, &ValidationError{Message: "El carrito esta vacio."}
	}

	cleaned := make([]model.CartItem, 0, len(items))
	for _, item := range items {
		priceID := strings.TrimSpace(item.PriceID)
		if priceID == "" {
			return nil, &ValidationError{Message: "Cada articulo debe incluir un priceId."}
		}
		if !cat.Allows(priceID) {
			return nil, validationErrorf("El articulo %s no esta disponible.", priceID)
		}
		if item.Quantity < 1 || item.Quantity > maxItemQuantity {
			return nil, validationErrorf("Cantidad invalida para %s.", priceID)
		}
		cleaned = append(cleaned, model.CartItem{PriceID: priceID, Quantity: item.Quantity})
	}
	return cleaned, nil
}
