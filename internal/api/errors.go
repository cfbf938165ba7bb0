package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/impetus-mx/storefront-api/pkg/skydropx"
)

// ValidationError reports malformed caller input. Its message is surfaced
// verbatim to the client.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// QuoteMismatchError reports a checkout request inconsistent with its stored
// quote: unknown or expired quote, cart signature mismatch, or an invalid
// chosen option.
type QuoteMismatchError struct {
	Message   string
	DebugCode string
}

func (e *QuoteMismatchError) Error() string { return e.Message }

// NoOptionsError reports that the carrier was reachable but produced zero
// usable options after the full retry and candidate policy.
type NoOptionsError struct{}

func (e *NoOptionsError) Error() string {
	return "no shipping options available after quote exhaustion"
}

// errorBody is the wire shape of every API error: a user-facing Spanish
// message plus a stable machine-readable code.
type errorBody struct {
	Error     string `json:"error"`
	DebugCode string `json:"debug_code"`
}

// writeError maps the error taxonomy onto HTTP statuses. Carrier response
// bodies and request URLs stay in server-side logs only.
func writeError(w http.ResponseWriter, err error) {
	status, body := classifyError(err)

	if status >= 500 {
		zap.L().Error("request failed", zap.Error(err))
	} else {
		zap.L().Warn("request rejected", zap.Error(err), zap.String("debug_code", body.DebugCode))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func classifyError(err error) (int, errorBody) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, errorBody{
			Error:     validationErr.Message,
			DebugCode: "VALIDATION_ERROR",
		}
	}

	var mismatchErr *QuoteMismatchError
	if errors.As(err, &mismatchErr) {
		code := mismatchErr.DebugCode
		if code == "" {
			code = "QUOTE_MISMATCH"
		}
		return http.StatusBadRequest, errorBody{
			Error:     mismatchErr.Message,
			DebugCode: code,
		}
	}

	var noOptionsErr *NoOptionsError
	if errors.As(err, &noOptionsErr) {
		return http.StatusNotFound, errorBody{
			Error:     "No hay opciones de envio disponibles para este codigo postal.",
			DebugCode: "NO_SHIPPING_OPTIONS",
		}
	}

	if errors.Is(err, skydropx.ErrCredentialsMissing) {
		// Never reveal which variable is missing.
		return http.StatusInternalServerError, errorBody{
			Error:     "No se pudo cotizar el envio por configuracion del servidor.",
			DebugCode: "SKYDROPX_CONFIG_MISSING",
		}
	}

	var authErr *skydropx.AuthError
	if errors.As(err, &authErr) {
		return http.StatusBadGateway, errorBody{
			Error:     "No se pudo cotizar el envio en este momento. Intenta nuevamente.",
			DebugCode: "SKYDROPX_AUTH_FAILED",
		}
	}

	var requestErr *skydropx.RequestError
	if errors.As(err, &requestErr) {
		return http.StatusBadGateway, errorBody{
			Error:     "No se pudo cotizar el envio para este codigo postal por ahora. Intenta nuevamente.",
			DebugCode: "SKYDROPX_QUOTATION_FAILED",
		}
	}

	return http.StatusInternalServerError, errorBody{
		Error:     "No se pudo procesar la solicitud.",
		DebugCode: "INTERNAL_ERROR",
	}
}
