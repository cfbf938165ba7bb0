package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/impetus-mx/storefront-api/internal/catalog"
	"github.com/impetus-mx/storefront-api/internal/config"
	"github.com/impetus-mx/storefront-api/internal/model"
	"github.com/impetus-mx/storefront-api/internal/quote"
	"github.com/impetus-mx/storefront-api/internal/shipping"
	"github.com/impetus-mx/storefront-api/internal/store"
	"github.com/impetus-mx/storefront-api/pkg/skydropx"
	"github.com/impetus-mx/storefront-api/pkg/stripe"
)

const maxBodyBytes = 1 << 20

// Quoter runs the shipping quote pipeline against the carrier.
type Quoter interface {
	Quote(ctx context.Context, req shipping.QuoteRequest) (*shipping.Result, error)
}

// Server holds the wired dependencies behind the HTTP surface.
type Server struct {
	cfg      *config.Config
	catalog  *catalog.Catalog
	quoter   Quoter
	quotes   *quote.Store
	payments stripe.Client
	carrier  skydropx.Client
	orders   store.Store
}

func NewServer(cfg *config.Config, cat *catalog.Catalog, quoter Quoter, quotes *quote.Store, payments stripe.Client, carrier skydropx.Client, orders store.Store) *Server {
	return &Server{
		cfg:      cfg,
		catalog:  cat,
		quoter:   quoter,
		quotes:   quotes,
		payments: payments,
		carrier:  carrier,
		orders:   orders,
	}
}

// Router builds the chi router with CORS and request logging.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	allowed := s.cfg.Server.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Stripe-Signature"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/api/shipping-quote", s.handleShippingQuote)
	r.Post("/api/checkout-session", s.handleCheckoutSession)
	r.Post("/api/stripe-webhook", s.handleStripeWebhook)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type shippingQuoteRequest struct {
	PostalCode string           `json:"postal_code"`
	Items      []model.CartItem `json:"items"`
}

type shippingQuoteResponse struct {
	QuoteID    string                   `json:"quote_id"`
	QuoteToken string                   `json:"quote_token"`
	ExpiresAt  int64                    `json:"expires_at"`
	TTLMillis  int64                    `json:"ttl_ms"`
	Options    []model.NormalizedOption `json:"options"`
}

func (s *Server) handleShippingQuote(w http.ResponseWriter, r *http.Request) {
	var req shippingQuoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	postalCode, err := validatePostalCode(req.PostalCode)
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := validateItems(req.Items, s.catalog)
	if err != nil {
		writeError(w, err)
		return
	}

	weightGrams, err := s.catalog.OrderWeightGrams(items)
	if err != nil {
		writeError(w, &ValidationError{Message: "El carrito contiene articulos no disponibles."})
		return
	}

	result, err := s.quoter.Quote(r.Context(), s.buildQuoteRequest(postalCode, weightGrams))
	if err != nil {
		writeError(w, err)
		return
	}
	if len(result.Options) == 0 {
		writeError(w, &NoOptionsError{})
		return
	}

	snapshot := model.QuoteSnapshot{
		PostalCode:       postalCode,
		Items:            items,
		TotalWeightGrams: weightGrams,
		Options:          result.Options,
	}
	stored, token, err := s.quotes.Put(snapshot)
	if err != nil {
		writeError(w, eris.Wrap(err, "api: store quote"))
		return
	}

	zap.L().Info("shipping quote served",
		zap.String("postal_code", postalCode),
		zap.Int("options", len(result.Options)),
		zap.Int("strict", result.StrictCount),
		zap.Int("fallback", result.FallbackCount),
		zap.Int("candidate", result.CandidateIndex),
	)

	writeJSON(w, http.StatusOK, shippingQuoteResponse{
		QuoteID:    stored.QuoteID,
		QuoteToken: token,
		ExpiresAt:  stored.ExpiresAt,
		TTLMillis:  quote.TTL.Milliseconds(),
		Options:    stored.Options,
	})
}

// buildQuoteRequest shapes the carrier request from the configured origin and
// the cart weight. Weight travels in kilograms rounded to three decimals.
func (s *Server) buildQuoteRequest(postalCode string, weightGrams int) shipping.QuoteRequest {
	origin := s.cfg.Skydropx.Origin
	weightKg := math.Round(float64(weightGrams)/1000*1000) / 1000

	return shipping.QuoteRequest{
		Origin: shipping.Address{
			Name:        origin.Name,
			Company:     origin.Company,
			Phone:       origin.Phone,
			Email:       origin.Email,
			CountryCode: origin.CountryCode,
			PostalCode:  origin.PostalCode,
			State:       origin.State,
			City:        origin.City,
			Colony:      origin.Colony,
			Street:      origin.Street,
			Number:      origin.Number,
		},
		Destination: shipping.Address{
			CountryCode: "MX",
			PostalCode:  postalCode,
		},
		Parcels: []shipping.Parcel{{
			Weight: weightKg,
			Length: s.cfg.Parcel.LengthCM,
			Width:  s.cfg.Parcel.WidthCM,
			Height: s.cfg.Parcel.HeightCM,
		}},
	}
}

type checkoutSessionRequest struct {
	Items      []model.CartItem `json:"items"`
	QuoteID    string           `json:"quote_id"`
	QuoteToken string           `json:"quote_token"`
	OptionID   string           `json:"option_id"`
}

func (s *Server) handleCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req checkoutSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	items, err := validateItems(req.Items, s.catalog)
	if err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.OptionID) == "" {
		writeError(w, &ValidationError{Message: "Selecciona una opcion de envio."})
		return
	}

	snap := s.lookupSnapshot(req.QuoteID, req.QuoteToken)
	if snap == nil {
		writeError(w, &QuoteMismatchError{
			Message:   "La cotizacion de envio expiro. Vuelve a cotizar el envio.",
			DebugCode: "QUOTE_NOT_FOUND",
		})
		return
	}

	if model.CartSignature(items) != model.CartSignature(snap.Items) {
		writeError(w, &QuoteMismatchError{
			Message:   "El carrito cambio desde la cotizacion. Vuelve a cotizar el envio.",
			DebugCode: "QUOTE_MISMATCH",
		})
		return
	}

	option, ok := snap.OptionByID(req.OptionID)
	if !ok {
		writeError(w, &QuoteMismatchError{
			Message:   "La opcion de envio seleccionada no es valida.",
			DebugCode: "OPTION_NOT_FOUND",
		})
		return
	}
	if !option.Selectable {
		writeError(w, &QuoteMismatchError{
			Message:   "La opcion de envio seleccionada no esta disponible para compra.",
			DebugCode: "OPTION_NOT_SELECTABLE",
		})
		return
	}

	lineItems := make([]stripe.LineItem, 0, len(items)+1)
	for _, item := range items {
		lineItems = append(lineItems, stripe.LineItem{
			PriceID:  item.PriceID,
			Quantity: item.Quantity,
		})
	}
	lineItems = append(lineItems, stripe.LineItem{
		Name:           fmt.Sprintf("Envio %s %s", option.Provider, option.Service),
		AmountCentavos: int64(math.Round(option.PriceMXN * 100)),
		Currency:       "mxn",
		Quantity:       1,
	})

	itemsJSON, _ := json.Marshal(items)
	// Stripe caps metadata values at 500 characters.
	if len(itemsJSON) > 500 {
		itemsJSON = itemsJSON[:500]
	}
	base := strings.TrimRight(s.cfg.Stripe.PublicBaseURL, "/")

	session, err := s.payments.CreateCheckoutSession(r.Context(), stripe.CheckoutSessionParams{
		SuccessURL: base + "/success.html?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  base + "/cancel.html",
		LineItems:  lineItems,
		Metadata: map[string]string{
			"items":        string(itemsJSON),
			"quote_id":     snap.QuoteID,
			"option_id":    option.OptionID,
			"quotation_id": option.QuotationID,
		},
	})
	if err != nil {
		writeError(w, eris.Wrap(err, "api: create checkout session"))
		return
	}

	zap.L().Info("checkout session created",
		zap.String("session_id", session.ID),
		zap.String("quote_id", snap.QuoteID),
		zap.String("option_id", option.OptionID),
	)

	writeJSON(w, http.StatusOK, map[string]string{"url": session.URL})
}

// lookupSnapshot tries the server-side store first and falls back to the
// self-contained signed token.
func (s *Server) lookupSnapshot(quoteID, token string) *model.QuoteSnapshot {
	if quoteID != "" {
		if snap, ok := s.quotes.Get(quoteID); ok {
			return snap
		}
	}
	if token != "" {
		if snap, ok := s.quotes.Get(token); ok {
			return snap
		}
	}
	return nil
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, &ValidationError{Message: "No se pudo leer el cuerpo de la peticion."})
		return
	}

	event, err := stripe.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), s.cfg.Stripe.WebhookSecret)
	if err != nil {
		zap.L().Warn("webhook signature rejected", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error:     "Firma de webhook invalida.",
			DebugCode: "WEBHOOK_SIGNATURE_INVALID",
		})
		return
	}

	if event.Type == "checkout.session.completed" {
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			zap.L().Error("webhook session decode failed", zap.Error(err))
		} else if session.PaymentStatus == "paid" {
			s.recordPaidSession(r.Context(), &session)
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// recordPaidSession persists the order exactly once per session and then
// attempts to book the shipment. Booking failures are recorded, never
// surfaced to Stripe: the webhook already acknowledged the event.
func (s *Server) recordPaidSession(ctx context.Context, session *stripe.CheckoutSession) {
	existing, err := s.orders.GetOrderBySessionID(ctx, session.ID)
	if err != nil {
		zap.L().Error("order lookup failed", zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	if existing != nil {
		zap.L().Info("order already recorded", zap.String("session_id", session.ID))
		return
	}

	quotationID := session.Metadata["quotation_id"]
	order := model.Order{
		SessionID:     session.ID,
		AmountTotal:   session.AmountTotal,
		Currency:      session.Currency,
		CustomerEmail: session.CustomerDetails.Email,
		Status:        model.OrderStatusPaid,
		ItemsJSON:     session.Metadata["items"],
		QuotationID:   quotationID,
	}
	if err := s.orders.InsertOrder(ctx, order); err != nil {
		zap.L().Error("order insert failed", zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	zap.L().Info("order recorded",
		zap.String("session_id", session.ID),
		zap.Int64("amount_total", session.AmountTotal),
	)

	if quotationID == "" {
		zap.L().Warn("paid session has no quotation id", zap.String("session_id", session.ID))
		return
	}

	_, err = s.carrier.CreateShipment(ctx, map[string]any{"quotation_id": quotationID})
	status := model.OrderStatusShipmentCreated
	if err != nil {
		status = model.OrderStatusShipmentFailed
		zap.L().Error("shipment booking failed",
			zap.String("session_id", session.ID),
			zap.String("quotation_id", quotationID),
			zap.Error(err),
		)
	} else {
		zap.L().Info("shipment booked",
			zap.String("session_id", session.ID),
			zap.String("quotation_id", quotationID),
		)
	}
	if err := s.orders.UpdateOrderStatus(ctx, session.ID, status); err != nil {
		zap.L().Error("order status update failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}

func decodeJSON(r *http.Request, dst any) error {
	body := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return &ValidationError{Message: "El cuerpo de la peticion no es JSON valido."}
	}
	return nil
}
