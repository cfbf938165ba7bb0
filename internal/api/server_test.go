package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/impetus-mx/storefront-api/internal/catalog"
	"github.com/impetus-mx/storefront-api/internal/config"
	"github.com/impetus-mx/storefront-api/internal/model"
	"github.com/impetus-mx/storefront-api/internal/quote"
	"github.com/impetus-mx/storefront-api/internal/shipping"
	"github.com/impetus-mx/storefront-api/pkg/skydropx"
	"github.com/impetus-mx/storefront-api/pkg/stripe"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const testWebhookSecret = "whsec_test"

type fakeQuoter struct {
	result *shipping.Result
	err    error
	gotReq shipping.QuoteRequest
}

func (f *fakeQuoter) Quote(ctx context.Context, req shipping.QuoteRequest) (*shipping.Result, error) {
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakePayments struct {
	params  stripe.CheckoutSessionParams
	session *stripe.CheckoutSession
	err     error
}

func (f *fakePayments) CreateCheckoutSession(ctx context.Context, params stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type fakeCarrier struct {
	shipments   []any
	shipmentErr error
}

func (f *fakeCarrier) Quote(ctx context.Context, payload any) (any, error) {
	return nil, nil
}

func (f *fakeCarrier) CreateShipment(ctx context.Context, payload any) (any, error) {
	f.shipments = append(f.shipments, payload)
	if f.shipmentErr != nil {
		return nil, f.shipmentErr
	}
	return map[string]any{"id": "shp_1"}, nil
}

type memOrderStore struct {
	orders map[string]model.Order
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: map[string]model.Order{}}
}

func (s *memOrderStore) InsertOrder(ctx context.Context, order model.Order) error {
	s.orders[order.SessionID] = order
	return nil
}

func (s *memOrderStore) GetOrderBySessionID(ctx context.Context, sessionID string) (*model.Order, error) {
	order, ok := s.orders[sessionID]
	if !ok {
		return nil, nil
	}
	return &order, nil
}

func (s *memOrderStore) UpdateOrderStatus(ctx context.Context, sessionID string, status model.OrderStatus) error {
	order := s.orders[sessionID]
	order.Status = status
	s.orders[sessionID] = order
	return nil
}

func (s *memOrderStore) Migrate(ctx context.Context) error { return nil }
func (s *memOrderStore) Close() error                      { return nil }

type testEnv struct {
	server   *Server
	router   http.Handler
	quoter   *fakeQuoter
	payments *fakePayments
	carrier  *fakeCarrier
	orders   *memOrderStore
	quotes   *quote.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Skydropx: config.SkydropxConfig{
			Origin: config.OriginConfig{
				Name:        "IMPETUS",
				CountryCode: "MX",
				PostalCode:  "91000",
				State:       "Veracruz",
				City:        "Xalapa",
			},
		},
		Stripe: config.StripeConfig{
			SecretKey:     "sk_test",
			WebhookSecret: testWebhookSecret,
			PublicBaseURL: "https://shop.example",
		},
		Parcel: config.ParcelConfig{LengthCM: 28, WidthCM: 20, HeightCM: 12},
		Server: config.ServerConfig{Port: 0},
	}

	quotes := quote.NewStore("test-signing-secret")
	t.Cleanup(quotes.Close)

	env := &testEnv{
		quoter:   &fakeQuoter{},
		payments: &fakePayments{},
		carrier:  &fakeCarrier{},
		orders:   newMemOrderStore(),
		quotes:   quotes,
	}
	env.server = NewServer(cfg, catalog.MustLoad(), env.quoter, quotes, env.payments, env.carrier, env.orders)
	env.router = env.server.Router()
	return env
}

func (env *testEnv) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func sampleOptions() []model.NormalizedOption {
	days := 2
	return []model.NormalizedOption{
		{
			OptionID:      "r1",
			Provider:      "DHL",
			Service:       "Express",
			PriceMXN:      245.5,
			EstimatedDays: &days,
			QuotationID:   "q9",
			Quality:       model.QualityStrict,
			Selectable:    true,
		},
		{
			OptionID:    "fb_abc123",
			Provider:    "Proveedor",
			Service:     "Servicio estándar",
			PriceMXN:    199,
			QuotationID: "q9",
			Quality:     model.QualityFallback,
			Selectable:  false,
			Warnings:    []string{model.WarnInsufficientMetadata},
		},
	}
}

func quoteResult() *shipping.Result {
	options := sampleOptions()
	return &shipping.Result{
		Options:         options,
		StrictCount:     1,
		FallbackCount:   1,
		SourceCount:     2,
		NormalizedCount: 2,
	}
}

func validItems() []model.CartItem {
	return []model.CartItem{{PriceID: "price_catuai_500g", Quantity: 2}}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestShippingQuote_Success(t *testing.T) {
	env := newTestEnv(t)
	env.quoter.result = quoteResult()

	rec := env.post(t, "/api/shipping-quote", map[string]any{
		"postal_code": "06600",
		"items":       validItems(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp shippingQuoteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.NotEmpty(t, resp.QuoteID)
	assert.NotEmpty(t, resp.QuoteToken)
	assert.Equal(t, quote.TTL.Milliseconds(), resp.TTLMillis)
	assert.Greater(t, resp.ExpiresAt, time.Now().UnixMilli())
	require.Len(t, resp.Options, 2)
	assert.Equal(t, "r1", resp.Options[0].OptionID)

	// The quote request carried the configured origin and the cart weight
	// in kilograms.
	assert.Equal(t, "91000", env.quoter.gotReq.Origin.PostalCode)
	assert.Equal(t, "06600", env.quoter.gotReq.Destination.PostalCode)
	require.Len(t, env.quoter.gotReq.Parcels, 1)
	assert.Equal(t, 1.0, env.quoter.gotReq.Parcels[0].Weight)
}

func TestShippingQuote_InvalidPostalCode(t *testing.T) {
	env := newTestEnv(t)

	for _, code := range []string{"", "1234", "123456", "ABCDE", "12 45"} {
		rec := env.post(t, "/api/shipping-quote", map[string]any{
			"postal_code": code,
			"items":       validItems(),
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "postal code %q", code)
		assert.Equal(t, "VALIDATION_ERROR", decodeErrorBody(t, rec).DebugCode)
	}
}

func TestShippingQuote_ItemValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		items []model.CartItem
	}{
		{"empty cart", nil},
		{"unknown price", []model.CartItem{{PriceID: "price_fake", Quantity: 1}}},
		{"zero quantity", []model.CartItem{{PriceID: "price_catuai_500g", Quantity: 0}}},
		{"excess quantity", []model.CartItem{{PriceID: "price_catuai_500g", Quantity: 100}}},
		{"blank price id", []model.CartItem{{PriceID: "  ", Quantity: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.post(t, "/api/shipping-quote", map[string]any{
				"postal_code": "06600",
				"items":       tt.items,
			})
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "VALIDATION_ERROR", decodeErrorBody(t, rec).DebugCode)
		})
	}
}

func TestShippingQuote_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/shipping-quote", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestShippingQuote_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			"credentials missing",
			skydropx.ErrCredentialsMissing,
			http.StatusInternalServerError,
			"SKYDROPX_CONFIG_MISSING",
			"No se pudo cotizar el envio por configuracion del servidor.",
		},
		{
			"auth failed",
			&skydropx.AuthError{StatusCode: 403, URL: "https://pro.skydropx.com/api/v1/oauth/token"},
			http.StatusBadGateway,
			"SKYDROPX_AUTH_FAILED",
			"No se pudo cotizar el envio en este momento. Intenta nuevamente.",
		},
		{
			"quotation failed",
			&skydropx.RequestError{StatusCode: 500, URL: "https://pro.skydropx.com/api/v1/quotations"},
			http.StatusBadGateway,
			"SKYDROPX_QUOTATION_FAILED",
			"No se pudo cotizar el envio para este codigo postal por ahora. Intenta nuevamente.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.quoter.err = tt.err

			rec := env.post(t, "/api/shipping-quote", map[string]any{
				"postal_code": "06600",
				"items":       validItems(),
			})
			assert.Equal(t, tt.wantStatus, rec.Code)

			body := decodeErrorBody(t, rec)
			assert.Equal(t, tt.wantCode, body.DebugCode)
			assert.Equal(t, tt.wantMsg, body.Error)
			// The carrier URL never leaks into the client payload.
			assert.NotContains(t, rec.Body.String(), "skydropx.com")
		})
	}
}

func TestShippingQuote_NoOptions(t *testing.T) {
	env := newTestEnv(t)
	env.quoter.result = &shipping.Result{}

	rec := env.post(t, "/api/shipping-quote", map[string]any{
		"postal_code": "06600",
		"items":       validItems(),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NO_SHIPPING_OPTIONS", decodeErrorBody(t, rec).DebugCode)
}

func createQuote(t *testing.T, env *testEnv) (string, string) {
	t.Helper()
	snapshot := model.QuoteSnapshot{
		PostalCode:       "06600",
		Items:            validItems(),
		TotalWeightGrams: 1000,
		Options:          sampleOptions(),
	}
	stored, token, err := env.quotes.Put(snapshot)
	require.NoError(t, err)
	return stored.QuoteID, token
}

func TestCheckoutSession_Success(t *testing.T) {
	env := newTestEnv(t)
	env.payments.session = &stripe.CheckoutSession{
		ID:  "cs_1",
		URL: "https://checkout.stripe.com/c/pay/cs_1",
	}
	quoteID, _ := createQuote(t, env)

	rec := env.post(t, "/api/checkout-session", map[string]any{
		"items":     validItems(),
		"quote_id":  quoteID,
		"option_id": "r1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"url":"https://checkout.stripe.com/c/pay/cs_1"}`, rec.Body.String())

	params := env.payments.params
	require.Len(t, params.LineItems, 2)
	assert.Equal(t, "price_catuai_500g", params.LineItems[0].PriceID)
	assert.Equal(t, 2, params.LineItems[0].Quantity)

	shippingLine := params.LineItems[1]
	assert.Empty(t, shippingLine.PriceID)
	assert.Equal(t, "Envio DHL Express", shippingLine.Name)
	assert.Equal(t, int64(24550), shippingLine.AmountCentavos)
	assert.Equal(t, 1, shippingLine.Quantity)

	assert.Equal(t, "q9", params.Metadata["quotation_id"])
	assert.Equal(t, "r1", params.Metadata["option_id"])
	assert.Equal(t, quoteID, params.Metadata["quote_id"])
	assert.Contains(t, params.SuccessURL, "https://shop.example/success.html")
	assert.Equal(t, "https://shop.example/cancel.html", params.CancelURL)
}

func TestCheckoutSession_TokenPath(t *testing.T) {
	env := newTestEnv(t)
	env.payments.session = &stripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/c/pay/cs_1"}
	_, token := createQuote(t, env)

	rec := env.post(t, "/api/checkout-session", map[string]any{
		"items":       validItems(),
		"quote_token": token,
		"option_id":   "r1",
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCheckoutSession_UnknownQuote(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/api/checkout-session", map[string]any{
		"items":     validItems(),
		"quote_id":  "quote_missing",
		"option_id": "r1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "QUOTE_NOT_FOUND", decodeErrorBody(t, rec).DebugCode)
}

func TestCheckoutSession_CartMismatch(t *testing.T) {
	env := newTestEnv(t)
	quoteID, _ := createQuote(t, env)

	rec := env.post(t, "/api/checkout-session", map[string]any{
		"items":     []model.CartItem{{PriceID: "price_catuai_500g", Quantity: 3}},
		"quote_id":  quoteID,
		"option_id": "r1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "QUOTE_MISMATCH", decodeErrorBody(t, rec).DebugCode)
}

func TestCheckoutSession_UnknownOption(t *testing.T) {
	env := newTestEnv(t)
	quoteID, _ := createQuote(t, env)

	rec := env.post(t, "/api/checkout-session", map[string]any{
		"items":     validItems(),
		"quote_id":  quoteID,
		"option_id": "r999",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "OPTION_NOT_FOUND", decodeErrorBody(t, rec).DebugCode)
}

func TestCheckoutSession_NonSelectableOption(t *testing.T) {
	env := newTestEnv(t)
	quoteID, _ := createQuote(t, env)

	rec := env.post(t, "/api/checkout-session", map[string]any{
		"items":     validItems(),
		"quote_id":  quoteID,
		"option_id": "fb_abc123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "OPTION_NOT_SELECTABLE", decodeErrorBody(t, rec).DebugCode)
}

func TestCheckoutSession_MissingOptionID(t *testing.T) {
	env := newTestEnv(t)
	quoteID, _ := createQuote(t, env)

	rec := env.post(t, "/api/checkout-session", map[string]any{
		"items":    validItems(),
		"quote_id": quoteID,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", decodeErrorBody(t, rec).DebugCode)
}

func signWebhook(payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func (env *testEnv) postWebhook(t *testing.T, payload []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/stripe-webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signature)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func paidSessionPayload(sessionID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": %q,
			"payment_status": "paid",
			"amount_total": 74550,
			"currency": "mxn",
			"customer_details": {"email": "cliente@example.com"},
			"metadata": {
				"quotation_id": "q9",
				"items": "[{\"priceId\":\"price_catuai_500g\",\"quantity\":2}]"
			}
		}}
	}`, sessionID))
}

func TestWebhook_InvalidSignature(t *testing.T) {
	env := newTestEnv(t)

	payload := paidSessionPayload("cs_1")
	rec := env.postWebhook(t, payload, "t=123,v1=deadbeef")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "WEBHOOK_SIGNATURE_INVALID", decodeErrorBody(t, rec).DebugCode)
	assert.Empty(t, env.orders.orders)
}

func TestWebhook_PaidSessionRecordsOrderAndBooksShipment(t *testing.T) {
	env := newTestEnv(t)

	payload := paidSessionPayload("cs_1")
	rec := env.postWebhook(t, payload, signWebhook(payload, time.Now()))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true}`, rec.Body.String())

	order, ok := env.orders.orders["cs_1"]
	require.True(t, ok)
	assert.Equal(t, int64(74550), order.AmountTotal)
	assert.Equal(t, "cliente@example.com", order.CustomerEmail)
	assert.Equal(t, "q9", order.QuotationID)
	assert.Equal(t, model.OrderStatusShipmentCreated, order.Status)

	require.Len(t, env.carrier.shipments, 1)
	assert.Equal(t, map[string]any{"quotation_id": "q9"}, env.carrier.shipments[0])
}

func TestWebhook_DuplicateDeliveryIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	payload := paidSessionPayload("cs_1")
	env.postWebhook(t, payload, signWebhook(payload, time.Now()))
	rec := env.postWebhook(t, payload, signWebhook(payload, time.Now()))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.carrier.shipments, 1)
}

func TestWebhook_ShipmentFailureMarksOrder(t *testing.T) {
	env := newTestEnv(t)
	env.carrier.shipmentErr = &skydropx.RequestError{StatusCode: 422}

	payload := paidSessionPayload("cs_1")
	rec := env.postWebhook(t, payload, signWebhook(payload, time.Now()))

	// The webhook still acknowledges: booking failures are an operational
	// concern, not Stripe's.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.OrderStatusShipmentFailed, env.orders.orders["cs_1"].Status)
}

func TestWebhook_UnpaidSessionIgnored(t *testing.T) {
	env := newTestEnv(t)

	payload := []byte(`{
		"id": "evt_1",
		"type": "checkout.session.completed",
		"data": {"object": {"id": "cs_1", "payment_status": "unpaid"}}
	}`)
	rec := env.postWebhook(t, payload, signWebhook(payload, time.Now()))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.orders.orders)
	assert.Empty(t, env.carrier.shipments)
}

func TestWebhook_OtherEventTypesAcknowledged(t *testing.T) {
	env := newTestEnv(t)

	payload := []byte(`{"id":"evt_2","type":"payment_intent.created","data":{"object":{}}}`)
	rec := env.postWebhook(t, payload, signWebhook(payload, time.Now()))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.orders.orders)
}
