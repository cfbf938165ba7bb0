// Package stripe provides a minimal client for the payment provider's
// checkout-session API plus webhook signature verification.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.stripe.com"

// apiVersion pins the provider API version for reproducible payloads.
const apiVersion = "2023-10-16"

// Client defines the payment operations used by the storefront.
type Client interface {
	// CreateCheckoutSession creates a hosted payment session and returns the
	// redirect URL the storefront sends the customer to.
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)
}

// LineItem is one purchasable line on a checkout session. Either PriceID
// references a provider-side price, or Name/AmountCentavos describe an
// ad-hoc amount (used for the shipping charge).
type LineItem struct {
	PriceID        string
	Quantity       int
	Name           string
	AmountCentavos int64
	Currency       string
}

// CheckoutSessionParams describes the session to create.
type CheckoutSessionParams struct {
	SuccessURL string
	CancelURL  string
	LineItems  []LineItem
	Metadata   map[string]string
}

// CheckoutSession is the subset of the provider's session object the
// storefront reads.
type CheckoutSession struct {
	ID              string            `json:"id"`
	URL             string            `json:"url"`
	Status          string            `json:"status"`
	PaymentStatus   string            `json:"payment_status"`
	AmountTotal     int64             `json:"amount_total"`
	Currency        string            `json:"currency"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets a custom API base URL (for testing).
func WithBaseURL(base string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(base, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	secretKey string
	baseURL   string
	http      *http.Client
}

// NewClient creates a payment client authenticating with the given secret key.
func NewClient(secretKey string, opts ...Option) Client {
	c := &httpClient{
		secretKey: secretKey,
		baseURL:   defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	if c.secretKey == "" {
		return nil, eris.New("stripe: secret key is not configured")
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)

	for i, item := range params.LineItems {
		prefix := fmt.Sprintf("line_items[%d]", i)
		form.Set(prefix+"[quantity]", strconv.Itoa(item.Quantity))
		if item.PriceID != "" {
			form.Set(prefix+"[price]", item.PriceID)
			continue
		}
		currency := item.Currency
		if currency == "" {
			currency = "mxn"
		}
		form.Set(prefix+"[price_data][currency]", currency)
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(item.AmountCentavos, 10))
		form.Set(prefix+"[price_data][product_data][name]", item.Name)
	}

	for key, value := range params.Metadata {
		form.Set("metadata["+key+"]", value)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "stripe: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Stripe-Version", apiVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "stripe: create checkout session")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "stripe: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("stripe: checkout session failed (%d): %s", resp.StatusCode, truncate(string(body), 500))
	}

	var session CheckoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, eris.Wrap(err, "stripe: decode session")
	}
	if session.URL == "" {
		return nil, eris.New("stripe: session response missing redirect url")
	}
	return &session, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
