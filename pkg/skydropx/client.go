// Package skydropx provides an authenticated client for the Skydropx
// shipping rate-quote and shipment API.
package skydropx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the production Skydropx host.
const DefaultBaseURL = "https://pro.skydropx.com"

// tokenExpirySkew is subtracted from the advertised token lifetime so the
// cached token is refreshed before the carrier actually rejects it.
const tokenExpirySkew = 60 * time.Second

// Client defines the Skydropx operations used by the storefront.
type Client interface {
	// Quote posts a rate-quote payload and returns the decoded response body.
	// The response shape is deliberately untyped: it varies across carrier
	// payload variants and is normalized upstream.
	Quote(ctx context.Context, payload any) (any, error)
	// CreateShipment books a physical shipment for a previously quoted rate.
	CreateShipment(ctx context.Context, payload any) (any, error)
}

// Credentials holds the client-credentials grant pair.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Option configures the Skydropx client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = NormalizeBaseURL(url)
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets a per-second rate limit for carrier API calls.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	creds   Credentials
	baseURL string
	http    *http.Client
	limiter *rate.Limiter

	group singleflight.Group

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewClient creates a Skydropx client. The token cache is process-wide state
// owned by this client; construct one at startup and inject it.
func NewClient(creds Credentials, opts ...Option) Client {
	c := &httpClient{
		creds:   creds,
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var legacyHostPattern = regexp.MustCompile(`(?i)^https?://api\.skydropx\.com$`)

// NormalizeBaseURL accepts the carrier host in the loose forms operators put
// in env vars: missing scheme, trailing slashes, a copied /api or /api/v1
// suffix, or the legacy api.skydropx.com host.
func NormalizeBaseURL(raw string) string {
	base := strings.TrimSpace(raw)
	if base == "" {
		return DefaultBaseURL
	}

	if !strings.HasPrefix(strings.ToLower(base), "http://") && !strings.HasPrefix(strings.ToLower(base), "https://") {
		base = "https://" + base
	}

	base = strings.TrimRight(base, "/")

	lower := strings.ToLower(base)
	if strings.HasSuffix(lower, "/api/v1") {
		base = base[:len(base)-len("/api/v1")]
	} else if strings.HasSuffix(lower, "/api") {
		base = base[:len(base)-len("/api")]
	}

	if legacyHostPattern.MatchString(base) {
		return DefaultBaseURL
	}

	return base
}

func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *httpClient) cachedToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.expiresAt) {
		return c.accessToken, true
	}
	return "", false
}

// getToken returns the cached access token, requesting a fresh one when the
// cache is empty, expired, or a forced refresh is requested. Concurrent
// refreshes collapse into a single upstream token request.
func (c *httpClient) getToken(ctx context.Context, forceRefresh bool) (string, error) {
	if !forceRefresh {
		if token, ok := c.cachedToken(); ok {
			return token, nil
		}
	}

	token, err, _ := c.group.Do("token", func() (any, error) {
		if !forceRefresh {
			if token, ok := c.cachedToken(); ok {
				return token, nil
			}
		}
		return c.requestToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

func (c *httpClient) requestToken(ctx context.Context) (string, error) {
	if c.creds.ClientID == "" || c.creds.ClientSecret == "" {
		return "", ErrCredentialsMissing
	}

	tokenURL := c.baseURL + "/api/v1/oauth/token"
	body, err := json.Marshal(map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     c.creds.ClientID,
		"client_secret": c.creds.ClientSecret,
	})
	if err != nil {
		return "", eris.Wrap(err, "skydropx: marshal token request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "skydropx: create token request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &AuthError{URL: tokenURL, Err: err}
	}
	defer resp.Body.Close()

	decoded := safeReadJSON(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &AuthError{StatusCode: resp.StatusCode, URL: tokenURL, Body: decoded}
	}

	payload, _ := decoded.(map[string]any)
	accessToken, _ := payload["access_token"].(string)
	expiresIn := asSeconds(payload["expires_in"])
	if accessToken == "" || expiresIn <= 0 {
		return "", &AuthError{StatusCode: resp.StatusCode, URL: tokenURL, Body: decoded,
			Err: eris.New("skydropx: auth response missing access_token or expires_in")}
	}

	lifetime := max(expiresIn-tokenExpirySkew, time.Second)
	c.mu.Lock()
	c.accessToken = accessToken
	c.expiresAt = time.Now().Add(lifetime)
	c.mu.Unlock()

	return accessToken, nil
}

func asSeconds(v any) time.Duration {
	switch n := v.(type) {
	case float64:
		return time.Duration(n) * time.Second
	case string:
		var f float64
		if err := json.Unmarshal([]byte(n), &f); err == nil {
			return time.Duration(f) * time.Second
		}
	}
	return 0
}

// request issues an authenticated POST. On a 401 with attempt==0 it refreshes
// the token once and retries; a second 401 is surfaced as a RequestError.
func (c *httpClient) request(ctx context.Context, path string, payload any, attempt int) (any, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "skydropx: rate limit")
	}

	token, err := c.getToken(ctx, attempt > 0)
	if err != nil {
		return nil, err
	}

	requestURL := c.baseURL + path
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "skydropx: marshal request payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "skydropx: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "skydropx: POST %s", requestURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && attempt == 0 {
		io.Copy(io.Discard, resp.Body)
		return c.request(ctx, path, payload, 1)
	}

	decoded := safeReadJSON(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			URL:        requestURL,
			Body:       decoded,
			Payload:    payload,
		}
	}

	return decoded, nil
}

func (c *httpClient) Quote(ctx context.Context, payload any) (any, error) {
	return c.request(ctx, "/api/v1/quotations", payload, 0)
}

func (c *httpClient) CreateShipment(ctx context.Context, payload any) (any, error) {
	return c.request(ctx, "/api/v1/shipments", payload, 0)
}

// safeReadJSON decodes a response body that may not be JSON at all. Non-JSON
// bodies degrade to a {"message": <truncated text>} shape instead of an error.
func safeReadJSON(r io.Reader) any {
	text, err := io.ReadAll(r)
	if err != nil {
		return map[string]any{"message": "Failed to read response body"}
	}
	if len(bytes.TrimSpace(text)) == 0 {
		return map[string]any{"message": "Empty response body"}
	}

	var decoded any
	if err := json.Unmarshal(text, &decoded); err != nil {
		truncated := string(text)
		if len(truncated) > 1000 {
			truncated = truncated[:1000]
		}
		return map[string]any{"message": truncated}
	}
	return decoded
}
