package skydropx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", DefaultBaseURL},
		{"   ", DefaultBaseURL},
		{"pro.skydropx.com", "https://pro.skydropx.com"},
		{"https://pro.skydropx.com/", "https://pro.skydropx.com"},
		{"https://pro.skydropx.com/api", "https://pro.skydropx.com"},
		{"https://pro.skydropx.com/api/v1", "https://pro.skydropx.com"},
		{"https://pro.skydropx.com/API/V1/", "https://pro.skydropx.com"},
		{"http://localhost:8080/api", "http://localhost:8080"},
		{"https://api.skydropx.com", DefaultBaseURL},
		{"api.skydropx.com/api/v1", DefaultBaseURL},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeBaseURL(tt.in))
		})
	}
}

type carrierStub struct {
	tokenRequests   atomic.Int64
	quoteRequests   atomic.Int64
	tokenStatus     int
	tokenBody       string
	quoteHandler    func(w http.ResponseWriter, r *http.Request)
	lastAuthHeaders []string
}

func newCarrierServer(t *testing.T, stub *carrierStub) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		stub.tokenRequests.Add(1)
		status := stub.tokenStatus
		if status == 0 {
			status = http.StatusOK
		}
		body := stub.tokenBody
		if body == "" {
			body = `{"access_token":"tok-1","expires_in":3600}`
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
	mux.HandleFunc("POST /api/v1/quotations", func(w http.ResponseWriter, r *http.Request) {
		stub.quoteRequests.Add(1)
		stub.lastAuthHeaders = append(stub.lastAuthHeaders, r.Header.Get("Authorization"))
		stub.quoteHandler(w, r)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func testCreds() Credentials {
	return Credentials{ClientID: "id", ClientSecret: "secret"}
}

func TestClient_QuoteSuccess(t *testing.T) {
	stub := &carrierStub{
		quoteHandler: func(w http.ResponseWriter, r *http.Request) {
			var payload map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Contains(t, payload, "quotation")

			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"data":[{"id":"r1","price":100}]}`))
		},
	}
	server := newCarrierServer(t, stub)

	client := NewClient(testCreds(), WithBaseURL(server.URL))
	body, err := client.Quote(context.Background(), map[string]any{"quotation": map[string]any{}})
	require.NoError(t, err)

	decoded, ok := body.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, decoded, "data")
	assert.Equal(t, int64(1), stub.tokenRequests.Load())
}

func TestClient_TokenCachedAcrossRequests(t *testing.T) {
	stub := &carrierStub{
		quoteHandler: func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		},
	}
	server := newCarrierServer(t, stub)
	client := NewClient(testCreds(), WithBaseURL(server.URL))

	for range 3 {
		_, err := client.Quote(context.Background(), map[string]any{})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), stub.tokenRequests.Load())
	assert.Equal(t, int64(3), stub.quoteRequests.Load())
}

func TestClient_401RefreshesTokenOnce(t *testing.T) {
	var quoteCalls atomic.Int64
	stub := &carrierStub{}
	stub.quoteHandler = func(w http.ResponseWriter, r *http.Request) {
		if quoteCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}
	server := newCarrierServer(t, stub)

	client := NewClient(testCreds(), WithBaseURL(server.URL))
	_, err := client.Quote(context.Background(), map[string]any{})
	require.NoError(t, err)

	assert.Equal(t, int64(2), stub.quoteRequests.Load())
	// Initial token plus the forced refresh.
	assert.Equal(t, int64(2), stub.tokenRequests.Load())
}

func TestClient_Persistent401SurfacesRequestError(t *testing.T) {
	stub := &carrierStub{
		quoteHandler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"expired"}`))
		},
	}
	server := newCarrierServer(t, stub)

	client := NewClient(testCreds(), WithBaseURL(server.URL))
	_, err := client.Quote(context.Background(), map[string]any{})
	require.Error(t, err)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
	// Exactly one retry after the refresh.
	assert.Equal(t, int64(2), stub.quoteRequests.Load())
}

func TestClient_RequestErrorCarriesContext(t *testing.T) {
	stub := &carrierStub{
		quoteHandler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid postal code"}`))
		},
	}
	server := newCarrierServer(t, stub)

	client := NewClient(testCreds(), WithBaseURL(server.URL))
	payload := map[string]any{"zip": "00000"}
	_, err := client.Quote(context.Background(), payload)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusBadRequest, reqErr.StatusCode)
	assert.Equal(t, server.URL+"/api/v1/quotations", reqErr.URL)
	assert.Equal(t, map[string]any{"error": "invalid postal code"}, reqErr.Body)
	assert.Equal(t, payload, reqErr.Payload)
}

func TestClient_NonJSONBodyDegradesToMessage(t *testing.T) {
	stub := &carrierStub{
		quoteHandler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("<html>upstream timeout</html>"))
		},
	}
	server := newCarrierServer(t, stub)

	client := NewClient(testCreds(), WithBaseURL(server.URL))
	_, err := client.Quote(context.Background(), map[string]any{})

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, map[string]any{"message": "<html>upstream timeout</html>"}, reqErr.Body)
}

func TestClient_MissingCredentials(t *testing.T) {
	client := NewClient(Credentials{})
	_, err := client.Quote(context.Background(), map[string]any{})
	require.ErrorIs(t, err, ErrCredentialsMissing)
}

func TestClient_AuthFailure(t *testing.T) {
	stub := &carrierStub{
		tokenStatus: http.StatusForbidden,
		tokenBody:   `{"error":"invalid_client"}`,
		quoteHandler: func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("quote endpoint must not be reached without a token")
		},
	}
	server := newCarrierServer(t, stub)

	client := NewClient(testCreds(), WithBaseURL(server.URL))
	_, err := client.Quote(context.Background(), map[string]any{})

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusForbidden, authErr.StatusCode)
	assert.Contains(t, authErr.Error(), "invalid_client")
	assert.Equal(t, int64(0), stub.quoteRequests.Load())
}

func TestClient_AuthResponseMissingToken(t *testing.T) {
	stub := &carrierStub{
		tokenBody: `{"expires_in":3600}`,
		quoteHandler: func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("quote endpoint must not be reached without a token")
		},
	}
	server := newCarrierServer(t, stub)

	client := NewClient(testCreds(), WithBaseURL(server.URL))
	_, err := client.Quote(context.Background(), map[string]any{})

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestClient_BearerTokenSent(t *testing.T) {
	stub := &carrierStub{
		quoteHandler: func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		},
	}
	server := newCarrierServer(t, stub)

	client := NewClient(testCreds(), WithBaseURL(server.URL))
	_, err := client.Quote(context.Background(), map[string]any{})
	require.NoError(t, err)

	require.Len(t, stub.lastAuthHeaders, 1)
	assert.True(t, strings.HasPrefix(stub.lastAuthHeaders[0], "Bearer tok-1"))
}

func TestSafeReadJSON(t *testing.T) {
	assert.Equal(t, map[string]any{"message": "Empty response body"},
		safeReadJSON(strings.NewReader("")))
	assert.Equal(t, map[string]any{"a": float64(1)},
		safeReadJSON(strings.NewReader(`{"a":1}`)))
	assert.Equal(t, map[string]any{"message": "plain text"},
		safeReadJSON(strings.NewReader("plain text")))

	long := strings.Repeat("x", 2000)
	decoded := safeReadJSON(strings.NewReader(long)).(map[string]any)
	assert.Len(t, decoded["message"], 1000)
}
