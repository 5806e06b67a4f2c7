//go:build integration

package integration

import (
	"context"
	"net/http"
	"testing"
)

const pricePath = "/api/products/rc-buggy-1/sale-price"

func send(t *testing.T, method, path string, headers map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), method, baseURL+path, nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "generated"},
		{name: "echoed", headers: map[string]string{"X-Request-ID": "custom-request-id-12345"}, want: "custom-request-id-12345"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := send(t, http.MethodGet, "/livez", tt.headers)
			defer resp.Body.Close()

			got := resp.Header.Get("X-Request-ID")
			if got == "" {
				t.Fatal("X-Request-ID header not present")
			}
			if tt.want != "" && got != tt.want {
				t.Errorf("X-Request-ID: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	preflight := send(t, http.MethodOptions, "/api/checkout", map[string]string{
		"Origin":                         "http://shop.example.mn",
		"Access-Control-Request-Method":  "POST",
		"Access-Control-Request-Headers": "Content-Type",
	})
	defer preflight.Body.Close()

	if preflight.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight: expected 204, got %d", preflight.StatusCode)
	}
	for _, h := range []string{"Access-Control-Allow-Origin", "Access-Control-Allow-Methods", "Access-Control-Allow-Headers"} {
		if preflight.Header.Get(h) == "" {
			t.Errorf("preflight: %s header not present", h)
		}
	}

	simple := send(t, http.MethodGet, pricePath, map[string]string{"Origin": "http://shop.example.mn"})
	defer simple.Body.Close()

	if simple.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Error("Access-Control-Allow-Origin header not present")
	}
}

func TestRateLimit_Headers(t *testing.T) {
	resp := doGet(t, pricePath)
	defer resp.Body.Close()

	for _, h := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"} {
		if resp.Header.Get(h) == "" {
			t.Errorf("%s header not present", h)
		}
	}
}

func TestRateLimit_CallbackExempt(t *testing.T) {
	resp := doPost(t, "/api/qpay/callback", map[string]string{"invoice_id": "rate-limit-probe"})
	defer resp.Body.Close()

	if limit := resp.Header.Get("X-RateLimit-Limit"); limit != "" {
		t.Errorf("callback should not be rate limited, got X-RateLimit-Limit=%q", limit)
	}
}
