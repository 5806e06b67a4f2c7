package qpay

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	secret := []byte("whsec")
	body := []byte(`{"invoice_id":"inv-1","payment_status":"PAID"}`)
	sig := Sign(secret, body)

	tests := []struct {
		name string
		body []byte
		sig  string
		want bool
	}{
		{name: "valid", body: body, sig: sig, want: true},
		{name: "upper-case hex", body: body, sig: strings.ToUpper(sig), want: true},
		{name: "tampered body", body: []byte(`{"invoice_id":"inv-2","payment_status":"PAID"}`), sig: sig},
		{name: "wrong secret", body: body, sig: Sign([]byte("other"), body)},
		{name: "not hex", body: body, sig: "zz"},
		{name: "truncated", body: body, sig: sig[:10]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifySignature(secret, tt.body, tt.sig))
		})
	}
}

func TestSignatureFrom(t *testing.T) {
	h := http.Header{}
	assert.Empty(t, SignatureFrom(h))

	h.Set("qpay-signature", "fallback")
	assert.Equal(t, "fallback", SignatureFrom(h))

	h.Set("x-qpay-signature", "primary")
	assert.Equal(t, "primary", SignatureFrom(h))
}
