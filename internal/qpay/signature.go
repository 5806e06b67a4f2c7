package qpay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// SignatureHeaders are the headers QPay may carry a callback signature in,
// in lookup order.
var SignatureHeaders = []string{"X-Qpay-Signature", "Qpay-Signature"}

// SignatureFrom returns the callback signature header value, if any.
func SignatureFrom(h http.Header) string {
	for _, name := range SignatureHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the hex HMAC-SHA256 of body
// under secret. The comparison runs in constant time.
func VerifySignature(secret, body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}
