// Package auth authenticates administrative callers by API key. Only the
// HMAC-SHA256 of a key, keyed with a server-side pepper, is ever stored.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// ScopeAdmin grants access to the administrative order endpoints.
const ScopeAdmin = "admin"

var (
	// ErrUnknownKey is returned by a Repository when no active key matches.
	ErrUnknownKey = errors.New("unknown api key")
	// ErrUnauthorized is the only error callers see for a rejected key.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when the key lacks the required scope.
	ErrForbidden = errors.New("forbidden")
)

// Key holds the identity and permission data of a stored API key.
type Key struct {
	ID     string
	Hash   string
	Name   string
	Scopes []string
}

// HasScope reports whether k grants scope.
func (k *Key) HasScope(scope string) bool {
	return slices.Contains(k.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*Key, error)
	Save(ctx context.Context, k *Key) error
}

// Hash returns the hex-encoded HMAC-SHA256 of key under pepper.
func Hash(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticator validates raw API keys against a Repository.
type Authenticator struct {
	keys   Repository
	pepper []byte
}

// NewAuthenticator creates an Authenticator with the given key repository
// and HMAC pepper.
func NewAuthenticator(keys Repository, pepper []byte) *Authenticator {
	return &Authenticator{keys: keys, pepper: pepper}
}

// Authenticate returns the stored key matching raw if it grants scope.
// The stored hash is compared in constant time after lookup.
func (a *Authenticator) Authenticate(ctx context.Context, raw, scope string) (*Key, error) {
	if raw == "" {
		return nil, ErrUnauthorized
	}
	sum := Hash(a.pepper, raw)

	k, err := a.keys.FindByHash(ctx, sum)
	if err != nil {
		if errors.Is(err, ErrUnknownKey) {
			return nil, ErrUnauthorized
		}
		return nil, errors.Wrap(err, "find api key")
	}
	if subtle.ConstantTimeCompare([]byte(sum), []byte(k.Hash)) != 1 {
		return nil, ErrUnauthorized
	}
	if scope != "" && !k.HasScope(scope) {
		return nil, ErrForbidden
	}
	return k, nil
}

// Register stores the hash of raw under name with the given scopes.
func (a *Authenticator) Register(ctx context.Context, name, raw string, scopes ...string) (*Key, error) {
	if raw == "" {
		return nil, errors.New("empty api key")
	}
	k := &Key{Hash: Hash(a.pepper, raw), Name: name, Scopes: scopes}
	if err := a.keys.Save(ctx, k); err != nil {
		return nil, errors.Wrap(err, "save api key")
	}
	return k, nil
}
