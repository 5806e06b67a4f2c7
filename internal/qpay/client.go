// Package qpay is a client for the QPay v2 merchant API.
package qpay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/qpay-checkout/internal/domain/apperr"
)

const (
	// DefaultBaseURL is the merchant sandbox.
	DefaultBaseURL = "https://merchant-sandbox.qpay.mn"

	defaultTimeout   = 15 * time.Second
	defaultExpiresIn = 3600
	// refreshBefore is how long before expiry a cached token is replaced.
	refreshBefore = 5 * time.Minute
)

// Config holds gateway credentials and endpoints.
type Config struct {
	BaseURL     string
	Username    string
	Password    string
	InvoiceCode string
	// Timeout bounds every gateway call, token exchange included.
	Timeout time.Duration
}

// StatusError is returned when the gateway answers with a non-2xx status.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("qpay %s: status %d: %s", e.Op, e.Status, e.Body)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTelemetry instruments outgoing calls.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(cl *Client) {
		cl.http.Transport = otelhttp.NewTransport(cl.http.Transport,
			otelhttp.WithTracerProvider(tp),
			otelhttp.WithMeterProvider(mp),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "qpay " + r.Method + " " + r.URL.Path
			}),
		)
	}
}

// Client talks to QPay. It owns the access token cache; concurrent callers
// share one token and refresh it under a mutex.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time

	mu           sync.Mutex
	token        string
	refreshToken string
	expiresAt    time.Time
}

// New creates a Client.
func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Transport: http.DefaultTransport},
		now:  time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Configured reports whether credentials and an invoice code are set.
func (c *Client) Configured() bool {
	return c.cfg.Username != "" && c.cfg.Password != "" && c.cfg.InvoiceCode != ""
}

// EnsureToken returns a valid access token, refreshing it when it expires
// within five minutes. A failed refresh falls back to a new client
// credential exchange.
func (c *Client) EnsureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiresAt.Add(-refreshBefore)) {
		return c.token, nil
	}

	if c.refreshToken != "" {
		tok, err := c.exchange(ctx, "refresh", "/v2/auth/refresh", refreshBody(c.refreshToken), false)
		if err == nil {
			c.store(tok)
			return c.token, nil
		}
	}

	tok, err := c.exchange(ctx, "auth", "/v2/auth/token", []byte("{}"), true)
	if err != nil {
		c.token, c.refreshToken = "", ""
		return "", apperr.External("payment gateway authentication failed", err)
	}
	c.store(tok)
	return c.token, nil
}

func (c *Client) store(tok tokenResponse) {
	c.token = tok.AccessToken
	c.refreshToken = tok.RefreshToken
	expiresIn := tok.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	c.expiresAt = c.now().Add(time.Duration(expiresIn) * time.Second)
}

func (c *Client) exchange(ctx context.Context, op, path string, body []byte, basic bool) (tokenResponse, error) {
	var tok tokenResponse
	err := c.do(ctx, op, http.MethodPost, path, body, func(req *http.Request) {
		if basic {
			req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
		}
	}, func(d *jx.Decoder) error {
		return tok.decode(d)
	})
	if err != nil {
		return tokenResponse{}, err
	}
	if tok.AccessToken == "" {
		return tokenResponse{}, errors.Errorf("qpay %s: empty access token", op)
	}
	return tok, nil
}

// CreateInvoice registers an invoice for a payment.
func (c *Client) CreateInvoice(ctx context.Context, r InvoiceRequest) (*Invoice, error) {
	var inv Invoice
	if err := c.authorized(ctx, "create invoice", http.MethodPost, "/v2/invoice",
		r.encode(c.cfg.InvoiceCode), inv.decode); err != nil {
		return nil, err
	}
	if inv.InvoiceID == "" {
		return nil, apperr.External("payment gateway returned no invoice id", nil)
	}
	return &inv, nil
}

// CheckPayment queries payments made against an invoice.
func (c *Client) CheckPayment(ctx context.Context, invoiceID string) (*PaymentCheck, error) {
	var pc PaymentCheck
	if err := c.authorized(ctx, "check payment", http.MethodPost, "/v2/payment/check",
		checkBody(invoiceID), pc.decode); err != nil {
		return nil, err
	}
	return &pc, nil
}

// CancelInvoice deletes an unpaid invoice.
func (c *Client) CancelInvoice(ctx context.Context, invoiceID string) error {
	return c.authorized(ctx, "cancel invoice", http.MethodDelete,
		"/v2/invoice/"+url.PathEscape(invoiceID), nil, nil)
}

func (c *Client) authorized(
	ctx context.Context,
	op, method, path string,
	body []byte,
	decode func(d *jx.Decoder) error,
) error {
	token, err := c.EnsureToken(ctx)
	if err != nil {
		return err
	}
	err = c.do(ctx, op, method, path, body, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}, decode)
	if err != nil {
		return apperr.External("payment gateway "+op+" failed", err)
	}
	return nil
}

func (c *Client) do(
	ctx context.Context,
	op, method, path string,
	body []byte,
	prepare func(*http.Request),
	decode func(d *jx.Decoder) error,
) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rd)
	if err != nil {
		return errors.Wrapf(err, "qpay %s: build request", op)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	prepare(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "qpay %s", op)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return errors.Wrapf(err, "qpay %s: read body", op)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Op: op, Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	if decode == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := decode(jx.DecodeBytes(data)); err != nil {
		return errors.Wrapf(err, "qpay %s: decode", op)
	}
	return nil
}
