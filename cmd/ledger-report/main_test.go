package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/qpay-checkout/internal/domain/ledger"
)

func ulaanbaatar(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Ulaanbaatar")
	require.NoError(t, err)
	return loc
}

func TestParseFilter(t *testing.T) {
	loc := ulaanbaatar(t)
	tests := []struct {
		name     string
		from, to string
		wantErr  bool
		wantFrom time.Time
		wantTo   time.Time
	}{
		{name: "open"},
		{
			name:     "inclusive day range",
			from:     "2026-03-01",
			to:       "2026-03-31",
			wantFrom: time.Date(2026, 3, 1, 0, 0, 0, 0, loc),
			wantTo:   time.Date(2026, 4, 1, 0, 0, 0, 0, loc),
		},
		{
			name:     "single day",
			from:     "2026-03-05",
			to:       "2026-03-05",
			wantFrom: time.Date(2026, 3, 5, 0, 0, 0, 0, loc),
			wantTo:   time.Date(2026, 3, 6, 0, 0, 0, 0, loc),
		},
		{name: "reversed", from: "2026-03-10", to: "2026-03-01", wantErr: true},
		{name: "bad from", from: "March", wantErr: true},
		{name: "bad to", to: "2026/03/01", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := parseFilter(tt.from, tt.to, "42", loc)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "42", f.OrderID)
			assert.True(t, tt.wantFrom.Equal(f.From))
			assert.True(t, tt.wantTo.Equal(f.To))
		})
	}
}

func TestParseFilter_LocalDayBounds(t *testing.T) {
	f, err := parseFilter("2026-03-05", "2026-03-05", "", ulaanbaatar(t))
	require.NoError(t, err)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{name: "just after local midnight", at: time.Date(2026, 3, 4, 16, 0, 1, 0, time.UTC), want: true},
		{name: "early local morning", at: time.Date(2026, 3, 4, 18, 0, 0, 0, time.UTC), want: true},
		{name: "last local second", at: time.Date(2026, 3, 5, 15, 59, 59, 0, time.UTC), want: true},
		{name: "previous local day", at: time.Date(2026, 3, 4, 15, 59, 59, 0, time.UTC), want: false},
		{name: "next local day", at: time.Date(2026, 3, 5, 16, 0, 0, 0, time.UTC), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := !tt.at.Before(f.From) && tt.at.Before(f.To)
			assert.Equal(t, tt.want, in)
		})
	}
}

func TestRender(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []ledger.Entry{
		{
			OrderID: "7", Type: ledger.TypeQPayPayment, Status: ledger.StatusCompleted,
			Amount: decimal.NewFromInt(125000), Currency: ledger.Currency,
			PaymentMethod: "qpay", ExternalReference: "INV-1", CreatedAt: at,
		},
		{
			OrderID: "8", Type: ledger.TypeQPayPayment, Status: ledger.StatusCompleted,
			Amount: decimal.NewFromInt(5000), Currency: ledger.Currency, CreatedAt: at,
		},
		{
			OrderID: "9", Type: ledger.TypeCancelled, Status: ledger.StatusCancelled,
			Amount: decimal.NewFromInt(64000), Currency: ledger.Currency, CreatedAt: at,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, render(&buf, entries, ulaanbaatar(t)))

	out := buf.String()
	assert.Contains(t, out, "INV-1")
	assert.Contains(t, out, "2026-03-01 20:00:00")
	assert.Contains(t, out, "125000.00 MNT")
	assert.Contains(t, out, "130000.00")
	assert.Contains(t, out, "64000.00")
}
