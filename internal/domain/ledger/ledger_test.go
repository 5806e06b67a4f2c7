package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestTotals(t *testing.T) {
	entries := []Entry{
		{Type: TypeQPayPayment, Amount: decimal.RequireFromString("15000")},
		{Type: TypeQPayPayment, Amount: decimal.RequireFromString("2500.50")},
		{Type: TypeOrderPayment, Amount: decimal.RequireFromString("990")},
		{Type: TypeCancelled, Amount: decimal.RequireFromString("990")},
	}

	got := Totals(entries)

	assert.Len(t, got, 3)
	assert.True(t, decimal.RequireFromString("17500.50").Equal(got[TypeQPayPayment]))
	assert.True(t, decimal.RequireFromString("990").Equal(got[TypeOrderPayment]))
	assert.True(t, decimal.RequireFromString("990").Equal(got[TypeCancelled]))
	assert.True(t, got[TypeRefund].IsZero())
}
