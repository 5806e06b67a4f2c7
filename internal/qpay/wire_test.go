package qpay

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCallback(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		want       Callback
		wantPaid   bool
		wantFailed bool
	}{
		{
			name: "paid with numeric amount",
			body: `{"invoice_id":"inv-1","payment_id":"pay-1","amount":15000,"payment_status":"PAID"}`,
			want: Callback{
				InvoiceID: "inv-1", PaymentID: "pay-1", PaymentStatus: "PAID",
				Amount: decimal.NewNullDecimal(decimal.NewFromInt(15000)),
			},
			wantPaid: true,
		},
		{
			name: "amount as string and numeric payment id",
			body: `{"invoice_id":"inv-1","payment_id":987654,"amount":"14999.50","payment_status":"paid","extra":{"a":[1]}}`,
			want: Callback{
				InvoiceID: "inv-1", PaymentID: "987654", PaymentStatus: "paid",
				Amount: decimal.NewNullDecimal(decimal.RequireFromString("14999.50")),
			},
			wantPaid: true,
		},
		{
			name:       "cancelled without amount",
			body:       `{"invoice_id":"inv-1","payment_status":"CANCELLED","amount":null}`,
			want:       Callback{InvoiceID: "inv-1", PaymentStatus: "CANCELLED"},
			wantFailed: true,
		},
		{
			name: "unknown status",
			body: `{"invoice_id":"inv-1","payment_status":"NEW"}`,
			want: Callback{InvoiceID: "inv-1", PaymentStatus: "NEW"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCallback([]byte(tt.body))
			require.NoError(t, err)

			assert.Equal(t, tt.want.InvoiceID, got.InvoiceID)
			assert.Equal(t, tt.want.PaymentID, got.PaymentID)
			assert.Equal(t, tt.want.PaymentStatus, got.PaymentStatus)
			assert.Equal(t, tt.want.Amount.Valid, got.Amount.Valid)
			if tt.want.Amount.Valid {
				assert.True(t, tt.want.Amount.Decimal.Equal(got.Amount.Decimal))
			}
			assert.Equal(t, tt.wantPaid, got.IsPaid())
			assert.Equal(t, tt.wantFailed, got.IsFailed())
		})
	}
}

func TestParseCallback_Malformed(t *testing.T) {
	for _, body := range []string{``, `[]`, `{"invoice_id":`, `{"amount":"abc"}`} {
		_, err := ParseCallback([]byte(body))
		assert.Error(t, err, body)
	}
}
