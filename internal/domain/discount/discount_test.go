package discount

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func capped(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func TestRule_Apply(t *testing.T) {
	tests := []struct {
		name       string
		rule       Rule
		price      decimal.Decimal
		wantPrice  decimal.Decimal
		wantAmount decimal.Decimal
	}{
		{
			name:       "percentage",
			rule:       Rule{Type: Percentage, Value: dec("20")},
			price:      dec("10000"),
			wantPrice:  dec("8000"),
			wantAmount: dec("2000"),
		},
		{
			name:       "percentage respects cap",
			rule:       Rule{Type: Percentage, Value: dec("50"), MaxAmount: capped("1500")},
			price:      dec("10000"),
			wantPrice:  dec("8500"),
			wantAmount: dec("1500"),
		},
		{
			name:       "cap above computed amount has no effect",
			rule:       Rule{Type: Percentage, Value: dec("10"), MaxAmount: capped("5000")},
			price:      dec("10000"),
			wantPrice:  dec("9000"),
			wantAmount: dec("1000"),
		},
		{
			name:       "fixed",
			rule:       Rule{Type: Fixed, Value: dec("1000")},
			price:      dec("10000"),
			wantPrice:  dec("9000"),
			wantAmount: dec("1000"),
		},
		{
			name:       "fixed larger than price clamps at zero",
			rule:       Rule{Type: Fixed, Value: dec("15000")},
			price:      dec("10000"),
			wantPrice:  decimal.Zero,
			wantAmount: dec("10000"),
		},
		{
			name:       "hundred percent is free",
			rule:       Rule{Type: Percentage, Value: dec("100")},
			price:      dec("4990.50"),
			wantPrice:  decimal.Zero,
			wantAmount: dec("4990.50"),
		},
		{
			name:       "fixed cap is ignored",
			rule:       Rule{Type: Fixed, Value: dec("3000"), MaxAmount: capped("100")},
			price:      dec("10000"),
			wantPrice:  dec("7000"),
			wantAmount: dec("3000"),
		},
		{
			name:       "rounds to two places",
			rule:       Rule{Type: Percentage, Value: dec("33")},
			price:      dec("10.01"),
			wantPrice:  dec("6.71"),
			wantAmount: dec("3.30"),
		},
		{
			name:       "zero price",
			rule:       Rule{Type: Fixed, Value: dec("10")},
			price:      decimal.Zero,
			wantPrice:  decimal.Zero,
			wantAmount: decimal.Zero,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.wantAmount.Equal(tt.rule.Amount(tt.price)),
				"amount: want %s, got %s", tt.wantAmount, tt.rule.Amount(tt.price))
			assert.True(t, tt.wantPrice.Equal(tt.rule.Apply(tt.price)),
				"price: want %s, got %s", tt.wantPrice, tt.rule.Apply(tt.price))
		})
	}
}

func TestRule_ApplyNeverNegative(t *testing.T) {
	prices := []string{"0", "0.01", "1", "99.99", "100", "12345.67"}
	rules := []Rule{
		{Type: Percentage, Value: dec("0")},
		{Type: Percentage, Value: dec("37.5")},
		{Type: Percentage, Value: dec("100"), MaxAmount: capped("50")},
		{Type: Fixed, Value: dec("0")},
		{Type: Fixed, Value: dec("100")},
		{Type: Fixed, Value: dec("1000000")},
	}
	for _, p := range prices {
		price := dec(p)
		for _, r := range rules {
			got := r.Apply(price)
			assert.False(t, got.IsNegative(), "%v on %s", r, p)
			assert.True(t, got.LessThanOrEqual(price), "%v on %s", r, p)
			if r.Type == Percentage && r.MaxAmount.Valid {
				assert.True(t, r.Amount(price).LessThanOrEqual(r.MaxAmount.Decimal))
			}
		}
	}
}

func TestRule_Validate(t *testing.T) {
	require.NoError(t, Rule{Type: Percentage, Value: dec("100")}.Validate())
	require.NoError(t, Rule{Type: Fixed, Value: dec("250000")}.Validate())

	assert.ErrorIs(t, Rule{Type: Percentage, Value: dec("100.01")}.Validate(), ErrPercentRange)
	assert.ErrorIs(t, Rule{Type: Fixed, Value: dec("-1")}.Validate(), ErrNegativeValue)
	assert.ErrorIs(t, Rule{Type: "bogo", Value: dec("1")}.Validate(), ErrUnsupportedType)
}

func TestParseType(t *testing.T) {
	for in, want := range map[string]Type{
		"percent":    Percentage,
		"percentage": Percentage,
		" Fixed ":    Fixed,
	} {
		got, err := ParseType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseType("free_lowest")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}
