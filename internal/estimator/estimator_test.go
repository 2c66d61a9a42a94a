package estimator_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"cryptomart/internal/errs"
	"cryptomart/internal/estimator"
)

func TestEstimateUSD(t *testing.T) {
	tests := []struct {
		name    string
		coins   string
		rate    string
		want    string
		wantErr error
	}{
		{
			name:  "2000 coins at rate 100 is 20.00",
			coins: "2000",
			rate:  "100",
			want:  "20.00",
		},
		{
			name:  "zero coins",
			coins: "0",
			rate:  "100",
			want:  "0.00",
		},
		{
			name:  "fractional result rounds half up",
			coins: "1000.5",
			rate:  "100",
			want:  "10.01",
		},
		{
			name:  "repeating fraction rounds to 2 places",
			coins: "1000",
			rate:  "300",
			want:  "3.33",
		},
		{
			name:    "negative coins rejected",
			coins:   "-1",
			rate:    "100",
			wantErr: errs.ErrInvalidInput,
		},
		{
			name:    "zero rate rejected",
			coins:   "2000",
			rate:    "0",
			wantErr: errs.ErrInvalidInput,
		},
		{
			name:    "negative rate rejected",
			coins:   "2000",
			rate:    "-100",
			wantErr: errs.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := estimator.EstimateUSD(
				decimal.RequireFromString(tt.coins),
				decimal.RequireFromString(tt.rate),
			)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestCryptoAmount(t *testing.T) {
	tests := []struct {
		name    string
		usd     string
		price   string
		want    string
		wantErr error
	}{
		{
			name:  "20 USD at 30000 per unit",
			usd:   "20",
			price: "30000",
			want:  "0.00066667",
		},
		{
			name:  "exact division keeps 8 places",
			usd:   "300",
			price: "30000",
			want:  "0.01000000",
		},
		{
			name:  "half at 8th place rounds up",
			usd:   "0.000000045",
			price: "1",
			want:  "0.00000005",
		},
		{
			name:    "negative amount rejected",
			usd:     "-20",
			price:   "30000",
			wantErr: errs.ErrInvalidInput,
		},
		{
			name:    "non-positive price rejected",
			usd:     "20",
			price:   "0",
			wantErr: errs.ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := estimator.CryptoAmount(
				decimal.RequireFromString(tt.usd),
				decimal.RequireFromString(tt.price),
			)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got.StringFixed(8))
		})
	}
}
