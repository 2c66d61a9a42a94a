package estimator

import (
	"github.com/shopspring/decimal"

	"cryptomart/internal/errs"
)

// USD amounts carry 2 decimal places, crypto amounts 8.
const (
	USDScale    = 2
	CryptoScale = 8
)

// EstimateUSD converts a coin amount into its USD value at the given rate
// (coins per USD unit), rounded to 2 decimal places. Rounding is half-up
// (decimal.Round, half away from zero; all inputs are non-negative).
// Pure: no balance checks, no side effects.
func EstimateUSD(coins, rate decimal.Decimal) (decimal.Decimal, error) {
	if coins.IsNegative() {
		return decimal.Zero, errs.InvalidInput("coins must be a non-negative number")
	}
	if !rate.IsPositive() {
		return decimal.Zero, errs.InvalidInput("conversion rate must be positive")
	}
	return coins.Div(rate).Round(USDScale), nil
}

// CryptoAmount converts a USD amount into crypto units at the given price per
// unit, rounded half-up to 8 decimal places.
func CryptoAmount(amountUSD, priceUSD decimal.Decimal) (decimal.Decimal, error) {
	if amountUSD.IsNegative() {
		return decimal.Zero, errs.InvalidInput("amount must be a non-negative number")
	}
	if !priceUSD.IsPositive() {
		return decimal.Zero, errs.InvalidInput("crypto price must be positive")
	}
	return amountUSD.Div(priceUSD).Round(CryptoScale), nil
}
