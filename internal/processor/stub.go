package processor

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Stub answers with a fixed price and generated charge references. Used in
// mock mode and tests.
type Stub struct {
	price decimal.Decimal
}

func NewStub(price decimal.Decimal) *Stub {
	return &Stub{price: price}
}

func (s *Stub) CreateCharge(ctx context.Context, userID string, amountUSD decimal.Decimal) (string, error) {
	ref := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	return "ch_" + ref.String(), nil
}

func (s *Stub) PriceUSD(ctx context.Context, code string) (decimal.Decimal, error) {
	return s.price, nil
}
