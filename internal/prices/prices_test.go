package prices_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"cryptomart/internal/prices"
)

type countingProcessor struct {
	price decimal.Decimal
	calls int
}

func (p *countingProcessor) CreateCharge(ctx context.Context, userID string, amountUSD decimal.Decimal) (string, error) {
	return "ch_test", nil
}

func (p *countingProcessor) PriceUSD(ctx context.Context, code string) (decimal.Decimal, error) {
	p.calls++
	return p.price, nil
}

func TestPriceUSDNoCache(t *testing.T) {
	proc := &countingProcessor{price: decimal.NewFromInt(30000)}
	src := prices.NewSource(proc, nil, time.Second)

	price, err := src.PriceUSD(context.Background(), "BTC")
	require.NoError(t, err)
	require.Equal(t, "30000", price.String())
	require.Equal(t, 1, proc.calls)
}

func TestPriceUSDCacheMissThenSet(t *testing.T) {
	client, mock := redismock.NewClientMock()
	proc := &countingProcessor{price: decimal.NewFromInt(30000)}
	src := prices.NewSource(proc, client, 30*time.Second)

	mock.ExpectGet("price:BTC").RedisNil()
	mock.ExpectSet("price:BTC", "30000", 30*time.Second).SetVal("OK")

	price, err := src.PriceUSD(context.Background(), "BTC")
	require.NoError(t, err)
	require.Equal(t, "30000", price.String())
	require.Equal(t, 1, proc.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceUSDCacheHitSkipsProcessor(t *testing.T) {
	client, mock := redismock.NewClientMock()
	proc := &countingProcessor{price: decimal.NewFromInt(30000)}
	src := prices.NewSource(proc, client, 30*time.Second)

	mock.ExpectGet("price:BTC").SetVal("29500.50")

	price, err := src.PriceUSD(context.Background(), "BTC")
	require.NoError(t, err)
	require.Equal(t, "29500.5", price.String())
	require.Equal(t, 0, proc.calls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPriceUSDCacheErrorFallsThrough(t *testing.T) {
	client, mock := redismock.NewClientMock()
	proc := &countingProcessor{price: decimal.NewFromInt(30000)}
	src := prices.NewSource(proc, client, 30*time.Second)

	mock.ExpectGet("price:BTC").SetErr(context.DeadlineExceeded)
	mock.ExpectSet("price:BTC", "30000", 30*time.Second).SetVal("OK")

	price, err := src.PriceUSD(context.Background(), "BTC")
	require.NoError(t, err)
	require.Equal(t, "30000", price.String())
	require.Equal(t, 1, proc.calls)
}
