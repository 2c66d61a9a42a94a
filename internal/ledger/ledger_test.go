package ledger_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"cryptomart/internal/errs"
	"cryptomart/internal/ledger"
	"cryptomart/internal/models"
	"cryptomart/internal/processor"
	"cryptomart/internal/storage/memory"
)

func testParams() ledger.Params {
	return ledger.Params{
		Rate:          decimal.NewFromInt(100),
		MinCoins:      2000,
		MaxCoins:      10500,
		DefaultCrypto: "BTC",
		PaymentTTL:    time.Hour,
		SweepInterval: 10 * time.Millisecond,
		SweepBatch:    50,
	}
}

func newTestService(t *testing.T, params ledger.Params) (*ledger.Service, *memory.MemStorage) {
	t.Helper()
	store := memory.NewMemStorage()
	stub := processor.NewStub(decimal.NewFromInt(30000))
	return ledger.NewService(store, stub, stub, params), store
}

func addTestUser(t *testing.T, store *memory.MemStorage, coins int64) *models.User {
	t.Helper()
	user := &models.User{
		ID:        uuid.New().String(),
		Name:      "gopher",
		Email:     uuid.New().String() + "@example.com",
		Coins:     decimal.NewFromInt(coins),
		Crypto:    make(map[string]decimal.Decimal),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.AddUser(context.Background(), user))
	return user
}

func TestEstimateUSD(t *testing.T) {
	svc, store := newTestService(t, testParams())
	user := addTestUser(t, store, 2000)

	amount, err := svc.EstimateUSD(context.Background(), user.ID, decimal.NewFromInt(2000))
	require.NoError(t, err)
	require.Equal(t, "20.00", amount.StringFixed(2))

	// balance is not checked, only existence
	amount, err = svc.EstimateUSD(context.Background(), user.ID, decimal.NewFromInt(1000000))
	require.NoError(t, err)
	require.Equal(t, "10000.00", amount.StringFixed(2))

	_, err = svc.EstimateUSD(context.Background(), uuid.New().String(), decimal.NewFromInt(2000))
	require.ErrorIs(t, err, errs.ErrNotFound)

	_, err = svc.EstimateUSD(context.Background(), "", decimal.NewFromInt(2000))
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = svc.EstimateUSD(context.Background(), user.ID, decimal.NewFromInt(-5))
	require.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestInitiate(t *testing.T) {
	svc, store := newTestService(t, testParams())
	user := addTestUser(t, store, 2000)

	payment, err := svc.Initiate(context.Background(), user.ID, 2000)
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusPending, payment.Status)
	require.Equal(t, "20.00", payment.AmountUSD.StringFixed(2))
	require.Equal(t, int64(2000), payment.Coins)
	require.True(t, strings.HasPrefix(payment.ChargeRef, "ch_"))

	// the debit is visible
	after, err := store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.True(t, after.Coins.IsZero())

	// the payment is durably persisted
	stored, err := store.GetPaymentByID(context.Background(), payment.ID)
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusPending, stored.Status)
	require.Nil(t, stored.ConfirmedAt)
}

func TestInitiateValidation(t *testing.T) {
	svc, store := newTestService(t, testParams())
	user := addTestUser(t, store, 2000)

	tests := []struct {
		name    string
		userID  string
		coins   int64
		wantErr error
	}{
		{name: "missing user id", userID: "", coins: 2000, wantErr: errs.ErrInvalidInput},
		{name: "non-positive coins", userID: user.ID, coins: 0, wantErr: errs.ErrInvalidInput},
		{name: "unknown user", userID: uuid.New().String(), coins: 2000, wantErr: errs.ErrNotFound},
		{name: "below minimum", userID: user.ID, coins: 1999, wantErr: errs.ErrOutOfRange},
		{name: "above maximum", userID: user.ID, coins: 10501, wantErr: errs.ErrOutOfRange},
		{name: "insufficient balance", userID: user.ID, coins: 3000, wantErr: errs.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Initiate(context.Background(), tt.userID, tt.coins)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	// no debit happened along the way
	after, err := store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, "2000", after.Coins.String())
}

func TestInitiateConcurrentNeverOverdraws(t *testing.T) {
	svc, store := newTestService(t, testParams())
	user := addTestUser(t, store, 10000)

	const callers = 10
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Initiate(context.Background(), user.ID, 2000)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		default:
			require.ErrorIs(t, err, errs.ErrInsufficientBalance)
			rejected++
		}
	}
	// serialized semantics: 10000 coins fund exactly 5 debits of 2000
	require.Equal(t, 5, succeeded)
	require.Equal(t, 5, rejected)

	after, err := store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.True(t, after.Coins.IsZero())
	require.False(t, after.Coins.IsNegative())
}

func TestConfirm(t *testing.T) {
	svc, store := newTestService(t, testParams())
	user := addTestUser(t, store, 2000)
	payment, err := svc.Initiate(context.Background(), user.ID, 2000)
	require.NoError(t, err)

	confirmed, err := svc.Confirm(context.Background(), payment.ID, "confirm")
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)
	require.Equal(t, "BTC", confirmed.CryptoType)
	// round8(20.00 / 30000)
	require.NotNil(t, confirmed.CryptoAmount)
	require.Equal(t, "0.00066667", confirmed.CryptoAmount.StringFixed(8))

	// crypto holdings credited
	after, err := store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, "0.00066667", after.Crypto["BTC"].StringFixed(8))

	// exactly one order with the payment's values
	order, err := store.GetOrderByPaymentID(context.Background(), payment.ID)
	require.NoError(t, err)
	require.Equal(t, payment.Coins, order.CoinsDeducted)
	require.True(t, payment.AmountUSD.Equal(order.AmountUSD))
	require.Equal(t, confirmed.CryptoAmount.String(), order.CryptoAmount.String())
	require.Equal(t, models.OrderStatusCompleted, order.Status)
}

func TestConfirmIdempotent(t *testing.T) {
	svc, store := newTestService(t, testParams())
	user := addTestUser(t, store, 2000)
	payment, err := svc.Initiate(context.Background(), user.ID, 2000)
	require.NoError(t, err)

	first, err := svc.Confirm(context.Background(), payment.ID, "confirm")
	require.NoError(t, err)
	second, err := svc.Confirm(context.Background(), payment.ID, "confirm")
	require.NoError(t, err)

	require.Equal(t, first.Status, second.Status)
	require.Equal(t, first.CryptoAmount.String(), second.CryptoAmount.String())
	require.True(t, first.ConfirmedAt.Equal(*second.ConfirmedAt))

	// not credited twice
	after, err := store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, "0.00066667", after.Crypto["BTC"].StringFixed(8))

	// exactly one order
	orders, err := store.GetOrders(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestConfirmRejections(t *testing.T) {
	svc, store := newTestService(t, testParams())
	user := addTestUser(t, store, 2000)
	payment, err := svc.Initiate(context.Background(), user.ID, 2000)
	require.NoError(t, err)

	_, err = svc.Confirm(context.Background(), payment.ID, "cancel")
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = svc.Confirm(context.Background(), "", "confirm")
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = svc.Confirm(context.Background(), uuid.New().String(), "confirm")
	require.ErrorIs(t, err, errs.ErrNotFound)

	// nothing mutated by any of the rejections
	stored, err := store.GetPaymentByID(context.Background(), payment.ID)
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusPending, stored.Status)
	orders, err := store.GetOrders(context.Background())
	require.NoError(t, err)
	require.Empty(t, orders)
	after, err := store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.Empty(t, after.Crypto)
}

func TestConfirmExpiredPayment(t *testing.T) {
	svc, store := newTestService(t, testParams())
	user := addTestUser(t, store, 2000)
	payment, err := svc.Initiate(context.Background(), user.ID, 2000)
	require.NoError(t, err)

	_, applied, err := store.ExpirePayment(context.Background(), payment.ID)
	require.NoError(t, err)
	require.True(t, applied)

	_, err = svc.Confirm(context.Background(), payment.ID, "confirm")
	require.ErrorIs(t, err, errs.ErrConflict)

	// coins restored and never credited
	after, err := store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, "2000", after.Coins.String())
	require.Empty(t, after.Crypto)
}

func TestExpirySweeper(t *testing.T) {
	params := testParams()
	params.PaymentTTL = time.Minute
	svc, store := newTestService(t, params)
	user := addTestUser(t, store, 2000)

	stale := &models.Payment{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Coins:     2000,
		AmountUSD: decimal.RequireFromString("20.00"),
		Status:    models.PaymentStatusPending,
		ChargeRef: "ch_test",
		CreatedAt: time.Now().UTC().Add(-2 * time.Minute),
	}
	require.NoError(t, store.AddPayment(context.Background(), stale))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.RunExpirySweeper(ctx)

	require.Eventually(t, func() bool {
		p, err := store.GetPaymentByID(context.Background(), stale.ID)
		return err == nil && p.Status == models.PaymentStatusExpired
	}, time.Second, 10*time.Millisecond)

	after, err := store.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.Equal(t, "2000", after.Coins.String())
}

func TestListCollection(t *testing.T) {
	svc, store := newTestService(t, testParams())
	user := addTestUser(t, store, 4000)
	payment, err := svc.Initiate(context.Background(), user.ID, 2000)
	require.NoError(t, err)
	_, err = svc.Confirm(context.Background(), payment.ID, "confirm")
	require.NoError(t, err)

	users, err := svc.ListCollection(context.Background(), "users")
	require.NoError(t, err)
	require.Len(t, users.([]models.User), 1)

	payments, err := svc.ListCollection(context.Background(), "payments")
	require.NoError(t, err)
	require.Len(t, payments.([]models.Payment), 1)

	orders, err := svc.ListCollection(context.Background(), "orders")
	require.NoError(t, err)
	require.Len(t, orders.([]models.Order), 1)

	_, err = svc.ListCollection(context.Background(), "refunds")
	require.ErrorIs(t, err, errs.ErrNotFound)
}
