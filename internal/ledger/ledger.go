package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cryptomart/internal/constants"
	"cryptomart/internal/errs"
	"cryptomart/internal/estimator"
	"cryptomart/internal/logger"
	"cryptomart/internal/metrics"
	"cryptomart/internal/models"
	"cryptomart/internal/processor"
	"cryptomart/internal/storage"
)

// PriceSource quotes the USD price per crypto unit. Satisfied by
// prices.Source and by the processor itself.
type PriceSource interface {
	PriceUSD(ctx context.Context, code string) (decimal.Decimal, error)
}

// Params are the business bounds of the conversion workflow.
type Params struct {
	Rate          decimal.Decimal // coins per USD
	MinCoins      int64
	MaxCoins      int64
	DefaultCrypto string
	PaymentTTL    time.Duration // 0 disables expiry
	SweepInterval time.Duration
	SweepBatch    int
}

// Service is the conversion ledger: it debits coins when a conversion is
// initiated, credits crypto when the external processor confirms the charge
// and emits the immutable order trail. All balance mutations go through the
// storage's atomic composite operations, so concurrent requests can neither
// overdraw a balance nor credit a payment twice.
type Service struct {
	storage   storage.Storage
	processor processor.Processor
	prices    PriceSource
	params    Params
}

func NewService(s storage.Storage, p processor.Processor, pr PriceSource, params Params) *Service {
	return &Service{storage: s, processor: p, prices: pr, params: params}
}

// EstimateUSD previews the USD value of a coin amount at the configured rate.
// The user is resolved for existence only, the balance is not checked.
func (s *Service) EstimateUSD(ctx context.Context, userID string, coins decimal.Decimal) (decimal.Decimal, error) {
	if userID == "" {
		return decimal.Zero, errs.InvalidInput("user id is required")
	}
	if _, err := s.storage.GetUserByID(ctx, userID); err != nil {
		return decimal.Zero, err
	}
	return estimator.EstimateUSD(coins, s.params.Rate)
}

// Initiate validates a conversion request, obtains a hosted charge reference
// and atomically debits the user's coins while creating a PENDING payment.
// The balance is re-checked inside the storage's atomic debit, so two
// concurrent calls can never both pass against a stale balance.
func (s *Service) Initiate(ctx context.Context, userID string, coins int64) (*models.Payment, error) {
	if userID == "" {
		return nil, errs.InvalidInput("user id is required")
	}
	if coins <= 0 {
		return nil, errs.InvalidInput("coins must be a positive integer")
	}
	user, err := s.storage.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if coins < s.params.MinCoins || coins > s.params.MaxCoins {
		return nil, errs.OutOfRange("coins must be between %d and %d", s.params.MinCoins, s.params.MaxCoins)
	}
	if user.Coins.LessThan(decimal.NewFromInt(coins)) {
		return nil, errs.InsufficientBalance("not enough coins on balance")
	}
	amountUSD, err := estimator.EstimateUSD(decimal.NewFromInt(coins), s.params.Rate)
	if err != nil {
		return nil, err
	}

	// the hosted charge is created before the debit: a processor failure
	// must leave the balance untouched
	chargeRef, err := s.processor.CreateCharge(ctx, userID, amountUSD)
	if err != nil {
		logger.Log.Error("creating hosted charge failed", zap.String("user", userID), zap.Error(err))
		return nil, err
	}

	payment := &models.Payment{
		ID:        uuid.New().String(),
		UserID:    userID,
		Coins:     coins,
		AmountUSD: amountUSD,
		Status:    models.PaymentStatusPending,
		ChargeRef: chargeRef,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.storage.AddPayment(ctx, payment); err != nil {
		return nil, err
	}
	metrics.PaymentsInitiated.Inc()
	logger.Log.Info("payment initiated",
		zap.String("payment", payment.ID),
		zap.String("user", userID),
		zap.Int64("coins", coins),
		zap.String("amount_usd", amountUSD.String()))
	return payment, nil
}

// Confirm transitions a payment to CONFIRMED, credits the configured crypto
// code to the owning user and appends the order record, all atomically.
// Re-delivered confirmations are a no-op: the stored payment is returned and
// nothing is credited twice. An expired payment reports a conflict.
func (s *Service) Confirm(ctx context.Context, paymentID string, action string) (*models.Payment, error) {
	if action != constants.ActionConfirm {
		return nil, errs.InvalidInput("unknown action %q", action)
	}
	if paymentID == "" {
		return nil, errs.InvalidInput("payment id is required")
	}
	payment, err := s.storage.GetPaymentByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	switch payment.Status {
	case models.PaymentStatusConfirmed:
		return payment, nil
	case models.PaymentStatusExpired:
		return nil, errs.Conflict("payment %v already expired", paymentID)
	}

	price, err := s.prices.PriceUSD(ctx, s.params.DefaultCrypto)
	if err != nil {
		logger.Log.Error("price lookup failed", zap.String("payment", paymentID), zap.Error(err))
		return nil, err
	}
	cryptoAmount, err := estimator.CryptoAmount(payment.AmountUSD, price)
	if err != nil {
		return nil, err
	}

	credit := storage.CryptoCredit{
		Code:        s.params.DefaultCrypto,
		Amount:      cryptoAmount,
		ConfirmedAt: time.Now().UTC(),
		OrderID:     uuid.New().String(),
	}
	confirmed, applied, err := s.storage.ConfirmPayment(ctx, paymentID, credit)
	if err != nil {
		return nil, err
	}
	if applied {
		metrics.PaymentsConfirmed.Inc()
		logger.Log.Info("payment confirmed",
			zap.String("payment", paymentID),
			zap.String("crypto", credit.Code),
			zap.String("amount", credit.Amount.String()))
	}
	return confirmed, nil
}

// ListCollection is the query surface: a read-only projection of one of the
// three record collections, most-recent-first.
func (s *Service) ListCollection(ctx context.Context, name string) (any, error) {
	switch name {
	case constants.CollectionUsers:
		return s.storage.GetUsers(ctx)
	case constants.CollectionPayments:
		return s.storage.GetPayments(ctx)
	case constants.CollectionOrders:
		return s.storage.GetOrders(ctx)
	default:
		return nil, errs.NotFound("unknown collection %q", name)
	}
}

// RunExpirySweeper expires stale PENDING payments and restores their coins,
// one atomic mutation per payment. Runs until the context is cancelled; a
// zero TTL disables the sweeper and keeps the strict never-refund semantics.
func (s *Service) RunExpirySweeper(ctx context.Context) {
	if s.params.PaymentTTL == 0 {
		logger.Log.Info("payment expiry disabled")
		return
	}
	logger.Log.Info("expiry sweeper started",
		zap.Duration("ttl", s.params.PaymentTTL),
		zap.Duration("interval", s.params.SweepInterval))
	tick := time.NewTicker(s.params.SweepInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("expiry sweeper stopped by ctx")
			return
		case <-tick.C:
			s.sweepExpired(ctx)
		}
	}
}

func (s *Service) sweepExpired(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.params.PaymentTTL)
	stale, err := s.storage.GetStalePendingPayments(ctx, cutoff, s.params.SweepBatch)
	if err != nil {
		logger.Log.Error("expiry sweeper stale payments query failed", zap.Error(err))
		return
	}
	for _, p := range stale {
		expired, applied, err := s.storage.ExpirePayment(ctx, p.ID)
		if err != nil {
			logger.Log.Error("expiring payment failed", zap.String("payment", p.ID), zap.Error(err))
			continue
		}
		if applied {
			metrics.PaymentsExpired.Inc()
			logger.Log.Info("payment expired, coins restored",
				zap.String("payment", expired.ID),
				zap.String("user", expired.UserID),
				zap.Int64("coins", expired.Coins))
		}
	}
}
