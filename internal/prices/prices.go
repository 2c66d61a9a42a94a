package prices

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cryptomart/internal/logger"
	"cryptomart/internal/processor"
)

// Source quotes the USD price per crypto unit. A redis cache in front of the
// processor keeps webhook bursts from hammering the price endpoint; with no
// redis client every call goes straight through.
type Source struct {
	processor processor.Processor
	cache     *redis.Client
	ttl       time.Duration
}

func NewSource(p processor.Processor, cache *redis.Client, ttl time.Duration) *Source {
	return &Source{processor: p, cache: cache, ttl: ttl}
}

func (s *Source) PriceUSD(ctx context.Context, code string) (decimal.Decimal, error) {
	if s.cache == nil {
		return s.processor.PriceUSD(ctx, code)
	}
	key := "price:" + code
	cached, err := s.cache.Get(ctx, key).Result()
	if err == nil {
		price, perr := decimal.NewFromString(cached)
		if perr == nil {
			return price, nil
		}
		logger.Log.Error("cached price is not a number", zap.String("code", code), zap.String("value", cached))
	} else if !errors.Is(err, redis.Nil) {
		// cache trouble is not fatal, fall through to the processor
		logger.Log.Error("price cache get failed", zap.String("code", code), zap.Error(err))
	}
	price, err := s.processor.PriceUSD(ctx, code)
	if err != nil {
		return decimal.Zero, err
	}
	if err := s.cache.Set(ctx, key, price.String(), s.ttl).Err(); err != nil {
		logger.Log.Error("price cache set failed", zap.String("code", code), zap.Error(err))
	}
	return price, nil
}
