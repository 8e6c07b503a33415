package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ledger-service/internal/domain"
	"ledger-service/internal/repository"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// FxUsecase serves currencies and conversion rates with read-through
// caching. Rates never change retroactively, so cached lookups are safe.
type FxUsecase struct {
	currencyRepo repository.CurrencyRepository
	redisClient  *redis.Client
}

func NewFxUsecase(currencyRepo repository.CurrencyRepository, redisClient *redis.Client) *FxUsecase {
	return &FxUsecase{
		currencyRepo: currencyRepo,
		redisClient:  redisClient,
	}
}

// GetCurrency retrieves a currency by code with caching
func (uc *FxUsecase) GetCurrency(ctx context.Context, code string) (*domain.Currency, error) {
	cacheKey := fmt.Sprintf("fx:currency:%s", code)

	if uc.redisClient != nil {
		if val, err := uc.redisClient.Get(ctx, cacheKey).Result(); err == nil {
			var c domain.Currency
			if jsonErr := json.Unmarshal([]byte(val), &c); jsonErr == nil {
				return &c, nil
			}
		}
	}

	c, err := uc.currencyRepo.GetCurrency(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to get currency %s: %w", code, err)
	}

	if uc.redisClient != nil {
		if data, err := json.Marshal(c); err == nil {
			_ = uc.redisClient.Set(ctx, cacheKey, data, 1*time.Hour).Err()
		}
	}
	return c, nil
}

// GetCurrencies loads a set of currencies keyed by code.
func (uc *FxUsecase) GetCurrencies(ctx context.Context, codes []string) (map[string]*domain.Currency, error) {
	out := make(map[string]*domain.Currency, len(codes))
	for _, code := range codes {
		if _, ok := out[code]; ok {
			continue
		}
		c, err := uc.GetCurrency(ctx, code)
		if err != nil {
			return nil, err
		}
		out[code] = c
	}
	return out, nil
}

// RateAt returns the conversion rate base→quote effective at asOf.
// Identical currencies short-circuit to 1.
func (uc *FxUsecase) RateAt(ctx context.Context, base, quote string, asOf time.Time) (*domain.Rate, error) {
	if base == quote {
		return &domain.Rate{Base: base, Quote: quote, Rate: decimal.NewFromInt(1), AsOf: asOf}, nil
	}

	cacheKey := fmt.Sprintf("fx:rate:%s:%s:%s", base, quote, asOf.Format("2006-01-02"))

	if uc.redisClient != nil {
		if val, err := uc.redisClient.Get(ctx, cacheKey).Result(); err == nil {
			var rate domain.Rate
			if jsonErr := json.Unmarshal([]byte(val), &rate); jsonErr == nil {
				return &rate, nil
			}
		}
	}

	rate, err := uc.currencyRepo.GetRate(ctx, base, quote, asOf)
	if err != nil {
		return nil, err
	}

	if uc.redisClient != nil {
		if data, err := json.Marshal(rate); err == nil {
			_ = uc.redisClient.Set(ctx, cacheKey, data, 5*time.Minute).Err()
		}
	}
	return rate, nil
}

// Convert turns an amount in `from` into `to` at the rate effective at asOf,
// rounded in the destination currency. MissingRate when no quote exists.
func (uc *FxUsecase) Convert(ctx context.Context, amount decimal.Decimal, from, to string, asOf time.Time) (decimal.Decimal, error) {
	dst, err := uc.GetCurrency(ctx, to)
	if err != nil {
		return decimal.Zero, err
	}
	if from == to {
		return dst.Round(amount), nil
	}
	rate, err := uc.RateAt(ctx, from, to, asOf)
	if err != nil {
		return decimal.Zero, err
	}
	return domain.Convert(amount, rate, dst), nil
}

// SetRate stores a quote and drops the cached window around it.
func (uc *FxUsecase) SetRate(ctx context.Context, rate *domain.Rate) error {
	if err := uc.currencyRepo.UpsertRate(ctx, rate); err != nil {
		return fmt.Errorf("failed to upsert rate: %w", err)
	}
	if uc.redisClient != nil {
		cacheKey := fmt.Sprintf("fx:rate:%s:%s:%s", rate.Base, rate.Quote, rate.AsOf.Format("2006-01-02"))
		_ = uc.redisClient.Del(ctx, cacheKey).Err()
	}
	return nil
}
