// Package oracle reads Chainlink-style feeds and normalizes their prices.
package oracle

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/metrics"
	"github.com/wonny/otcseller/pkg/logger"
)

// defaultDecimals scales constant prices on pairs without a feed
const defaultDecimals = 18

// Quote is a normalized price: amount of buy token per one sell token, scaled by 10^Decimals
type Quote struct {
	Price     *big.Int
	Decimals  uint8
	Source    string // chainlink, constant
	UpdatedAt time.Time
}

// Feeds resolves a feed address to a readable feed
type Feeds interface {
	Feed(addr common.Address) (contracts.PriceFeed, error)
}

// StaticFeeds is a fixed address → feed table
type StaticFeeds map[common.Address]contracts.PriceFeed

// Feed implements Feeds
func (s StaticFeeds) Feed(addr common.Address) (contracts.PriceFeed, error) {
	feed, ok := s[addr]
	if !ok {
		return nil, fmt.Errorf("feed %s: %w", addr.Hex(), contracts.ErrNotFound)
	}
	return feed, nil
}

// Config controls freshness and read throttling
type Config struct {
	MaxStaleness time.Duration // 0 disables the age check
	RPS          float64       // 0 disables throttling
}

// Adapter wraps feeds with validity checks
// ⭐ SSOT: every oracle read goes through GetPrice
type Adapter struct {
	feeds        Feeds
	maxStaleness time.Duration
	limiter      *rate.Limiter
	now          func() time.Time
	logger       *logger.Logger
	metrics      *metrics.SellerMetrics
}

// NewAdapter creates an oracle adapter
func NewAdapter(feeds Feeds, cfg Config, log *logger.Logger) *Adapter {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}

	return &Adapter{
		feeds:        feeds,
		maxStaleness: cfg.MaxStaleness,
		limiter:      limiter,
		now:          time.Now,
		logger:       log.WithComponent("oracle"),
		metrics:      metrics.Get(),
	}
}

// WithClock overrides the time source
func (a *Adapter) WithClock(now func() time.Time) *Adapter {
	a.now = now
	return a
}

// GetPrice reads feed and returns its price in the requested direction.
// No retries: any failure aborts the caller.
func (a *Adapter) GetPrice(ctx context.Context, feedAddr common.Address, dir contracts.Direction) (Quote, error) {
	feed, err := a.feeds.Feed(feedAddr)
	if err != nil {
		return Quote{}, err
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return Quote{}, fmt.Errorf("oracle throttle: %w", err)
	}

	round, err := feed.LatestRoundData(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("failed to read feed %s: %w", feedAddr.Hex(), err)
	}
	if err := a.checkRound(round); err != nil {
		a.metrics.OracleFailures.WithLabelValues(feedAddr.Hex()).Inc()
		a.logger.WithFields(map[string]interface{}{
			"feed":       feedAddr.Hex(),
			"updated_at": round.UpdatedAt,
		}).WithError(err).Warn("Rejected feed round")
		return Quote{}, fmt.Errorf("feed %s: %w", feedAddr.Hex(), err)
	}

	decimals, err := feed.Decimals(ctx)
	if err != nil {
		return Quote{}, fmt.Errorf("failed to read feed decimals %s: %w", feedAddr.Hex(), err)
	}

	price := new(big.Int).Set(round.Answer)
	if dir == contracts.DirectionReverse {
		price = Reverse(price, decimals)
	}
	a.metrics.OraclePrice.WithLabelValues(feedAddr.Hex(), dir.String()).Set(metrics.Float(price, decimals))

	return Quote{
		Price:     price,
		Decimals:  decimals,
		Source:    "chainlink",
		UpdatedAt: time.Unix(int64(round.UpdatedAt), 0).UTC(),
	}, nil
}

// PairPrice honours a pair's constant price before consulting its feed
func (a *Adapter) PairPrice(ctx context.Context, pair contracts.PairConfig, dir contracts.Direction) (Quote, error) {
	if !pair.HasConstantPrice() {
		return a.GetPrice(ctx, pair.PriceFeed, dir)
	}

	decimals := uint8(defaultDecimals)
	if pair.PriceFeed != (common.Address{}) {
		feed, err := a.feeds.Feed(pair.PriceFeed)
		if err != nil {
			return Quote{}, err
		}
		if decimals, err = feed.Decimals(ctx); err != nil {
			return Quote{}, fmt.Errorf("failed to read feed decimals %s: %w", pair.PriceFeed.Hex(), err)
		}
	}

	price := new(big.Int).Set(pair.ConstantPrice)
	if dir == contracts.DirectionReverse {
		price = Reverse(price, decimals)
	}
	return Quote{Price: price, Decimals: decimals, Source: "constant", UpdatedAt: a.now().UTC()}, nil
}

// PriceAndBound returns the pair price together with its bound kind and width
func (a *Adapter) PriceAndBound(ctx context.Context, pair contracts.PairConfig, dir contracts.Direction) (Quote, contracts.BoundKind, uint16, error) {
	q, err := a.PairPrice(ctx, pair, dir)
	if err != nil {
		return Quote{}, "", 0, err
	}
	return q, pair.BoundKind, pair.MaxBoundBps, nil
}

func (a *Adapter) checkRound(round contracts.RoundData) error {
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return fmt.Errorf("non-positive answer: %w", contracts.ErrStaleOrInvalidFeed)
	}
	if round.UpdatedAt == 0 {
		return fmt.Errorf("incomplete round: %w", contracts.ErrStaleOrInvalidFeed)
	}
	if round.RoundID != nil && round.AnsweredInRound != nil && round.AnsweredInRound.Cmp(round.RoundID) < 0 {
		return fmt.Errorf("answer carried over from round %s: %w", round.AnsweredInRound, contracts.ErrStaleOrInvalidFeed)
	}
	if a.maxStaleness > 0 {
		age := a.now().Sub(time.Unix(int64(round.UpdatedAt), 0))
		if age > a.maxStaleness {
			return fmt.Errorf("round is %s old: %w", age.Truncate(time.Second), contracts.ErrStaleOrInvalidFeed)
		}
	}
	return nil
}

// Reverse inverts a direct price: 10^(2*decimals) / direct, truncated
func Reverse(direct *big.Int, decimals uint8) *big.Int {
	if direct.Sign() == 0 {
		return new(big.Int)
	}
	num := contracts.Pow10(2 * uint(decimals))
	return num.Quo(num, direct)
}
