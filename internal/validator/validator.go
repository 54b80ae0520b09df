// Package validator checks proposed orders against pair configuration and price bounds.
package validator

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/metrics"
	"github.com/wonny/otcseller/internal/oracle"
	"github.com/wonny/otcseller/pkg/logger"
)

// probeDecimals scales probe-only bounds when the oracle is unavailable
const probeDecimals = 18

// PairLookup resolves an order's tokens to a configured pair
type PairLookup interface {
	Lookup(sell, buy common.Address) (contracts.PairConfig, contracts.Direction, bool)
}

// PriceSource returns the oracle price for a pair
type PriceSource interface {
	PairPrice(ctx context.Context, pair contracts.PairConfig, dir contracts.Direction) (oracle.Quote, error)
}

// SwapProbe returns a venue price comparable with the oracle price
type SwapProbe interface {
	Enabled() bool
	Price(ctx context.Context, sell, buy common.Address, sellDecimals, buyDecimals, priceDecimals uint8) (*big.Int, error)
}

// UIDHasher recomputes order uids
type UIDHasher interface {
	UID(order contracts.Order, owner common.Address) (contracts.OrderUID, error)
}

// Config holds fee policy
type Config struct {
	Owner     common.Address // seller account that pre-signs orders
	MaxFeeBps int64
	NetFee    bool
}

// Result is the outcome of CheckOrder
type Result struct {
	OK     bool             `json:"ok"`
	Reason contracts.Reason `json:"reason,omitempty"`
	Detail string           `json:"detail,omitempty"`
	Bound  *Bound           `json:"bound,omitempty"`
}

// Err converts a rejection into a *contracts.ValidationError
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return &contracts.ValidationError{Reason: r.Reason, Message: r.Detail}
}

// Bound is the minimum acceptable buy amount and how it was derived
type Bound struct {
	Price        *big.Int `json:"price"`
	Decimals     uint8    `json:"decimals"`
	Source       string   `json:"source"` // oracle, probe, oracle+probe
	MaxBoundBps  uint16   `json:"maxBoundBps"`
	MinBuyAmount *big.Int `json:"minBuyAmount"`
}

// Validator implements checkOrder
// ⭐ SSOT: order acceptance rules
type Validator struct {
	pairs   PairLookup
	prices  PriceSource
	probe   SwapProbe
	hasher  UIDHasher
	cfg     Config
	now     func() time.Time
	logger  *logger.Logger
	metrics *metrics.SellerMetrics
}

// New creates a validator; probe may be nil
func New(pairs PairLookup, prices PriceSource, probe SwapProbe, hasher UIDHasher, cfg Config, log *logger.Logger) *Validator {
	return &Validator{
		pairs:   pairs,
		prices:  prices,
		probe:   probe,
		hasher:  hasher,
		cfg:     cfg,
		now:     time.Now,
		logger:  log.WithComponent("validator"),
		metrics: metrics.Get(),
	}
}

// WithClock overrides the time source
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Owner returns the account orders are bound to
func (v *Validator) Owner() common.Address {
	return v.cfg.Owner
}

// CheckOrder runs every check in priority order; the first failure wins.
// A non-nil error means the oracle could not be read and nothing was decided.
// It never mutates state.
func (v *Validator) CheckOrder(ctx context.Context, order contracts.Order, uid contracts.OrderUID) (Result, error) {
	res, err := v.check(ctx, order, uid)
	if err != nil {
		return res, err
	}

	if res.OK {
		v.metrics.ValidationAccepted.Inc()
	} else {
		v.metrics.ValidationRejections.WithLabelValues(string(res.Reason)).Inc()
		v.logger.WithFields(map[string]interface{}{
			"order_uid": uid.Hex(),
			"reason":    res.Reason,
			"detail":    res.Detail,
		}).Info("Order rejected")
	}
	return res, nil
}

func (v *Validator) check(ctx context.Context, order contracts.Order, uid contracts.OrderUID) (Result, error) {
	pair, dir, ok := v.pairs.Lookup(order.SellToken, order.BuyToken)
	if !ok {
		return reject(contracts.ReasonUnsupportedPair, "%s/%s", order.SellToken.Hex(), order.BuyToken.Hex()), nil
	}

	if order.Receiver != pair.Receiver {
		return reject(contracts.ReasonWrongReceiver, "got %s want %s", order.Receiver.Hex(), pair.Receiver.Hex()), nil
	}

	if now := v.now().Unix(); int64(order.ValidTo) <= now {
		return reject(contracts.ReasonExpiredValidTo, "validTo %d <= now %d", order.ValidTo, now), nil
	}

	expected, err := v.hasher.UID(order, v.cfg.Owner)
	if err != nil || expected != uid {
		return reject(contracts.ReasonOrderIDMismatch, "recomputed %s", expected.Hex()), nil
	}

	sell, buy, fee := order.Amounts()
	if detail := unsupportedParams(order, sell, buy, fee); detail != "" {
		return reject(contracts.ReasonUnsupportedOrderParams, "%s", detail), nil
	}

	// fee/sell > maxFeeBps/10000
	lhs := new(big.Int).Mul(fee, big.NewInt(contracts.MaxBps))
	rhs := new(big.Int).Mul(sell, big.NewInt(v.cfg.MaxFeeBps))
	if lhs.Cmp(rhs) > 0 {
		return reject(contracts.ReasonFeeTooHigh, "fee %s over %d bps of %s", fee, v.cfg.MaxFeeBps, sell), nil
	}

	bound, err := v.bound(ctx, pair, dir, order.SellToken, order.BuyToken, v.netSell(sell, fee))
	if err != nil {
		return Result{}, err
	}
	if buy.Cmp(bound.MinBuyAmount) < 0 {
		res := reject(contracts.ReasonBuyAmountTooLow, "buy %s below minimum %s", buy, bound.MinBuyAmount)
		res.Bound = bound
		return res, nil
	}

	return Result{OK: true, Bound: bound}, nil
}

func unsupportedParams(o contracts.Order, sell, buy, fee *big.Int) string {
	switch {
	case o.Kind != contracts.KindSell:
		return "only sell orders are supported"
	case o.PartiallyFillable:
		return "partially fillable orders are not supported"
	case o.SellTokenBalance != contracts.BalanceERC20 || o.BuyTokenBalance != contracts.BalanceERC20:
		return "only erc20 balances are supported"
	case sell.Sign() == 0 || buy.Sign() == 0:
		return "amounts must be positive"
	case fee.Cmp(sell) >= 0:
		return "fee consumes the whole sell amount"
	}
	return ""
}

func (v *Validator) netSell(sell, fee *big.Int) *big.Int {
	if v.cfg.NetFee {
		return new(big.Int).Sub(sell, fee)
	}
	return sell
}

// MinimumFor computes the bound for selling sellAmount (fee included) of sell into buy
func (v *Validator) MinimumFor(ctx context.Context, sell, buy common.Address, sellAmount, fee *big.Int) (*Bound, error) {
	pair, dir, ok := v.pairs.Lookup(sell, buy)
	if !ok {
		return nil, &contracts.ValidationError{Reason: contracts.ReasonUnsupportedPair}
	}
	if fee == nil {
		fee = new(big.Int)
	}
	return v.bound(ctx, pair, dir, sell, buy, v.netSell(sellAmount, fee))
}

// bound picks the lower of oracle and probe prices and applies the pair's bps
func (v *Validator) bound(ctx context.Context, pair contracts.PairConfig, dir contracts.Direction, sell, buy common.Address, sellNet *big.Int) (*Bound, error) {
	sellDec, buyDec := pair.Decimals(dir)
	useProbe := v.probe != nil && v.probe.Enabled()

	quote, oerr := v.prices.PairPrice(ctx, pair, dir)
	if oerr != nil {
		if !pair.ProbeFallback || !useProbe {
			return nil, oerr
		}
		price, perr := v.probe.Price(ctx, sell, buy, sellDec, buyDec, probeDecimals)
		if perr != nil {
			return nil, fmt.Errorf("oracle and probe unavailable: %w", errors.Join(oerr, perr))
		}
		v.logger.WithError(oerr).Warn("Oracle unavailable, bounding on probe price")
		return newBound(price, probeDecimals, "probe", pair.MaxBoundBps, sellNet, sellDec, buyDec), nil
	}

	price, source := quote.Price, "oracle"
	if pair.BoundKind == contracts.BoundSlippage && useProbe {
		probed, perr := v.probe.Price(ctx, sell, buy, sellDec, buyDec, quote.Decimals)
		switch {
		case perr != nil:
			v.logger.WithError(perr).Debug("Probe unavailable, bounding on oracle price")
		case probed.Cmp(price) < 0:
			price, source = probed, "oracle+probe"
		default:
			source = "oracle+probe"
		}
	}

	return newBound(price, quote.Decimals, source, pair.MaxBoundBps, sellNet, sellDec, buyDec), nil
}

func newBound(price *big.Int, priceDec uint8, source string, bps uint16, sellNet *big.Int, sellDec, buyDec uint8) *Bound {
	return &Bound{
		Price:        new(big.Int).Set(price),
		Decimals:     priceDec,
		Source:       source,
		MaxBoundBps:  bps,
		MinBuyAmount: MinBuyAmount(sellNet, price, priceDec, sellDec, buyDec, bps),
	}
}

// MinBuyAmount = floor(floor(sell * price * 10^buyDec / 10^(priceDec+sellDec)) * (10000-bps) / 10000)
func MinBuyAmount(sellNet, price *big.Int, priceDec, sellDec, buyDec uint8, bps uint16) *big.Int {
	atPrice := new(big.Int).Mul(sellNet, price)
	atPrice.Mul(atPrice, contracts.Pow10(uint(buyDec)))
	atPrice.Quo(atPrice, contracts.Pow10(uint(priceDec)+uint(sellDec)))

	atPrice.Mul(atPrice, big.NewInt(int64(contracts.MaxBps)-int64(bps)))
	return atPrice.Quo(atPrice, big.NewInt(contracts.MaxBps))
}

func reject(reason contracts.Reason, format string, args ...interface{}) Result {
	return Result{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
