package validator

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/otcseller/internal/access"
	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/oracle"
	"github.com/wonny/otcseller/internal/orderuid"
	"github.com/wonny/otcseller/internal/probe"
	"github.com/wonny/otcseller/internal/registry"
	"github.com/wonny/otcseller/pkg/logger"
)

var (
	dai        = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	weth       = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	steth      = common.HexToAddress("0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84")
	feedAddr   = common.HexToAddress("0x773616E4d11A78F511299002da57A0a94577F1f4")
	agent      = common.HexToAddress("0x3e40D73EB977Dc6a537aF587D48316feE66E9C8c")
	seller     = common.HexToAddress("0x00000000000000000000000000000000000005e1")
	settlement = common.HexToAddress("0x9008D19f58AAbD9eD0D60971565AA8510560ab41")
	now        = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func amount(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return v
}

type fakeFeed struct {
	answer *big.Int
	err    error
}

func (f *fakeFeed) LatestRoundData(ctx context.Context) (contracts.RoundData, error) {
	if f.err != nil {
		return contracts.RoundData{}, f.err
	}
	return contracts.RoundData{
		RoundID:         big.NewInt(1),
		Answer:          f.answer,
		UpdatedAt:       uint64(now.Add(-time.Minute).Unix()),
		AnsweredInRound: big.NewInt(1),
	}, nil
}

func (f *fakeFeed) Decimals(ctx context.Context) (uint8, error) { return 18, nil }

type fixedVenue struct {
	out *big.Int
	err error
}

func (v fixedVenue) Name() string { return "fixed" }

func (v fixedVenue) Quote(ctx context.Context, sell, buy common.Address, amountIn *big.Int) (*big.Int, error) {
	return v.out, v.err
}

type fixture struct {
	validator *Validator
	hasher    *orderuid.Hasher
	feed      *fakeFeed
	registry  *registry.Registry
}

type option func(p *contracts.PairConfig)

func newFixture(t *testing.T, venues []contracts.Venue, opts ...option) *fixture {
	t.Helper()

	roles := access.New()
	require.NoError(t, access.NewSetup(roles).Deploy(seller, agent))
	reg := registry.New(roles)

	pair := contracts.PairConfig{
		TokenA:      dai,
		TokenB:      weth,
		DecimalsA:   18,
		DecimalsB:   18,
		PriceFeed:   feedAddr,
		BoundKind:   contracts.BoundSlippage,
		MaxBoundBps: 200,
		Receiver:    agent,
	}
	for _, o := range opts {
		o(&pair)
	}
	require.NoError(t, reg.CreateSeller(agent, pair))

	// 0.0005 ETH per DAI, i.e. 2000 DAI per ETH
	feed := &fakeFeed{answer: amount("500000000000000")}
	adapter := oracle.NewAdapter(oracle.StaticFeeds{feedAddr: feed}, oracle.Config{MaxStaleness: time.Hour}, logger.Nop()).
		WithClock(func() time.Time { return now })

	hasher, err := orderuid.NewHasher(1, settlement)
	require.NoError(t, err)

	v := New(reg, adapter, probe.New(logger.Nop(), venues...), hasher,
		Config{Owner: seller, MaxFeeBps: 1000, NetFee: true}, logger.Nop()).
		WithClock(func() time.Time { return now })

	return &fixture{validator: v, hasher: hasher, feed: feed, registry: reg}
}

// sellWeth sells 10 WETH for DAI; oracle minimum at 200 bps is 19600 DAI
func sellWeth(buy string) contracts.Order {
	return contracts.NewSellOrder(weth, dai, agent,
		amount("10000000000000000000"), amount(buy), big.NewInt(0),
		uint32(now.Add(time.Hour).Unix()), common.Hash{})
}

func (f *fixture) check(t *testing.T, order contracts.Order) Result {
	t.Helper()
	uid, err := f.hasher.UID(order, seller)
	require.NoError(t, err)
	res, err := f.validator.CheckOrder(context.Background(), order, uid)
	require.NoError(t, err)
	return res
}

func TestMinBuyAmount(t *testing.T) {
	tests := []struct {
		name                      string
		sell, price               string
		priceDec, sellDec, buyDec uint8
		bps                       uint16
		want                      string
	}{
		{"reverse weth->dai", "10000000000000000000", "2000000000000000000000", 18, 18, 18, 200, "19600000000000000000000"},
		{"direct dai->weth", "20000000000000000000000", "500000000000000", 18, 18, 18, 200, "9800000000000000000"},
		{"zero bound", "3", "1000000000000000000", 18, 18, 18, 0, "3"},
		{"six decimal buy token", "1000000000000000000", "3000000000000000000000", 18, 18, 6, 100, "2970000000"},
		{"floors both steps", "7", "333333333333333333", 18, 0, 0, 3333, "1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MinBuyAmount(amount(tt.sell), amount(tt.price), tt.priceDec, tt.sellDec, tt.buyDec, tt.bps)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestCheckOrder_BoundaryBothOrientations(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("reverse", func(t *testing.T) {
		res := f.check(t, sellWeth("19600000000000000000000"))
		assert.True(t, res.OK, res.Detail)
		assert.Equal(t, "19600000000000000000000", res.Bound.MinBuyAmount.String())

		res = f.check(t, sellWeth("19599999999999999999999"))
		assert.False(t, res.OK)
		assert.Equal(t, contracts.ReasonBuyAmountTooLow, res.Reason)
	})

	t.Run("direct", func(t *testing.T) {
		order := contracts.NewSellOrder(dai, weth, agent,
			amount("20000000000000000000000"), amount("9800000000000000000"), big.NewInt(0),
			uint32(now.Add(time.Hour).Unix()), common.Hash{})
		assert.True(t, f.check(t, order).OK)

		order.BuyAmount = amount("9799999999999999999")
		assert.Equal(t, contracts.ReasonBuyAmountTooLow, f.check(t, order).Reason)
	})
}

func TestCheckOrder_NetsFee(t *testing.T) {
	f := newFixture(t, nil)

	// 10 WETH with 0.1 WETH fee nets 9.9 WETH -> 19800 DAI * 0.98
	order := sellWeth("19404000000000000000000")
	order.FeeAmount = amount("100000000000000000")
	assert.True(t, f.check(t, order).OK)

	order.BuyAmount = amount("19403999999999999999999")
	assert.Equal(t, contracts.ReasonBuyAmountTooLow, f.check(t, order).Reason)
}

func TestCheckOrder_FeeRatio(t *testing.T) {
	f := newFixture(t, nil)

	tenPct := sellWeth("20000000000000000000000")
	tenPct.FeeAmount = amount("1000000000000000000")
	assert.True(t, f.check(t, tenPct).OK)

	fifteenPct := sellWeth("20000000000000000000000")
	fifteenPct.FeeAmount = amount("1500000000000000000")
	assert.Equal(t, contracts.ReasonFeeTooHigh, f.check(t, fifteenPct).Reason)
}

func TestCheckOrder_Priority(t *testing.T) {
	f := newFixture(t, nil)
	valid := sellWeth("20000000000000000000000")
	expired := uint32(now.Add(-time.Second).Unix())

	tests := []struct {
		name   string
		mutate func(o *contracts.Order)
		badUID bool
		want   contracts.Reason
	}{
		{
			name: "unsupported pair over wrong receiver",
			mutate: func(o *contracts.Order) {
				o.BuyToken = steth
				o.Receiver = seller
			},
			want: contracts.ReasonUnsupportedPair,
		},
		{
			name: "wrong receiver over expired",
			mutate: func(o *contracts.Order) {
				o.Receiver = seller
				o.ValidTo = expired
			},
			want: contracts.ReasonWrongReceiver,
		},
		{
			name: "expired over uid mismatch",
			mutate: func(o *contracts.Order) {
				o.ValidTo = uint32(now.Unix())
			},
			badUID: true,
			want:   contracts.ReasonExpiredValidTo,
		},
		{
			name: "uid mismatch over fee too high",
			mutate: func(o *contracts.Order) {
				o.FeeAmount = amount("5000000000000000000")
			},
			badUID: true,
			want:   contracts.ReasonOrderIDMismatch,
		},
		{
			name: "fee too high over buy too low",
			mutate: func(o *contracts.Order) {
				o.FeeAmount = amount("5000000000000000000")
				o.BuyAmount = big.NewInt(1)
			},
			want: contracts.ReasonFeeTooHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := valid
			tt.mutate(&order)

			uid, err := f.hasher.UID(order, seller)
			require.NoError(t, err)
			if tt.badUID {
				uid, err = f.hasher.UID(valid, seller)
				require.NoError(t, err)
			}

			res, err := f.validator.CheckOrder(context.Background(), order, uid)
			require.NoError(t, err)
			assert.False(t, res.OK)
			assert.Equal(t, tt.want, res.Reason)

			var verr *contracts.ValidationError
			require.ErrorAs(t, res.Err(), &verr)
			assert.Equal(t, tt.want, verr.Reason)
		})
	}
}

func TestCheckOrder_UIDBoundToOwner(t *testing.T) {
	f := newFixture(t, nil)
	order := sellWeth("20000000000000000000000")

	foreign, err := f.hasher.UID(order, agent)
	require.NoError(t, err)

	res, err := f.validator.CheckOrder(context.Background(), order, foreign)
	require.NoError(t, err)
	assert.Equal(t, contracts.ReasonOrderIDMismatch, res.Reason)
}

func TestCheckOrder_UnsupportedParams(t *testing.T) {
	f := newFixture(t, nil)

	tests := map[string]func(o *contracts.Order){
		"partially fillable": func(o *contracts.Order) { o.PartiallyFillable = true },
		"buy kind":           func(o *contracts.Order) { o.Kind = contracts.KindBuy },
		"internal balance":   func(o *contracts.Order) { o.SellTokenBalance = contracts.BalanceInternal },
		"zero buy":           func(o *contracts.Order) { o.BuyAmount = big.NewInt(0) },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			order := sellWeth("20000000000000000000000")
			mutate(&order)
			assert.Equal(t, contracts.ReasonUnsupportedOrderParams, f.check(t, order).Reason)
		})
	}
}

func TestCheckOrder_ProbeLowersBound(t *testing.T) {
	// venue gives 1900 DAI per WETH, below the 2000 oracle price
	f := newFixture(t, []contracts.Venue{fixedVenue{out: amount("1900000000000000000000")}})

	res := f.check(t, sellWeth("18620000000000000000000"))
	require.True(t, res.OK, res.Detail)
	assert.Equal(t, "oracle+probe", res.Bound.Source)
	assert.Equal(t, "1900000000000000000000", res.Bound.Price.String())

	assert.Equal(t, contracts.ReasonBuyAmountTooLow, f.check(t, sellWeth("18619999999999999999999")).Reason)
}

func TestCheckOrder_ProbeAboveOracleKeepsOracle(t *testing.T) {
	f := newFixture(t, []contracts.Venue{fixedVenue{out: amount("2100000000000000000000")}})

	res := f.check(t, sellWeth("19600000000000000000000"))
	require.True(t, res.OK)
	assert.Equal(t, "2000000000000000000000", res.Bound.Price.String())
}

func TestCheckOrder_ProbeFailureDegrades(t *testing.T) {
	f := newFixture(t, []contracts.Venue{fixedVenue{err: errors.New("no route")}})

	res := f.check(t, sellWeth("19600000000000000000000"))
	require.True(t, res.OK)
	assert.Equal(t, "oracle", res.Bound.Source)
}

func TestCheckOrder_MarginIgnoresProbe(t *testing.T) {
	f := newFixture(t, []contracts.Venue{fixedVenue{out: amount("1000000000000000000000")}},
		func(p *contracts.PairConfig) { p.BoundKind = contracts.BoundMargin })

	res := f.check(t, sellWeth("19600000000000000000000"))
	require.True(t, res.OK)
	assert.Equal(t, "oracle", res.Bound.Source)
}

func TestCheckOrder_OracleFailureAborts(t *testing.T) {
	f := newFixture(t, nil)
	f.feed.answer = big.NewInt(0)

	order := sellWeth("19600000000000000000000")
	uid, err := f.hasher.UID(order, seller)
	require.NoError(t, err)

	_, err = f.validator.CheckOrder(context.Background(), order, uid)
	assert.ErrorIs(t, err, contracts.ErrStaleOrInvalidFeed)
}

func TestCheckOrder_OracleFailureProbeFallback(t *testing.T) {
	f := newFixture(t, []contracts.Venue{fixedVenue{out: amount("1900000000000000000000")}},
		func(p *contracts.PairConfig) { p.ProbeFallback = true })
	f.feed.err = errors.New("rpc down")

	res := f.check(t, sellWeth("18620000000000000000000"))
	require.True(t, res.OK, res.Detail)
	assert.Equal(t, "probe", res.Bound.Source)
}

func TestMinimumFor(t *testing.T) {
	f := newFixture(t, nil)

	bound, err := f.validator.MinimumFor(context.Background(), weth, dai, amount("10000000000000000000"), nil)
	require.NoError(t, err)
	assert.Equal(t, "19600000000000000000000", bound.MinBuyAmount.String())

	_, err = f.validator.MinimumFor(context.Background(), weth, steth, big.NewInt(1), nil)
	reason, ok := contracts.ReasonOf(err)
	assert.True(t, ok)
	assert.Equal(t, contracts.ReasonUnsupportedPair, reason)
}
