package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/pkg/logger"
)

var (
	feedAddr = common.HexToAddress("0x773616E4d11A78F511299002da57A0a94577F1f4")
	dai      = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	weth     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	now      = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fakeFeed struct {
	round    contracts.RoundData
	decimals uint8
	err      error
	reads    int
}

func (f *fakeFeed) LatestRoundData(ctx context.Context) (contracts.RoundData, error) {
	f.reads++
	return f.round, f.err
}

func (f *fakeFeed) Decimals(ctx context.Context) (uint8, error) {
	return f.decimals, nil
}

func freshFeed(answer string) *fakeFeed {
	v, _ := new(big.Int).SetString(answer, 10)
	return &fakeFeed{
		round: contracts.RoundData{
			RoundID:         big.NewInt(10),
			Answer:          v,
			UpdatedAt:       uint64(now.Add(-time.Hour).Unix()),
			AnsweredInRound: big.NewInt(10),
		},
		decimals: 18,
	}
}

func newAdapter(feed contracts.PriceFeed, staleness time.Duration) *Adapter {
	return NewAdapter(StaticFeeds{feedAddr: feed}, Config{MaxStaleness: staleness}, logger.Nop()).
		WithClock(func() time.Time { return now })
}

func TestGetPrice_Direct(t *testing.T) {
	// DAI/ETH: 0.0005 ETH per DAI
	a := newAdapter(freshFeed("500000000000000"), 25*time.Hour)

	q, err := a.GetPrice(context.Background(), feedAddr, contracts.DirectionDirect)
	require.NoError(t, err)
	assert.Equal(t, "500000000000000", q.Price.String())
	assert.Equal(t, uint8(18), q.Decimals)
	assert.Equal(t, "chainlink", q.Source)
}

func TestGetPrice_Reverse(t *testing.T) {
	a := newAdapter(freshFeed("500000000000000"), 0)

	q, err := a.GetPrice(context.Background(), feedAddr, contracts.DirectionReverse)
	require.NoError(t, err)
	// 10^36 / 5*10^14 = 2000 * 10^18
	assert.Equal(t, "2000000000000000000000", q.Price.String())
}

func TestReverse_Truncates(t *testing.T) {
	// 10^4 / 3 = 3333.33 -> 3333
	assert.Equal(t, "3333", Reverse(big.NewInt(3), 2).String())
	assert.Equal(t, "0", Reverse(big.NewInt(0), 18).String())
}

func TestGetPrice_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *fakeFeed)
	}{
		{"zero answer", func(f *fakeFeed) { f.round.Answer = big.NewInt(0) }},
		{"negative answer", func(f *fakeFeed) { f.round.Answer = big.NewInt(-5) }},
		{"stale round", func(f *fakeFeed) { f.round.UpdatedAt = uint64(now.Add(-26 * time.Hour).Unix()) }},
		{"incomplete round", func(f *fakeFeed) { f.round.UpdatedAt = 0 }},
		{"carried answer", func(f *fakeFeed) { f.round.AnsweredInRound = big.NewInt(9) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			feed := freshFeed("500000000000000")
			tt.mutate(feed)

			_, err := newAdapter(feed, 25*time.Hour).GetPrice(context.Background(), feedAddr, contracts.DirectionDirect)
			assert.ErrorIs(t, err, contracts.ErrStaleOrInvalidFeed)
		})
	}
}

func TestGetPrice_StalenessDisabled(t *testing.T) {
	feed := freshFeed("1")
	feed.round.UpdatedAt = 1

	_, err := newAdapter(feed, 0).GetPrice(context.Background(), feedAddr, contracts.DirectionDirect)
	assert.NoError(t, err)
}

func TestGetPrice_ReadErrorNotRetried(t *testing.T) {
	feed := freshFeed("1")
	feed.err = errors.New("rpc down")

	_, err := newAdapter(feed, 0).GetPrice(context.Background(), feedAddr, contracts.DirectionDirect)
	require.Error(t, err)
	assert.Equal(t, 1, feed.reads)
}

func TestGetPrice_UnknownFeed(t *testing.T) {
	_, err := newAdapter(freshFeed("1"), 0).GetPrice(context.Background(), common.HexToAddress("0x01"), contracts.DirectionDirect)
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestPairPrice_ConstantOverride(t *testing.T) {
	feed := freshFeed("500000000000000")
	a := newAdapter(feed, 0)

	pair := contracts.PairConfig{
		TokenA:        dai,
		TokenB:        weth,
		PriceFeed:     feedAddr,
		ConstantPrice: big.NewInt(400000000000000),
	}

	q, err := a.PairPrice(context.Background(), pair, contracts.DirectionReverse)
	require.NoError(t, err)
	assert.Equal(t, "constant", q.Source)
	assert.Equal(t, "2500000000000000000000", q.Price.String())
	assert.Equal(t, 0, feed.reads, "constant price must not read the round")

	pair.PriceFeed = common.Address{}
	q, err = a.PairPrice(context.Background(), pair, contracts.DirectionDirect)
	require.NoError(t, err)
	assert.Equal(t, uint8(18), q.Decimals)
}

func TestPriceAndBound(t *testing.T) {
	a := newAdapter(freshFeed("500000000000000"), 0)
	pair := contracts.PairConfig{
		TokenA:      dai,
		TokenB:      weth,
		PriceFeed:   feedAddr,
		BoundKind:   contracts.BoundMargin,
		MaxBoundBps: 50,
	}

	q, kind, bps, err := a.PriceAndBound(context.Background(), pair, contracts.DirectionDirect)
	require.NoError(t, err)
	assert.Equal(t, "500000000000000", q.Price.String())
	assert.Equal(t, contracts.BoundMargin, kind)
	assert.Equal(t, uint16(50), bps)

	pair.PriceFeed = common.HexToAddress("0x02")
	_, _, _, err = a.PriceAndBound(context.Background(), pair, contracts.DirectionDirect)
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}
