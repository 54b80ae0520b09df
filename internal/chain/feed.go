package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/contracts"
)

// ChainlinkFeed reads an AggregatorV3 contract
type ChainlinkFeed struct {
	contract *bind.BoundContract

	mu       sync.Mutex
	decimals *uint8
}

// NewChainlinkFeed binds the aggregator at addr
func NewChainlinkFeed(addr common.Address, caller bind.ContractCaller) *ChainlinkFeed {
	return &ChainlinkFeed{contract: bind.NewBoundContract(addr, AggregatorABI, caller, nil, nil)}
}

// LatestRoundData implements contracts.PriceFeed
func (f *ChainlinkFeed) LatestRoundData(ctx context.Context) (contracts.RoundData, error) {
	out, err := call(ctx, f.contract, "latestRoundData")
	if err != nil {
		return contracts.RoundData{}, err
	}

	var vals [5]*big.Int
	for i := range vals {
		v, err := bigAt(out, i)
		if err != nil {
			return contracts.RoundData{}, fmt.Errorf("latestRoundData: %w", err)
		}
		vals[i] = v
	}

	return contracts.RoundData{
		RoundID:         vals[0],
		Answer:          vals[1],
		StartedAt:       vals[2].Uint64(),
		UpdatedAt:       vals[3].Uint64(),
		AnsweredInRound: vals[4],
	}, nil
}

// Decimals implements contracts.PriceFeed; the answer is cached
func (f *ChainlinkFeed) Decimals(ctx context.Context) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.decimals != nil {
		return *f.decimals, nil
	}

	out, err := call(ctx, f.contract, "decimals")
	if err != nil {
		return 0, err
	}
	d, err := uint8At(out, 0)
	if err != nil {
		return 0, fmt.Errorf("decimals: %w", err)
	}
	f.decimals = &d
	return d, nil
}

// Feeds resolves feed addresses to bound aggregators, reusing bindings
type Feeds struct {
	caller bind.ContractCaller

	mu    sync.Mutex
	feeds map[common.Address]*ChainlinkFeed
}

// NewFeeds creates a resolver over caller
func NewFeeds(caller bind.ContractCaller) *Feeds {
	return &Feeds{caller: caller, feeds: make(map[common.Address]*ChainlinkFeed)}
}

// Feed implements oracle.Feeds
func (r *Feeds) Feed(addr common.Address) (contracts.PriceFeed, error) {
	if addr == (common.Address{}) {
		return nil, fmt.Errorf("feed %s: %w", addr.Hex(), contracts.ErrNotFound)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.feeds[addr]; ok {
		return f, nil
	}
	f := NewChainlinkFeed(addr, r.caller)
	r.feeds[addr] = f
	return f, nil
}
