package contracts

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RoundData is the answer of a Chainlink aggregator
type RoundData struct {
	RoundID         *big.Int
	Answer          *big.Int
	StartedAt       uint64
	UpdatedAt       uint64
	AnsweredInRound *big.Int
}

// PriceFeed is a Chainlink-style aggregator
// ⭐ SSOT: oracle collaborator interface
type PriceFeed interface {
	LatestRoundData(ctx context.Context) (RoundData, error)
	Decimals(ctx context.Context) (uint8, error)
}

// SettlementContract is the GPv2 settlement pre-sign surface
// ⭐ SSOT: settlement collaborator interface
type SettlementContract interface {
	PreSignature(ctx context.Context, uid OrderUID) (*big.Int, error)
	SetPreSignature(ctx context.Context, uid OrderUID, signed bool) error
	FilledAmount(ctx context.Context, uid OrderUID) (*big.Int, error)
	VaultRelayer() common.Address
}

// Token is the ERC-20 surface the engine needs
type Token interface {
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, token, spender common.Address, amount *big.Int) error
}

// Unwrapper converts between wrapped and native tokens; Wrap undoes Unwrap
type Unwrapper interface {
	Unwrap(ctx context.Context, amount *big.Int) error
	Wrap(ctx context.Context, amount *big.Int) error
}

// Treasury receives proceeds and refunds
// ⭐ SSOT: the only path by which funds leave the seller
type Treasury interface {
	Deposit(ctx context.Context, token common.Address, amount *big.Int) error
}

// Venue quotes a swap on an external market
type Venue interface {
	Name() string
	Quote(ctx context.Context, sell, buy common.Address, amountIn *big.Int) (*big.Int, error)
}

// EventSink receives committed engine events
type EventSink interface {
	Publish(ctx context.Context, events ...Event) error
}
