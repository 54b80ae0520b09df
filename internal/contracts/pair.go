package contracts

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Direction selects the oracle orientation for a trade
type Direction uint8

const (
	// DirectionDirect sells TokenA for TokenB at the feed's native quote
	DirectionDirect Direction = iota
	// DirectionReverse sells TokenB for TokenA at the inverted quote
	DirectionReverse
)

func (d Direction) String() string {
	if d == DirectionReverse {
		return "reverse"
	}
	return "direct"
}

// BoundKind names the reference a bound is measured against
type BoundKind string

const (
	// BoundMargin bounds against the oracle price only
	BoundMargin BoundKind = "margin"
	// BoundSlippage bounds against the lower of oracle and best venue quote
	BoundSlippage BoundKind = "slippage"
)

// MaxBps is 100% in basis points
const MaxBps = 10000

// PairConfig configures one tradable pair. The feed quotes TokenB per 1 TokenA.
// ⭐ SSOT: per-pair pricing and bound parameters
type PairConfig struct {
	TokenA        common.Address `json:"tokenA"`
	TokenB        common.Address `json:"tokenB"`
	DecimalsA     uint8          `json:"decimalsA"`
	DecimalsB     uint8          `json:"decimalsB"`
	PriceFeed     common.Address `json:"priceFeed"`
	BoundKind     BoundKind      `json:"boundKind"`
	MaxBoundBps   uint16         `json:"maxBoundBps"`
	ConstantPrice *big.Int       `json:"constantPrice,omitempty"`
	Receiver      common.Address `json:"receiver"`
	ProbeFallback bool           `json:"probeFallback"`
}

// Validate checks the static shape of a pair
func (p PairConfig) Validate() error {
	if p.TokenA == (common.Address{}) || p.TokenB == (common.Address{}) {
		return fmt.Errorf("pair tokens must be set")
	}
	if p.TokenA == p.TokenB {
		return fmt.Errorf("pair tokens must differ")
	}
	if p.PriceFeed == (common.Address{}) && !p.HasConstantPrice() {
		return fmt.Errorf("pair needs a price feed or a constant price")
	}
	if p.MaxBoundBps >= MaxBps {
		return fmt.Errorf("max bound %d bps must be below %d", p.MaxBoundBps, MaxBps)
	}
	if p.BoundKind != BoundMargin && p.BoundKind != BoundSlippage {
		return fmt.Errorf("unknown bound kind %q", p.BoundKind)
	}
	if p.Receiver == (common.Address{}) {
		return fmt.Errorf("pair receiver must be set")
	}
	return nil
}

// HasConstantPrice reports whether a fixed price overrides the feed
func (p PairConfig) HasConstantPrice() bool {
	return p.ConstantPrice != nil && p.ConstantPrice.Sign() > 0
}

// Orientation maps an order's sell/buy tokens onto the pair
func (p PairConfig) Orientation(sell, buy common.Address) (Direction, bool) {
	switch {
	case sell == p.TokenA && buy == p.TokenB:
		return DirectionDirect, true
	case sell == p.TokenB && buy == p.TokenA:
		return DirectionReverse, true
	default:
		return 0, false
	}
}

// Decimals returns (sell, buy) token decimals for a direction
func (p PairConfig) Decimals(d Direction) (uint8, uint8) {
	if d == DirectionReverse {
		return p.DecimalsB, p.DecimalsA
	}
	return p.DecimalsA, p.DecimalsB
}

// Key is orientation independent
func (p PairConfig) Key() string {
	return PairKey(p.TokenA, p.TokenB)
}

// PairKey orders the two addresses so (a,b) and (b,a) collide
func PairKey(a, b common.Address) string {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return a.Hex() + "/" + b.Hex()
}
