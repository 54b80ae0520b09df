// Package sellerconfig loads the YAML pair file the seller is deployed with.
package sellerconfig

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/contracts"
)

// Mainnet addresses used by Default
const (
	DefaultDAI      = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
	DefaultWETH     = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	DefaultDAIFeed  = "0x773616E4d11A78F511299002da57A0a94577F1f4" // Chainlink DAI / ETH
	DefaultAgent    = "0x3e40D73EB977Dc6a537aF587D48316feE66E9C8c"
	DefaultBoundBps = 200
)

// File is the pair file
// ⭐ SSOT: the pairs a fresh deployment is created with
type File struct {
	Meta  Meta   `yaml:"meta" json:"meta"`
	Pairs []Pair `yaml:"pairs" json:"pairs"`
}

// Meta identifies the deployment the file belongs to
type Meta struct {
	Network     string `yaml:"network" json:"network"`
	Beneficiary string `yaml:"beneficiary" json:"beneficiary"` // treasury agent
}

// Pair is one seller pair. Amount-like values are decimal strings so that
// 18 decimal prices survive YAML untouched.
type Pair struct {
	TokenA        string `yaml:"token_a" json:"token_a"`
	TokenB        string `yaml:"token_b" json:"token_b"`
	DecimalsA     uint8  `yaml:"decimals_a" json:"decimals_a"`
	DecimalsB     uint8  `yaml:"decimals_b" json:"decimals_b"`
	PriceFeed     string `yaml:"price_feed,omitempty" json:"price_feed,omitempty"`
	Bound         string `yaml:"bound" json:"bound"` // margin | slippage
	MaxBoundBps   uint16 `yaml:"max_bound_bps" json:"max_bound_bps"`
	ConstantPrice string `yaml:"constant_price,omitempty" json:"constant_price,omitempty"`
	Receiver      string `yaml:"receiver,omitempty" json:"receiver,omitempty"` // empty: the seller
	ProbeFallback bool   `yaml:"probe_fallback,omitempty" json:"probe_fallback,omitempty"`
}

// Snapshot records which file a deployment was created from
type Snapshot struct {
	ConfigHash string    `json:"config_hash"`
	ConfigYAML string    `json:"config_yaml"`
	Network    string    `json:"network"`
	CreatedAt  time.Time `json:"created_at"`
}

// Default mirrors the mainnet deployment: sell DAI for WETH and back against
// the Chainlink DAI/ETH feed with 2% slippage.
func Default() *File {
	return &File{
		Meta: Meta{Network: "mainnet", Beneficiary: DefaultAgent},
		Pairs: []Pair{{
			TokenA:      DefaultDAI,
			TokenB:      DefaultWETH,
			DecimalsA:   18,
			DecimalsB:   18,
			PriceFeed:   DefaultDAIFeed,
			Bound:       string(contracts.BoundSlippage),
			MaxBoundBps: DefaultBoundBps,
		}},
	}
}

// PairConfigs converts the file into registry entries. Pairs without a
// receiver deliver to seller.
func (f *File) PairConfigs(seller common.Address) ([]contracts.PairConfig, error) {
	out := make([]contracts.PairConfig, 0, len(f.Pairs))
	for i, p := range f.Pairs {
		pc, err := p.toPairConfig(seller)
		if err != nil {
			return nil, fmt.Errorf("pairs[%d]: %w", i, err)
		}
		out = append(out, pc)
	}
	return out, nil
}

func (p Pair) toPairConfig(seller common.Address) (contracts.PairConfig, error) {
	pc := contracts.PairConfig{
		TokenA:        common.HexToAddress(p.TokenA),
		TokenB:        common.HexToAddress(p.TokenB),
		DecimalsA:     p.DecimalsA,
		DecimalsB:     p.DecimalsB,
		BoundKind:     contracts.BoundKind(p.Bound),
		MaxBoundBps:   p.MaxBoundBps,
		Receiver:      seller,
		ProbeFallback: p.ProbeFallback,
	}
	if p.PriceFeed != "" {
		pc.PriceFeed = common.HexToAddress(p.PriceFeed)
	}
	if p.Receiver != "" {
		pc.Receiver = common.HexToAddress(p.Receiver)
	}
	if p.ConstantPrice != "" {
		price, ok := new(big.Int).SetString(p.ConstantPrice, 10)
		if !ok {
			return contracts.PairConfig{}, fmt.Errorf("constant_price %q is not an integer", p.ConstantPrice)
		}
		pc.ConstantPrice = price
	}
	if err := pc.Validate(); err != nil {
		return contracts.PairConfig{}, err
	}
	return pc, nil
}

// FromPairConfig renders a registry entry back into file form
func FromPairConfig(pc contracts.PairConfig) Pair {
	p := Pair{
		TokenA:        pc.TokenA.Hex(),
		TokenB:        pc.TokenB.Hex(),
		DecimalsA:     pc.DecimalsA,
		DecimalsB:     pc.DecimalsB,
		Bound:         string(pc.BoundKind),
		MaxBoundBps:   pc.MaxBoundBps,
		Receiver:      pc.Receiver.Hex(),
		ProbeFallback: pc.ProbeFallback,
	}
	if pc.PriceFeed != (common.Address{}) {
		p.PriceFeed = pc.PriceFeed.Hex()
	}
	if pc.HasConstantPrice() {
		p.ConstantPrice = pc.ConstantPrice.String()
	}
	return p
}
