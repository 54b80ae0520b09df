package contracts

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Fixed GPv2 marker hashes
var (
	KindSell          = crypto.Keccak256Hash([]byte("sell"))
	KindBuy           = crypto.Keccak256Hash([]byte("buy"))
	BalanceERC20      = crypto.Keccak256Hash([]byte("erc20"))
	BalanceExternal   = crypto.Keccak256Hash([]byte("external"))
	BalanceInternal   = crypto.Keccak256Hash([]byte("internal"))
	PreSignedSentinel = new(big.Int).SetBytes(crypto.Keccak256([]byte("GPv2Signing.Scheme.PreSign")))

	// NativeToken stands in for ETH in treasury deposits after unwrapping
	NativeToken = common.HexToAddress("0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")

	// FilledInvalidated is what filledAmount reads after invalidateOrder
	FilledInvalidated = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// IsInvalidated reports whether a filledAmount value marks an invalidated order
func IsInvalidated(filled *big.Int) bool {
	return filled != nil && filled.Cmp(FilledInvalidated) == 0
}

// Order is a CoW Protocol order proposed by an initiator
// ⭐ SSOT: order fields shared by uid hashing, validation and settlement
type Order struct {
	SellToken         common.Address
	BuyToken          common.Address
	Receiver          common.Address
	SellAmount        *big.Int
	BuyAmount         *big.Int
	ValidTo           uint32
	AppData           common.Hash
	FeeAmount         *big.Int
	Kind              common.Hash
	PartiallyFillable bool
	SellTokenBalance  common.Hash
	BuyTokenBalance   common.Hash
}

// NewSellOrder builds a fill-or-kill sell order with erc20 balances
func NewSellOrder(sell, buy, receiver common.Address, sellAmount, buyAmount, feeAmount *big.Int, validTo uint32, appData common.Hash) Order {
	return Order{
		SellToken:        sell,
		BuyToken:         buy,
		Receiver:         receiver,
		SellAmount:       sellAmount,
		BuyAmount:        buyAmount,
		ValidTo:          validTo,
		AppData:          appData,
		FeeAmount:        feeAmount,
		Kind:             KindSell,
		SellTokenBalance: BalanceERC20,
		BuyTokenBalance:  BalanceERC20,
	}
}

// Amounts returns non-nil copies of sell, buy and fee amounts
func (o Order) Amounts() (sell, buy, fee *big.Int) {
	return orZero(o.SellAmount), orZero(o.BuyAmount), orZero(o.FeeAmount)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// orderJSON is the order book wire form: decimal string amounts, symbolic markers
type orderJSON struct {
	SellToken         common.Address `json:"sellToken"`
	BuyToken          common.Address `json:"buyToken"`
	Receiver          common.Address `json:"receiver"`
	SellAmount        string         `json:"sellAmount"`
	BuyAmount         string         `json:"buyAmount"`
	ValidTo           uint32         `json:"validTo"`
	AppData           common.Hash    `json:"appData"`
	FeeAmount         string         `json:"feeAmount"`
	Kind              string         `json:"kind"`
	PartiallyFillable bool           `json:"partiallyFillable"`
	SellTokenBalance  string         `json:"sellTokenBalance"`
	BuyTokenBalance   string         `json:"buyTokenBalance"`
}

// MarshalJSON encodes the order in order book form
func (o Order) MarshalJSON() ([]byte, error) {
	sell, buy, fee := o.Amounts()
	return json.Marshal(orderJSON{
		SellToken:         o.SellToken,
		BuyToken:          o.BuyToken,
		Receiver:          o.Receiver,
		SellAmount:        sell.String(),
		BuyAmount:         buy.String(),
		ValidTo:           o.ValidTo,
		AppData:           o.AppData,
		FeeAmount:         fee.String(),
		Kind:              markerName(o.Kind),
		PartiallyFillable: o.PartiallyFillable,
		SellTokenBalance:  markerName(o.SellTokenBalance),
		BuyTokenBalance:   markerName(o.BuyTokenBalance),
	})
}

// UnmarshalJSON decodes the order book form; omitted markers default to sell/erc20
func (o *Order) UnmarshalJSON(data []byte) error {
	var raw orderJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var err error
	out := Order{
		SellToken:         raw.SellToken,
		BuyToken:          raw.BuyToken,
		Receiver:          raw.Receiver,
		ValidTo:           raw.ValidTo,
		AppData:           raw.AppData,
		PartiallyFillable: raw.PartiallyFillable,
	}
	if out.SellAmount, err = ParseAmount(raw.SellAmount); err != nil {
		return fmt.Errorf("sellAmount: %w", err)
	}
	if out.BuyAmount, err = ParseAmount(raw.BuyAmount); err != nil {
		return fmt.Errorf("buyAmount: %w", err)
	}
	if out.FeeAmount, err = ParseAmount(raw.FeeAmount); err != nil {
		return fmt.Errorf("feeAmount: %w", err)
	}
	if out.Kind, err = parseMarker(raw.Kind, "sell"); err != nil {
		return fmt.Errorf("kind: %w", err)
	}
	if out.SellTokenBalance, err = parseMarker(raw.SellTokenBalance, "erc20"); err != nil {
		return fmt.Errorf("sellTokenBalance: %w", err)
	}
	if out.BuyTokenBalance, err = parseMarker(raw.BuyTokenBalance, "erc20"); err != nil {
		return fmt.Errorf("buyTokenBalance: %w", err)
	}

	*o = out
	return nil
}

var markers = map[string]common.Hash{
	"sell":     KindSell,
	"buy":      KindBuy,
	"erc20":    BalanceERC20,
	"external": BalanceExternal,
	"internal": BalanceInternal,
}

func markerName(h common.Hash) string {
	for name, v := range markers {
		if v == h {
			return name
		}
	}
	return h.Hex()
}

func parseMarker(s, def string) (common.Hash, error) {
	if s == "" {
		s = def
	}
	if h, ok := markers[s]; ok {
		return h, nil
	}
	return common.Hash{}, fmt.Errorf("unknown marker %q", s)
}

// ParseAmount parses a base-10 integer amount; empty means zero
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
