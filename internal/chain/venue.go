package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// RouterVenue quotes a Uniswap V2 style router
type RouterVenue struct {
	name     string
	contract *bind.BoundContract
	weth     common.Address
}

// NewRouterVenue binds the router at addr. Pairs without a direct pool are
// routed through weth.
func NewRouterVenue(name string, addr, weth common.Address, caller bind.ContractCaller) *RouterVenue {
	return &RouterVenue{
		name:     name,
		contract: bind.NewBoundContract(addr, RouterABI, caller, nil, nil),
		weth:     weth,
	}
}

// Name implements contracts.Venue
func (v *RouterVenue) Name() string {
	return v.name
}

// Quote implements contracts.Venue
func (v *RouterVenue) Quote(ctx context.Context, sell, buy common.Address, amountIn *big.Int) (*big.Int, error) {
	out, err := v.amountsOut(ctx, amountIn, []common.Address{sell, buy})
	if err == nil || sell == v.weth || buy == v.weth {
		return out, err
	}
	return v.amountsOut(ctx, amountIn, []common.Address{sell, v.weth, buy})
}

func (v *RouterVenue) amountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	out, err := call(ctx, v.contract, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("getAmountsOut: empty result")
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok || len(amounts) != len(path) {
		return nil, fmt.Errorf("getAmountsOut: unexpected result %T", out[0])
	}
	return amounts[len(amounts)-1], nil
}
