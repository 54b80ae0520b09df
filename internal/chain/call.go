package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// call runs a view method and returns the unpacked outputs
func call(ctx context.Context, contract *bind.BoundContract, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}

func bigAt(out []interface{}, i int) (*big.Int, error) {
	if i >= len(out) {
		return nil, fmt.Errorf("missing output %d", i)
	}
	v, ok := out[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("output %d is %T, want *big.Int", i, out[i])
	}
	return v, nil
}

func addressAt(out []interface{}, i int) (common.Address, error) {
	if i >= len(out) {
		return common.Address{}, fmt.Errorf("missing output %d", i)
	}
	v, ok := out[i].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("output %d is %T, want address", i, out[i])
	}
	return v, nil
}

func uint8At(out []interface{}, i int) (uint8, error) {
	if i >= len(out) {
		return 0, fmt.Errorf("missing output %d", i)
	}
	v, ok := out[i].(uint8)
	if !ok {
		return 0, fmt.Errorf("output %d is %T, want uint8", i, out[i])
	}
	return v, nil
}
