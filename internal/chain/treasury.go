package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/contracts"
)

// Treasury forwards funds from the seller to the DAO agent
type Treasury struct {
	client *Client
	tokens *ERC20
	agent  common.Address
	native *bind.BoundContract
}

// NewTreasury creates a treasury that pays agent
func NewTreasury(client *Client, tokens *ERC20, agent common.Address) *Treasury {
	b := client.Backend()
	return &Treasury{
		client: client,
		tokens: tokens,
		agent:  agent,
		native: bind.NewBoundContract(agent, abi.ABI{}, b, b, b),
	}
}

// Agent returns the beneficiary
func (t *Treasury) Agent() common.Address {
	return t.agent
}

// Deposit implements contracts.Treasury; contracts.NativeToken moves ether
func (t *Treasury) Deposit(ctx context.Context, token common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if token == contracts.NativeToken {
		return t.client.transfer(ctx, t.native, amount)
	}
	return t.tokens.Transfer(ctx, token, t.agent, amount)
}
