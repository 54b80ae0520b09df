package chain

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// ERC20 reads and approves arbitrary ERC-20 tokens for the seller
type ERC20 struct {
	client *Client

	mu        sync.Mutex
	contracts map[common.Address]*bind.BoundContract
}

// NewERC20 creates the token binding
func NewERC20(client *Client) *ERC20 {
	return &ERC20{client: client, contracts: make(map[common.Address]*bind.BoundContract)}
}

func (t *ERC20) contract(token common.Address) *bind.BoundContract {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.contracts[token]; ok {
		return c
	}
	b := t.client.Backend()
	c := bind.NewBoundContract(token, ERC20ABI, b, b, b)
	t.contracts[token] = c
	return c
}

// BalanceOf implements contracts.Token
func (t *ERC20) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	out, err := call(ctx, t.contract(token), "balanceOf", holder)
	if err != nil {
		return nil, err
	}
	return bigAt(out, 0)
}

// Allowance implements contracts.Token
func (t *ERC20) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := call(ctx, t.contract(token), "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return bigAt(out, 0)
}

// Approve implements contracts.Token
func (t *ERC20) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	return t.client.transact(ctx, t.contract(token), "approve", spender, amount)
}

// Transfer sends amount of token from the seller to to
func (t *ERC20) Transfer(ctx context.Context, token, to common.Address, amount *big.Int) error {
	return t.client.transact(ctx, t.contract(token), "transfer", to, amount)
}

// Decimals reads the token's decimals
func (t *ERC20) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := call(ctx, t.contract(token), "decimals")
	if err != nil {
		return 0, err
	}
	return uint8At(out, 0)
}

// WETH wraps and unwraps ether held by the seller
type WETH struct {
	client   *Client
	contract *bind.BoundContract
}

// NewWETH binds the WETH9 contract at addr
func NewWETH(client *Client, addr common.Address) *WETH {
	b := client.Backend()
	return &WETH{client: client, contract: bind.NewBoundContract(addr, WETHABI, b, b, b)}
}

// Unwrap implements contracts.Unwrapper
func (w *WETH) Unwrap(ctx context.Context, amount *big.Int) error {
	return w.client.transact(ctx, w.contract, "withdraw", amount)
}

// Wrap implements contracts.Unwrapper
func (w *WETH) Wrap(ctx context.Context, amount *big.Int) error {
	return w.client.transactValue(ctx, w.contract, amount, "deposit")
}
