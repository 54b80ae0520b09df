package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/contracts"
)

// Settlement binds GPv2Settlement's pre-sign surface
type Settlement struct {
	client   *Client
	contract *bind.BoundContract
	relayer  common.Address
}

// NewSettlement binds the settlement contract; relayer is the configured vault relayer
func NewSettlement(client *Client, addr, relayer common.Address) *Settlement {
	b := client.Backend()
	return &Settlement{
		client:   client,
		contract: bind.NewBoundContract(addr, SettlementABI, b, b, b),
		relayer:  relayer,
	}
}

// PreSignature implements contracts.SettlementContract
func (s *Settlement) PreSignature(ctx context.Context, uid contracts.OrderUID) (*big.Int, error) {
	out, err := call(ctx, s.contract, "preSignature", uid.Bytes())
	if err != nil {
		return nil, err
	}
	return bigAt(out, 0)
}

// SetPreSignature implements contracts.SettlementContract
func (s *Settlement) SetPreSignature(ctx context.Context, uid contracts.OrderUID, signed bool) error {
	return s.client.transact(ctx, s.contract, "setPreSignature", uid.Bytes(), signed)
}

// FilledAmount implements contracts.SettlementContract
func (s *Settlement) FilledAmount(ctx context.Context, uid contracts.OrderUID) (*big.Int, error) {
	out, err := call(ctx, s.contract, "filledAmount", uid.Bytes())
	if err != nil {
		return nil, err
	}
	return bigAt(out, 0)
}

// VaultRelayer implements contracts.SettlementContract
func (s *Settlement) VaultRelayer() common.Address {
	return s.relayer
}

// FetchVaultRelayer reads the relayer from the contract, to cross-check configuration
func (s *Settlement) FetchVaultRelayer(ctx context.Context) (common.Address, error) {
	out, err := call(ctx, s.contract, "vaultRelayer")
	if err != nil {
		return common.Address{}, err
	}
	return addressAt(out, 0)
}
