// Package ledger persists order records and per-token reserved amounts.
package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/contracts"
)

// Store is the persistence contract every backend satisfies.
// Insert and Resolve update the record and the reserved counter atomically.
type Store interface {
	// Get returns contracts.ErrNotFound for unknown uids
	Get(ctx context.Context, uid contracts.OrderUID) (contracts.OrderRecord, error)
	// Insert stores a Settled record and adds its sell amount to the reservation
	Insert(ctx context.Context, rec contracts.OrderRecord) error
	// Resolve moves a Settled record to Completed or Canceled and releases its reservation
	Resolve(ctx context.Context, uid contracts.OrderUID, to contracts.OrderState, at time.Time) (contracts.OrderRecord, error)
	Reserved(ctx context.Context, token common.Address) (*big.Int, error)
	ReservedAll(ctx context.Context) (map[common.Address]*big.Int, error)
	ListByState(ctx context.Context, state contracts.OrderState) ([]contracts.OrderRecord, error)
	Close() error
}

func cloneRecord(r contracts.OrderRecord) contracts.OrderRecord {
	r.SellAmount = cloneInt(r.SellAmount)
	r.BuyAmount = cloneInt(r.BuyAmount)
	return r
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
