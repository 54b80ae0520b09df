// Package registry holds the configured seller pairs.
package registry

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/access"
	"github.com/wonny/otcseller/internal/contracts"
)

// Registry maps token pairs to their configuration; one entry per unordered pair
// ⭐ SSOT: pair configuration is read and changed here only
type Registry struct {
	mu     sync.RWMutex
	pairs  map[string]contracts.PairConfig
	access *access.Control
}

// New creates an empty registry gated by roles
func New(roles *access.Control) *Registry {
	return &Registry{
		pairs:  make(map[string]contracts.PairConfig),
		access: roles,
	}
}

// CreateSeller registers a pair; a pair existing in either orientation is rejected
func (r *Registry) CreateSeller(caller common.Address, pair contracts.PairConfig) error {
	if err := r.access.Require(caller, contracts.RoleOperator, contracts.RoleDefaultAdmin); err != nil {
		return err
	}
	return r.add(pair)
}

func (r *Registry) add(pair contracts.PairConfig) error {
	if err := pair.Validate(); err != nil {
		return fmt.Errorf("invalid pair: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := pair.Key()
	if _, ok := r.pairs[key]; ok {
		return fmt.Errorf("%s: %w", key, contracts.ErrSellerExists)
	}
	r.pairs[key] = clonePair(pair)
	return nil
}

// Lookup finds the pair for an order's tokens and the oracle direction to use
func (r *Registry) Lookup(sell, buy common.Address) (contracts.PairConfig, contracts.Direction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pair, ok := r.pairs[contracts.PairKey(sell, buy)]
	if !ok {
		return contracts.PairConfig{}, 0, false
	}
	dir, ok := pair.Orientation(sell, buy)
	if !ok {
		return contracts.PairConfig{}, 0, false
	}
	return clonePair(pair), dir, true
}

// Pairs lists every pair ordered by key
func (r *Registry) Pairs() []contracts.PairConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.pairs))
	for k := range r.pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]contracts.PairConfig, 0, len(keys))
	for _, k := range keys {
		out = append(out, clonePair(r.pairs[k]))
	}
	return out
}

// SetMaxBound changes the bound of an existing pair
func (r *Registry) SetMaxBound(caller, tokenA, tokenB common.Address, kind contracts.BoundKind, bps uint16) error {
	return r.update(caller, tokenA, tokenB, func(p *contracts.PairConfig) {
		p.BoundKind = kind
		p.MaxBoundBps = bps
	})
}

// SetConstantPrice overrides the feed; nil or zero clears the override
func (r *Registry) SetConstantPrice(caller, tokenA, tokenB common.Address, price *big.Int) error {
	return r.update(caller, tokenA, tokenB, func(p *contracts.PairConfig) {
		if price == nil || price.Sign() == 0 {
			p.ConstantPrice = nil
			return
		}
		p.ConstantPrice = new(big.Int).Set(price)
	})
}

// SetReceiver changes where bought tokens must be delivered
func (r *Registry) SetReceiver(caller, tokenA, tokenB, receiver common.Address) error {
	return r.update(caller, tokenA, tokenB, func(p *contracts.PairConfig) {
		p.Receiver = receiver
	})
}

func (r *Registry) update(caller, tokenA, tokenB common.Address, mutate func(p *contracts.PairConfig)) error {
	if err := r.access.Require(caller, contracts.RoleOperator, contracts.RoleDefaultAdmin); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := contracts.PairKey(tokenA, tokenB)
	pair, ok := r.pairs[key]
	if !ok {
		return fmt.Errorf("pair %s: %w", key, contracts.ErrNotFound)
	}

	mutate(&pair)
	if err := pair.Validate(); err != nil {
		return fmt.Errorf("invalid pair update: %w", err)
	}
	r.pairs[key] = pair
	return nil
}

// Restore loads persisted pairs without an access check
func (r *Registry) Restore(pairs []contracts.PairConfig) error {
	for _, p := range pairs {
		if err := r.add(p); err != nil {
			return err
		}
	}
	return nil
}

func clonePair(p contracts.PairConfig) contracts.PairConfig {
	if p.ConstantPrice != nil {
		p.ConstantPrice = new(big.Int).Set(p.ConstantPrice)
	}
	return p
}
