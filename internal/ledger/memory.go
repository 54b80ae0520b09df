package ledger

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/contracts"
)

// MemoryStore keeps the ledger in process memory
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[contracts.OrderUID]contracts.OrderRecord
	reserved map[common.Address]*big.Int
}

// NewMemoryStore creates an empty in-memory ledger
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[contracts.OrderUID]contracts.OrderRecord),
		reserved: make(map[common.Address]*big.Int),
	}
}

// Get implements Store
func (m *MemoryStore) Get(ctx context.Context, uid contracts.OrderUID) (contracts.OrderRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[uid]
	if !ok {
		return contracts.OrderRecord{}, fmt.Errorf("order %s: %w", uid.Hex(), contracts.ErrNotFound)
	}
	return cloneRecord(rec), nil
}

// Insert implements Store
func (m *MemoryStore) Insert(ctx context.Context, rec contracts.OrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[rec.UID]; ok {
		return fmt.Errorf("order %s is %s: %w", rec.UID.Hex(), existing.State, contracts.ErrInvalidTransition)
	}
	if rec.State != contracts.StateSettled {
		return fmt.Errorf("insert in state %s: %w", rec.State, contracts.ErrInvalidTransition)
	}

	m.records[rec.UID] = cloneRecord(rec)
	total := cloneInt(m.reserved[rec.SellToken])
	m.reserved[rec.SellToken] = total.Add(total, rec.SellAmount)
	return nil
}

// Resolve implements Store
func (m *MemoryStore) Resolve(ctx context.Context, uid contracts.OrderUID, to contracts.OrderState, at time.Time) (contracts.OrderRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[uid]
	if !ok {
		return contracts.OrderRecord{}, fmt.Errorf("order %s: %w", uid.Hex(), contracts.ErrNotFound)
	}
	if rec.State != contracts.StateSettled || !contracts.CanTransition(rec.State, to) {
		return contracts.OrderRecord{}, fmt.Errorf("order %s %s -> %s: %w", uid.Hex(), rec.State, to, contracts.ErrInvalidTransition)
	}

	rec.State = to
	rec.ClosedAt = at.UTC()
	m.records[uid] = rec

	total := cloneInt(m.reserved[rec.SellToken])
	m.reserved[rec.SellToken] = total.Sub(total, rec.SellAmount)
	return cloneRecord(rec), nil
}

// Reserved implements Store
func (m *MemoryStore) Reserved(ctx context.Context, token common.Address) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneInt(m.reserved[token]), nil
}

// ReservedAll implements Store
func (m *MemoryStore) ReservedAll(ctx context.Context) (map[common.Address]*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[common.Address]*big.Int, len(m.reserved))
	for token, v := range m.reserved {
		out[token] = cloneInt(v)
	}
	return out, nil
}

// ListByState implements Store, ordered by settlement time then uid
func (m *MemoryStore) ListByState(ctx context.Context, state contracts.OrderState) ([]contracts.OrderRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]contracts.OrderRecord, 0)
	for _, rec := range m.records {
		if rec.State == state {
			out = append(out, cloneRecord(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SettledAt.Equal(out[j].SettledAt) {
			return out[i].SettledAt.Before(out[j].SettledAt)
		}
		return bytes.Compare(out[i].UID[:], out[j].UID[:]) < 0
	})
	return out, nil
}

// Close implements Store
func (m *MemoryStore) Close() error {
	return nil
}
