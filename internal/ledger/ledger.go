package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/metrics"
	"github.com/wonny/otcseller/pkg/config"
	"github.com/wonny/otcseller/pkg/database"
	"github.com/wonny/otcseller/pkg/logger"
)

// Open builds the backend selected by STORE_BACKEND.
// db is only required for the postgres backend.
func Open(ctx context.Context, cfg *config.Config, db *database.DB) (Store, error) {
	switch cfg.Seller.StoreBackend {
	case "memory":
		return NewMemoryStore(), nil
	case "pebble":
		return OpenPebble(cfg.Seller.PebbleDir)
	case "postgres":
		if db == nil {
			return nil, errors.New("postgres ledger requires a database connection")
		}
		store := NewPostgresStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Seller.StoreBackend)
	}
}

// Ledger records order states and the per-token reservation
// ⭐ SSOT: ReservedAmount[token] == Σ sellAmount of Settled orders selling token
type Ledger struct {
	store   Store
	logger  *logger.Logger
	metrics *metrics.SellerMetrics
}

// New wraps a store
func New(store Store, log *logger.Logger) *Ledger {
	return &Ledger{
		store:   store,
		logger:  log.WithComponent("ledger"),
		metrics: metrics.Get(),
	}
}

// State returns StateNone for orders never settled
func (l *Ledger) State(ctx context.Context, uid contracts.OrderUID) (contracts.OrderState, error) {
	rec, err := l.store.Get(ctx, uid)
	if errors.Is(err, contracts.ErrNotFound) {
		return contracts.StateNone, nil
	}
	if err != nil {
		return contracts.StateNone, err
	}
	return rec.State, nil
}

// Record returns the stored snapshot
func (l *Ledger) Record(ctx context.Context, uid contracts.OrderUID) (contracts.OrderRecord, error) {
	return l.store.Get(ctx, uid)
}

// MarkSettled records a new Settled order and reserves its sell amount
func (l *Ledger) MarkSettled(ctx context.Context, rec contracts.OrderRecord) error {
	if err := l.store.Insert(ctx, rec); err != nil {
		return err
	}
	l.refreshGauge(ctx, rec.SellToken)

	l.logger.WithFields(map[string]interface{}{
		"uid":    rec.UID.Hex(),
		"token":  rec.SellToken.Hex(),
		"amount": rec.SellAmount.String(),
	}).Info("Order settled")
	return nil
}

// MarkCompleted moves a Settled order to Completed and releases its reservation
func (l *Ledger) MarkCompleted(ctx context.Context, uid contracts.OrderUID, at time.Time) (contracts.OrderRecord, error) {
	return l.resolve(ctx, uid, contracts.StateCompleted, at)
}

// MarkCanceled moves a Settled order to Canceled and releases its reservation
func (l *Ledger) MarkCanceled(ctx context.Context, uid contracts.OrderUID, at time.Time) (contracts.OrderRecord, error) {
	return l.resolve(ctx, uid, contracts.StateCanceled, at)
}

func (l *Ledger) resolve(ctx context.Context, uid contracts.OrderUID, to contracts.OrderState, at time.Time) (contracts.OrderRecord, error) {
	rec, err := l.store.Resolve(ctx, uid, to, at)
	if err != nil {
		return contracts.OrderRecord{}, err
	}
	l.refreshGauge(ctx, rec.SellToken)

	l.logger.WithFields(map[string]interface{}{
		"uid":   rec.UID.Hex(),
		"state": rec.State.String(),
		"token": rec.SellToken.Hex(),
	}).Info("Order resolved")
	return rec, nil
}

// Reserved returns the amount of token locked by Settled orders
func (l *Ledger) Reserved(ctx context.Context, token common.Address) (*big.Int, error) {
	return l.store.Reserved(ctx, token)
}

// ReservedAll returns every token's reservation
func (l *Ledger) ReservedAll(ctx context.Context) (map[common.Address]*big.Int, error) {
	return l.store.ReservedAll(ctx)
}

// List returns the records in state
func (l *Ledger) List(ctx context.Context, state contracts.OrderState) ([]contracts.OrderRecord, error) {
	return l.store.ListByState(ctx, state)
}

// Close releases the store
func (l *Ledger) Close() error {
	return l.store.Close()
}

func (l *Ledger) refreshGauge(ctx context.Context, token common.Address) {
	total, err := l.store.Reserved(ctx, token)
	if err != nil {
		l.logger.WithError(err).Warn("Failed to refresh reserved gauge")
		return
	}
	l.metrics.ReservedAmount.WithLabelValues(token.Hex()).Set(metrics.Float(total, 0))
}
