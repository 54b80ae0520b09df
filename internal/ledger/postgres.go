package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/pkg/database"
)

const schemaSQL = `
CREATE SCHEMA IF NOT EXISTS ledger;

CREATE TABLE IF NOT EXISTS ledger.orders (
	uid         TEXT PRIMARY KEY,
	state       SMALLINT NOT NULL,
	owner       TEXT NOT NULL,
	sell_token  TEXT NOT NULL,
	buy_token   TEXT NOT NULL,
	sell_amount NUMERIC(78,0) NOT NULL,
	buy_amount  NUMERIC(78,0) NOT NULL,
	valid_to    BIGINT NOT NULL,
	settled_at  TIMESTAMPTZ NOT NULL,
	closed_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS orders_state_idx ON ledger.orders (state, settled_at);

CREATE TABLE IF NOT EXISTS ledger.reserved (
	token  TEXT PRIMARY KEY,
	amount NUMERIC(78,0) NOT NULL DEFAULT 0 CHECK (amount >= 0)
);
`

const selectOrderColumns = `
	uid, state, owner, sell_token, buy_token,
	sell_amount::text, buy_amount::text, valid_to, settled_at, closed_at
`

// PostgresStore persists the ledger in PostgreSQL
// ⭐ SSOT: ledger.orders and ledger.reserved are written only here
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore wraps an open pool; call EnsureSchema before first use
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the ledger tables when missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure ledger schema: %w", err)
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller
func (s *PostgresStore) Close() error {
	return nil
}

func scanRecord(row pgx.Row) (contracts.OrderRecord, error) {
	var (
		rec                         contracts.OrderRecord
		uid, owner, sellTok, buyTok string
		state                       int16
		sellAmount, buyAmount       string
		validTo                     int64
		closedAt                    *time.Time
	)

	if err := row.Scan(&uid, &state, &owner, &sellTok, &buyTok,
		&sellAmount, &buyAmount, &validTo, &rec.SettledAt, &closedAt); err != nil {
		return contracts.OrderRecord{}, err
	}

	parsed, err := contracts.ParseOrderUID(uid)
	if err != nil {
		return contracts.OrderRecord{}, err
	}
	rec.UID = parsed
	rec.State = contracts.OrderState(state)
	rec.Owner = common.HexToAddress(owner)
	rec.SellToken = common.HexToAddress(sellTok)
	rec.BuyToken = common.HexToAddress(buyTok)
	if rec.SellAmount, err = contracts.ParseAmount(sellAmount); err != nil {
		return contracts.OrderRecord{}, err
	}
	if rec.BuyAmount, err = contracts.ParseAmount(buyAmount); err != nil {
		return contracts.OrderRecord{}, err
	}
	rec.ValidTo = uint32(validTo)
	rec.SettledAt = rec.SettledAt.UTC()
	if closedAt != nil {
		rec.ClosedAt = closedAt.UTC()
	}
	return rec, nil
}

// Get implements Store
func (s *PostgresStore) Get(ctx context.Context, uid contracts.OrderUID) (contracts.OrderRecord, error) {
	query := `SELECT ` + selectOrderColumns + ` FROM ledger.orders WHERE uid = $1`

	rec, err := scanRecord(s.db.Pool.QueryRow(ctx, query, uid.Hex()))
	if errors.Is(err, pgx.ErrNoRows) {
		return contracts.OrderRecord{}, fmt.Errorf("order %s: %w", uid.Hex(), contracts.ErrNotFound)
	}
	if err != nil {
		return contracts.OrderRecord{}, fmt.Errorf("failed to get order %s: %w", uid.Hex(), err)
	}
	return rec, nil
}

// Insert implements Store
func (s *PostgresStore) Insert(ctx context.Context, rec contracts.OrderRecord) error {
	if rec.State != contracts.StateSettled {
		return fmt.Errorf("insert in state %s: %w", rec.State, contracts.ErrInvalidTransition)
	}

	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO ledger.orders (
				uid, state, owner, sell_token, buy_token,
				sell_amount, buy_amount, valid_to, settled_at
			) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9)
			ON CONFLICT (uid) DO NOTHING
		`,
			rec.UID.Hex(), int16(rec.State), rec.Owner.Hex(), rec.SellToken.Hex(), rec.BuyToken.Hex(),
			cloneInt(rec.SellAmount).String(), cloneInt(rec.BuyAmount).String(), int64(rec.ValidTo), rec.SettledAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert order %s: %w", rec.UID.Hex(), err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("order %s already recorded: %w", rec.UID.Hex(), contracts.ErrInvalidTransition)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO ledger.reserved (token, amount) VALUES ($1, $2::numeric)
			ON CONFLICT (token) DO UPDATE SET amount = ledger.reserved.amount + EXCLUDED.amount
		`, rec.SellToken.Hex(), cloneInt(rec.SellAmount).String())
		if err != nil {
			return fmt.Errorf("failed to reserve %s: %w", rec.SellToken.Hex(), err)
		}
		return nil
	})
}

// Resolve implements Store
func (s *PostgresStore) Resolve(ctx context.Context, uid contracts.OrderUID, to contracts.OrderState, at time.Time) (contracts.OrderRecord, error) {
	var out contracts.OrderRecord

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		query := `SELECT ` + selectOrderColumns + ` FROM ledger.orders WHERE uid = $1 FOR UPDATE`
		rec, err := scanRecord(tx.QueryRow(ctx, query, uid.Hex()))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("order %s: %w", uid.Hex(), contracts.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to lock order %s: %w", uid.Hex(), err)
		}
		if rec.State != contracts.StateSettled || !contracts.CanTransition(rec.State, to) {
			return fmt.Errorf("order %s %s -> %s: %w", uid.Hex(), rec.State, to, contracts.ErrInvalidTransition)
		}

		rec.State = to
		rec.ClosedAt = at.UTC()

		if _, err := tx.Exec(ctx,
			`UPDATE ledger.orders SET state = $2, closed_at = $3 WHERE uid = $1`,
			uid.Hex(), int16(rec.State), rec.ClosedAt,
		); err != nil {
			return fmt.Errorf("failed to update order %s: %w", uid.Hex(), err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE ledger.reserved SET amount = amount - $2::numeric WHERE token = $1`,
			rec.SellToken.Hex(), rec.SellAmount.String(),
		); err != nil {
			return fmt.Errorf("failed to release %s: %w", rec.SellToken.Hex(), err)
		}

		out = rec
		return nil
	})
	if err != nil {
		return contracts.OrderRecord{}, err
	}
	return out, nil
}

// Reserved implements Store
func (s *PostgresStore) Reserved(ctx context.Context, token common.Address) (*big.Int, error) {
	var amount string
	err := s.db.Pool.QueryRow(ctx,
		`SELECT amount::text FROM ledger.reserved WHERE token = $1`, token.Hex(),
	).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reserved %s: %w", token.Hex(), err)
	}
	return contracts.ParseAmount(amount)
}

// ReservedAll implements Store
func (s *PostgresStore) ReservedAll(ctx context.Context) (map[common.Address]*big.Int, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT token, amount::text FROM ledger.reserved`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reserved: %w", err)
	}
	defer rows.Close()

	out := make(map[common.Address]*big.Int)
	for rows.Next() {
		var token, amount string
		if err := rows.Scan(&token, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan reserved: %w", err)
		}
		v, err := contracts.ParseAmount(amount)
		if err != nil {
			return nil, err
		}
		out[common.HexToAddress(token)] = v
	}
	return out, rows.Err()
}

// ListByState implements Store
func (s *PostgresStore) ListByState(ctx context.Context, state contracts.OrderState) ([]contracts.OrderRecord, error) {
	query := `SELECT ` + selectOrderColumns + `
		FROM ledger.orders WHERE state = $1 ORDER BY settled_at, uid`

	rows, err := s.db.Pool.Query(ctx, query, int16(state))
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	out := make([]contracts.OrderRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
