package ledger

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/contracts"
)

// -------------------- Encoding --------------------

const (
	orderPrefix    = "order/"
	reservedPrefix = "reserved/"

	// state | owner | sellToken | buyToken | validTo | settledAt | closedAt
	fixedRecordLen = 1 + 20 + 20 + 20 + 4 + 8 + 8
)

var errCorruptRecord = errors.New("corrupt ledger record")

func orderKey(uid contracts.OrderUID) []byte {
	return append([]byte(orderPrefix), uid[:]...)
}

func reservedKey(token common.Address) []byte {
	return append([]byte(reservedPrefix), token.Bytes()...)
}

func unixNano(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano())
}

func fromUnixNano(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(v)).UTC()
}

func encodeRecord(r contracts.OrderRecord) []byte {
	sell := cloneInt(r.SellAmount).Bytes()
	buy := cloneInt(r.BuyAmount).Bytes()

	b := make([]byte, fixedRecordLen, fixedRecordLen+2+len(sell)+len(buy))
	b[0] = byte(r.State)
	copy(b[1:21], r.Owner.Bytes())
	copy(b[21:41], r.SellToken.Bytes())
	copy(b[41:61], r.BuyToken.Bytes())
	binary.BigEndian.PutUint32(b[61:65], r.ValidTo)
	binary.BigEndian.PutUint64(b[65:73], unixNano(r.SettledAt))
	binary.BigEndian.PutUint64(b[73:81], unixNano(r.ClosedAt))

	b = append(b, byte(len(sell)))
	b = append(b, sell...)
	b = append(b, byte(len(buy)))
	b = append(b, buy...)
	return b
}

func decodeRecord(uid contracts.OrderUID, b []byte) (contracts.OrderRecord, error) {
	if len(b) < fixedRecordLen+2 {
		return contracts.OrderRecord{}, errCorruptRecord
	}

	r := contracts.OrderRecord{
		UID:       uid,
		State:     contracts.OrderState(b[0]),
		Owner:     common.BytesToAddress(b[1:21]),
		SellToken: common.BytesToAddress(b[21:41]),
		BuyToken:  common.BytesToAddress(b[41:61]),
		ValidTo:   binary.BigEndian.Uint32(b[61:65]),
		SettledAt: fromUnixNano(binary.BigEndian.Uint64(b[65:73])),
		ClosedAt:  fromUnixNano(binary.BigEndian.Uint64(b[73:81])),
	}

	rest := b[fixedRecordLen:]
	sellLen := int(rest[0])
	if len(rest) < 1+sellLen+1 {
		return contracts.OrderRecord{}, errCorruptRecord
	}
	r.SellAmount = new(big.Int).SetBytes(rest[1 : 1+sellLen])
	rest = rest[1+sellLen:]

	buyLen := int(rest[0])
	if len(rest) != 1+buyLen {
		return contracts.OrderRecord{}, errCorruptRecord
	}
	r.BuyAmount = new(big.Int).SetBytes(rest[1:])
	return r, nil
}

// -------------------- Store --------------------

// PebbleStore persists the ledger in an embedded pebble database.
// Record and reservation updates are committed in one synced batch.
type PebbleStore struct {
	mu sync.Mutex // serializes read-modify-write on the reserved counters
	db *pebble.DB
}

// OpenPebble opens (or creates) a ledger at dir
func OpenPebble(dir string) (*PebbleStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble ledger at %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

// Close implements Store
func (p *PebbleStore) Close() error {
	return p.db.Close()
}

// Get implements Store
func (p *PebbleStore) Get(ctx context.Context, uid contracts.OrderUID) (contracts.OrderRecord, error) {
	val, closer, err := p.db.Get(orderKey(uid))
	if errors.Is(err, pebble.ErrNotFound) {
		return contracts.OrderRecord{}, fmt.Errorf("order %s: %w", uid.Hex(), contracts.ErrNotFound)
	}
	if err != nil {
		return contracts.OrderRecord{}, fmt.Errorf("failed to read order %s: %w", uid.Hex(), err)
	}
	defer closer.Close()

	return decodeRecord(uid, val)
}

func (p *PebbleStore) reserved(token common.Address) (*big.Int, error) {
	val, closer, err := p.db.Get(reservedKey(token))
	if errors.Is(err, pebble.ErrNotFound) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read reserved %s: %w", token.Hex(), err)
	}
	defer closer.Close()

	return new(big.Int).SetBytes(val), nil
}

// Insert implements Store
func (p *PebbleStore) Insert(ctx context.Context, rec contracts.OrderRecord) error {
	if rec.State != contracts.StateSettled {
		return fmt.Errorf("insert in state %s: %w", rec.State, contracts.ErrInvalidTransition)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	existing, err := p.Get(ctx, rec.UID)
	switch {
	case err == nil:
		return fmt.Errorf("order %s is %s: %w", rec.UID.Hex(), existing.State, contracts.ErrInvalidTransition)
	case !errors.Is(err, contracts.ErrNotFound):
		return err
	}

	total, err := p.reserved(rec.SellToken)
	if err != nil {
		return err
	}
	total.Add(total, rec.SellAmount)

	batch := p.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(orderKey(rec.UID), encodeRecord(rec), nil); err != nil {
		return err
	}
	if err := batch.Set(reservedKey(rec.SellToken), total.Bytes(), nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit order %s: %w", rec.UID.Hex(), err)
	}
	return nil
}

// Resolve implements Store
func (p *PebbleStore) Resolve(ctx context.Context, uid contracts.OrderUID, to contracts.OrderState, at time.Time) (contracts.OrderRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, err := p.Get(ctx, uid)
	if err != nil {
		return contracts.OrderRecord{}, err
	}
	if rec.State != contracts.StateSettled || !contracts.CanTransition(rec.State, to) {
		return contracts.OrderRecord{}, fmt.Errorf("order %s %s -> %s: %w", uid.Hex(), rec.State, to, contracts.ErrInvalidTransition)
	}

	total, err := p.reserved(rec.SellToken)
	if err != nil {
		return contracts.OrderRecord{}, err
	}
	total.Sub(total, rec.SellAmount)
	if total.Sign() < 0 {
		return contracts.OrderRecord{}, fmt.Errorf("reserved %s would go negative: %w", rec.SellToken.Hex(), errCorruptRecord)
	}

	rec.State = to
	rec.ClosedAt = at.UTC()

	batch := p.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(orderKey(uid), encodeRecord(rec), nil); err != nil {
		return contracts.OrderRecord{}, err
	}
	if err := batch.Set(reservedKey(rec.SellToken), total.Bytes(), nil); err != nil {
		return contracts.OrderRecord{}, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return contracts.OrderRecord{}, fmt.Errorf("failed to commit order %s: %w", uid.Hex(), err)
	}
	return rec, nil
}

// Reserved implements Store
func (p *PebbleStore) Reserved(ctx context.Context, token common.Address) (*big.Int, error) {
	return p.reserved(token)
}

// ReservedAll implements Store
func (p *PebbleStore) ReservedAll(ctx context.Context) (map[common.Address]*big.Int, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(reservedPrefix),
		UpperBound: []byte("reserved0"), // '0' sorts right after '/'
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[common.Address]*big.Int)
	for iter.First(); iter.Valid(); iter.Next() {
		token := common.BytesToAddress(iter.Key()[len(reservedPrefix):])
		out[token] = new(big.Int).SetBytes(iter.Value())
	}
	return out, iter.Error()
}

// ListByState implements Store
func (p *PebbleStore) ListByState(ctx context.Context, state contracts.OrderState) ([]contracts.OrderRecord, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(orderPrefix),
		UpperBound: []byte("order0"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make([]contracts.OrderRecord, 0)
	for iter.First(); iter.Valid(); iter.Next() {
		val := iter.Value()
		if len(val) == 0 || contracts.OrderState(val[0]) != state {
			continue
		}

		var uid contracts.OrderUID
		key := iter.Key()[len(orderPrefix):]
		if len(key) != len(uid) {
			return nil, errCorruptRecord
		}
		copy(uid[:], key)

		rec, err := decodeRecord(uid, val)
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", uid.Hex(), err)
		}
		out = append(out, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SettledAt.Equal(out[j].SettledAt) {
			return out[i].SettledAt.Before(out[j].SettledAt)
		}
		return bytes.Compare(out[i].UID[:], out[j].UID[:]) < 0
	})
	return out, nil
}
