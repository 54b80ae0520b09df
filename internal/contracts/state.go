package contracts

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// OrderState is the ledger lifecycle of an order
type OrderState uint8

const (
	StateNone OrderState = iota
	StateSettled
	StateCompleted
	StateCanceled
)

var stateNames = [...]string{"none", "settled", "completed", "canceled"}

func (s OrderState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// ParseOrderState accepts the lower-case state name
func ParseOrderState(s string) (OrderState, error) {
	for i, name := range stateNames {
		if strings.EqualFold(s, name) {
			return OrderState(i), nil
		}
	}
	return StateNone, fmt.Errorf("unknown order state %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (s OrderState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *OrderState) UnmarshalText(text []byte) error {
	parsed, err := ParseOrderState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// IsTerminal reports whether no further transition is possible
func (s OrderState) IsTerminal() bool {
	return s == StateCompleted || s == StateCanceled
}

// CanTransition admits None→Settled and Settled→{Completed, Canceled} only
func CanTransition(from, to OrderState) bool {
	switch from {
	case StateNone:
		return to == StateSettled
	case StateSettled:
		return to == StateCompleted || to == StateCanceled
	default:
		return false
	}
}

// OrderRecord is the persisted snapshot of a settled order
// ⭐ SSOT: ledger row shared by every store backend
type OrderRecord struct {
	UID        OrderUID       `json:"uid"`
	State      OrderState     `json:"state"`
	Owner      common.Address `json:"owner"`
	SellToken  common.Address `json:"sellToken"`
	BuyToken   common.Address `json:"buyToken"`
	SellAmount *big.Int       `json:"sellAmount"`
	BuyAmount  *big.Int       `json:"buyAmount"`
	ValidTo    uint32         `json:"validTo"`
	SettledAt  time.Time      `json:"settledAt"`
	ClosedAt   time.Time      `json:"closedAt,omitempty"`
}

// NewOrderRecord snapshots order at settlement time
func NewOrderRecord(uid OrderUID, order Order, at time.Time) OrderRecord {
	sell, buy, _ := order.Amounts()
	return OrderRecord{
		UID:        uid,
		State:      StateSettled,
		Owner:      uid.Owner(),
		SellToken:  order.SellToken,
		BuyToken:   order.BuyToken,
		SellAmount: sell,
		BuyAmount:  buy,
		ValidTo:    order.ValidTo,
		SettledAt:  at.UTC(),
	}
}
