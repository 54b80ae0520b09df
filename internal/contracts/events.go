package contracts

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventName identifies an engine event
type EventName string

const (
	EventOrderSettled   EventName = "OrderSettled"
	EventOrderCanceled  EventName = "OrderCanceled"
	EventOrderCompleted EventName = "OrderCompleted"
	EventPreSignature   EventName = "PreSignature"
	EventVaultDeposited EventName = "VaultDeposited"
)

// Event is emitted after a committed transition
type Event struct {
	Name      EventName      `json:"name"`
	OrderUID  OrderUID       `json:"orderUid"`
	Token     common.Address `json:"token,omitempty"`
	Amount    *big.Int       `json:"amount,omitempty"`
	Signed    bool           `json:"signed,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
