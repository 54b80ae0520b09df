package handlers

import (
	"math/big"
	"time"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/settlement"
	"github.com/wonny/otcseller/internal/validator"
)

// Amounts are decimal strings so JavaScript clients keep full precision

// OrderView is a ledger record in API form
type OrderView struct {
	UID        contracts.OrderUID   `json:"uid"`
	State      contracts.OrderState `json:"state"`
	Owner      string               `json:"owner"`
	SellToken  string               `json:"sellToken"`
	BuyToken   string               `json:"buyToken"`
	SellAmount string               `json:"sellAmount"`
	BuyAmount  string               `json:"buyAmount"`
	ValidTo    uint32               `json:"validTo"`
	SettledAt  time.Time            `json:"settledAt"`
	ClosedAt   *time.Time           `json:"closedAt,omitempty"`
}

func newOrderView(rec contracts.OrderRecord) OrderView {
	v := OrderView{
		UID:        rec.UID,
		State:      rec.State,
		Owner:      rec.Owner.Hex(),
		SellToken:  rec.SellToken.Hex(),
		BuyToken:   rec.BuyToken.Hex(),
		SellAmount: amountString(rec.SellAmount),
		BuyAmount:  amountString(rec.BuyAmount),
		ValidTo:    rec.ValidTo,
		SettledAt:  rec.SettledAt,
	}
	if !rec.ClosedAt.IsZero() {
		closed := rec.ClosedAt
		v.ClosedAt = &closed
	}
	return v
}

// StatusView joins the record with the settlement contract
type StatusView struct {
	OrderView
	PreSigned    bool   `json:"preSigned"`
	FilledAmount string `json:"filledAmount"`
}

func newStatusView(s *settlement.Status) StatusView {
	return StatusView{
		OrderView:    newOrderView(s.Record),
		PreSigned:    s.PreSigned,
		FilledAmount: amountString(s.Filled),
	}
}

// BoundView explains a minimum buy amount
type BoundView struct {
	Price        string `json:"price"`
	Decimals     uint8  `json:"decimals"`
	Source       string `json:"source"`
	MaxBoundBps  uint16 `json:"maxBoundBps"`
	MinBuyAmount string `json:"minBuyAmount"`
}

func newBoundView(b *validator.Bound) *BoundView {
	if b == nil {
		return nil
	}
	return &BoundView{
		Price:        amountString(b.Price),
		Decimals:     b.Decimals,
		Source:       b.Source,
		MaxBoundBps:  b.MaxBoundBps,
		MinBuyAmount: amountString(b.MinBuyAmount),
	}
}

// CheckView is the result of a dry run
type CheckView struct {
	UID    contracts.OrderUID `json:"uid"`
	OK     bool               `json:"ok"`
	Reason contracts.Reason   `json:"reason,omitempty"`
	Detail string             `json:"detail,omitempty"`
	Bound  *BoundView         `json:"bound,omitempty"`
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
