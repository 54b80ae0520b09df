package contracts

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages; wrap with fmt.Errorf("...: %w")
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrUnauthorized        = errors.New("unauthorized caller")
	ErrOrderNotYetFilled   = errors.New("order not yet filled")
	ErrOrderFilled         = errors.New("order already filled")
	ErrOrderInvalidated    = errors.New("order invalidated on settlement contract")
	ErrReentrantCall       = errors.New("reentrant call")
	ErrInsufficientBalance = errors.New("insufficient balance for reservation")
	ErrSellerExists        = errors.New("seller exists")
	ErrAlreadyInitialized  = errors.New("already initialized")
	ErrStaleOrInvalidFeed  = errors.New("stale or invalid feed")
	ErrNoQuote             = errors.New("no venue returned a quote")
)

// Reason is a symbolic validation outcome
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonUnsupportedPair        Reason = "UnsupportedPair"
	ReasonWrongReceiver          Reason = "WrongReceiver"
	ReasonExpiredValidTo         Reason = "ExpiredValidTo"
	ReasonOrderIDMismatch        Reason = "OrderIdMismatch"
	ReasonUnsupportedOrderParams Reason = "UnsupportedOrderParams"
	ReasonFeeTooHigh             Reason = "FeeTooHigh"
	ReasonBuyAmountTooLow        Reason = "BuyAmountTooLow"
)

// ValidationError reports why an order was rejected
type ValidationError struct {
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("order rejected: %s", e.Reason)
	}
	return fmt.Sprintf("order rejected: %s: %s", e.Reason, e.Message)
}

// ReasonOf extracts the validation reason from err, if any
func ReasonOf(err error) (Reason, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Reason, true
	}
	return ReasonNone, false
}
