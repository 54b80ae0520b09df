package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/chain"
	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/settlement"
)

// CallerHeader carries the account an authenticating proxy vouched for
const CallerHeader = "X-Caller-Address"

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error  string           `json:"error"`
	Reason contracts.Reason `json:"reason,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

// respondFailure maps domain errors onto status codes
func respondFailure(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	body := ErrorResponse{Error: err.Error()}
	if reason, ok := contracts.ReasonOf(err); ok {
		body.Reason = reason
	}
	if status == http.StatusInternalServerError {
		body.Error = "Internal server error"
	}
	respondJSON(w, status, body)
}

// StatusFor is the HTTP status of a domain error
func StatusFor(err error) int {
	var verr *contracts.ValidationError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, contracts.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, contracts.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, contracts.ErrInvalidTransition),
		errors.Is(err, contracts.ErrOrderNotYetFilled),
		errors.Is(err, contracts.ErrOrderFilled),
		errors.Is(err, contracts.ErrOrderInvalidated),
		errors.Is(err, contracts.ErrInsufficientBalance),
		errors.Is(err, contracts.ErrSellerExists),
		errors.Is(err, contracts.ErrReentrantCall),
		errors.Is(err, settlement.ErrTransitionInProgress):
		return http.StatusConflict
	case errors.Is(err, contracts.ErrStaleOrInvalidFeed),
		errors.Is(err, contracts.ErrNoQuote),
		errors.Is(err, chain.ErrTxReverted):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// callerFrom reads the caller header; required reports whether it must be present
func callerFrom(r *http.Request, required bool) (common.Address, bool) {
	v := strings.TrimSpace(r.Header.Get(CallerHeader))
	if v == "" {
		return common.Address{}, !required
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}
