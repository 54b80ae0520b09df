package handlers

import (
	"context"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/events"
	"github.com/wonny/otcseller/pkg/logger"
)

// ReservedReader reads per-token reservations
type ReservedReader interface {
	Reserved(ctx context.Context, token common.Address) (*big.Int, error)
	ReservedAll(ctx context.Context) (map[common.Address]*big.Int, error)
}

// RecentEvents returns the latest published events
type RecentEvents interface {
	Recent() []contracts.Event
}

// LedgerHandler serves reservation and event history endpoints
type LedgerHandler struct {
	reserved ReservedReader
	recent   RecentEvents
	logger   *logger.Logger
}

// NewLedgerHandler creates a new ledger handler; recent may be nil
func NewLedgerHandler(reserved ReservedReader, recent RecentEvents, log *logger.Logger) *LedgerHandler {
	return &LedgerHandler{reserved: reserved, recent: recent, logger: log}
}

// ReservedResponse is the amount held for open orders of one token
type ReservedResponse struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// Reserved returns the reservation for one token
// GET /api/reserved/{token}
func (h *LedgerHandler) Reserved(w http.ResponseWriter, r *http.Request) {
	token, ok := parseAddress(mux.Vars(r)["token"])
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid token address")
		return
	}

	amount, err := h.reserved.Reserved(r.Context(), token)
	if err != nil {
		h.logger.WithError(err).Error("Failed to read reservation")
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ReservedResponse{Token: token.Hex(), Amount: amountString(amount)})
}

// ReservedAll returns every non-zero reservation
// GET /api/reserved
func (h *LedgerHandler) ReservedAll(w http.ResponseWriter, r *http.Request) {
	all, err := h.reserved.ReservedAll(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to read reservations")
		respondFailure(w, err)
		return
	}

	out := make([]ReservedResponse, 0, len(all))
	for token, amount := range all {
		out = append(out, ReservedResponse{Token: token.Hex(), Amount: amountString(amount)})
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"reserved": out})
}

// Events returns the most recent events, oldest first
// GET /api/events
func (h *LedgerHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.recent == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"events": []events.Message{}})
		return
	}

	recent := h.recent.Recent()
	out := make([]events.Message, len(recent))
	for i, e := range recent {
		out[i] = events.NewMessage(e)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}
