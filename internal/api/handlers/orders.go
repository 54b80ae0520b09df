package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/settlement"
	"github.com/wonny/otcseller/internal/validator"
	"github.com/wonny/otcseller/pkg/logger"
)

// OrderEngine drives order transitions
type OrderEngine interface {
	SettleOrder(ctx context.Context, caller common.Address, order contracts.Order, uid contracts.OrderUID) (contracts.OrderRecord, error)
	CancelOrder(ctx context.Context, caller common.Address, uid contracts.OrderUID) (contracts.OrderRecord, error)
	CompleteOrder(ctx context.Context, caller common.Address, uid contracts.OrderUID) (contracts.OrderRecord, error)
	Status(ctx context.Context, uid contracts.OrderUID) (*settlement.Status, error)
}

// OrderChecker validates without side effects
type OrderChecker interface {
	CheckOrder(ctx context.Context, order contracts.Order, uid contracts.OrderUID) (validator.Result, error)
	Owner() common.Address
}

// UIDHasher derives an order uid
type UIDHasher interface {
	UID(order contracts.Order, owner common.Address) (contracts.OrderUID, error)
}

// OrderLister lists ledger records
type OrderLister interface {
	List(ctx context.Context, state contracts.OrderState) ([]contracts.OrderRecord, error)
}

// OrderHandler serves /api/orders
type OrderHandler struct {
	engine  OrderEngine
	checker OrderChecker
	hasher  UIDHasher
	orders  OrderLister
	logger  *logger.Logger
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(engine OrderEngine, checker OrderChecker, hasher UIDHasher, orders OrderLister, log *logger.Logger) *OrderHandler {
	return &OrderHandler{
		engine:  engine,
		checker: checker,
		hasher:  hasher,
		orders:  orders,
		logger:  log,
	}
}

// OrderRequest proposes an order. Without a uid one is derived for the seller.
type OrderRequest struct {
	Order contracts.Order     `json:"order"`
	UID   *contracts.OrderUID `json:"uid,omitempty"`
}

func (h *OrderHandler) decode(w http.ResponseWriter, r *http.Request) (contracts.Order, contracts.OrderUID, bool) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return contracts.Order{}, contracts.OrderUID{}, false
	}

	if req.UID != nil {
		return req.Order, *req.UID, true
	}
	uid, err := h.hasher.UID(req.Order, h.checker.Owner())
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to derive order uid: "+err.Error())
		return contracts.Order{}, contracts.OrderUID{}, false
	}
	return req.Order, uid, true
}

// Check dry-runs the validator
// POST /api/orders/check
func (h *OrderHandler) Check(w http.ResponseWriter, r *http.Request) {
	order, uid, ok := h.decode(w, r)
	if !ok {
		return
	}

	res, err := h.checker.CheckOrder(r.Context(), order, uid)
	if err != nil {
		h.logger.WithError(err).WithField("uid", uid.Hex()).Warn("Order check failed")
		respondFailure(w, err)
		return
	}

	respondJSON(w, http.StatusOK, CheckView{
		UID:    uid,
		OK:     res.OK,
		Reason: res.Reason,
		Detail: res.Detail,
		Bound:  newBoundView(res.Bound),
	})
}

// Settle reserves funds and pre-signs the order
// POST /api/orders
func (h *OrderHandler) Settle(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r, true)
	if !ok {
		respondError(w, http.StatusBadRequest, CallerHeader+" header is required")
		return
	}
	order, uid, ok := h.decode(w, r)
	if !ok {
		return
	}

	rec, err := h.engine.SettleOrder(r.Context(), caller, order, uid)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, newOrderView(rec))
}

// Cancel revokes the pre-signature and returns the reservation
// POST /api/orders/{uid}/cancel
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r, true)
	if !ok {
		respondError(w, http.StatusBadRequest, CallerHeader+" header is required")
		return
	}
	uid, ok := uidVar(w, r)
	if !ok {
		return
	}

	rec, err := h.engine.CancelOrder(r.Context(), caller, uid)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newOrderView(rec))
}

// Complete moves proceeds of a filled order to the treasury. Anyone may call it.
// POST /api/orders/{uid}/complete
func (h *OrderHandler) Complete(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r, false)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid "+CallerHeader+" header")
		return
	}
	uid, ok := uidVar(w, r)
	if !ok {
		return
	}

	rec, err := h.engine.CompleteOrder(r.Context(), caller, uid)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newOrderView(rec))
}

// Get returns the record with its on-chain view
// GET /api/orders/{uid}
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, ok := uidVar(w, r)
	if !ok {
		return
	}

	status, err := h.engine.Status(r.Context(), uid)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newStatusView(status))
}

// List returns records in one state, settled by default
// GET /api/orders?state=settled
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	state := contracts.StateSettled
	if s := r.URL.Query().Get("state"); s != "" {
		parsed, err := contracts.ParseOrderState(s)
		if err != nil || parsed == contracts.StateNone {
			respondError(w, http.StatusBadRequest, "state must be settled, completed or canceled")
			return
		}
		state = parsed
	}

	records, err := h.orders.List(r.Context(), state)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list orders")
		respondFailure(w, err)
		return
	}

	views := make([]OrderView, len(records))
	for i, rec := range records {
		views[i] = newOrderView(rec)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"state":  state,
		"orders": views,
		"count":  len(views),
	})
}

func uidVar(w http.ResponseWriter, r *http.Request) (contracts.OrderUID, bool) {
	uid, err := contracts.ParseOrderUID(mux.Vars(r)["uid"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order uid")
		return contracts.OrderUID{}, false
	}
	return uid, true
}
