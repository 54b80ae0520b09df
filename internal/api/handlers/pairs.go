package handlers

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/oracle"
	"github.com/wonny/otcseller/internal/sellerconfig"
	"github.com/wonny/otcseller/internal/validator"
	"github.com/wonny/otcseller/pkg/logger"
)

// PairSource lists and resolves configured pairs
type PairSource interface {
	Pairs() []contracts.PairConfig
	Lookup(sell, buy common.Address) (contracts.PairConfig, contracts.Direction, bool)
}

// PriceSource reads the oracle price of a pair
type PriceSource interface {
	PairPrice(ctx context.Context, pair contracts.PairConfig, dir contracts.Direction) (oracle.Quote, error)
}

// MinimumSource computes the minimum buy amount for a sell amount
type MinimumSource interface {
	MinimumFor(ctx context.Context, sell, buy common.Address, sellAmount, fee *big.Int) (*validator.Bound, error)
}

// PairHandler serves pair and price endpoints
type PairHandler struct {
	pairs   PairSource
	prices  PriceSource
	minimum MinimumSource
	logger  *logger.Logger
}

// NewPairHandler creates a new pair handler
func NewPairHandler(pairs PairSource, prices PriceSource, minimum MinimumSource, log *logger.Logger) *PairHandler {
	return &PairHandler{
		pairs:   pairs,
		prices:  prices,
		minimum: minimum,
		logger:  log,
	}
}

// List returns every configured pair in file form
// GET /api/pairs
func (h *PairHandler) List(w http.ResponseWriter, r *http.Request) {
	pairs := h.pairs.Pairs()
	out := make([]sellerconfig.Pair, len(pairs))
	for i, p := range pairs {
		out[i] = sellerconfig.FromPairConfig(p)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"pairs": out,
		"count": len(out),
	})
}

// PriceResponse is the oracle price of buy per sell, plus an optional bound
type PriceResponse struct {
	SellToken string     `json:"sellToken"`
	BuyToken  string     `json:"buyToken"`
	Direction string     `json:"direction"`
	Price     string     `json:"price"`
	Decimals  uint8      `json:"decimals"`
	Source    string     `json:"source"`
	UpdatedAt string     `json:"updatedAt,omitempty"`
	Bound     *BoundView `json:"bound,omitempty"`
}

// Price returns the oracle price; with amount (and optional fee) also the bound
// GET /api/price?sell=0x..&buy=0x..&amount=..&fee=..
func (h *PairHandler) Price(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sell, ok1 := parseAddress(q.Get("sell"))
	buy, ok2 := parseAddress(q.Get("buy"))
	if !ok1 || !ok2 {
		respondError(w, http.StatusBadRequest, "sell and buy must be token addresses")
		return
	}

	pair, dir, ok := h.pairs.Lookup(sell, buy)
	if !ok {
		respondFailure(w, &contracts.ValidationError{Reason: contracts.ReasonUnsupportedPair})
		return
	}

	quote, err := h.prices.PairPrice(r.Context(), pair, dir)
	if err != nil {
		h.logger.WithError(err).WithField("pair", pair.Key()).Warn("Price unavailable")
		respondFailure(w, err)
		return
	}

	resp := PriceResponse{
		SellToken: sell.Hex(),
		BuyToken:  buy.Hex(),
		Direction: dir.String(),
		Price:     amountString(quote.Price),
		Decimals:  quote.Decimals,
		Source:    quote.Source,
	}
	if !quote.UpdatedAt.IsZero() {
		resp.UpdatedAt = quote.UpdatedAt.UTC().Format(time.RFC3339)
	}

	if s := q.Get("amount"); s != "" {
		amount, err := contracts.ParseAmount(s)
		if err != nil || amount.Sign() <= 0 {
			respondError(w, http.StatusBadRequest, "amount must be a positive integer")
			return
		}
		fee := new(big.Int)
		if f := q.Get("fee"); f != "" {
			if fee, err = contracts.ParseAmount(f); err != nil {
				respondError(w, http.StatusBadRequest, "fee must be an integer")
				return
			}
		}
		bound, err := h.minimum.MinimumFor(r.Context(), sell, buy, amount, fee)
		if err != nil {
			respondFailure(w, err)
			return
		}
		resp.Bound = newBoundView(bound)
	}

	respondJSON(w, http.StatusOK, resp)
}
