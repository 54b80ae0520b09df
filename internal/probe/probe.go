// Package probe asks external swap venues for the best spot quote.
package probe

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/metrics"
	"github.com/wonny/otcseller/pkg/logger"
)

// Probe queries every venue and keeps the largest output
// ⭐ SSOT: secondary price bound
type Probe struct {
	venues  []contracts.Venue
	logger  *logger.Logger
	metrics *metrics.SellerMetrics
}

// New creates a probe over venues
func New(log *logger.Logger, venues ...contracts.Venue) *Probe {
	return &Probe{
		venues:  venues,
		logger:  log.WithComponent("probe"),
		metrics: metrics.Get(),
	}
}

// Enabled reports whether any venue is configured
func (p *Probe) Enabled() bool {
	return p != nil && len(p.venues) > 0
}

// BestSwapPrice returns the maximum buy amount for unitAmount of sell across venues.
// Venue failures are logged; contracts.ErrNoQuote is returned only when all fail.
func (p *Probe) BestSwapPrice(ctx context.Context, sell, buy common.Address, unitAmount *big.Int) (*big.Int, error) {
	if !p.Enabled() {
		return nil, contracts.ErrNoQuote
	}

	type result struct {
		venue string
		out   *big.Int
		err   error
	}

	results := make([]result, len(p.venues))
	var wg sync.WaitGroup
	for i, v := range p.venues {
		wg.Add(1)
		go func(i int, v contracts.Venue) {
			defer wg.Done()
			out, err := v.Quote(ctx, sell, buy, unitAmount)
			if err == nil && (out == nil || out.Sign() <= 0) {
				err = errors.New("empty quote")
			}
			results[i] = result{venue: v.Name(), out: out, err: err}
		}(i, v)
	}
	wg.Wait()

	var best *big.Int
	var errs []error
	for _, r := range results {
		p.metrics.VenueQuotes.WithLabelValues(r.venue, metrics.Result(r.err)).Inc()
		if r.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.venue, r.err))
			p.logger.WithField("venue", r.venue).WithError(r.err).Debug("Venue quote failed")
			continue
		}
		if best == nil || r.out.Cmp(best) > 0 {
			best = r.out
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%w: %w", contracts.ErrNoQuote, errors.Join(errs...))
	}
	return new(big.Int).Set(best), nil
}

// Price converts BestSwapPrice into a price scaled by 10^priceDecimals,
// comparable with an oracle quote for the same direction
func (p *Probe) Price(ctx context.Context, sell, buy common.Address, sellDecimals, buyDecimals, priceDecimals uint8) (*big.Int, error) {
	unit := contracts.Pow10(uint(sellDecimals))
	out, err := p.BestSwapPrice(ctx, sell, buy, unit)
	if err != nil {
		return nil, err
	}

	// out is buy units per one whole sell token; rescale buy decimals to price decimals
	price := new(big.Int).Mul(out, contracts.Pow10(uint(priceDecimals)))
	return price.Quo(price, contracts.Pow10(uint(buyDecimals))), nil
}
