// Package jobs holds the seller's scheduled jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/settlement"
	"github.com/wonny/otcseller/pkg/logger"
)

// OrderLister lists ledger records by state
type OrderLister interface {
	List(ctx context.Context, state contracts.OrderState) ([]contracts.OrderRecord, error)
}

// Completer closes a filled order
type Completer interface {
	CompleteOrder(ctx context.Context, caller common.Address, uid contracts.OrderUID) (contracts.OrderRecord, error)
}

// CompletionJob completes every settled order the protocol has filled.
// Unfilled orders are left for the next tick.
type CompletionJob struct {
	orders    OrderLister
	completer Completer
	caller    common.Address
	schedule  string
	now       func() time.Time
	logger    *logger.Logger
}

// NewCompletionJob creates the job; caller is recorded as the completer
func NewCompletionJob(orders OrderLister, completer Completer, caller common.Address, schedule string, log *logger.Logger) *CompletionJob {
	if schedule == "" {
		schedule = "0 */2 * * * *"
	}
	return &CompletionJob{
		orders:    orders,
		completer: completer,
		caller:    caller,
		schedule:  schedule,
		now:       time.Now,
		logger:    log.WithComponent("completion_job"),
	}
}

// Name returns the job name
func (j *CompletionJob) Name() string {
	return "order_completion"
}

// Schedule returns the cron schedule
func (j *CompletionJob) Schedule() string {
	return j.schedule
}

// CompletionSummary counts one pass
type CompletionSummary struct {
	Checked   int
	Completed int
	Pending   int
	Expired   int
	Failed    int
}

// Run executes one completion pass
func (j *CompletionJob) Run(ctx context.Context) error {
	_, err := j.Sweep(ctx)
	return err
}

// Sweep completes what it can and reports the counts
func (j *CompletionJob) Sweep(ctx context.Context) (CompletionSummary, error) {
	var summary CompletionSummary

	records, err := j.orders.List(ctx, contracts.StateSettled)
	if err != nil {
		return summary, fmt.Errorf("failed to list settled orders: %w", err)
	}

	var errs []error
	now := j.now()
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Checked++
		log := j.logger.WithField("uid", rec.UID.Hex())

		_, err := j.completer.CompleteOrder(ctx, j.caller, rec.UID)
		switch {
		case err == nil:
			summary.Completed++
			log.Info("Order completed")
		case errors.Is(err, contracts.ErrOrderNotYetFilled):
			if int64(rec.ValidTo) < now.Unix() {
				// Cannot fill anymore; needs an operator cancel to release the reservation
				summary.Expired++
				log.WithField("valid_to", rec.ValidTo).Warn("Order expired unfilled")
			} else {
				summary.Pending++
				log.Debug("Order not yet filled")
			}
		case errors.Is(err, settlement.ErrTransitionInProgress):
			summary.Pending++
			log.Debug("Order busy, retrying next tick")
		case errors.Is(err, contracts.ErrInvalidTransition):
			// closed by someone else since List
			log.Debug("Order already closed")
		default:
			summary.Failed++
			log.WithError(err).Error("Order completion failed")
			errs = append(errs, fmt.Errorf("%s: %w", rec.UID.Hex(), err))
		}
	}

	if summary.Checked > 0 {
		j.logger.WithFields(map[string]interface{}{
			"checked":   summary.Checked,
			"completed": summary.Completed,
			"pending":   summary.Pending,
			"expired":   summary.Expired,
			"failed":    summary.Failed,
		}).Info("Completion pass finished")
	}

	return summary, errors.Join(errs...)
}
