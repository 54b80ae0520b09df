// Package settlement drives orders through Settled → Completed | Canceled.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/metrics"
	"github.com/wonny/otcseller/internal/validator"
	"github.com/wonny/otcseller/pkg/logger"
)

// =============================================================================
// Collaborators
// =============================================================================

// OrderChecker runs the validator
type OrderChecker interface {
	CheckOrder(ctx context.Context, order contracts.Order, uid contracts.OrderUID) (validator.Result, error)
}

// Ledger is the persistent order state
type Ledger interface {
	State(ctx context.Context, uid contracts.OrderUID) (contracts.OrderState, error)
	Record(ctx context.Context, uid contracts.OrderUID) (contracts.OrderRecord, error)
	MarkSettled(ctx context.Context, rec contracts.OrderRecord) error
	MarkCompleted(ctx context.Context, uid contracts.OrderUID, at time.Time) (contracts.OrderRecord, error)
	MarkCanceled(ctx context.Context, uid contracts.OrderUID, at time.Time) (contracts.OrderRecord, error)
	Reserved(ctx context.Context, token common.Address) (*big.Int, error)
}

// Authorizer gates entry points by role
type Authorizer interface {
	Require(caller common.Address, roles ...contracts.Role) error
}

// Deps bundles the engine collaborators; Unwrapper, Sink and Locker are optional
type Deps struct {
	Checker    OrderChecker
	Ledger     Ledger
	Access     Authorizer
	Settlement contracts.SettlementContract
	Token      contracts.Token
	Unwrapper  contracts.Unwrapper
	Treasury   contracts.Treasury
	Sink       contracts.EventSink
	Locker     Locker
}

// Config holds the seller account and unwrap policy
type Config struct {
	Seller       common.Address // owner of the pre-signed orders and holder of sell funds
	WETH         common.Address
	UnwrapNative bool          // cancel refunds of WETH go to the treasury as ETH
	GuardTimeout time.Duration // zero means DefaultGuardTimeout
}

// =============================================================================
// Engine
// =============================================================================

// Engine is the order state machine
// ⭐ SSOT: the only place ReservedAmount and seller funds are moved
type Engine struct {
	deps    Deps
	cfg     Config
	guard   *guard
	now     func() time.Time
	logger  *logger.Logger
	metrics *metrics.SellerMetrics
}

// New creates an engine
func New(deps Deps, cfg Config, log *logger.Logger) *Engine {
	if deps.Locker == nil {
		deps.Locker = NewMemoryLocker()
	}
	return &Engine{
		deps:    deps,
		cfg:     cfg,
		guard:   newGuard(cfg.GuardTimeout),
		now:     time.Now,
		logger:  log.WithComponent("settlement"),
		metrics: metrics.Get(),
	}
}

// WithClock overrides the time source
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// begin enters the guard, checks roles and takes the order lock.
// The returned context must be used for every collaborator call.
func (e *Engine) begin(ctx context.Context, caller common.Address, uid contracts.OrderUID, roles ...contracts.Role) (context.Context, func(), error) {
	ctx, leave, err := e.guard.enter(ctx)
	if err != nil {
		return nil, nil, err
	}

	if len(roles) > 0 {
		if err := e.deps.Access.Require(caller, roles...); err != nil {
			leave()
			return nil, nil, err
		}
	}

	release, err := lockOrder(ctx, e.deps.Locker, uid)
	if err != nil {
		leave()
		return nil, nil, err
	}

	return ctx, func() {
		release()
		leave()
	}, nil
}

// -----------------------------------------------------------------------------
// settleOrder
// -----------------------------------------------------------------------------

// SettleOrder validates order, reserves its sell amount, approves the vault
// relayer and pre-signs uid. Emits OrderSettled then PreSignature(true).
func (e *Engine) SettleOrder(ctx context.Context, caller common.Address, order contracts.Order, uid contracts.OrderUID) (rec contracts.OrderRecord, err error) {
	defer e.observe("settle", uid, &err)

	ctx, done, err := e.begin(ctx, caller, uid, contracts.RoleOrderSettle, contracts.RoleOperator)
	if err != nil {
		return rec, err
	}
	defer done()

	res, err := e.deps.Checker.CheckOrder(ctx, order, uid)
	if err != nil {
		return rec, fmt.Errorf("check order %s: %w", uid.Hex(), err)
	}
	if !res.OK {
		return rec, res.Err()
	}

	state, err := e.deps.Ledger.State(ctx, uid)
	if err != nil {
		return rec, err
	}
	if state != contracts.StateNone {
		return rec, fmt.Errorf("order %s is %s: %w", uid.Hex(), state, contracts.ErrInvalidTransition)
	}

	sellAmount, _, _ := order.Amounts()
	if err := e.ensureBalance(ctx, order.SellToken, sellAmount); err != nil {
		return rec, err
	}

	relayer := e.deps.Settlement.VaultRelayer()
	prevAllowance, err := e.deps.Token.Allowance(ctx, order.SellToken, e.cfg.Seller, relayer)
	if err != nil {
		return rec, fmt.Errorf("failed to read allowance: %w", err)
	}
	if err := e.deps.Token.Approve(ctx, order.SellToken, relayer, new(big.Int).Add(prevAllowance, sellAmount)); err != nil {
		return rec, fmt.Errorf("failed to approve vault relayer: %w", err)
	}

	if err := e.deps.Settlement.SetPreSignature(ctx, uid, true); err != nil {
		e.restoreAllowance(ctx, order.SellToken, relayer, prevAllowance)
		return rec, fmt.Errorf("failed to pre-sign order %s: %w", uid.Hex(), err)
	}

	now := e.now().UTC()
	rec = contracts.NewOrderRecord(uid, order, now)
	if err := e.deps.Ledger.MarkSettled(ctx, rec); err != nil {
		e.setPreSignature(ctx, uid, false)
		e.restoreAllowance(ctx, order.SellToken, relayer, prevAllowance)
		return contracts.OrderRecord{}, err
	}

	e.publish(ctx,
		contracts.Event{Name: contracts.EventOrderSettled, OrderUID: uid, Token: rec.SellToken, Amount: rec.SellAmount, Timestamp: now},
		contracts.Event{Name: contracts.EventPreSignature, OrderUID: uid, Signed: true, Timestamp: now},
	)
	return rec, nil
}

// ensureBalance keeps ReservedAmount(token) within the seller balance after this order
func (e *Engine) ensureBalance(ctx context.Context, token common.Address, sellAmount *big.Int) error {
	reserved, err := e.deps.Ledger.Reserved(ctx, token)
	if err != nil {
		return err
	}
	balance, err := e.deps.Token.BalanceOf(ctx, token, e.cfg.Seller)
	if err != nil {
		return fmt.Errorf("failed to read balance: %w", err)
	}

	need := new(big.Int).Add(reserved, sellAmount)
	if balance.Cmp(need) < 0 {
		return fmt.Errorf("balance %s < reserved %s + sell %s: %w",
			balance, reserved, sellAmount, contracts.ErrInsufficientBalance)
	}
	return nil
}

// -----------------------------------------------------------------------------
// cancelOrder
// -----------------------------------------------------------------------------

// CancelOrder revokes the pre-signature and returns the reserved sell amount to
// the treasury. Emits OrderCanceled, VaultDeposited and PreSignature(false).
func (e *Engine) CancelOrder(ctx context.Context, caller common.Address, uid contracts.OrderUID) (rec contracts.OrderRecord, err error) {
	defer e.observe("cancel", uid, &err)

	ctx, done, err := e.begin(ctx, caller, uid, contracts.RoleDefaultAdmin, contracts.RoleOrderSettle)
	if err != nil {
		return rec, err
	}
	defer done()

	rec, err = e.settled(ctx, uid)
	if err != nil {
		return contracts.OrderRecord{}, err
	}

	if err := e.unfilled(ctx, rec); err != nil {
		return contracts.OrderRecord{}, err
	}
	if err := e.deps.Settlement.SetPreSignature(ctx, uid, false); err != nil {
		return contracts.OrderRecord{}, fmt.Errorf("failed to revoke pre-signature %s: %w", uid.Hex(), err)
	}
	// a solver may have filled it between the read and the revoke
	if err := e.unfilled(ctx, rec); err != nil {
		e.setPreSignature(ctx, uid, true)
		return contracts.OrderRecord{}, err
	}

	token, amount := rec.SellToken, rec.SellAmount
	unwrapped := false
	if e.cfg.UnwrapNative && e.deps.Unwrapper != nil && token == e.cfg.WETH {
		if err := e.deps.Unwrapper.Unwrap(ctx, amount); err != nil {
			e.setPreSignature(ctx, uid, true)
			return contracts.OrderRecord{}, fmt.Errorf("failed to unwrap: %w", err)
		}
		token, unwrapped = contracts.NativeToken, true
	}

	if err := e.deps.Treasury.Deposit(ctx, token, amount); err != nil {
		if unwrapped {
			e.rewrap(ctx, uid, amount)
		}
		e.setPreSignature(ctx, uid, true)
		return contracts.OrderRecord{}, fmt.Errorf("failed to return funds to treasury: %w", err)
	}

	now := e.now().UTC()
	rec, err = e.deps.Ledger.MarkCanceled(ctx, uid, now)
	if err != nil {
		e.logger.WithError(err).WithField("uid", uid.Hex()).Error("Funds returned but ledger not updated")
		return contracts.OrderRecord{}, err
	}

	e.publish(ctx,
		contracts.Event{Name: contracts.EventOrderCanceled, OrderUID: uid, Token: rec.SellToken, Amount: rec.SellAmount, Timestamp: now},
		contracts.Event{Name: contracts.EventVaultDeposited, OrderUID: uid, Token: token, Amount: amount, Timestamp: now},
		contracts.Event{Name: contracts.EventPreSignature, OrderUID: uid, Signed: false, Timestamp: now},
	)
	return rec, nil
}

// -----------------------------------------------------------------------------
// completeOrder
// -----------------------------------------------------------------------------

// CompleteOrder forwards the bought amount to the treasury once the settlement
// contract reports a full fill. Open to any caller.
func (e *Engine) CompleteOrder(ctx context.Context, caller common.Address, uid contracts.OrderUID) (rec contracts.OrderRecord, err error) {
	defer e.observe("complete", uid, &err)

	ctx, done, err := e.begin(ctx, caller, uid)
	if err != nil {
		return rec, err
	}
	defer done()

	rec, err = e.settled(ctx, uid)
	if err != nil {
		return contracts.OrderRecord{}, err
	}

	filled, err := e.deps.Settlement.FilledAmount(ctx, uid)
	if err != nil {
		return contracts.OrderRecord{}, fmt.Errorf("failed to read filled amount: %w", err)
	}
	if contracts.IsInvalidated(filled) {
		return contracts.OrderRecord{}, fmt.Errorf("order %s: %w", uid.Hex(), contracts.ErrOrderInvalidated)
	}
	if filled == nil || filled.Cmp(rec.SellAmount) < 0 {
		return contracts.OrderRecord{}, fmt.Errorf("order %s filled %v of %s: %w",
			uid.Hex(), filled, rec.SellAmount, contracts.ErrOrderNotYetFilled)
	}

	if err := e.deps.Treasury.Deposit(ctx, rec.BuyToken, rec.BuyAmount); err != nil {
		return contracts.OrderRecord{}, fmt.Errorf("failed to forward proceeds: %w", err)
	}

	now := e.now().UTC()
	rec, err = e.deps.Ledger.MarkCompleted(ctx, uid, now)
	if err != nil {
		e.logger.WithError(err).WithField("uid", uid.Hex()).Error("Proceeds forwarded but ledger not updated")
		return contracts.OrderRecord{}, err
	}

	e.publish(ctx,
		contracts.Event{Name: contracts.EventOrderCompleted, OrderUID: uid, Token: rec.SellToken, Amount: rec.SellAmount, Timestamp: now},
		contracts.Event{Name: contracts.EventVaultDeposited, OrderUID: uid, Token: rec.BuyToken, Amount: rec.BuyAmount, Timestamp: now},
	)
	return rec, nil
}

// =============================================================================
// Status
// =============================================================================

// Status is the ledger record joined with the settlement contract view
type Status struct {
	Record    contracts.OrderRecord `json:"record"`
	PreSigned bool                  `json:"preSigned"`
	Filled    *big.Int              `json:"filledAmount"`
}

// Status reads an order without changing it
func (e *Engine) Status(ctx context.Context, uid contracts.OrderUID) (*Status, error) {
	rec, err := e.deps.Ledger.Record(ctx, uid)
	if err != nil {
		return nil, err
	}

	sig, err := e.deps.Settlement.PreSignature(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to read pre-signature: %w", err)
	}
	filled, err := e.deps.Settlement.FilledAmount(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to read filled amount: %w", err)
	}

	return &Status{
		Record:    rec,
		PreSigned: sig != nil && sig.Cmp(contracts.PreSignedSentinel) == 0,
		Filled:    filled,
	}, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (e *Engine) settled(ctx context.Context, uid contracts.OrderUID) (contracts.OrderRecord, error) {
	rec, err := e.deps.Ledger.Record(ctx, uid)
	if errors.Is(err, contracts.ErrNotFound) {
		return rec, fmt.Errorf("order %s is %s: %w", uid.Hex(), contracts.StateNone, contracts.ErrInvalidTransition)
	}
	if err != nil {
		return rec, err
	}
	if rec.State != contracts.StateSettled {
		return rec, fmt.Errorf("order %s is %s: %w", uid.Hex(), rec.State, contracts.ErrInvalidTransition)
	}
	return rec, nil
}

// unfilled rejects cancellation once a solver has filled the order.
// An invalidated order was never filled and can still be canceled.
func (e *Engine) unfilled(ctx context.Context, rec contracts.OrderRecord) error {
	filled, err := e.deps.Settlement.FilledAmount(ctx, rec.UID)
	if err != nil {
		return fmt.Errorf("failed to read filled amount: %w", err)
	}
	if filled == nil || filled.Sign() == 0 || contracts.IsInvalidated(filled) {
		return nil
	}
	return fmt.Errorf("order %s filled %s of %s, complete it instead: %w",
		rec.UID.Hex(), filled, rec.SellAmount, contracts.ErrOrderFilled)
}

// rewrap undoes an unwrap so the reservation stays backed by WETH
func (e *Engine) rewrap(ctx context.Context, uid contracts.OrderUID, amount *big.Int) {
	if err := e.deps.Unwrapper.Wrap(context.WithoutCancel(ctx), amount); err != nil {
		e.logger.WithError(err).WithField("uid", uid.Hex()).Error("Refund failed after unwrap, native funds held by seller")
	}
}

// restoreAllowance undoes an approve; the caller's context may already be done
func (e *Engine) restoreAllowance(ctx context.Context, token, spender common.Address, amount *big.Int) {
	if err := e.deps.Token.Approve(context.WithoutCancel(ctx), token, spender, amount); err != nil {
		e.logger.WithError(err).WithField("token", token.Hex()).Error("Failed to restore allowance")
	}
}

func (e *Engine) setPreSignature(ctx context.Context, uid contracts.OrderUID, signed bool) {
	if err := e.deps.Settlement.SetPreSignature(context.WithoutCancel(ctx), uid, signed); err != nil {
		e.logger.WithError(err).WithFields(map[string]interface{}{
			"uid":    uid.Hex(),
			"signed": signed,
		}).Error("Failed to reset pre-signature")
	}
}

// publish hands committed events to the sink; delivery failures never undo a transition
func (e *Engine) publish(ctx context.Context, events ...contracts.Event) {
	if e.deps.Sink == nil {
		return
	}
	if err := e.deps.Sink.Publish(context.WithoutCancel(ctx), events...); err != nil {
		e.logger.WithError(err).Warn("Failed to publish events")
	}
}

func (e *Engine) observe(transition string, uid contracts.OrderUID, err *error) {
	e.metrics.Transitions.WithLabelValues(transition, metrics.Result(*err)).Inc()

	log := e.logger.WithFields(map[string]interface{}{
		"transition": transition,
		"uid":        uid.Hex(),
	})
	if *err != nil {
		log.WithError(*err).Warn("Transition rejected")
		return
	}
	log.Info("Transition applied")
}
