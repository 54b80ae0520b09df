package settlement

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/otcseller/internal/access"
	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/ledger"
	"github.com/wonny/otcseller/internal/oracle"
	"github.com/wonny/otcseller/internal/orderuid"
	"github.com/wonny/otcseller/internal/probe"
	"github.com/wonny/otcseller/internal/registry"
	"github.com/wonny/otcseller/internal/validator"
	"github.com/wonny/otcseller/pkg/logger"
)

var (
	dai        = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	weth       = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	feedAddr   = common.HexToAddress("0x773616E4d11A78F511299002da57A0a94577F1f4")
	agent      = common.HexToAddress("0x3e40D73EB977Dc6a537aF587D48316feE66E9C8c")
	deployer   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	stranger   = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	seller     = common.HexToAddress("0x00000000000000000000000000000000000005e1")
	settlement = common.HexToAddress("0x9008D19f58AAbD9eD0D60971565AA8510560ab41")
	relayer    = common.HexToAddress("0xC92E8bdf79f0507f65a392b0ab4667716BFE0110")
	now        = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func amount(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic(s)
	}
	return v
}

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type staticFeed struct{}

func (staticFeed) LatestRoundData(ctx context.Context) (contracts.RoundData, error) {
	// 0.0005 ETH per DAI
	return contracts.RoundData{
		RoundID:         big.NewInt(1),
		Answer:          amount("500000000000000"),
		UpdatedAt:       uint64(now.Add(-time.Minute).Unix()),
		AnsweredInRound: big.NewInt(1),
	}, nil
}

func (staticFeed) Decimals(ctx context.Context) (uint8, error) { return 18, nil }

type fakeSettlement struct {
	mu        sync.Mutex
	preSigned map[contracts.OrderUID]bool
	filled    map[contracts.OrderUID]*big.Int
	failSign  error
	onPreSign func(ctx context.Context, uid contracts.OrderUID)
	signCalls []bool
}

func newFakeSettlement() *fakeSettlement {
	return &fakeSettlement{
		preSigned: make(map[contracts.OrderUID]bool),
		filled:    make(map[contracts.OrderUID]*big.Int),
	}
}

func (f *fakeSettlement) PreSignature(ctx context.Context, uid contracts.OrderUID) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.preSigned[uid] {
		return new(big.Int).Set(contracts.PreSignedSentinel), nil
	}
	return new(big.Int), nil
}

func (f *fakeSettlement) SetPreSignature(ctx context.Context, uid contracts.OrderUID, signed bool) error {
	if f.onPreSign != nil {
		f.onPreSign(ctx, uid)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signCalls = append(f.signCalls, signed)
	if f.failSign != nil && signed {
		return f.failSign
	}
	f.preSigned[uid] = signed
	return nil
}

func (f *fakeSettlement) FilledAmount(ctx context.Context, uid contracts.OrderUID) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.filled[uid]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (f *fakeSettlement) VaultRelayer() common.Address { return relayer }

type fakeToken struct {
	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]*big.Int
}

func newFakeToken() *fakeToken {
	return &fakeToken{
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]*big.Int),
	}
}

func (f *fakeToken) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if holder != seller {
		return new(big.Int), nil
	}
	if v, ok := f.balances[token]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (f *fakeToken) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.allowances[token]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (f *fakeToken) Approve(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowances[token] = new(big.Int).Set(amount)
	return nil
}

func (f *fakeToken) allowance(token common.Address) string {
	v, _ := f.Allowance(context.Background(), token, seller, relayer)
	return v.String()
}

type fakeUnwrapper struct {
	unwrapped []*big.Int
	wrapped   []*big.Int
}

func (f *fakeUnwrapper) Unwrap(ctx context.Context, amount *big.Int) error {
	f.unwrapped = append(f.unwrapped, amount)
	return nil
}

func (f *fakeUnwrapper) Wrap(ctx context.Context, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.wrapped = append(f.wrapped, amount)
	return nil
}

type deposit struct {
	token  common.Address
	amount string
}

type fakeTreasury struct {
	deposits  []deposit
	err       error
	onDeposit func()
}

func (f *fakeTreasury) Deposit(ctx context.Context, token common.Address, amount *big.Int) error {
	if f.onDeposit != nil {
		f.onDeposit()
	}
	if f.err != nil {
		return f.err
	}
	f.deposits = append(f.deposits, deposit{token: token, amount: amount.String()})
	return nil
}

type recordingSink struct {
	events []contracts.Event
}

func (s *recordingSink) Publish(ctx context.Context, events ...contracts.Event) error {
	s.events = append(s.events, events...)
	return nil
}

func (s *recordingSink) names() []contracts.EventName {
	out := make([]contracts.EventName, len(s.events))
	for i, e := range s.events {
		out[i] = e.Name
	}
	return out
}

func (s *recordingSink) reset() { s.events = nil }

// -----------------------------------------------------------------------------
// Fixture
// -----------------------------------------------------------------------------

type fixture struct {
	engine     *Engine
	ledger     *ledger.Ledger
	settlement *fakeSettlement
	token      *fakeToken
	unwrapper  *fakeUnwrapper
	treasury   *fakeTreasury
	sink       *recordingSink
	hasher     *orderuid.Hasher
	locker     *MemoryLocker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	roles := access.New()
	require.NoError(t, access.NewSetup(roles).Deploy(deployer, agent))

	reg := registry.New(roles)
	require.NoError(t, reg.CreateSeller(agent, contracts.PairConfig{
		TokenA:      dai,
		TokenB:      weth,
		DecimalsA:   18,
		DecimalsB:   18,
		PriceFeed:   feedAddr,
		BoundKind:   contracts.BoundSlippage,
		MaxBoundBps: 200,
		Receiver:    seller,
	}))

	adapter := oracle.NewAdapter(oracle.StaticFeeds{feedAddr: staticFeed{}}, oracle.Config{MaxStaleness: time.Hour}, logger.Nop()).
		WithClock(func() time.Time { return now })
	hasher, err := orderuid.NewHasher(1, settlement)
	require.NoError(t, err)

	v := validator.New(reg, adapter, probe.New(logger.Nop()), hasher,
		validator.Config{Owner: seller, MaxFeeBps: 1000, NetFee: true}, logger.Nop()).
		WithClock(func() time.Time { return now })

	f := &fixture{
		ledger:     ledger.New(ledger.NewMemoryStore(), logger.Nop()),
		settlement: newFakeSettlement(),
		token:      newFakeToken(),
		unwrapper:  &fakeUnwrapper{},
		treasury:   &fakeTreasury{},
		sink:       &recordingSink{},
		hasher:     hasher,
		locker:     NewMemoryLocker(),
	}
	f.token.balances[weth] = amount("100000000000000000000") // 100 WETH

	f.engine = New(Deps{
		Checker:    v,
		Ledger:     f.ledger,
		Access:     roles,
		Settlement: f.settlement,
		Token:      f.token,
		Unwrapper:  f.unwrapper,
		Treasury:   f.treasury,
		Sink:       f.sink,
		Locker:     f.locker,
	}, Config{Seller: seller, WETH: weth, UnwrapNative: true}, logger.Nop()).
		WithClock(func() time.Time { return now })
	return f
}

// sellWeth sells 10 WETH for at least 19600 DAI
func sellWeth(fee string) contracts.Order {
	return contracts.NewSellOrder(weth, dai, seller,
		amount("10000000000000000000"), amount("19600000000000000000000"), amount(fee),
		uint32(now.Add(time.Hour).Unix()), common.Hash{})
}

func (f *fixture) uid(t *testing.T, order contracts.Order) contracts.OrderUID {
	t.Helper()
	uid, err := f.hasher.UID(order, seller)
	require.NoError(t, err)
	return uid
}

func (f *fixture) settle(t *testing.T, order contracts.Order) contracts.OrderUID {
	t.Helper()
	uid := f.uid(t, order)
	_, err := f.engine.SettleOrder(context.Background(), agent, order, uid)
	require.NoError(t, err)
	return uid
}

func (f *fixture) reserved(t *testing.T, token common.Address) string {
	t.Helper()
	v, err := f.ledger.Reserved(context.Background(), token)
	require.NoError(t, err)
	return v.String()
}

// -----------------------------------------------------------------------------
// Scenarios
// -----------------------------------------------------------------------------

func TestSettleOrder_PreSigns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := sellWeth("0")
	uid := f.uid(t, order)

	rec, err := f.engine.SettleOrder(ctx, agent, order, uid)
	require.NoError(t, err)
	assert.Equal(t, contracts.StateSettled, rec.State)
	assert.Equal(t, seller, rec.Owner)

	sig, err := f.settlement.PreSignature(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, 0, sig.Cmp(contracts.PreSignedSentinel))

	assert.Equal(t, []contracts.EventName{contracts.EventOrderSettled, contracts.EventPreSignature}, f.sink.names())
	assert.True(t, f.sink.events[1].Signed)
	assert.Equal(t, "10000000000000000000", f.reserved(t, weth))
	assert.Equal(t, "10000000000000000000", f.token.allowance(weth))

	status, err := f.engine.Status(ctx, uid)
	require.NoError(t, err)
	assert.True(t, status.PreSigned)
	assert.Equal(t, "0", status.Filled.String())
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := f.settle(t, sellWeth("0"))
	f.sink.reset()

	_, err := f.engine.CancelOrder(ctx, stranger, uid)
	require.ErrorIs(t, err, contracts.ErrUnauthorized)
	assert.Empty(t, f.sink.events)
	assert.Empty(t, f.treasury.deposits)
	assert.Equal(t, "10000000000000000000", f.reserved(t, weth))

	rec, err := f.engine.CancelOrder(ctx, agent, uid)
	require.NoError(t, err)
	assert.Equal(t, contracts.StateCanceled, rec.State)

	assert.Equal(t, []contracts.EventName{
		contracts.EventOrderCanceled,
		contracts.EventVaultDeposited,
		contracts.EventPreSignature,
	}, f.sink.names())
	assert.False(t, f.sink.events[2].Signed)
	assert.Equal(t, contracts.NativeToken, f.sink.events[1].Token)

	assert.Equal(t, "0", f.reserved(t, weth))
	require.Len(t, f.unwrapper.unwrapped, 1)
	assert.Equal(t, "10000000000000000000", f.unwrapper.unwrapped[0].String())
	assert.Equal(t, []deposit{{token: contracts.NativeToken, amount: "10000000000000000000"}}, f.treasury.deposits)

	sig, err := f.settlement.PreSignature(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, 0, sig.Sign())
}

func TestCancelOrder_WithoutUnwrap(t *testing.T) {
	f := newFixture(t)
	f.engine.cfg.UnwrapNative = false
	uid := f.settle(t, sellWeth("0"))

	_, err := f.engine.CancelOrder(context.Background(), deployer, uid)
	require.NoError(t, err)
	assert.Empty(t, f.unwrapper.unwrapped)
	assert.Equal(t, []deposit{{token: weth, amount: "10000000000000000000"}}, f.treasury.deposits)
}

func TestSettleOrder_FeeThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	high := sellWeth("1500000000000000000") // 15%
	_, err := f.engine.SettleOrder(ctx, agent, high, f.uid(t, high))
	reason, ok := contracts.ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, contracts.ReasonFeeTooHigh, reason)
	assert.Equal(t, "0", f.reserved(t, weth))
	assert.Empty(t, f.sink.events)

	ok10 := sellWeth("1000000000000000000") // 10%
	_, err = f.engine.SettleOrder(ctx, agent, ok10, f.uid(t, ok10))
	require.NoError(t, err)
}

func TestCompleteOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := f.settle(t, sellWeth("0"))
	f.sink.reset()

	_, err := f.engine.CompleteOrder(ctx, stranger, uid)
	require.ErrorIs(t, err, contracts.ErrOrderNotYetFilled)
	assert.Empty(t, f.treasury.deposits)

	f.settlement.filled[uid] = amount("10000000000000000000")

	rec, err := f.engine.CompleteOrder(ctx, stranger, uid)
	require.NoError(t, err)
	assert.Equal(t, contracts.StateCompleted, rec.State)

	assert.Equal(t, []contracts.EventName{contracts.EventOrderCompleted, contracts.EventVaultDeposited}, f.sink.names())
	assert.Equal(t, dai, f.sink.events[1].Token)
	assert.Equal(t, "19600000000000000000000", f.sink.events[1].Amount.String())
	assert.Equal(t, []deposit{{token: dai, amount: "19600000000000000000000"}}, f.treasury.deposits)
	assert.Equal(t, "0", f.reserved(t, weth))
}

func TestStateErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := sellWeth("0")
	uid := f.uid(t, order)

	_, err := f.engine.CancelOrder(ctx, agent, uid)
	assert.ErrorIs(t, err, contracts.ErrInvalidTransition)
	_, err = f.engine.CompleteOrder(ctx, agent, uid)
	assert.ErrorIs(t, err, contracts.ErrInvalidTransition)

	f.settle(t, order)
	_, err = f.engine.SettleOrder(ctx, agent, order, uid)
	assert.ErrorIs(t, err, contracts.ErrInvalidTransition)

	_, err = f.engine.CancelOrder(ctx, agent, uid)
	require.NoError(t, err)

	f.settlement.filled[uid] = amount("10000000000000000000")
	_, err = f.engine.CompleteOrder(ctx, agent, uid)
	assert.ErrorIs(t, err, contracts.ErrInvalidTransition)
	_, err = f.engine.CancelOrder(ctx, agent, uid)
	assert.ErrorIs(t, err, contracts.ErrInvalidTransition)
	_, err = f.engine.SettleOrder(ctx, agent, order, uid)
	assert.ErrorIs(t, err, contracts.ErrInvalidTransition)
}

func TestSettleOrder_Unauthorized(t *testing.T) {
	f := newFixture(t)
	order := sellWeth("0")

	_, err := f.engine.SettleOrder(context.Background(), stranger, order, f.uid(t, order))
	assert.ErrorIs(t, err, contracts.ErrUnauthorized)
	assert.Empty(t, f.settlement.signCalls)
}

func TestSettleOrder_RejectsTamperedUID(t *testing.T) {
	f := newFixture(t)
	order := sellWeth("0")
	uid := f.uid(t, order)
	order.BuyAmount = amount("19700000000000000000000")

	_, err := f.engine.SettleOrder(context.Background(), agent, order, uid)
	reason, ok := contracts.ReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, contracts.ReasonOrderIDMismatch, reason)
}

func TestSettleOrder_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.token.balances[weth] = amount("15000000000000000000")
	f.settle(t, sellWeth("0"))

	second := sellWeth("1")
	_, err := f.engine.SettleOrder(context.Background(), agent, second, f.uid(t, second))
	assert.ErrorIs(t, err, contracts.ErrInsufficientBalance)
	assert.Equal(t, "10000000000000000000", f.reserved(t, weth))
}

func TestSettleOrder_RestoresAllowanceOnPreSignFailure(t *testing.T) {
	f := newFixture(t)
	f.token.allowances[weth] = big.NewInt(7)
	f.settlement.failSign = errors.New("reverted")
	order := sellWeth("0")
	uid := f.uid(t, order)

	_, err := f.engine.SettleOrder(context.Background(), agent, order, uid)
	require.Error(t, err)
	assert.Equal(t, "7", f.token.allowance(weth))

	state, err := f.ledger.State(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, contracts.StateNone, state)
	assert.Empty(t, f.sink.events)
}

func TestCancelOrder_DepositFailureKeepsOrderLive(t *testing.T) {
	f := newFixture(t)
	f.engine.cfg.UnwrapNative = false
	uid := f.settle(t, sellWeth("0"))
	f.treasury.err = errors.New("transfer failed")
	f.sink.reset()

	_, err := f.engine.CancelOrder(context.Background(), agent, uid)
	require.Error(t, err)

	state, err := f.ledger.State(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, contracts.StateSettled, state)
	assert.True(t, f.settlement.preSigned[uid])
	assert.Equal(t, "10000000000000000000", f.reserved(t, weth))
	assert.Empty(t, f.sink.events)
}

func TestCancelOrder_DepositFailureRewrapsNative(t *testing.T) {
	f := newFixture(t)
	uid := f.settle(t, sellWeth("0"))
	f.treasury.err = errors.New("treasury rejected ETH")
	f.sink.reset()

	ctx, cancel := context.WithCancel(context.Background())
	f.treasury.onDeposit = cancel

	_, err := f.engine.CancelOrder(ctx, agent, uid)
	require.Error(t, err)

	require.Len(t, f.unwrapper.unwrapped, 1)
	require.Len(t, f.unwrapper.wrapped, 1)
	assert.Equal(t, "10000000000000000000", f.unwrapper.wrapped[0].String())

	state, err := f.ledger.State(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, contracts.StateSettled, state)
	assert.True(t, f.settlement.preSigned[uid])
	assert.Equal(t, "10000000000000000000", f.reserved(t, weth))
	assert.Empty(t, f.sink.events)
}

func TestCancelOrder_RejectsFilledOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := f.settle(t, sellWeth("0"))
	f.settlement.filled[uid] = amount("10000000000000000000")
	f.sink.reset()
	calls := len(f.settlement.signCalls)

	_, err := f.engine.CancelOrder(ctx, agent, uid)
	require.ErrorIs(t, err, contracts.ErrOrderFilled)
	assert.Len(t, f.settlement.signCalls, calls)
	assert.Empty(t, f.unwrapper.unwrapped)
	assert.Empty(t, f.treasury.deposits)
	assert.Empty(t, f.sink.events)

	rec, err := f.engine.CompleteOrder(ctx, stranger, uid)
	require.NoError(t, err)
	assert.Equal(t, contracts.StateCompleted, rec.State)
	assert.Equal(t, []deposit{{token: dai, amount: "19600000000000000000000"}}, f.treasury.deposits)
}

func TestCancelOrder_FilledWhileRevoking(t *testing.T) {
	f := newFixture(t)
	uid := f.settle(t, sellWeth("0"))
	f.settlement.onPreSign = func(ctx context.Context, id contracts.OrderUID) {
		f.settlement.mu.Lock()
		f.settlement.filled[id] = amount("10000000000000000000")
		f.settlement.mu.Unlock()
	}

	_, err := f.engine.CancelOrder(context.Background(), agent, uid)
	require.ErrorIs(t, err, contracts.ErrOrderFilled)
	assert.True(t, f.settlement.preSigned[uid])
	assert.Empty(t, f.unwrapper.unwrapped)
	assert.Empty(t, f.treasury.deposits)
	assert.Equal(t, "10000000000000000000", f.reserved(t, weth))
}

func TestInvalidatedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	uid := f.settle(t, sellWeth("0"))
	f.settlement.filled[uid] = new(big.Int).Set(contracts.FilledInvalidated)

	_, err := f.engine.CompleteOrder(ctx, stranger, uid)
	require.ErrorIs(t, err, contracts.ErrOrderInvalidated)
	assert.Empty(t, f.treasury.deposits)

	rec, err := f.engine.CancelOrder(ctx, agent, uid)
	require.NoError(t, err)
	assert.Equal(t, contracts.StateCanceled, rec.State)
	assert.Equal(t, []deposit{{token: contracts.NativeToken, amount: "10000000000000000000"}}, f.treasury.deposits)
	assert.Equal(t, "0", f.reserved(t, weth))
}

func TestReentrantCallRejected(t *testing.T) {
	f := newFixture(t)
	order := sellWeth("0")
	uid := f.uid(t, order)

	var reentryErr error
	f.settlement.onPreSign = func(ctx context.Context, uid contracts.OrderUID) {
		if reentryErr == nil {
			_, reentryErr = f.engine.CancelOrder(ctx, agent, uid)
		}
	}

	_, err := f.engine.SettleOrder(context.Background(), agent, order, uid)
	require.NoError(t, err)
	assert.ErrorIs(t, reentryErr, contracts.ErrReentrantCall)
	assert.Equal(t, "10000000000000000000", f.reserved(t, weth))
}

func TestOrderLockHeld(t *testing.T) {
	f := newFixture(t)
	uid := f.settle(t, sellWeth("0"))

	release, err := f.locker.TryLock(context.Background(), "order:"+uid.Hex())
	require.NoError(t, err)

	_, err = f.engine.CancelOrder(context.Background(), agent, uid)
	assert.ErrorIs(t, err, ErrTransitionInProgress)

	release()
	_, err = f.engine.CancelOrder(context.Background(), agent, uid)
	assert.NoError(t, err)
}

func TestReservedRoundTrip_MultipleOrders(t *testing.T) {
	f := newFixture(t)
	a := f.settle(t, sellWeth("0"))
	b := f.settle(t, sellWeth("1"))
	assert.Equal(t, "20000000000000000000", f.reserved(t, weth))
	assert.Equal(t, "20000000000000000000", f.token.allowance(weth))

	_, err := f.engine.CancelOrder(context.Background(), agent, a)
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000000", f.reserved(t, weth))

	f.settlement.filled[b] = amount("10000000000000000000")
	_, err = f.engine.CompleteOrder(context.Background(), agent, b)
	require.NoError(t, err)
	assert.Equal(t, "0", f.reserved(t, weth))
}

func TestCallbackWithoutMarkerTimesOut(t *testing.T) {
	f := newFixture(t)
	f.engine.guard = newGuard(50 * time.Millisecond)
	order := sellWeth("0")
	uid := f.uid(t, order)

	var reentryErr error
	f.settlement.onPreSign = func(ctx context.Context, id contracts.OrderUID) {
		if reentryErr == nil {
			_, reentryErr = f.engine.CancelOrder(context.Background(), agent, id)
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.SettleOrder(context.Background(), agent, order, uid)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("settle blocked on a callback into the engine")
	}
	assert.ErrorIs(t, reentryErr, ErrTransitionInProgress)
	assert.Equal(t, "10000000000000000000", f.reserved(t, weth))
}

func TestGuard_CallerDeadlineWins(t *testing.T) {
	g := newGuard(time.Hour)
	_, leave, err := g.enter(context.Background())
	require.NoError(t, err)
	defer leave()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = g.enter(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryLocker(t *testing.T) {
	l := NewMemoryLocker()
	release, err := l.TryLock(context.Background(), "x")
	require.NoError(t, err)

	_, err = l.TryLock(context.Background(), "x")
	assert.ErrorIs(t, err, ErrTransitionInProgress)

	release()
	release()
	again, err := l.TryLock(context.Background(), "x")
	require.NoError(t, err)
	again()
}
