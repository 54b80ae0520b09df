package jobs

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/internal/settlement"
	"github.com/wonny/otcseller/pkg/logger"
)

type fakeLister struct {
	records []contracts.OrderRecord
	err     error
}

func (f *fakeLister) List(ctx context.Context, state contracts.OrderState) ([]contracts.OrderRecord, error) {
	if state != contracts.StateSettled {
		return nil, errors.New("unexpected state")
	}
	return f.records, f.err
}

type fakeCompleter struct {
	results map[contracts.OrderUID]error
	callers []common.Address
}

func (f *fakeCompleter) CompleteOrder(ctx context.Context, caller common.Address, uid contracts.OrderUID) (contracts.OrderRecord, error) {
	f.callers = append(f.callers, caller)
	return contracts.OrderRecord{UID: uid}, f.results[uid]
}

func record(b byte, validTo uint32) contracts.OrderRecord {
	var uid contracts.OrderUID
	uid[0] = b
	return contracts.OrderRecord{
		UID:        uid,
		State:      contracts.StateSettled,
		SellAmount: big.NewInt(1),
		BuyAmount:  big.NewInt(1),
		ValidTo:    validTo,
	}
}

func TestCompletionJob_Sweep(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	future := uint32(now.Add(time.Hour).Unix())
	past := uint32(now.Add(-time.Hour).Unix())

	filled := record(1, future)
	pending := record(2, future)
	expired := record(3, past)
	busy := record(4, future)
	closed := record(5, future)
	broken := record(6, future)

	completer := &fakeCompleter{results: map[contracts.OrderUID]error{
		pending.UID: contracts.ErrOrderNotYetFilled,
		expired.UID: contracts.ErrOrderNotYetFilled,
		busy.UID:    settlement.ErrTransitionInProgress,
		closed.UID:  contracts.ErrInvalidTransition,
		broken.UID:  errors.New("rpc down"),
	}}
	keeper := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	job := NewCompletionJob(&fakeLister{records: []contracts.OrderRecord{filled, pending, expired, busy, closed, broken}},
		completer, keeper, "", logger.Nop())
	job.now = func() time.Time { return now }

	summary, err := job.Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc down")
	assert.Equal(t, CompletionSummary{Checked: 6, Completed: 1, Pending: 2, Expired: 1, Failed: 1}, summary)
	for _, c := range completer.callers {
		assert.Equal(t, keeper, c)
	}
}

func TestCompletionJob_NothingToDo(t *testing.T) {
	job := NewCompletionJob(&fakeLister{}, &fakeCompleter{}, common.Address{}, "@every 1m", logger.Nop())
	assert.Equal(t, "order_completion", job.Name())
	assert.Equal(t, "@every 1m", job.Schedule())
	assert.NoError(t, job.Run(context.Background()))
}

func TestCompletionJob_ListError(t *testing.T) {
	job := NewCompletionJob(&fakeLister{err: errors.New("db down")}, &fakeCompleter{}, common.Address{}, "", logger.Nop())
	assert.Equal(t, "0 */2 * * * *", job.Schedule())
	assert.ErrorContains(t, job.Run(context.Background()), "db down")
}
