package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/wonny/otcseller/internal/contracts"
	"github.com/wonny/otcseller/pkg/redis"
)

// ErrTransitionInProgress is returned when another holder owns the order lock
var ErrTransitionInProgress = errors.New("transition in progress")

// Locker grants exclusive access to a name across processes.
// *redis.Locker satisfies it; MemoryLocker covers single-process deployments.
type Locker interface {
	TryLock(ctx context.Context, name string) (func(), error)
}

// MemoryLocker is a process-local Locker
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker creates an empty locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

// TryLock implements Locker
func (m *MemoryLocker) TryLock(ctx context.Context, name string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[name]; ok {
		return nil, ErrTransitionInProgress
	}
	m.held[name] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, name)
			m.mu.Unlock()
		})
	}, nil
}

// -----------------------------------------------------------------------------
// Reentrancy guard
// -----------------------------------------------------------------------------

type transitionKey struct{}

// DefaultGuardTimeout bounds the wait for a transition already in flight
const DefaultGuardTimeout = 10 * time.Minute

// guard serializes transitions of one engine.
// The context handed to collaborators carries a marker; seeing it again on entry
// means a collaborator called back into the engine. A callback on a context
// without the marker looks like any other waiter, so the wait is bounded.
type guard struct {
	sem  *semaphore.Weighted
	wait time.Duration
}

func newGuard(wait time.Duration) *guard {
	if wait <= 0 {
		wait = DefaultGuardTimeout
	}
	return &guard{sem: semaphore.NewWeighted(1), wait: wait}
}

func (g *guard) enter(ctx context.Context) (context.Context, func(), error) {
	if owner, ok := ctx.Value(transitionKey{}).(*guard); ok && owner == g {
		return nil, nil, contracts.ErrReentrantCall
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.wait)
	defer cancel()
	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("engine busy for %s: %w", g.wait, ErrTransitionInProgress)
	}

	return context.WithValue(ctx, transitionKey{}, g), func() { g.sem.Release(1) }, nil
}

func lockOrder(ctx context.Context, l Locker, uid contracts.OrderUID) (func(), error) {
	release, err := l.TryLock(ctx, "order:"+uid.Hex())
	switch {
	case errors.Is(err, ErrTransitionInProgress), errors.Is(err, redis.ErrLockHeld):
		return nil, fmt.Errorf("order %s: %w", uid.Hex(), ErrTransitionInProgress)
	case err != nil:
		return nil, fmt.Errorf("failed to lock order %s: %w", uid.Hex(), err)
	}
	return release, nil
}
