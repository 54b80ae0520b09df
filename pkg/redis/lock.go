package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the lock
var ErrLockHeld = errors.New("lock held by another owner")

var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// Locker hands out short-lived exclusive locks keyed by name
// ⭐ SSOT: cross-process mutual exclusion lives here only
type Locker struct {
	client *Client
	prefix string
	ttl    time.Duration
}

// NewLocker creates a locker; ttl bounds how long a crashed holder blocks others
func NewLocker(client *Client, prefix string, ttl time.Duration) *Locker {
	return &Locker{client: client, prefix: prefix, ttl: ttl}
}

// TryLock acquires name without waiting. The returned func releases it.
// With Redis disabled the lock is process-local only and always succeeds.
func (l *Locker) TryLock(ctx context.Context, name string) (func(), error) {
	if !l.client.Enabled() {
		return func() {}, nil
	}

	token, err := randomToken()
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s:lock:%s", l.prefix, name)
	ok, err := l.client.Redis().SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func() {
		// release with a fresh context so a canceled caller still frees the key
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client.Redis(), []string{key}, token).Err()
	}, nil
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
