// Package lease keeps two runs from sanitizing the same batch at once.
package lease

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another run holds the batch.
var ErrHeld = errors.New("batch is being processed by another run")

// Release gives a lease back. Releasing an expired lease is not an error.
type Release func(ctx context.Context) error

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

const keyPrefix = "parcelfix:lease:"

// releaseScript deletes the key only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis leases batches with SET NX PX so several service replicas can
// share one queue of batches.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// OpenRedis connects with the given address, password and database.
func OpenRedis(addr, password string, db int) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func (r *Redis) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, keyPrefix+key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHeld
	}
	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, r.client, []string{keyPrefix + key}, token).Err()
	}, nil
}

// Local is an in-process Locker for single-node runs and tests.
type Local struct {
	mu    sync.Mutex
	held  map[string]localLease
	clock func() time.Time
}

type localLease struct {
	token   string
	expires time.Time
}

func NewLocal() *Local {
	return &Local{held: map[string]localLease{}, clock: time.Now}
}

func (l *Local) Acquire(_ context.Context, key string, ttl time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, ErrHeld
	}
	token := uuid.NewString()
	l.held[key] = localLease{token: token, expires: now.Add(ttl)}
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[key]; ok && cur.token == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}

// Key normalises a store name into a lease key.
func Key(storeName string) string {
	return strings.ToLower(strings.TrimSpace(storeName))
}
