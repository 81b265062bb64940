package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Lease is a held lock; Release is safe to call more than once.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

// Release gives the lease back if it is still ours.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.client == nil {
		return nil
	}
	err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// AcquireLease takes the namespaced key for ttl using SET NX. It returns
// (nil, nil) when another holder owns the key.
func (r *Redis) AcquireLease(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if r == nil || r.Client == nil {
		return nil, errors.New("redis client not configured")
	}
	key = r.Key(key)
	token := uuid.NewString()
	ok, err := r.Client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Lease{client: r.Client, key: key, token: token}, nil
}
