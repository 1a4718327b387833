package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld is returned when another instance holds the lease.
var ErrLeaseHeld = errors.New("lease held by another instance")

var releaseLeaseScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('del', KEYS[1])
else
  return 0
end
`)

var renewLeaseScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
  return redis.call('pexpire', KEYS[1], ARGV[2])
else
  return 0
end
`)

// Leaser hands out exclusive, expiring leases on named jobs.
type Leaser struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewLeaser creates a Leaser. Leases always expire; a non-positive ttl
// falls back to one hour.
func NewLeaser(client redis.Cmdable, prefix string, ttl time.Duration) *Leaser {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Leaser{client: client, prefix: prefix, ttl: ttl}
}

// Lease is one held lock. Release is safe to call after expiry.
type Lease struct {
	leaser *Leaser
	key    string
	token  string
}

// Acquire takes the lease for job or returns ErrLeaseHeld.
func (l *Leaser) Acquire(ctx context.Context, job string) (*Lease, error) {
	key := fmt.Sprintf("%s:lease:%s", l.prefix, job)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lease: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", job, ErrLeaseHeld)
	}
	return &Lease{leaser: l, key: key, token: token}, nil
}

// Renew extends the lease. It reports false once the lease was lost.
func (l *Lease) Renew(ctx context.Context) (bool, error) {
	ttlMs := int64(l.leaser.ttl / time.Millisecond)
	n, err := renewLeaseScript.Run(ctx, l.leaser.client, []string{l.key}, l.token, ttlMs).Int64()
	if err != nil {
		return false, fmt.Errorf("lease: renew %s: %w", l.key, err)
	}
	return n == 1, nil
}

// Release deletes the key only while it still carries this lease's token.
func (l *Lease) Release(ctx context.Context) error {
	if err := releaseLeaseScript.Run(ctx, l.leaser.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("lease: release %s: %w", l.key, err)
	}
	return nil
}
