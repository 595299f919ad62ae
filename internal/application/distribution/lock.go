package distribution

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const lockKey = "distribution:lock"

// RunLock serializes distribution runs across processes.
type RunLock interface {
	// Acquire returns a release func, or ok=false when another holder owns the lock.
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript refreshes the TTL only while the key still carries our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLock is a SET NX lock with a TTL so a crashed holder cannot wedge the
// scheduler. The holder refreshes the TTL until it releases.
type RedisLock struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisLock(client *redis.Client, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLock{Client: client, TTL: ttl}
}

func (l *RedisLock) Acquire(ctx context.Context) (func(), bool, error) {
	if l == nil || l.Client == nil {
		return nil, false, errors.New("redis lock not configured")
	}
	token := uuid.NewString()
	ok, err := l.Client.SetNX(ctx, lockKey, token, l.TTL).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(token, stop, done)

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(ctx, l.Client, []string{lockKey}, token).Err()
		})
	}
	return release, true, nil
}

// keepAlive extends the TTL every third of it until stop is closed or the
// token is gone.
func (l *RedisLock) keepAlive(token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := l.TTL / 3
	if interval <= 0 {
		<-stop
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n, err := extendScript.Run(ctx, l.Client, []string{lockKey}, token, l.TTL.Milliseconds()).Int()
			cancel()
			if err != nil {
				log.Warn().Err(err).Msg("failed to extend distribution lock")
				continue
			}
			if n == 0 {
				log.Error().Msg("distribution lock lost before the run finished")
				return
			}
		}
	}
}
