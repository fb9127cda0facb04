package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockKey = "valuator:run-lock"
	defaultLockTTL = 2 * time.Minute
)

// ErrLockHeld is returned when another controller owns the run lock.
var ErrLockHeld = errors.New("run lock held by another controller")

// ErrLockLost is reported when a refresh finds the lock owned by someone else.
var ErrLockLost = errors.New("run lock lost")

// Only the owner may extend or delete the lock.
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Lock is a held run lock. Release it when the run ends.
type Lock struct {
	client *Client
	key    string
	token  string
	ttl    time.Duration
	logger *slog.Logger

	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	lost     chan struct{}
	lostOnce sync.Once
}

// AcquireRunLock takes the run lock with SET NX and starts refreshing it
// every ttl/3 until Release.
func (c *Client) AcquireRunLock(ctx context.Context, cfg Config) (*Lock, error) {
	key := cfg.LockKey
	if key == "" {
		key = defaultLockKey
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	token := uuid.NewString()

	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		owner, _ := c.rdb.Get(ctx, key).Result()
		return nil, fmt.Errorf("%w (owner %s)", ErrLockHeld, owner)
	}

	l := &Lock{
		client: c,
		key:    key,
		token:  token,
		ttl:    ttl,
		logger: slog.Default().With("component", "run_lock"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		lost:   make(chan struct{}),
	}
	go l.refreshLoop()
	l.logger.Info("Run lock acquired", "key", key, "token", token, "ttl", ttl)
	return l, nil
}

// Token identifies this lock holder.
func (l *Lock) Token() string {
	return l.token
}

// Lost is closed when a refresh discovers the lock is no longer ours.
func (l *Lock) Lost() <-chan struct{} {
	return l.lost
}

func (l *Lock) refreshLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			err := l.refresh(ctx)
			cancel()
			if errors.Is(err, ErrLockLost) {
				l.logger.Error("Run lock lost", "key", l.key)
				l.lostOnce.Do(func() { close(l.lost) })
				return
			}
			if err != nil {
				l.logger.Warn("Failed to refresh run lock", "error", err)
			}
		}
	}
}

func (l *Lock) refresh(ctx context.Context) error {
	n, err := refreshScript.Run(ctx, l.client.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// Release stops the refresher and deletes the lock if still owned.
func (l *Lock) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		_, err = releaseScript.Run(ctx, l.client.rdb, []string{l.key}, l.token).Result()
		if err != nil {
			err = fmt.Errorf("release failed: %w", err)
			return
		}
		l.logger.Info("Run lock released", "key", l.key)
	})
	return err
}
