package locks

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"

	"agent-triggers/internal/common/errors"
	"agent-triggers/internal/common/logging"
	"agent-triggers/internal/redis"
)

const keyPrefix = "lock:"

// RedsyncManager implements distributed locking with the Redlock algorithm.
// Held locks are renewed in the background at a third of their TTL until
// released or lost.
type RedsyncManager struct {
	redsync    *redsync.Redsync
	logger     logging.Logger
	localLocks map[*RedsyncLock]struct{}
	mutex      sync.Mutex
}

// RedsyncLock wraps a redsync.Mutex with automatic renewal
type RedsyncLock struct {
	mutex   *redsync.Mutex
	key     string
	ttl     time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	manager *RedsyncManager
}

// NewRedsyncManager creates a distributed lock manager on a connected client
func NewRedsyncManager(redisClient *redis.Client, logger logging.Logger) (*RedsyncManager, error) {
	if redisClient == nil {
		return nil, errors.ConfigError("redis client is required")
	}

	pool := goredis.NewPool(redisClient.Redis())

	return &RedsyncManager{
		redsync:    redsync.New(pool),
		logger:     logger,
		localLocks: make(map[*RedsyncLock]struct{}),
	}, nil
}

// AcquireLock retries until the lock is taken or ctx is done
func (rm *RedsyncManager) AcquireLock(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	mutex := rm.newMutex(key, ttl)
	if err := mutex.LockContext(ctx); err != nil {
		if isContention(err) || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", ErrNotAcquired, key)
		}
		return nil, errors.ConnectionError("failed to acquire distributed lock", err)
	}
	return rm.track(mutex, key, ttl), nil
}

// TryAcquireLock makes one attempt
func (rm *RedsyncManager) TryAcquireLock(ctx context.Context, key string, ttl time.Duration) (Lock, bool, error) {
	mutex := rm.newMutex(key, ttl)
	if err := mutex.TryLockContext(ctx); err != nil {
		if isContention(err) {
			return nil, false, nil
		}
		return nil, false, errors.ConnectionError("failed to acquire distributed lock", err)
	}
	return rm.track(mutex, key, ttl), true, nil
}

func (rm *RedsyncManager) newMutex(key string, ttl time.Duration) *redsync.Mutex {
	return rm.redsync.NewMutex(keyPrefix+key,
		redsync.WithExpiry(ttl),
		redsync.WithTries(64),
		redsync.WithRetryDelay(100*time.Millisecond),
	)
}

func isContention(err error) bool {
	var taken *redsync.ErrTaken
	return stderrors.Is(err, redsync.ErrFailed) || stderrors.As(err, &taken)
}

func (rm *RedsyncManager) track(mutex *redsync.Mutex, key string, ttl time.Duration) *RedsyncLock {
	lockCtx, cancel := context.WithCancel(context.Background())
	lock := &RedsyncLock{
		mutex:   mutex,
		key:     key,
		ttl:     ttl,
		ctx:     lockCtx,
		cancel:  cancel,
		manager: rm,
	}

	rm.mutex.Lock()
	rm.localLocks[lock] = struct{}{}
	rm.mutex.Unlock()

	go rm.renewLock(lock)
	return lock
}

func (rm *RedsyncManager) renewLock(lock *RedsyncLock) {
	interval := lock.ttl / 3
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-lock.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			ok, err := lock.mutex.ExtendContext(ctx)
			cancel()

			if err != nil || !ok {
				rm.logger.Warn("Distributed lock lost",
					logging.String("key", lock.key),
					logging.Err(err),
				)
				rm.forget(lock)
				lock.cancel()
				return
			}
		}
	}
}

func (rm *RedsyncManager) forget(lock *RedsyncLock) {
	rm.mutex.Lock()
	delete(rm.localLocks, lock)
	rm.mutex.Unlock()
}

// Close releases every lock this manager still holds
func (rm *RedsyncManager) Close() error {
	rm.mutex.Lock()
	held := make([]*RedsyncLock, 0, len(rm.localLocks))
	for lock := range rm.localLocks {
		held = append(held, lock)
	}
	rm.mutex.Unlock()

	for _, lock := range held {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		lock.Release(ctx)
		cancel()
	}
	return nil
}

func (rl *RedsyncLock) Key() string {
	return rl.key
}

// Release stops renewal and deletes the lock in Redis when still owned
func (rl *RedsyncLock) Release(ctx context.Context) error {
	var err error
	rl.once.Do(func() {
		lost := rl.ctx.Err() != nil
		rl.cancel()
		rl.manager.forget(rl)
		if lost {
			return
		}
		if _, unlockErr := rl.mutex.UnlockContext(ctx); unlockErr != nil && !stderrors.Is(unlockErr, redsync.ErrLockAlreadyExpired) {
			err = errors.ConnectionError("failed to release distributed lock", unlockErr)
		}
	})
	return err
}

func (rl *RedsyncLock) IsHeld() bool {
	return rl.ctx.Err() == nil
}

var (
	_ Manager = (*RedsyncManager)(nil)
	_ Manager = (*LocalManager)(nil)
)
