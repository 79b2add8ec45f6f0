package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLockTimeout = errors.New("device is busy")

// DeviceLocker serializes evaluate, action and record for one device so two
// concurrent requests cannot both pass the limit check.
type DeviceLocker interface {
	Lock(ctx context.Context, deviceID string) (unlock func(), err error)
}

const (
	DeviceLockKeyPrefix = "trial_lock:"
	deviceLockTTL       = 30 * time.Second
	deviceLockPoll      = 25 * time.Millisecond
)

var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var renewLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// RedisDeviceLocker holds a SET NX lease per device so the lock spans all
// instances. The lease is renewed every ttl/3 until unlock, so it only lapses
// when the holder dies.
type RedisDeviceLocker struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeviceLocker(client *redis.Client) *RedisDeviceLocker {
	return &RedisDeviceLocker{client: client, ttl: deviceLockTTL}
}

func (l *RedisDeviceLocker) Lock(ctx context.Context, deviceID string) (func(), error) {
	key := DeviceLockKeyPrefix + deviceID
	token := uuid.NewString()
	ticker := time.NewTicker(deviceLockPoll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire device lock: %w", err)
		}
		if ok {
			stop := make(chan struct{})
			go l.keepAlive(key, token, stop)
			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					releaseLockScript.Run(releaseCtx, l.client, []string{key}, token)
				})
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *RedisDeviceLocker) keepAlive(key, token string, stop <-chan struct{}) {
	interval := l.ttl / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := renewLockScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				log.Printf("⚠️  device lock renewal for %s failed: %v", key, err)
				continue
			}
			if n == 0 {
				log.Printf("🚨 device lock %s lost before release", key)
				return
			}
		}
	}
}

// MemoryDeviceLocker is a keyed mutex for single-process deployments.
type MemoryDeviceLocker struct {
	mu    sync.Mutex
	locks map[string]*deviceLock
}

type deviceLock struct {
	ch   chan struct{}
	refs int
}

func NewMemoryDeviceLocker() *MemoryDeviceLocker {
	return &MemoryDeviceLocker{locks: make(map[string]*deviceLock)}
}

func (l *MemoryDeviceLocker) Lock(ctx context.Context, deviceID string) (func(), error) {
	l.mu.Lock()
	dl, ok := l.locks[deviceID]
	if !ok {
		dl = &deviceLock{ch: make(chan struct{}, 1)}
		l.locks[deviceID] = dl
	}
	dl.refs++
	l.mu.Unlock()

	select {
	case dl.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(deviceID, dl, false)
		return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(deviceID, dl, true) })
	}, nil
}

func (l *MemoryDeviceLocker) release(deviceID string, dl *deviceLock, held bool) {
	if held {
		<-dl.ch
	}
	l.mu.Lock()
	dl.refs--
	if dl.refs == 0 {
		delete(l.locks, deviceID)
	}
	l.mu.Unlock()
}
