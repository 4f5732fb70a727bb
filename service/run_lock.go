package service

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RunLock 每个同步范围同时只允许一个活动任务
type RunLock interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, key, owner string, ttl time.Duration) error
	Release(ctx context.Context, key, owner string) error
}

func runLockKey(corpID string, scope Scope) string {
	return "wa:sync_lock:" + corpID + ":" + scope.Key()
}

// LocalRunLock 单进程部署使用
type LocalRunLock struct {
	mu     sync.Mutex
	owners map[string]string
}

func NewLocalRunLock() *LocalRunLock {
	return &LocalRunLock{owners: make(map[string]string)}
}

func (l *LocalRunLock) Acquire(_ context.Context, key, owner string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.owners[key]; held {
		return false, nil
	}
	l.owners[key] = owner
	return true, nil
}

func (l *LocalRunLock) Refresh(context.Context, string, string, time.Duration) error { return nil }

func (l *LocalRunLock) Release(_ context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owners[key] == owner {
		delete(l.owners, key)
	}
	return nil
}

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisRunLock 多实例部署：SET NX + TTL，释放与续期只作用于自己持有的锁
type RedisRunLock struct {
	rdb *redis.Client
}

func NewRedisRunLock(rdb *redis.Client) *RedisRunLock {
	return &RedisRunLock{rdb: rdb}
}

func (l *RedisRunLock) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return l.rdb.SetNX(ctx, key, owner, ttl).Result()
}

func (l *RedisRunLock) Refresh(ctx context.Context, key, owner string, ttl time.Duration) error {
	return refreshScript.Run(ctx, l.rdb, []string{key}, owner, ttl.Milliseconds()).Err()
}

func (l *RedisRunLock) Release(ctx context.Context, key, owner string) error {
	return releaseScript.Run(ctx, l.rdb, []string{key}, owner).Err()
}
