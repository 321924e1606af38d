package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【用途】同一张礼品卡的 预占/消费/解锁/冻结 必须串行
//
//   请求1: 获取卡锁 -> 事务内扣减余额 -> 提交 -> 释放卡锁
//   请求2: 获取卡锁失败 -> 立即返回"系统繁忙，请稍后重试"（不排队）
//
// 【Redis 分布式锁原理】
//
// 加锁：SET key owner NX PX ttl
//   - NX: 只有 key 不存在时才设置（保证互斥）
//   - PX: 设置过期时间（持锁进程崩溃时自动释放）
//   - owner: 持有者标识（每次加锁唯一，释放时校验）
//
// 释放锁：Lua 脚本保证"校验 owner + 删除"原子执行
//
// 锁过期只保证不会死锁，账本一致性由数据库事务保证
//
// ============================================================================

var (
	ErrLockNotHeld = errors.New("锁已过期或被他人持有")
)

// releaseScript 校验 value 是否匹配，匹配则删除
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Unlock 释放锁
//
// 场景：A 获取锁 -> A 处理超时，锁自动过期 -> B 获取锁 -> A 执行完毕，调用 Unlock
// 校验 value 后 A 不会删掉 B 的锁，此时返回 ErrLockNotHeld
func (l *DistributedLock) Unlock(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}

// ============================================================================
// Locker：按 key 加解锁，供业务层注入
// ============================================================================

// RedisLocker 基于 Redis 的互斥锁提供者
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryAcquire 非阻塞加锁，已被持有时返回 false
func (r *RedisLocker) TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return NewDistributedLock(r.client, key, owner, ttl).TryLock(ctx)
}

// Release 只释放自己持有的锁
func (r *RedisLocker) Release(ctx context.Context, key, owner string) error {
	return NewDistributedLock(r.client, key, owner, 0).Unlock(ctx)
}

// CardLockKey 卡维度的锁
func CardLockKey(cardID int64) string {
	return fmt.Sprintf("giftcard:lock:card:%d", cardID)
}

// IssueLockKey 发卡按 用户+模板 维度加锁，串行化每人限领和库存校验
func IssueLockKey(userID, templateID int64) string {
	return fmt.Sprintf("giftcard:lock:issue:user:%d:template:%d", userID, templateID)
}
