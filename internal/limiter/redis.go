package limiter

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps lockout state in Redis so several server replicas share it.
// Failure counters expire with the window; blocks expire on their own.
type Redis struct {
	rdb      redis.UniversalClient
	prefix   string
	window   time.Duration
	maxFails int
	blockFor time.Duration
}

// NewRedis constructs a Redis-backed limiter.
func NewRedis(rdb redis.UniversalClient, window time.Duration, maxFails int, blockFor time.Duration) *Redis {
	return &Redis{rdb: rdb, prefix: "login", window: window, maxFails: maxFails, blockFor: blockFor}
}

// KEYS[1] fail counter, KEYS[2] block marker.
// ARGV[1] window ms, ARGV[2] max fails, ARGV[3] block ms.
// Returns {fails, blockedMs}.
var failureScript = redis.NewScript(`
local fails = redis.call("INCR", KEYS[1])
if fails == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local max = tonumber(ARGV[2])
if max > 0 and fails >= max then
  redis.call("SET", KEYS[2], "1", "PX", ARGV[3])
  redis.call("DEL", KEYS[1])
  return {fails, tonumber(ARGV[3])}
end
return {fails, 0}
`)

func (l *Redis) keys(username string, peerHash []byte) (fail, block string) {
	id := username + ":" + hex.EncodeToString(peerHash)
	return l.prefix + ":fail:" + id, l.prefix + ":block:" + id
}

// Allow reports whether login is currently allowed and the time left on a block.
func (l *Redis) Allow(ctx context.Context, username string, peerHash []byte) (bool, time.Duration, error) {
	_, block := l.keys(username, peerHash)
	ttl, err := l.rdb.PTTL(ctx, block).Result()
	if err != nil {
		return false, 0, err
	}
	// -2: no key, -1: no expiry (never set by us).
	if ttl > 0 {
		return false, ttl, nil
	}
	return true, 0, nil
}

// Success clears counters and any block for (username, peer).
func (l *Redis) Success(ctx context.Context, username string, peerHash []byte) error {
	fail, block := l.keys(username, peerHash)
	return l.rdb.Del(ctx, fail, block).Err()
}

// Failure records a failed attempt; reaching maxFails inside the window sets a block.
func (l *Redis) Failure(ctx context.Context, username string, peerHash []byte) (bool, time.Duration, error) {
	fail, block := l.keys(username, peerHash)
	res, err := failureScript.Run(ctx, l.rdb, []string{fail, block},
		l.window.Milliseconds(), l.maxFails, l.blockFor.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) == 2 && res[1] > 0 {
		return true, time.Duration(res[1]) * time.Millisecond, nil
	}
	return false, 0, nil
}

var _ Limiter = (*Redis)(nil)
