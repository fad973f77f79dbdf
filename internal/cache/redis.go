package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ledgerRetention bounds how long an idle ledger key survives in redis.
const ledgerRetention = 8 * 24 * time.Hour

var delIfEqualScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// KEYS[1] ledger; ARGV from, to (exclusive), limit, score, member, ttl seconds.
var reserveScript = redis.NewScript(`
local used = redis.call("ZCOUNT", KEYS[1], ARGV[1], "(" .. ARGV[2])
if used >= tonumber(ARGV[3]) then
	return 0
end
redis.call("ZADD", KEYS[1], ARGV[4], ARGV[5])
redis.call("EXPIRE", KEYS[1], ARGV[6])
return 1
`)

type Redis struct {
	client *redis.Client
}

func NewRedis(addr, password string, db int) *Redis {
	return &Redis{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) GetDel(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.GetDel(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis getdel %s: %w", key, err)
	}
	return val, nil
}

func (r *Redis) Del(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (r *Redis) DelIfEqual(ctx context.Context, key string, value []byte) (bool, error) {
	n, err := delIfEqualScript.Run(ctx, r.client, []string{key}, value).Int64()
	if err != nil {
		return false, fmt.Errorf("redis compare-and-delete %s: %w", key, err)
	}
	return n == 1, nil
}

func ledgerMember(at time.Time) string {
	return strconv.FormatInt(at.UnixNano(), 10) + ":" + uuid.NewString()
}

func (r *Redis) Record(ctx context.Context, key string, at time.Time) error {
	member := ledgerMember(at)

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: member})
	pipe.Expire(ctx, key, ledgerRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis record %s: %w", key, err)
	}
	return nil
}

// Count returns the entries recorded in [from, to).
func (r *Redis) Count(ctx context.Context, key string, from, to time.Time) (int64, error) {
	n, err := r.client.ZCount(ctx, key,
		strconv.FormatInt(from.UnixMilli(), 10),
		"("+strconv.FormatInt(to.UnixMilli(), 10),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count %s: %w", key, err)
	}
	return n, nil
}

func (r *Redis) Reserve(ctx context.Context, key string, at, from, to time.Time, limit int64) (string, bool, error) {
	member := ledgerMember(at)
	ok, err := reserveScript.Run(ctx, r.client, []string{key},
		from.UnixMilli(),
		to.UnixMilli(),
		limit,
		at.UnixMilli(),
		member,
		int64(ledgerRetention/time.Second),
	).Int64()
	if err != nil {
		return "", false, fmt.Errorf("redis reserve %s: %w", key, err)
	}
	if ok == 0 {
		return "", false, nil
	}
	return member, true, nil
}

func (r *Redis) Release(ctx context.Context, key, id string) error {
	if err := r.client.ZRem(ctx, key, id).Err(); err != nil {
		return fmt.Errorf("redis release %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Prune(ctx context.Context, key string, before time.Time) error {
	err := r.client.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(before.UnixMilli(), 10)).Err()
	if err != nil {
		return fmt.Errorf("redis prune %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
