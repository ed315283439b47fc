package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reideval/reid-eval/internal/pkg/errors"
)

// RedisHistory persists run records in Redis. Records live under
// "<prefix>run:<id>" as JSON; "<prefix>runs" is a sorted set of IDs scored
// by run timestamp for newest-first listing.
type RedisHistory struct {
	client *redis.Client
	prefix string
	ttl    time.Duration // 0 = no expiry
}

// NewRedisHistory connects to Redis and verifies the connection.
func NewRedisHistory(url string, ttl time.Duration) (*RedisHistory, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisHistory{
		client: client,
		prefix: "reid:history:",
		ttl:    ttl,
	}, nil
}

func (rh *RedisHistory) indexKey() string {
	return rh.prefix + "runs"
}

func (rh *RedisHistory) recordKey(id string) string {
	return rh.prefix + "run:" + id
}

// Save stores rec and indexes it by timestamp.
func (rh *RedisHistory) Save(ctx context.Context, rec RunRecord) error {
	if rec.ID == "" {
		return errors.ValidationError("run record has no id")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding run record: %w", err)
	}

	pipe := rh.client.TxPipeline()
	pipe.Set(ctx, rh.recordKey(rec.ID), data, rh.ttl)
	pipe.ZAdd(ctx, rh.indexKey(), redis.Z{
		Score:  float64(rec.Timestamp.UnixMilli()),
		Member: rec.ID,
	})

	// Drop index entries whose records have expired
	if rh.ttl > 0 {
		minScore := time.Now().Add(-rh.ttl).UnixMilli()
		pipe.ZRemRangeByScore(ctx, rh.indexKey(), "-inf", fmt.Sprintf("(%d", minScore))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("saving run record: %w", err)
	}

	return nil
}

// Get loads the record with the given ID.
func (rh *RedisHistory) Get(ctx context.Context, id string) (*RunRecord, error) {
	data, err := rh.client.Get(ctx, rh.recordKey(id)).Bytes()
	if err == redis.Nil {
		return nil, errors.NotFoundError("run " + id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run record: %w", err)
	}

	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding run record: %w", err)
	}
	return &rec, nil
}

// List returns up to limit records, newest first (limit <= 0 = all).
func (rh *RedisHistory) List(ctx context.Context, limit int) ([]RunRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	ids, err := rh.client.ZRevRange(ctx, rh.indexKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = rh.recordKey(id)
	}

	values, err := rh.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("loading runs: %w", err)
	}

	records := make([]RunRecord, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// Expired between the index read and the fetch
			continue
		}
		var rec RunRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// Delete removes a run record and its index entry.
func (rh *RedisHistory) Delete(ctx context.Context, id string) error {
	pipe := rh.client.TxPipeline()
	pipe.Del(ctx, rh.recordKey(id))
	pipe.ZRem(ctx, rh.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting run record: %w", err)
	}
	return nil
}

// Ping checks that Redis is reachable.
func (rh *RedisHistory) Ping(ctx context.Context) error {
	return rh.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (rh *RedisHistory) Close() error {
	return rh.client.Close()
}

// NewHistory builds the history backend named by kind: "none" returns nil,
// "memory" an in-process store, "redis" a RedisHistory.
func NewHistory(kind, redisURL string, ttl time.Duration) (History, error) {
	switch kind {
	case "none", "":
		return nil, nil
	case "memory":
		return NewMemoryHistory(1000), nil
	case "redis":
		rh, err := NewRedisHistory(redisURL, ttl)
		if err != nil {
			return nil, err
		}
		return rh, nil
	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown history type: %s", kind))
	}
}
