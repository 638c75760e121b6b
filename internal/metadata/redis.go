package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const (
	redisSessionsKey = "ferry:sessions"
	redisRecordsKey  = "ferry:records:"
)

// Redis is a Store keeping one hash per session, field = chunk index.
type Redis struct {
	client *redis.Client
}

// OpenRedis connects to the server at rawURL (redis://[user:pass@]host:port/db).
func OpenRedis(ctx context.Context, rawURL string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("metadata: parse redis url: %w", err)
	}
	r := NewRedis(redis.NewClient(opts))
	if err := r.Ping(ctx); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// NewRedis wraps an existing client. Close closes the client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Put(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("metadata: marshal record: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, redisRecordsKey+rec.FileHash, strconv.Itoa(rec.Index), data)
		pipe.SAdd(ctx, redisSessionsKey, rec.FileHash)
		return nil
	})
	if err != nil {
		return fmt.Errorf("metadata: redis put %s: %w", rec.Hash, err)
	}
	return nil
}

func (r *Redis) Find(ctx context.Context, fileHash string) ([]Record, error) {
	fields, err := r.client.HGetAll(ctx, redisRecordsKey+fileHash).Result()
	if err != nil {
		return nil, fmt.Errorf("metadata: redis find %s: %w", fileHash, err)
	}
	records := make([]Record, 0, len(fields))
	for field, val := range fields {
		var rec Record
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			return nil, fmt.Errorf("metadata: decode %s/%s: %w", fileHash, field, err)
		}
		records = append(records, rec)
	}
	sortByIndex(records)
	return records, nil
}

// deleteScript removes one record and drops the session from the index once
// its last record is gone, in one step so a concurrent first Put cannot land
// in between. KEYS: records hash, sessions set. ARGV: index, file hash.
var deleteScript = redis.NewScript(`
redis.call("HDEL", KEYS[1], ARGV[1])
if redis.call("HLEN", KEYS[1]) == 0 then
	redis.call("SREM", KEYS[2], ARGV[2])
end
return 0
`)

func (r *Redis) Delete(ctx context.Context, fileHash string, index int) error {
	keys := []string{redisRecordsKey + fileHash, redisSessionsKey}
	if err := deleteScript.Run(ctx, r.client, keys, strconv.Itoa(index), fileHash).Err(); err != nil {
		return fmt.Errorf("metadata: redis delete %s/%d: %w", fileHash, index, err)
	}
	return nil
}

func (r *Redis) DeleteAll(ctx context.Context, fileHash string) (int, error) {
	key := redisRecordsKey + fileHash
	var hlen *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hlen = pipe.HLen(ctx, key)
		pipe.Del(ctx, key)
		pipe.SRem(ctx, redisSessionsKey, fileHash)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("metadata: redis delete all %s: %w", fileHash, err)
	}
	return int(hlen.Val()), nil
}

func (r *Redis) Sessions(ctx context.Context) ([]string, error) {
	hashes, err := r.client.SMembers(ctx, redisSessionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("metadata: redis sessions: %w", err)
	}
	sort.Strings(hashes)
	return hashes, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("metadata: redis ping: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
