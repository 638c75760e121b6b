package sharded

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
)

// DeleteShard removes one shard. A missing shard is not an error.
func (s *Store) DeleteShard(ctx context.Context, fileHash string, index int) error {
	key := s.Key(fileHash, index)
	if err := s.bucket.Delete(ctx, key); err != nil && !isNotExist(err) {
		return fmt.Errorf("sharded: delete shard %s: %w", key, err)
	}
	return nil
}

// DeleteAll removes every shard of fileHash, including objects under its
// directory that are not shards. It returns the number of deleted objects.
//
// Returns an error if:
//   - The directory cannot be listed (permission denied, network error)
//   - An object cannot be deleted
//   - The context is cancelled (context.Canceled or context.DeadlineExceeded)
func (s *Store) DeleteAll(ctx context.Context, fileHash string) (int, error) {
	dir := s.Dir(fileHash)
	iter := s.bucket.List(&blob.ListOptions{Prefix: dir})

	var keys []string
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("sharded: list %s: %w", dir, err)
		}
		keys = append(keys, obj.Key)
	}

	deleted := 0
	for _, key := range keys {
		if err := s.bucket.Delete(ctx, key); err != nil && !isNotExist(err) {
			return deleted, fmt.Errorf("sharded: delete %s: %w", key, err)
		}
		deleted++
	}
	return deleted, nil
}
