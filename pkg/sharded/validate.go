package sharded

import (
	"context"
	"errors"
	"fmt"
)

// ValidationResult contains the results of validating staged shards.
type ValidationResult struct {
	Valid          bool     // true if all shards exist and sizes match
	TotalSize      int64    // sum of expected sizes
	ShardCount     int      // number of shards checked
	Missing        []int    // indices of shards that don't exist
	SizeMismatches []int    // indices of shards with wrong size
	Errors         []string // detailed error messages
}

// Validate checks that every part of fileHash is stored with the expected
// decoded size. It reads shard attributes without downloading the data.
//
// Returns an error only if the object store cannot be queried or the context
// is cancelled. Missing shards and size mismatches are reported in the
// ValidationResult with Valid=false.
func (s *Store) Validate(ctx context.Context, fileHash string, parts []Part) (*ValidationResult, error) {
	result := &ValidationResult{
		Valid:      true,
		ShardCount: len(parts),
		Errors:     make([]string, 0),
	}

	for _, part := range parts {
		result.TotalSize += part.Size

		info, err := s.Stat(ctx, fileHash, part.Index)
		if err != nil {
			if errors.Is(err, ErrShardNotFound) {
				result.Valid = false
				result.Missing = append(result.Missing, part.Index)
				result.Errors = append(result.Errors,
					fmt.Sprintf("shard %d missing: %s", part.Index, s.Key(fileHash, part.Index)))
				continue
			}
			return nil, fmt.Errorf("sharded: check shard %d: %w", part.Index, err)
		}

		if info.Size != part.Size {
			result.Valid = false
			result.SizeMismatches = append(result.SizeMismatches, part.Index)
			result.Errors = append(result.Errors,
				fmt.Sprintf("shard %d size mismatch: expected %d, got %d",
					part.Index, part.Size, info.Size))
		}
	}

	return result, nil
}
