package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("metadata: store closed")

// Record describes one staged chunk.
type Record struct {
	Hash      string    `json:"hash" dynamodbav:"hash"`
	Filename  string    `json:"filename" dynamodbav:"filename"`
	FileHash  string    `json:"fileHash" dynamodbav:"file_hash"`
	Index     int       `json:"index" dynamodbav:"chunk_index"`
	Size      int64     `json:"size" dynamodbav:"size"`
	TotalSize int64     `json:"totalSize" dynamodbav:"total_size"`
	ChunkSize int64     `json:"chunkSize" dynamodbav:"chunk_size"`
	Path      string    `json:"path" dynamodbav:"path"`
	Timestamp time.Time `json:"timestamp" dynamodbav:"timestamp"`
}

// Store persists chunk records.
type Store interface {
	// Put inserts r, replacing any record with the same file hash and index.
	Put(ctx context.Context, r Record) error
	// Find returns every record of fileHash ordered by index.
	Find(ctx context.Context, fileHash string) ([]Record, error)
	// Delete removes the record of one chunk. A missing record is not an error.
	Delete(ctx context.Context, fileHash string, index int) error
	// DeleteAll removes every record of fileHash and returns how many existed.
	DeleteAll(ctx context.Context, fileHash string) (int, error)
	// Sessions returns the file hashes that have records, sorted.
	Sessions(ctx context.Context) ([]string, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// Indices returns the chunk indices of records.
func Indices(records []Record) []int {
	indices := make([]int, len(records))
	for i, r := range records {
		indices[i] = r.Index
	}
	return indices
}

// Open returns the store named by rawURL.
func Open(ctx context.Context, rawURL string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("metadata: parse url: %w", err)
	}

	switch u.Scheme {
	case "memory", "mem":
		return NewMemory(), nil
	case "badger":
		return OpenBadger(strings.TrimPrefix(rawURL, "badger://"), logger)
	case "redis", "rediss":
		return OpenRedis(ctx, rawURL)
	case "dynamodb":
		return OpenDynamo(ctx, u)
	default:
		return nil, fmt.Errorf("metadata: unsupported store %q", rawURL)
	}
}

func sortByIndex(records []Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].Index < records[j].Index })
}
