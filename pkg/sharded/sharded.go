package sharded

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// ErrShardNotFound is returned when a shard does not exist in the store.
var ErrShardNotFound = errors.New("shard not found")

// metaSize is the blob metadata key holding the decoded shard length.
const metaSize = "size"

// SizeError is returned when a shard holds a different number of bytes than
// expected.
type SizeError struct {
	Index    int
	Expected int64
	Actual   int64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("sharded: shard %d size mismatch: expected %d bytes, got %d", e.Index, e.Expected, e.Actual)
}

// ShardInfo describes a single stored shard.
type ShardInfo struct {
	Index      int
	Key        string
	Size       int64 // decoded length
	StoredSize int64 // length at rest
	Codec      string
	ModTime    time.Time
}

// Part names one shard and the length it must decode to.
type Part struct {
	Index int
	Size  int64
}

// Options configures a Store.
type Options struct {
	Prefix        string
	Codec         Codec
	PrefetchCount int // Number of shards to open ahead during reads (0 = disabled)
}

// Option is a functional option for configuring a Store.
type Option func(*Options)

// WithPrefix sets the key prefix of the staging area. A trailing slash is
// added when missing.
func WithPrefix(prefix string) Option {
	return func(o *Options) {
		o.Prefix = prefix
	}
}

// WithCodec sets the codec used for new shards.
func WithCodec(c Codec) Option {
	return func(o *Options) {
		o.Codec = c
	}
}

// WithPrefetch sets the number of shards to open ahead during reads.
// This can improve read performance by overlapping I/O with processing.
// Set to 0 to disable prefetching (default).
func WithPrefetch(n int) Option {
	return func(o *Options) {
		o.PrefetchCount = n
	}
}

// Store stages shards of upload sessions in a bucket.
type Store struct {
	bucket *blob.Bucket
	opts   Options
}

// New returns a Store over bucket. The bucket stays owned by the caller.
func New(bucket *blob.Bucket, options ...Option) *Store {
	opts := Options{
		Prefix: "chunks/",
		Codec:  None,
	}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.Prefix != "" && !strings.HasSuffix(opts.Prefix, "/") {
		opts.Prefix += "/"
	}
	if opts.Codec == nil {
		opts.Codec = None
	}
	return &Store{bucket: bucket, opts: opts}
}

// Bucket returns the underlying bucket.
func (s *Store) Bucket() *blob.Bucket {
	return s.bucket
}

// Dir returns the key prefix holding every shard of fileHash.
func (s *Store) Dir(fileHash string) string {
	return s.opts.Prefix + fileHash + "/"
}

// Key returns the key of one shard.
func (s *Store) Key(fileHash string, index int) string {
	return s.Dir(fileHash) + strconv.Itoa(index)
}

// Put writes the shard at index from r, which must yield exactly size bytes.
// An existing shard at the same index is superseded.
func (s *Store) Put(ctx context.Context, fileHash string, index int, size int64, r io.Reader) (*ShardInfo, error) {
	shard, err := s.Create(ctx, fileHash, index, size)
	if err != nil {
		return nil, err
	}
	// One byte past size is enough to detect an oversized payload.
	if _, err := io.Copy(shard, io.LimitReader(r, size+1)); err != nil {
		shard.Abort()
		return nil, fmt.Errorf("sharded: write shard %d: %w", index, err)
	}
	if err := shard.Close(); err != nil {
		return nil, err
	}
	return shard.Info(), nil
}

// Create opens a writer for the shard at index. The shard must receive
// exactly size bytes before Close.
func (s *Store) Create(ctx context.Context, fileHash string, index int, size int64) (*Shard, error) {
	if fileHash == "" || strings.Contains(fileHash, "/") {
		return nil, fmt.Errorf("sharded: invalid file hash %q", fileHash)
	}
	if index < 0 {
		return nil, fmt.Errorf("sharded: invalid shard index %d", index)
	}

	ctx, cancel := context.WithCancel(ctx)
	key := s.Key(fileHash, index)
	w, err := s.bucket.NewWriter(ctx, key, &blob.WriterOptions{
		ContentType: s.opts.Codec.ContentType(),
		Metadata:    map[string]string{metaSize: strconv.FormatInt(size, 10)},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sharded: create shard writer: %w", err)
	}

	counter := &countingWriter{w: w}
	enc, err := s.opts.Codec.NewWriter(counter)
	if err != nil {
		cancel()
		w.Close()
		return nil, fmt.Errorf("sharded: create %s encoder: %w", s.opts.Codec.Name(), err)
	}

	return &Shard{
		store:        s,
		key:          key,
		index:        index,
		length:       size,
		writer:       w,
		writerCancel: cancel,
		enc:          enc,
		stored:       counter,
	}, nil
}

// Stat returns information about one shard.
func (s *Store) Stat(ctx context.Context, fileHash string, index int) (*ShardInfo, error) {
	key := s.Key(fileHash, index)
	attrs, err := s.bucket.Attributes(ctx, key)
	if err != nil {
		if isNotExist(err) {
			return nil, fmt.Errorf("sharded: %s: %w", key, ErrShardNotFound)
		}
		return nil, fmt.Errorf("sharded: stat shard %d: %w", index, err)
	}
	return infoFromAttributes(key, index, attrs), nil
}

// Exists reports whether the shard at index is stored.
func (s *Store) Exists(ctx context.Context, fileHash string, index int) (bool, error) {
	return s.bucket.Exists(ctx, s.Key(fileHash, index))
}

// Indices lists the stored shard indices of fileHash in ascending order.
func (s *Store) Indices(ctx context.Context, fileHash string) ([]int, error) {
	dir := s.Dir(fileHash)
	iter := s.bucket.List(&blob.ListOptions{Prefix: dir})

	var indices []int
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sharded: list %s: %w", dir, err)
		}
		idx, err := strconv.Atoi(strings.TrimPrefix(obj.Key, dir))
		if err != nil || idx < 0 {
			continue
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	return indices, nil
}

// Sessions lists the file hashes that have at least one stored shard.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	iter := s.bucket.List(&blob.ListOptions{Prefix: s.opts.Prefix, Delimiter: "/"})

	var hashes []string
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sharded: list sessions: %w", err)
		}
		if !obj.IsDir {
			continue
		}
		hashes = append(hashes, strings.TrimSuffix(strings.TrimPrefix(obj.Key, s.opts.Prefix), "/"))
	}
	sort.Strings(hashes)
	return hashes, nil
}

// Shard is a single shard being written.
type Shard struct {
	store  *Store
	key    string
	index  int
	length int64

	mu           sync.Mutex
	writer       *blob.Writer
	writerCancel context.CancelFunc // Cancel to abort the write
	enc          io.WriteCloser
	stored       *countingWriter
	size         int64
	closed       bool
	info         *ShardInfo
}

// Index returns the shard index (0, 1, 2, ...).
func (s *Shard) Index() int {
	return s.index
}

// Length returns the expected size of this shard.
func (s *Shard) Length() int64 {
	return s.length
}

// Info returns the stored shard after a successful Close, or nil.
func (s *Shard) Info() *ShardInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Write writes data to the shard.
func (s *Shard) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.New("sharded: shard is closed")
	}

	n, err = s.enc.Write(p)
	s.size += int64(n)
	return n, err
}

// Abort cancels the shard write and removes any partial data from storage.
// Safe to call multiple times or after Close.
func (s *Shard) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.abort()
}

// abort must be called with s.mu held.
func (s *Shard) abort() {
	// Cancel the context first so Close discards the upload
	s.writerCancel()
	s.writer.Close()

	// Some drivers commit partial buffers before cancellation.
	s.store.bucket.Delete(context.Background(), s.key) // Best effort, ignore errors
}

// Close flushes the shard and commits it to storage. If the shard did not
// receive exactly Length bytes nothing is committed and a *SizeError is
// returned.
func (s *Shard) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.enc.Close(); err != nil {
		s.abort()
		return fmt.Errorf("sharded: flush shard %d: %w", s.index, err)
	}
	if s.size != s.length {
		s.abort()
		return &SizeError{Index: s.index, Expected: s.length, Actual: s.size}
	}

	// Close the writer - this commits the blob to storage
	err := s.writer.Close()
	s.writerCancel()
	if err != nil {
		return fmt.Errorf("sharded: close shard writer: %w", err)
	}

	s.info = &ShardInfo{
		Index:      s.index,
		Key:        s.key,
		Size:       s.size,
		StoredSize: s.stored.n,
		Codec:      s.store.opts.Codec.Name(),
		ModTime:    time.Now(),
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func infoFromAttributes(key string, index int, attrs *blob.Attributes) *ShardInfo {
	size := attrs.Size
	if v, ok := attrs.Metadata[metaSize]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			size = n
		}
	}
	return &ShardInfo{
		Index:      index,
		Key:        key,
		Size:       size,
		StoredSize: attrs.Size,
		Codec:      codecByContentType(attrs.ContentType).Name(),
		ModTime:    attrs.ModTime,
	}
}

// isNotExist returns true if the error indicates the object doesn't exist.
func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
