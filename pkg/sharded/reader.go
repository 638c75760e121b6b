package sharded

import (
	"context"
	"fmt"
	"io"
)

// Reader streams a list of shards in order. Every shard must decode to the
// size given in its Part; a short or long shard fails the read with a
// *SizeError.
type Reader struct {
	store    *Store
	ctx      context.Context
	fileHash string
	parts    []Part

	next      int // index into parts of the next shard to open
	current   *ShardHandle
	remaining int64 // bytes still expected from current
	prefetch  []chan openResult
	closed    bool
	err       error
}

type openResult struct {
	handle *ShardHandle
	err    error
}

// NewReader returns a reader over the shards of fileHash listed in parts, in
// the order given.
func (s *Store) NewReader(ctx context.Context, fileHash string, parts []Part) *Reader {
	return &Reader{
		store:    s,
		ctx:      ctx,
		fileHash: fileHash,
		parts:    parts,
	}
}

// Read reads data from the concatenated shards.
func (r *Reader) Read(p []byte) (n int, err error) {
	if r.closed {
		return 0, io.ErrClosedPipe
	}
	if r.err != nil {
		return 0, r.err
	}

	for {
		// If we have a current shard, try to read from it
		if r.current != nil {
			if int64(len(p)) > r.remaining+1 {
				// Ask for one extra byte so an oversized shard is detected.
				p = p[:r.remaining+1]
			}
			n, err = r.current.Read(p)
			if int64(n) > r.remaining {
				return 0, r.fail(&SizeError{
					Index:    r.current.Index,
					Expected: r.parts[r.next-1].Size,
					Actual:   r.parts[r.next-1].Size + int64(n) - r.remaining,
				})
			}
			r.remaining -= int64(n)

			if err == io.EOF {
				if r.remaining != 0 {
					part := r.parts[r.next-1]
					return 0, r.fail(&SizeError{Index: part.Index, Expected: part.Size, Actual: part.Size - r.remaining})
				}
				r.current.Close()
				r.current = nil
				if n > 0 {
					return n, nil
				}
				continue
			}
			if err != nil {
				return n, r.fail(fmt.Errorf("sharded: read shard %d: %w", r.current.Index, err))
			}
			return n, nil
		}

		// Open next shard
		if r.next >= len(r.parts) {
			return 0, io.EOF
		}

		handle, err := r.open(r.next)
		if err != nil {
			return 0, r.fail(err)
		}
		r.current = handle
		r.remaining = r.parts[r.next].Size
		r.next++
		r.startPrefetch()
	}
}

// open returns the handle for parts[i], using a prefetched one when present.
func (r *Reader) open(i int) (*ShardHandle, error) {
	if len(r.prefetch) > 0 {
		res := <-r.prefetch[0]
		r.prefetch = r.prefetch[1:]
		return res.handle, res.err
	}
	return r.store.Open(r.ctx, r.fileHash, r.parts[i].Index)
}

// startPrefetch keeps up to PrefetchCount shards after the current one opening
// in the background.
func (r *Reader) startPrefetch() {
	n := r.store.opts.PrefetchCount
	for len(r.prefetch) < n {
		i := r.next + len(r.prefetch)
		if i >= len(r.parts) {
			return
		}
		ch := make(chan openResult, 1)
		index := r.parts[i].Index
		go func() {
			h, err := r.store.Open(r.ctx, r.fileHash, index)
			ch <- openResult{handle: h, err: err}
		}()
		r.prefetch = append(r.prefetch, ch)
	}
}

// Prefetched returns the number of shards currently opening ahead.
func (r *Reader) Prefetched() int {
	return len(r.prefetch)
}

func (r *Reader) fail(err error) error {
	r.err = err
	return err
}

// Close closes the reader and any prefetched shards.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	if r.current != nil {
		r.current.Close()
		r.current = nil
	}
	for _, ch := range r.prefetch {
		if res := <-ch; res.handle != nil {
			res.handle.Close()
		}
	}
	r.prefetch = nil
	return nil
}
