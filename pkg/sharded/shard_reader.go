package sharded

import (
	"context"
	"fmt"
	"io"
)

// ShardHandle represents an open shard with its metadata and decoded reader.
type ShardHandle struct {
	Index int
	Codec string
	io.ReadCloser
}

// Open opens a specific shard by index. The codec is taken from the stored
// blob, not from the Store options. The caller must close the returned
// ShardHandle when done.
func (s *Store) Open(ctx context.Context, fileHash string, index int) (*ShardHandle, error) {
	key := s.Key(fileHash, index)
	reader, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if isNotExist(err) {
			return nil, fmt.Errorf("sharded: %s: %w", key, ErrShardNotFound)
		}
		return nil, fmt.Errorf("sharded: open shard %d: %w", index, err)
	}

	codec := codecByContentType(reader.ContentType())
	dec, err := codec.NewReader(reader)
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("sharded: open %s decoder for shard %d: %w", codec.Name(), index, err)
	}

	return &ShardHandle{
		Index:      index,
		Codec:      codec.Name(),
		ReadCloser: &decodedReader{ReadCloser: dec, blob: reader},
	}, nil
}

// decodedReader closes both the decoder and the blob reader beneath it.
type decodedReader struct {
	io.ReadCloser
	blob io.Closer
}

func (d *decodedReader) Close() error {
	err := d.ReadCloser.Close()
	if berr := d.blob.Close(); err == nil {
		err = berr
	}
	return err
}
