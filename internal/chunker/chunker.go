package chunker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ligustah/ferry/internal/transfer"
)

// DefaultBatchSize is the number of chunks per EventBatch.
const DefaultBatchSize = 8

// Source is a readable local file with the attributes that identify it.
type Source interface {
	io.ReaderAt
	Name() string
	Size() int64
	ModTime() time.Time
}

// Chunk is one fixed-size slice of a source file.
type Chunk struct {
	FileID string
	Index  int
	Offset int64
	Data   []byte
}

// Hash returns the de-duplication key of the chunk.
func (c Chunk) Hash() string {
	return transfer.ChunkHash(c.FileID, c.Index)
}

// Event is one message of the producer stream.
type Event interface {
	event()
}

// EventBatch carries the next chunks, in index order.
type EventBatch struct {
	Chunks []Chunk
}

// EventProgress follows every batch.
type EventProgress struct {
	Processed int
	Total     int
}

// EventDone is sent once every chunk was produced.
type EventDone struct {
	Total int
}

// EventFailed is sent when reading the source failed. Processed counts the
// chunks emitted before the failure.
type EventFailed struct {
	Err       error
	Processed int
}

func (EventBatch) event()    {}
func (EventProgress) event() {}
func (EventDone) event()     {}
func (EventFailed) event()   {}

// Options configures the producer.
type Options struct {
	// BatchSize is the maximum number of chunks per batch.
	// Default: DefaultBatchSize
	BatchSize int
}

// Plan returns the chunk layout of a file of size bytes. Every chunk except
// the last is chunkSize long.
func Plan(size, chunkSize int64) []transfer.Range {
	return transfer.Partition(size, chunkSize)
}

// Start launches the producer goroutine for src.
func Start(ctx context.Context, src Source, chunkSize int64, opts Options) <-chan Event {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	events := make(chan Event)
	go produce(ctx, src, chunkSize, opts, events)
	return events
}

func produce(ctx context.Context, src Source, chunkSize int64, opts Options, events chan<- Event) {
	defer close(events)

	processed := 0
	send := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		send(EventFailed{Err: err, Processed: processed})
	}

	defer func() {
		if r := recover(); r != nil {
			fail(fmt.Errorf("chunker: producer panic: %v", r))
		}
	}()

	if chunkSize <= 0 {
		fail(transfer.Invalid(transfer.FieldChunkSize, "must be positive, got %d", chunkSize))
		return
	}
	if src.Size() < 0 {
		fail(transfer.Invalid(transfer.FieldTotalSize, "negative size %d", src.Size()))
		return
	}

	fileID := transfer.FileID(src.Name(), src.Size(), src.ModTime())
	plan := Plan(src.Size(), chunkSize)
	total := len(plan)

	for start := 0; start < total; start += opts.BatchSize {
		if ctx.Err() != nil {
			return
		}
		end := start + opts.BatchSize
		if end > total {
			end = total
		}

		batch := make([]Chunk, 0, end-start)
		for _, r := range plan[start:end] {
			data := make([]byte, r.Length())
			n, err := src.ReadAt(data, r.Start)
			if n < len(data) {
				if err == nil || errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				fail(fmt.Errorf("chunker: read chunk %d: %w", r.Index, err))
				return
			}
			batch = append(batch, Chunk{FileID: fileID, Index: r.Index, Offset: r.Start, Data: data})
		}

		if !send(EventBatch{Chunks: batch}) {
			return
		}
		processed = end
		if !send(EventProgress{Processed: processed, Total: total}) {
			return
		}
	}

	send(EventDone{Total: total})
}

// File is a Source backed by an open file.
type File struct {
	*os.File
	info os.FileInfo
}

// Open opens path as a Source. The caller must Close it.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return &File{File: f, info: info}, nil
}

// Name returns the base name of the file.
func (f *File) Name() string { return f.info.Name() }

// Size returns the file size in bytes.
func (f *File) Size() int64 { return f.info.Size() }

// ModTime returns the last modification time.
func (f *File) ModTime() time.Time { return f.info.ModTime() }

// Bytes is an in-memory Source.
type Bytes struct {
	name    string
	data    []byte
	modTime time.Time
}

// NewBytes returns a Source over data.
func NewBytes(name string, data []byte, modTime time.Time) *Bytes {
	return &Bytes{name: name, data: data, modTime: modTime}
}

func (b *Bytes) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *Bytes) Name() string       { return b.name }
func (b *Bytes) Size() int64        { return int64(len(b.data)) }
func (b *Bytes) ModTime() time.Time { return b.modTime }
