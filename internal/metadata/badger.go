package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v3"
)

const badgerPrefix = "chunk/"

// Badger is a Store backed by an embedded Badger database.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens or creates the database in dir. An empty dir keeps the
// database in memory.
func OpenBadger(dir string, logger *slog.Logger) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("metadata: open badger %s: %w", dir, err)
	}
	return &Badger{db: db}, nil
}

func badgerSessionPrefix(fileHash string) []byte {
	return []byte(badgerPrefix + fileHash + "/")
}

func badgerKey(fileHash string, index int) []byte {
	// Zero padding keeps keys in index order.
	return []byte(fmt.Sprintf("%s%s/%010d", badgerPrefix, fileHash, index))
}

func (b *Badger) Put(ctx context.Context, r Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("metadata: marshal record: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(r.FileHash, r.Index), data)
	})
}

func (b *Badger) Find(ctx context.Context, fileHash string) ([]Record, error) {
	var records []Record
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := badgerSessionPrefix(fileHash)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var r Record
				if err := json.Unmarshal(val, &r); err != nil {
					return fmt.Errorf("metadata: decode %s: %w", it.Item().Key(), err)
				}
				records = append(records, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByIndex(records)
	return records, nil
}

func (b *Badger) Delete(ctx context.Context, fileHash string, index int) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(fileHash, index))
	})
}

func (b *Badger) DeleteAll(ctx context.Context, fileHash string) (int, error) {
	prefix := badgerSessionPrefix(fileHash)
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("metadata: delete %s: %w", k, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("metadata: flush deletes: %w", err)
	}
	return len(keys), nil
}

func (b *Badger) Sessions(ctx context.Context) ([]string, error) {
	var hashes []string
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte(badgerPrefix)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		var last []byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := bytes.TrimPrefix(it.Item().Key(), prefix)
			i := bytes.LastIndexByte(rest, '/')
			if i <= 0 {
				continue
			}
			hash := rest[:i]
			if bytes.Equal(hash, last) {
				continue
			}
			last = append(last[:0], hash...)
			hashes = append(hashes, string(hash))
		}
		return nil
	})
	sort.Strings(hashes)
	return hashes, err
}

func (b *Badger) Ping(ctx context.Context) error {
	if b.db.IsClosed() {
		return ErrClosed
	}
	return nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger routes Badger's printf-style logging into slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "badger")
}
