package metadata

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ligustah/ferry/internal/transfer"
)

func record(fileHash string, index int, size int64) Record {
	return Record{
		Hash:      transfer.ChunkHash(fileHash, index),
		Filename:  "movie.mp4",
		FileHash:  fileHash,
		Index:     index,
		Size:      size,
		TotalSize: 5 * 1024 * 1024,
		ChunkSize: transfer.ChunkSize,
		Path:      "chunks/" + fileHash + "/" + strconv.Itoa(index),
		Timestamp: time.UnixMilli(1700000000000).UTC(),
	}
}

// testStore runs the behaviour every backend must share.
func testStore(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("put and find ordered", func(t *testing.T) {
		s := open(t)
		for _, idx := range []int{2, 0, 1} {
			if err := s.Put(ctx, record("aaa", idx, 100)); err != nil {
				t.Fatalf("Put(%d): %v", idx, err)
			}
		}

		records, err := s.Find(ctx, "aaa")
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("Find returned %d records, want 3", len(records))
		}
		for i, r := range records {
			if r.Index != i {
				t.Errorf("records[%d].Index = %d", i, r.Index)
			}
		}
		got, want := records[1], record("aaa", 1, 100)
		if !got.Timestamp.Equal(want.Timestamp) {
			t.Errorf("Timestamp = %v, want %v", got.Timestamp, want.Timestamp)
		}
		got.Timestamp = want.Timestamp
		if got != want {
			t.Errorf("record round trip:\n got %+v\nwant %+v", got, want)
		}
	})

	t.Run("put supersedes", func(t *testing.T) {
		s := open(t)
		s.Put(ctx, record("bbb", 0, 100))
		s.Put(ctx, record("bbb", 0, 200))

		records, err := s.Find(ctx, "bbb")
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("expected one record after re-upload, got %d", len(records))
		}
		if records[0].Size != 200 {
			t.Errorf("Size = %d, want 200", records[0].Size)
		}
	})

	t.Run("find unknown", func(t *testing.T) {
		s := open(t)
		records, err := s.Find(ctx, "none")
		if err != nil {
			t.Fatalf("Find: %v", err)
		}
		if len(records) != 0 {
			t.Errorf("expected no records, got %d", len(records))
		}
	})

	t.Run("delete one", func(t *testing.T) {
		s := open(t)
		s.Put(ctx, record("ccc", 0, 1))
		s.Put(ctx, record("ccc", 1, 1))

		if err := s.Delete(ctx, "ccc", 0); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := s.Delete(ctx, "ccc", 7); err != nil {
			t.Fatalf("Delete missing: %v", err)
		}
		records, _ := s.Find(ctx, "ccc")
		if len(records) != 1 || records[0].Index != 1 {
			t.Errorf("after Delete: %+v", records)
		}
	})

	t.Run("delete all and sessions", func(t *testing.T) {
		s := open(t)
		s.Put(ctx, record("ddd", 0, 1))
		s.Put(ctx, record("ddd", 1, 1))
		s.Put(ctx, record("eee", 0, 1))

		sessions, err := s.Sessions(ctx)
		if err != nil {
			t.Fatalf("Sessions: %v", err)
		}
		if len(sessions) != 2 || sessions[0] != "ddd" || sessions[1] != "eee" {
			t.Errorf("Sessions() = %v, want [ddd eee]", sessions)
		}

		n, err := s.DeleteAll(ctx, "ddd")
		if err != nil {
			t.Fatalf("DeleteAll: %v", err)
		}
		if n != 2 {
			t.Errorf("DeleteAll removed %d, want 2", n)
		}

		sessions, _ = s.Sessions(ctx)
		if len(sessions) != 1 || sessions[0] != "eee" {
			t.Errorf("Sessions() after DeleteAll = %v, want [eee]", sessions)
		}
	})

	t.Run("delete all large session", func(t *testing.T) {
		s := open(t)
		const n = 60 // more than one DynamoDB write batch
		for i := 0; i < n; i++ {
			if err := s.Put(ctx, record("ggg", i, 1)); err != nil {
				t.Fatalf("Put(%d): %v", i, err)
			}
		}

		removed, err := s.DeleteAll(ctx, "ggg")
		if err != nil {
			t.Fatalf("DeleteAll: %v", err)
		}
		if removed != n {
			t.Errorf("DeleteAll removed %d, want %d", removed, n)
		}
		if records, _ := s.Find(ctx, "ggg"); len(records) != 0 {
			t.Errorf("%d records left after DeleteAll", len(records))
		}
	})

	t.Run("sessions track concurrent put and delete", func(t *testing.T) {
		s := open(t)
		for i := 0; i < 20; i++ {
			if err := s.Put(ctx, record("hhh", 0, 1)); err != nil {
				t.Fatalf("Put: %v", err)
			}

			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				if err := s.Delete(ctx, "hhh", 0); err != nil {
					t.Errorf("Delete: %v", err)
				}
			}()
			go func() {
				defer wg.Done()
				if err := s.Put(ctx, record("hhh", 1, 1)); err != nil {
					t.Errorf("Put: %v", err)
				}
			}()
			wg.Wait()

			sessions, err := s.Sessions(ctx)
			if err != nil {
				t.Fatalf("Sessions: %v", err)
			}
			if len(sessions) != 1 || sessions[0] != "hhh" {
				t.Fatalf("round %d: Sessions() = %v while chunk 1 is recorded", i, sessions)
			}
			if _, err := s.DeleteAll(ctx, "hhh"); err != nil {
				t.Fatalf("DeleteAll: %v", err)
			}
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := open(t).Ping(ctx); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMemory(t *testing.T) {
	testStore(t, func(t *testing.T) Store {
		return NewMemory()
	})
}

func TestBadger(t *testing.T) {
	testStore(t, func(t *testing.T) Store {
		s, err := OpenBadger(t.TempDir(), discardLogger())
		if err != nil {
			t.Fatalf("OpenBadger: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestBadgerInMemory(t *testing.T) {
	testStore(t, func(t *testing.T) Store {
		s, err := OpenBadger("", discardLogger())
		if err != nil {
			t.Fatalf("OpenBadger: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestBadgerPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := OpenBadger(dir, discardLogger())
	if err != nil {
		t.Fatalf("OpenBadger: %v", err)
	}
	s.Put(ctx, record("fff", 3, 10))
	s.Close()

	s, err = OpenBadger(dir, discardLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	records, err := s.Find(ctx, "fff")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(records) != 1 || records[0].Index != 3 {
		t.Errorf("records after reopen: %+v", records)
	}
}

func TestMemoryClosed(t *testing.T) {
	s := NewMemory()
	s.Close()
	if err := s.Put(context.Background(), record("a", 0, 1)); err != ErrClosed {
		t.Errorf("Put after Close = %v, want ErrClosed", err)
	}
	if err := s.Ping(context.Background()); err != ErrClosed {
		t.Errorf("Ping after Close = %v, want ErrClosed", err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		url     string
		wantErr bool
	}{
		{"memory://", false},
		{"badger://" + t.TempDir(), false},
		{"ftp://example.com", true},
		{"dynamodb://", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			s, err := Open(ctx, tt.url, discardLogger())
			if tt.wantErr {
				if err == nil {
					s.Close()
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer s.Close()
			if err := s.Ping(ctx); err != nil {
				t.Errorf("Ping: %v", err)
			}
		})
	}
}

func TestIndices(t *testing.T) {
	got := Indices([]Record{{Index: 4}, {Index: 1}})
	if len(got) != 2 || got[0] != 4 || got[1] != 1 {
		t.Errorf("Indices() = %v", got)
	}
}
