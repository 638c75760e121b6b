package sharded

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"
)

func openBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

func testData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// putAll stages data as shards of shardSize and returns the parts.
func putAll(t *testing.T, store *Store, fileHash string, data []byte, shardSize int) []Part {
	t.Helper()
	ctx := context.Background()
	var parts []Part
	for i, off := 0, 0; off < len(data); i, off = i+1, off+shardSize {
		end := off + shardSize
		if end > len(data) {
			end = len(data)
		}
		size := int64(end - off)
		if _, err := store.Put(ctx, fileHash, i, size, bytes.NewReader(data[off:end])); err != nil {
			t.Fatalf("Put(%d): %v", i, err)
		}
		parts = append(parts, Part{Index: i, Size: size})
	}
	return parts
}

func TestPutAndRead(t *testing.T) {
	ctx := context.Background()
	store := New(openBucket(t))

	// 1MB split into 256KB shards (4 shards)
	data := testData(1024 * 1024)
	parts := putAll(t, store, "abc", data, 256*1024)
	if len(parts) != 4 {
		t.Fatalf("expected 4 shards, got %d", len(parts))
	}

	reader := store.NewReader(ctx, "abc", parts)
	defer reader.Close()

	result, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(result, data) {
		t.Fatal("data mismatch")
	}
}

func TestKeyLayout(t *testing.T) {
	store := New(openBucket(t))
	if got := store.Key("abc", 7); got != "chunks/abc/7" {
		t.Errorf("Key() = %q, want chunks/abc/7", got)
	}

	store = New(openBucket(t), WithPrefix("staging"))
	if got := store.Dir("abc"); got != "staging/abc/" {
		t.Errorf("Dir() = %q, want staging/abc/", got)
	}
}

func TestPutSupersedes(t *testing.T) {
	ctx := context.Background()
	store := New(openBucket(t))

	if _, err := store.Put(ctx, "abc", 0, 3, bytes.NewReader([]byte("old"))); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := store.Put(ctx, "abc", 0, 5, bytes.NewReader([]byte("newer"))); err != nil {
		t.Fatalf("Put: %v", err)
	}

	h, err := store.Open(ctx, "abc", 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()
	got, _ := io.ReadAll(h)
	if string(got) != "newer" {
		t.Errorf("shard = %q, want newer", got)
	}

	indices, err := store.Indices(ctx, "abc")
	if err != nil {
		t.Fatalf("Indices: %v", err)
	}
	if len(indices) != 1 {
		t.Errorf("expected one stored shard, got %v", indices)
	}
}

func TestPutSizeMismatch(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		size    int64
	}{
		{"short", "abc", 5},
		{"long", "abcdefg", 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := New(openBucket(t))

			_, err := store.Put(ctx, "abc", 0, tt.size, bytes.NewReader([]byte(tt.payload)))
			var se *SizeError
			if !errors.As(err, &se) {
				t.Fatalf("expected *SizeError, got %v", err)
			}
			if se.Expected != tt.size {
				t.Errorf("Expected = %d, want %d", se.Expected, tt.size)
			}

			exists, err := store.Exists(ctx, "abc", 0)
			if err != nil {
				t.Fatalf("Exists: %v", err)
			}
			if exists {
				t.Error("mismatched shard was committed")
			}
		})
	}
}

func TestShardAbort(t *testing.T) {
	ctx := context.Background()
	store := New(openBucket(t))

	shard, err := store.Create(ctx, "abc", 2, 10)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	shard.Write([]byte("12345"))
	shard.Abort()
	shard.Abort() // idempotent

	if err := shard.Close(); err != nil {
		t.Errorf("Close after Abort: %v", err)
	}
	if _, err := shard.Write([]byte("x")); err == nil {
		t.Error("expected error writing to aborted shard")
	}
	if exists, _ := store.Exists(ctx, "abc", 2); exists {
		t.Error("aborted shard exists")
	}
}

func TestCreateRejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	store := New(openBucket(t))

	if _, err := store.Create(ctx, "", 0, 1); err == nil {
		t.Error("expected error for empty file hash")
	}
	if _, err := store.Create(ctx, "../etc", 0, 1); err == nil {
		t.Error("expected error for file hash with a slash")
	}
	if _, err := store.Create(ctx, "abc", -1, 1); err == nil {
		t.Error("expected error for negative index")
	}
}

func TestStat(t *testing.T) {
	ctx := context.Background()
	store := New(openBucket(t), WithCodec(Zstd))

	data := bytes.Repeat([]byte("a"), 4096)
	if _, err := store.Put(ctx, "abc", 1, int64(len(data)), bytes.NewReader(data)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	info, err := store.Stat(ctx, "abc", 1)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size != 4096 {
		t.Errorf("Size = %d, want 4096", info.Size)
	}
	if info.StoredSize >= info.Size {
		t.Errorf("StoredSize = %d, expected compression below %d", info.StoredSize, info.Size)
	}
	if info.Codec != "zstd" {
		t.Errorf("Codec = %q, want zstd", info.Codec)
	}

	_, err = store.Stat(ctx, "abc", 9)
	if !errors.Is(err, ErrShardNotFound) {
		t.Errorf("expected ErrShardNotFound, got %v", err)
	}
}

func TestIndicesAndSessions(t *testing.T) {
	ctx := context.Background()
	store := New(openBucket(t))

	for _, idx := range []int{10, 2, 0} {
		if _, err := store.Put(ctx, "first", idx, 1, bytes.NewReader([]byte("x"))); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.Put(ctx, "second", 0, 1, bytes.NewReader([]byte("y"))); err != nil {
		t.Fatal(err)
	}
	// Not a shard; ignored by Indices.
	store.Bucket().WriteAll(ctx, "chunks/first/notes.txt", []byte("z"), nil)

	indices, err := store.Indices(ctx, "first")
	if err != nil {
		t.Fatalf("Indices: %v", err)
	}
	want := []int{0, 2, 10}
	if len(indices) != len(want) {
		t.Fatalf("Indices() = %v, want %v", indices, want)
	}
	for i := range want {
		if indices[i] != want[i] {
			t.Fatalf("Indices() = %v, want %v", indices, want)
		}
	}

	sessions, err := store.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0] != "first" || sessions[1] != "second" {
		t.Errorf("Sessions() = %v, want [first second]", sessions)
	}
}

func TestCodecsRoundTrip(t *testing.T) {
	data := testData(300 * 1024)

	for _, codec := range []Codec{None, Zstd, S2, Snappy, Zlib} {
		t.Run(codec.Name(), func(t *testing.T) {
			ctx := context.Background()
			store := New(openBucket(t), WithCodec(codec))

			parts := putAll(t, store, "abc", data, 100*1024)
			reader := store.NewReader(ctx, "abc", parts)
			defer reader.Close()

			result, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if !bytes.Equal(result, data) {
				t.Fatal("data mismatch")
			}
		})
	}
}

func TestMixedCodecs(t *testing.T) {
	ctx := context.Background()
	bucket := openBucket(t)

	New(bucket, WithCodec(S2)).Put(ctx, "abc", 0, 5, bytes.NewReader([]byte("hello")))
	New(bucket, WithCodec(Zlib)).Put(ctx, "abc", 1, 6, bytes.NewReader([]byte(" world")))

	reader := New(bucket).NewReader(ctx, "abc", []Part{{0, 5}, {1, 6}})
	defer reader.Close()

	result, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(result) != "hello world" {
		t.Errorf("got %q", result)
	}
}

func TestCodecByName(t *testing.T) {
	for _, name := range []string{"", "none", "zstd", "s2", "snappy", "zlib"} {
		if _, err := CodecByName(name); err != nil {
			t.Errorf("CodecByName(%q): %v", name, err)
		}
	}
	if _, err := CodecByName("lzma"); err == nil {
		t.Error("expected error for unknown codec")
	}
}
