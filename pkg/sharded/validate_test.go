package sharded

import (
	"bytes"
	"context"
	"testing"
)

func TestValidate(t *testing.T) {
	ctx := context.Background()
	store := New(openBucket(t))

	data := testData(256 * 1024)
	parts := putAll(t, store, "abc", data, 64*1024)

	result, err := store.Validate(ctx, "abc", parts)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if !result.Valid {
		t.Errorf("expected valid, got invalid: %v", result.Errors)
	}
	if result.TotalSize != int64(len(data)) {
		t.Errorf("expected total size %d, got %d", len(data), result.TotalSize)
	}
	if result.ShardCount != 4 {
		t.Errorf("expected 4 shards, got %d", result.ShardCount)
	}
	if len(result.Errors) != 0 {
		t.Errorf("expected no errors, got %v", result.Errors)
	}
}

func TestValidateMissingShard(t *testing.T) {
	ctx := context.Background()
	store := New(openBucket(t))
	parts := putAll(t, store, "abc", testData(256*1024), 64*1024)

	// Delete a shard to simulate missing
	if err := store.DeleteShard(ctx, "abc", 2); err != nil {
		t.Fatalf("DeleteShard: %v", err)
	}

	result, err := store.Validate(ctx, "abc", parts)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid {
		t.Error("expected invalid due to missing shard")
	}
	if len(result.Missing) != 1 || result.Missing[0] != 2 {
		t.Errorf("Missing = %v, want [2]", result.Missing)
	}
}

func TestValidateSizeMismatch(t *testing.T) {
	ctx := context.Background()
	store := New(openBucket(t), WithCodec(S2))
	parts := putAll(t, store, "abc", testData(256*1024), 64*1024)

	// Replace shard 1 with a shorter one
	if _, err := store.Put(ctx, "abc", 1, 10, bytes.NewReader(make([]byte, 10))); err != nil {
		t.Fatalf("Put: %v", err)
	}

	result, err := store.Validate(ctx, "abc", parts)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid {
		t.Error("expected invalid due to size mismatch")
	}
	if len(result.SizeMismatches) != 1 || result.SizeMismatches[0] != 1 {
		t.Errorf("SizeMismatches = %v, want [1]", result.SizeMismatches)
	}
}

func TestValidateEmptySession(t *testing.T) {
	store := New(openBucket(t))

	result, err := store.Validate(context.Background(), "nothing", []Part{{0, 10}})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Valid || len(result.Missing) != 1 {
		t.Errorf("expected one missing shard, got %+v", result)
	}
}
