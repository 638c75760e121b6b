// Package sharded stages the chunks of in-flight uploads in cloud storage.
//
// Every upload session owns one directory of shards in a bucket, keyed by the
// session's file hash. Shards are written once, may be superseded by a later
// write of the same index, and are read back in index order when the session
// is merged. The package is storage-agnostic via gocloud.dev/blob.
//
// # Writing
//
// Use [Store.Put] to persist a shard from a reader, or [Store.Create] to get a
// [Shard] writer. A shard knows its expected length; closing it with a
// different number of bytes aborts the write and returns a [*SizeError].
//
// Options:
//   - [WithPrefix]: Key prefix of the staging area (default "chunks/")
//   - [WithCodec]: At-rest codec for new shards (default [None])
//   - [WithPrefetch]: Shards to open ahead while reading (optional)
//
// # Codecs
//
// Shards can be compressed at rest with zstd, s2, snappy or zlib. The codec
// is recorded in each blob's content type, so shards written with different
// codecs can be read back together.
//
// # Reading
//
// Use [Store.NewReader] to stream a list of shards in order. Each shard must
// decode to exactly the size given for it. [Store.Open] returns a single
// shard.
//
// # Storage Layout
//
//	{bucket}/{prefix}{fileHash}/0
//	{bucket}/{prefix}{fileHash}/1
//	...
//
// Blob metadata:
//
//	{"size": "2097152"}   (decoded length of the shard)
//
// See example_test.go for usage examples.
package sharded
