// Package transfer holds the protocol shared by the ferry client and server.
//
// Both sides agree on:
//   - the chunk layout of a file (fixed ChunkSize, last chunk shorter)
//   - the FileID derived from name, size and modification time
//   - the per-chunk de-duplication key (ChunkHash)
//   - the completeness predicate of an upload session
//   - the error taxonomy surfaced to callers
//
// # Completeness
//
// A session is complete iff the number of records equals
// ceil(totalSize/chunkSize) and the set of indices is exactly [0, n-1].
// Count alone is not enough: duplicated indices can reach the expected count
// while leaving gaps.
//
// # Errors
//
//	*ValidationError  malformed request, never retried
//	*IntegrityError   sequence gap or size mismatch, fatal for the transfer
//	*FailedError      chunks or ranges that failed after all retries
//	ErrCancelled      caller-initiated cancellation, not a failure
package transfer
