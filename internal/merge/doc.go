// Package merge assembles staged chunks into the final artifact.
//
// A merge re-verifies the session before writing anything: record indices
// must be exactly [0, n-1] and every staged chunk must exist with the size
// its record names. Chunks are then streamed in index order into the
// artifact bucket at
//
//	files/<fileHash>/<filename>
//
// with blob metadata filename and filehash. Any mismatch aborts the writer so
// no partial artifact is committed, and records and chunks stay in place for
// a later attempt. Only a verified artifact triggers cleanup of the chunk
// directory and then the records.
package merge
