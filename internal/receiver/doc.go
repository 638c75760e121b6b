// Package receiver accepts uploaded chunks and completes sessions.
//
// Each chunk passes through the same steps:
//
//  1. ChunkRequest.Validate checks the declared fields against the chunk
//     layout of the session.
//  2. The payload is staged at chunks/<fileHash>/<index>; a payload whose
//     length differs from the declared size is discarded.
//  3. Any earlier record for the same index is replaced.
//  4. Completeness is recomputed from the metadata store.
//  5. A complete session is merged into its artifact.
//
// The receiver keeps no session state of its own. Merges of the same file
// hash started concurrently inside one process share a single run.
package receiver
