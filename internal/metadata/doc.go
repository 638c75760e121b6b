// Package metadata persists chunk records of upload sessions.
//
// A Store holds at most one Record per (file hash, chunk index) and is
// queried by file hash. Receivers never cache what it returns: completeness
// is recomputed from the store on every accepted chunk.
//
// # Backends
//
// Open selects a backend by URL:
//
//	memory://                                  in-process map (tests, single run)
//	badger:///var/lib/ferry/meta               embedded Badger database (default)
//	redis://localhost:6379/0                   Redis hash per session
//	dynamodb://ferry-chunks?region=eu-west-1   DynamoDB table (file_hash, chunk_index)
//
// DynamoDB URLs accept endpoint= for local emulators and create=true to
// create the table when it does not exist.
package metadata
