// Package uploader sends a local file to a ferry server in fixed-size chunks.
//
// A Session owns the state of one transfer. Chunks are produced off the
// caller's goroutine by the chunker package, sent in batches through a
// bounded pool and retried on transient failures:
//
//	src, err := chunker.Open(path)
//	...
//	s := uploader.NewSession(src, client, "http://localhost:8080", uploader.Options{
//	    Resume: true,
//	})
//	res, err := s.Upload(ctx)
//
// Indices acknowledged by the server are never sent again within a session.
// With Resume set the session first asks the server which chunks it already
// holds, so an upload interrupted in another process continues where it
// stopped.
package uploader
