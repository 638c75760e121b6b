// Package progress provides progress reporting for chunked transfers.
//
// This package outputs human-readable progress information to stderr,
// including completion percentage, transfer speed, and ETA.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalSize:   totalBytes,
//	    TotalChunks: numChunks,
//	    Verb:        "Uploading",
//	    Label:       path,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	reporter.ChunkStarted()
//	reporter.BytesWritten(n)
//	reporter.ChunkCompleted()
//
// # Output Format
//
//	[ferry] Uploading: holiday.mov
//	[ferry] Total size: 5.0 MiB | Chunks: 3 x 2.0 MiB | Workers: 3
//	[ferry] Progress: 40.0% | 2.0 MiB / 5.0 MiB | Speed: 1.2 MiB/s | ETA: 2s
//	[ferry] Chunks: 1 completed | 2 in-progress | 0 pending
package progress
