// Package chunker splits a local file into fixed-size chunks off the caller's
// goroutine.
//
// Start runs a producer goroutine and returns a channel of tagged events. A
// single consumer loop handles them in order:
//
//	for ev := range chunker.Start(ctx, src, transfer.ChunkSize, chunker.Options{}) {
//	    switch ev := ev.(type) {
//	    case chunker.EventBatch:
//	        send(ev.Chunks)
//	    case chunker.EventProgress:
//	        report(ev.Processed, ev.Total)
//	    case chunker.EventDone:
//	        // all chunks produced
//	    case chunker.EventFailed:
//	        return ev.Err
//	    }
//	}
//
// Batches hold at most Options.BatchSize chunks, which bounds how much of the
// file is resident at once. Cancelling ctx stops the producer and closes the
// channel without a terminal event.
package chunker
