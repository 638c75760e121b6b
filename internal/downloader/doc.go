// Package downloader fetches a remote file with parallel HTTP range requests.
//
// The file is split into ranges of RangeSize bytes. Ranges are fetched by a
// bounded pool and each fetch is retried with exponential backoff:
//
//	d := downloader.New(downloader.Options{Concurrency: 3})
//	n, err := d.ToFile(ctx, "http://localhost:8080/files/abc/movie.mp4", "movie.mp4")
//
// # Output modes
//
// ToWriter streams into an io.Writer. An io.WriterAt receives every range at
// its offset as soon as it arrives; any other writer receives ranges in order,
// with early arrivals held back until their turn.
//
// ToFile writes into a pre-allocated "<path>.part" file and renames it on
// success. The partial file is removed when the download fails or is
// cancelled.
//
// Bytes returns the whole file as one slice.
//
// # Failures
//
// Ranges that still fail after every retry are reported together in a
// *transfer.FailedError. With MaxConsecutiveFailures set, that many failed
// ranges in a row cancel the rest of the download and a *CircuitBreakerError
// is returned. Cancelling ctx yields an error for which transfer.IsCancelled
// reports true.
package downloader
