// Package http provides the HTTP client used by the ferry uploader and
// downloader.
//
// This package handles:
//   - Connection pooling for concurrent chunk transfers
//   - HEAD requests for size discovery
//   - Range requests for chunked downloads
//   - Multipart chunk uploads and session status queries
//   - Mapping error replies onto the transfer error taxonomy
//
// Every method performs a single attempt. Callers wrap them with pkg/retry
// and use Retryable to decide whether an error is transient.
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//
//	info, err := client.Head(ctx, url)
//	// info.Size, info.AcceptsRanges
//
//	resp, err := client.GetRange(ctx, url, startByte, endByte)
//	defer resp.Body.Close()
//
//	ack, err := client.PostChunk(ctx, serverURL, http.ChunkUpload{...})
package http
