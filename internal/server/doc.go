// Package server exposes the chunk receiver and the merged artifacts over
// HTTP.
//
// Routes:
//
//	POST     /upload                       multipart chunk upload
//	GET      /uploads/{fileHash}           upload session status
//	GET      /files                        completed artifacts
//	GET|HEAD /files/{fileHash}/{filename}  artifact download, Range aware
//	GET      /healthz                      metadata store and bucket readiness
//
// Failed requests carry a transfer.ErrorResponse body. Validation failures
// map to 400, integrity failures to 422, unknown sessions and artifacts to
// 404 and everything else to 500.
package server
