package transfer

import "time"

// Multipart form fields of the upload endpoint.
const (
	FieldChunk     = "chunk"
	FieldFilename  = "filename"
	FieldFileHash  = "fileHash"
	FieldHash      = "hash"
	FieldIndex     = "index"
	FieldSize      = "size"
	FieldTotalSize = "totalSize"
	FieldChunkSize = "chunkSize"
)

// ChunkResponse is the reply to one accepted chunk.
type ChunkResponse struct {
	Status   string `json:"status"`
	Uploaded int    `json:"uploaded,omitempty"`
	Path     string `json:"path,omitempty"`
}

// SessionStatus describes the server-side state of one upload session.
type SessionStatus struct {
	FileHash  string `json:"fileHash"`
	Status    string `json:"status"`
	Uploaded  int    `json:"uploaded"`
	Expected  int    `json:"expected,omitempty"`
	Indices   []int  `json:"indices,omitempty"`
	Path      string `json:"path,omitempty"`
	ChunkSize int64  `json:"chunkSize,omitempty"`
}

// FileEntry is one completed artifact in the list endpoint.
type FileEntry struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	Type      string    `json:"type"` // "image" or "file"
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"createdAt"`
}

// ErrorKind values carried by error responses.
const (
	KindValidation = "validation"
	KindIntegrity  = "integrity"
	KindNotFound   = "not_found"
	KindInternal   = "internal"
)

// ErrorResponse is the JSON body of a failed request.
type ErrorResponse struct {
	Error    string `json:"error"`
	Kind     string `json:"kind"`
	Field    string `json:"field,omitempty"`
	FileHash string `json:"fileHash,omitempty"`
	Index    *int   `json:"index,omitempty"`
}
