package receiver

import (
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ligustah/ferry/internal/metadata"
	"github.com/ligustah/ferry/internal/transfer"
)

// maxFileHashLen bounds the session key used in storage paths.
const maxFileHashLen = 128

// ChunkRequest is the typed form of one chunk upload.
type ChunkRequest struct {
	Filename  string
	FileHash  string
	Hash      string
	Index     int
	Size      int64
	TotalSize int64
	ChunkSize int64
}

// ParseForm reads a ChunkRequest from form values. The chunk size defaults to
// transfer.ChunkSize when absent.
func ParseForm(form url.Values) (ChunkRequest, error) {
	req := ChunkRequest{
		Filename:  form.Get(transfer.FieldFilename),
		FileHash:  form.Get(transfer.FieldFileHash),
		Hash:      form.Get(transfer.FieldHash),
		ChunkSize: transfer.ChunkSize,
	}

	index, err := requiredInt(form, transfer.FieldIndex)
	if err != nil {
		return req, err
	}
	req.Index = int(index)

	if req.Size, err = requiredInt(form, transfer.FieldSize); err != nil {
		return req, err
	}
	if req.TotalSize, err = requiredInt(form, transfer.FieldTotalSize); err != nil {
		return req, err
	}
	if v := form.Get(transfer.FieldChunkSize); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, transfer.Invalid(transfer.FieldChunkSize, "not an integer: %q", v)
		}
		req.ChunkSize = n
	}
	return req, nil
}

func requiredInt(form url.Values, field string) (int64, error) {
	v := form.Get(field)
	if v == "" {
		return 0, transfer.Invalid(field, "required")
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, transfer.Invalid(field, "not an integer: %q", v)
	}
	return n, nil
}

// Validate checks the request against the chunk layout it declares.
func (r ChunkRequest) Validate() error {
	if r.Filename == "" {
		return transfer.Invalid(transfer.FieldFilename, "required")
	}
	if !isBaseName(r.Filename) {
		return transfer.Invalid(transfer.FieldFilename, "must be a plain file name, got %q", r.Filename)
	}
	if r.FileHash == "" {
		return transfer.Invalid(transfer.FieldFileHash, "required")
	}
	if !isSessionKey(r.FileHash) {
		return transfer.Invalid(transfer.FieldFileHash, "invalid characters or length")
	}
	if r.Index < 0 {
		return transfer.Invalid(transfer.FieldIndex, "must not be negative, got %d", r.Index)
	}
	hashFile, hashIndex, err := transfer.ParseChunkHash(r.Hash)
	if err != nil {
		return transfer.Invalid(transfer.FieldHash, "%v", err)
	}
	if hashFile != r.FileHash || hashIndex != r.Index {
		return transfer.Invalid(transfer.FieldHash, "names chunk %d of %s, request is chunk %d of %s", hashIndex, hashFile, r.Index, r.FileHash)
	}
	if r.Hash != transfer.ChunkHash(r.FileHash, r.Index) {
		return transfer.Invalid(transfer.FieldHash, "must be %s-%d, got %q", r.FileHash, r.Index, r.Hash)
	}
	if r.TotalSize <= 0 {
		return transfer.Invalid(transfer.FieldTotalSize, "must be positive, got %d", r.TotalSize)
	}
	if r.ChunkSize <= 0 {
		return transfer.Invalid(transfer.FieldChunkSize, "must be positive, got %d", r.ChunkSize)
	}
	if r.Size <= 0 {
		return transfer.Invalid(transfer.FieldSize, "must be positive, got %d", r.Size)
	}
	if n := transfer.ChunkCount(r.TotalSize, r.ChunkSize); r.Index >= n {
		return transfer.Invalid(transfer.FieldIndex, "%d out of range for %d chunks", r.Index, n)
	}
	if want := transfer.ChunkLength(r.TotalSize, r.ChunkSize, r.Index); r.Size != want {
		return transfer.Invalid(transfer.FieldSize, "chunk %d must be %d bytes, got %d", r.Index, want, r.Size)
	}
	return nil
}

// Record returns the metadata record of the accepted chunk.
func (r ChunkRequest) Record(path string, now time.Time) metadata.Record {
	return metadata.Record{
		Hash:      r.Hash,
		Filename:  r.Filename,
		FileHash:  r.FileHash,
		Index:     r.Index,
		Size:      r.Size,
		TotalSize: r.TotalSize,
		ChunkSize: r.ChunkSize,
		Path:      path,
		Timestamp: now,
	}
}

func isBaseName(name string) bool {
	if name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return false
	}
	return filepath.Base(name) == name
}

func isSessionKey(s string) bool {
	if len(s) > maxFileHashLen {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}
