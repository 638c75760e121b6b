package transfer

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring"
)

// Protocol defaults.
const (
	ChunkSize = 2 * 1024 * 1024 // 2 MiB

	UploadConcurrency   = 3
	UploadAttempts      = 3
	DownloadConcurrency = 3
	DownloadAttempts    = 3
)

// Upload session states reported by the receiver.
const (
	StatusUploading = "uploading"
	StatusComplete  = "complete"
)

// FileID derives the stable identifier of a file transfer session.
// The same name, size and modification time always yield the same ID so that
// a retried upload resumes instead of restarting.
func FileID(name string, size int64, modTime time.Time) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s-%d-%d", name, size, modTime.UnixMilli())))
	return hex.EncodeToString(sum[:])
}

// ChunkHash returns the de-duplication key of a chunk.
func ChunkHash(fileID string, index int) string {
	return fileID + "-" + strconv.Itoa(index)
}

// ParseChunkHash splits a chunk hash back into file ID and index.
func ParseChunkHash(hash string) (string, int, error) {
	i := strings.LastIndexByte(hash, '-')
	if i <= 0 || i == len(hash)-1 {
		return "", 0, fmt.Errorf("transfer: malformed chunk hash %q", hash)
	}
	idx, err := strconv.Atoi(hash[i+1:])
	if err != nil || idx < 0 {
		return "", 0, fmt.Errorf("transfer: malformed chunk index in %q", hash)
	}
	return hash[:i], idx, nil
}

// ChunkCount returns the number of chunks of chunkSize needed for size bytes.
func ChunkCount(size, chunkSize int64) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + chunkSize - 1) / chunkSize)
}

// ChunkLength returns the byte length of the chunk at index, or 0 when the
// index is outside the file.
func ChunkLength(size, chunkSize int64, index int) int64 {
	n := ChunkCount(size, chunkSize)
	if index < 0 || index >= n {
		return 0
	}
	if index == n-1 {
		return size - chunkSize*int64(n-1)
	}
	return chunkSize
}

// Range is one span of a remote object. End is inclusive, like the HTTP
// Range header.
type Range struct {
	Index int
	Start int64
	End   int64
}

// Length returns the number of bytes in the range.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// Header returns the value of the HTTP Range header for r.
func (r Range) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// Partition splits [0, size) into consecutive ranges of at most rangeSize bytes.
func Partition(size, rangeSize int64) []Range {
	n := ChunkCount(size, rangeSize)
	ranges := make([]Range, n)
	for i := 0; i < n; i++ {
		start := int64(i) * rangeSize
		end := start + rangeSize - 1
		if end >= size {
			end = size - 1
		}
		ranges[i] = Range{Index: i, Start: start, End: end}
	}
	return ranges
}

// IndexSet builds a bitmap of the given chunk indices.
func IndexSet(indices []int) *roaring.Bitmap {
	bm := roaring.New()
	for _, idx := range indices {
		if idx >= 0 {
			bm.Add(uint32(idx))
		}
	}
	return bm
}

// Contiguous reports whether indices, once de-duplicated, are exactly [0, n-1].
func Contiguous(indices []int, n int) bool {
	if n <= 0 {
		return false
	}
	for _, idx := range indices {
		if idx < 0 {
			return false
		}
	}
	bm := IndexSet(indices)
	return bm.GetCardinality() == uint64(n) && bm.Minimum() == 0 && bm.Maximum() == uint32(n-1)
}

// Complete reports whether a session holding the given record indices is
// complete for a file of totalSize split into chunkSize chunks.
func Complete(indices []int, totalSize, chunkSize int64) bool {
	n := ChunkCount(totalSize, chunkSize)
	if n == 0 || len(indices) != n {
		return false
	}
	return Contiguous(indices, n)
}

// Missing returns the indices in [0, n) absent from indices, sorted.
func Missing(indices []int, n int) []int {
	bm := IndexSet(indices)
	var missing []int
	for i := 0; i < n; i++ {
		if !bm.Contains(uint32(i)) {
			missing = append(missing, i)
		}
	}
	return missing
}
