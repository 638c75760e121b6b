package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/ferry/internal/transfer"
)

// ErrNotFound is returned when no artifact exists for a file hash.
var ErrNotFound = errors.New("artifact not found")

// Artifact is a committed, merged file.
type Artifact struct {
	FileHash  string
	Filename  string
	Key       string
	Path      string
	Size      int64
	CreatedAt time.Time
}

// Entry converts the artifact to its list representation.
func (a *Artifact) Entry() transfer.FileEntry {
	typ := "file"
	if strings.HasPrefix(contentType(a.Filename), "image/") {
		typ = "image"
	}
	return transfer.FileEntry{
		Filename:  a.Filename,
		Size:      a.Size,
		Type:      typ,
		Path:      a.Path,
		CreatedAt: a.CreatedAt,
	}
}

// Lookup returns the artifact merged for fileHash.
func (e *Engine) Lookup(ctx context.Context, fileHash string) (*Artifact, error) {
	prefix := e.prefix + fileHash + "/"
	iter := e.artifacts.List(&blob.ListOptions{Prefix: prefix})
	obj, err := iter.Next(ctx)
	if err == io.EOF {
		return nil, fmt.Errorf("merge: %s: %w", fileHash, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("merge: list %s: %w", prefix, err)
	}
	return e.stat(ctx, obj.Key)
}

// Open returns the artifact and a reader over its content. The caller must
// close the reader.
func (e *Engine) Open(ctx context.Context, fileHash, filename string) (*Artifact, *blob.Reader, error) {
	key := e.Key(fileHash, filename)
	a, err := e.stat(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	r, err := e.artifacts.NewReader(ctx, key, nil)
	if err != nil {
		if isNotExist(err) {
			return nil, nil, fmt.Errorf("merge: %s: %w", key, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("merge: open %s: %w", key, err)
	}
	return a, r, nil
}

// List returns every artifact ordered by creation time, then path.
func (e *Engine) List(ctx context.Context) ([]transfer.FileEntry, error) {
	iter := e.artifacts.List(&blob.ListOptions{Prefix: e.prefix})

	var entries []transfer.FileEntry
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("merge: list artifacts: %w", err)
		}
		if obj.IsDir {
			continue
		}
		a, err := e.stat(ctx, obj.Key)
		if errors.Is(err, ErrNotFound) {
			continue // deleted while listing
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, a.Entry())
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].Path < entries[j].Path
	})
	return entries, nil
}

func (e *Engine) stat(ctx context.Context, key string) (*Artifact, error) {
	attrs, err := e.artifacts.Attributes(ctx, key)
	if err != nil {
		if isNotExist(err) {
			return nil, fmt.Errorf("merge: %s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("merge: stat %s: %w", key, err)
	}

	fileHash, filename := splitKey(strings.TrimPrefix(key, e.prefix))
	if v := attrs.Metadata[MetaFilename]; v != "" {
		filename = v
	}
	if v := attrs.Metadata[MetaFileHash]; v != "" {
		fileHash = v
	}
	created := attrs.CreateTime
	if created.IsZero() {
		created = attrs.ModTime
	}

	return &Artifact{
		FileHash:  fileHash,
		Filename:  filename,
		Key:       key,
		Path:      e.URLPath(fileHash, filename),
		Size:      attrs.Size,
		CreatedAt: created,
	}, nil
}

func splitKey(rest string) (fileHash, filename string) {
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i], rest[i+1:]
	}
	return "", rest
}

// isNotExist returns true if the error indicates the object doesn't exist.
func isNotExist(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
