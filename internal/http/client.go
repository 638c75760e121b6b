package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ligustah/ferry/internal/transfer"
)

// Common errors.
var (
	ErrRangeNotSupported = errors.New("http: server does not support range requests")
	ErrNotFound          = errors.New("http: resource not found")
	ErrForbidden         = errors.New("http: access forbidden")
	ErrUnauthorized      = errors.New("http: unauthorized")
	ErrServerError       = errors.New("http: server error")
)

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	// Timeout for individual requests. Large chunks on slow links need a
	// generous value.
	// Default: 5m
	Timeout time.Duration

	// RequestsPerSecond paces outgoing requests. 0 disables pacing.
	RequestsPerSecond float64
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 16,
		Timeout:             5 * time.Minute,
	}
}

// FileInfo contains metadata about a remote file.
type FileInfo struct {
	Size          int64
	ETag          string
	AcceptsRanges bool
	ContentType   string
	LastModified  time.Time
}

// RangeResponse represents a response from a range request.
type RangeResponse struct {
	Body          io.ReadCloser
	ContentLength int64
	ContentRange  string // raw Content-Range header, e.g. "bytes 0-99/1000"
	ETag          string
}

// ChunkUpload is one chunk sent to the upload endpoint.
type ChunkUpload struct {
	Filename  string
	FileHash  string
	Hash      string
	Index     int
	TotalSize int64
	ChunkSize int64
	Data      []byte
}

// Client performs single HTTP attempts; retry policy belongs to the caller.
type Client struct {
	client  *http.Client
	opts    Options
	limiter *rate.Limiter
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = DefaultOptions().MaxIdleConnsPerHost
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // We want raw bytes for range requests
	}

	c := &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts: opts,
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	return c.client.Do(req)
}

// Head performs a HEAD request to get file metadata.
func (c *Client) Head(ctx context.Context, url string) (*FileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	if err := checkStatusCode(resp.StatusCode); err != nil {
		return nil, err
	}

	info := &FileInfo{
		Size:          resp.ContentLength,
		ETag:          cleanETag(resp.Header.Get("ETag")),
		AcceptsRanges: resp.Header.Get("Accept-Ranges") == "bytes",
		ContentType:   resp.Header.Get("Content-Type"),
	}

	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			info.LastModified = t
		}
	}

	return info, nil
}

// GetRange performs a range request to download a portion of the file.
// startByte and endByte are inclusive (like HTTP Range header).
func (c *Client) GetRange(ctx context.Context, url string, startByte, endByte int64) (*RangeResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", startByte, endByte))

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}

	// Check for successful range response
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
			return nil, ErrRangeNotSupported
		}
		return nil, checkStatusCode(resp.StatusCode)
	}

	// If server returns 200 instead of 206, it doesn't support range requests
	if resp.StatusCode == http.StatusOK {
		// Check if the Content-Range header is present (some servers return 200 but with the range)
		if resp.Header.Get("Content-Range") == "" {
			resp.Body.Close()
			return nil, ErrRangeNotSupported
		}
	}

	return &RangeResponse{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		ContentRange:  resp.Header.Get("Content-Range"),
		ETag:          cleanETag(resp.Header.Get("ETag")),
	}, nil
}

// PostChunk sends one chunk to the upload endpoint at baseURL.
func (c *Client) PostChunk(ctx context.Context, baseURL string, up ChunkUpload) (*transfer.ChunkResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := [][2]string{
		{transfer.FieldFilename, up.Filename},
		{transfer.FieldFileHash, up.FileHash},
		{transfer.FieldHash, up.Hash},
		{transfer.FieldIndex, strconv.Itoa(up.Index)},
		{transfer.FieldSize, strconv.Itoa(len(up.Data))},
		{transfer.FieldTotalSize, strconv.FormatInt(up.TotalSize, 10)},
	}
	if up.ChunkSize > 0 {
		fields = append(fields, [2]string{transfer.FieldChunkSize, strconv.FormatInt(up.ChunkSize, 10)})
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	part, err := mw.CreateFormFile(transfer.FieldChunk, up.Hash)
	if err != nil {
		return nil, fmt.Errorf("create chunk part: %w", err)
	}
	if _, err := part.Write(up.Data); err != nil {
		return nil, fmt.Errorf("write chunk part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(baseURL, "upload"), &body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out transfer.ChunkResponse
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the server-side state of the upload session for fileHash.
func (c *Client) Status(ctx context.Context, baseURL, fileHash string) (*transfer.SessionStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(baseURL, "uploads", url.PathEscape(fileHash)), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	var out transfer.SessionStatus
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListFiles returns the completed artifacts known to the server.
func (c *Client) ListFiles(ctx context.Context, baseURL string) ([]transfer.FileEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(baseURL, "files"), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	var out []transfer.FileEntry
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// doJSON executes req and decodes a JSON reply into out. Error replies are
// mapped onto the transfer error taxonomy.
func (c *Client) doJSON(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	var er transfer.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &er); err != nil || er.Kind == "" {
		return checkStatusCode(resp.StatusCode)
	}
	switch er.Kind {
	case transfer.KindValidation:
		return &transfer.ValidationError{Field: er.Field, Reason: er.Error}
	case transfer.KindIntegrity:
		idx := -1
		if er.Index != nil {
			idx = *er.Index
		}
		return &transfer.IntegrityError{FileHash: er.FileHash, Index: idx, Reason: er.Error}
	case transfer.KindNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, er.Error)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %d: %s", ErrServerError, resp.StatusCode, er.Error)
	}
	return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, er.Error)
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code >= 500:
		return fmt.Errorf("%w: %d", ErrServerError, code)
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}

// Retryable reports whether err is worth another attempt. Client errors
// (4xx) and protocol-level rejections are not.
func Retryable(err error) bool {
	if err == nil || transfer.Permanent(err) {
		return false
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrForbidden),
		errors.Is(err, ErrUnauthorized), errors.Is(err, ErrRangeNotSupported):
		return false
	}
	return true
}

func joinURL(base string, elems ...string) string {
	return strings.TrimRight(base, "/") + "/" + strings.Join(elems, "/")
}

// cleanETag removes quotes from an ETag value.
func cleanETag(etag string) string {
	etag = strings.TrimPrefix(etag, "W/")
	etag = strings.Trim(etag, `"`)
	return etag
}

// ParseContentRange parses a Content-Range header value.
// Returns start, end, total bytes. Total may be -1 if unknown.
func ParseContentRange(header string) (start, end, total int64, err error) {
	// Format: bytes start-end/total or bytes start-end/*
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}

	start, err = strconv.ParseInt(rangeParts[0], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}

	end, err = strconv.ParseInt(rangeParts[1], 10, 64)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}

	if parts[1] == "*" {
		total = -1
	} else {
		total, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
		}
	}

	return start, end, total, nil
}
