package sharded

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Codec encodes shards at rest.
type Codec interface {
	// Name is the configuration name of the codec.
	Name() string
	// ContentType marks blobs written with the codec.
	ContentType() string
	NewWriter(w io.Writer) (io.WriteCloser, error)
	NewReader(r io.Reader) (io.ReadCloser, error)
}

// Built-in codecs.
var (
	None   Codec = noneCodec{}
	Zstd   Codec = zstdCodec{}
	S2     Codec = s2Codec{}
	Snappy Codec = snappyCodec{}
	Zlib   Codec = zlibCodec{}
)

var codecs = []Codec{None, Zstd, S2, Snappy, Zlib}

// CodecByName returns the codec with the given name. An empty name is None.
func CodecByName(name string) (Codec, error) {
	if name == "" {
		return None, nil
	}
	for _, c := range codecs {
		if c.Name() == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("sharded: unknown codec %q", name)
}

// codecByContentType falls back to None for blobs written without a codec.
func codecByContentType(ct string) Codec {
	for _, c := range codecs {
		if c.ContentType() == ct {
			return c
		}
	}
	return None
}

type noneCodec struct{}

func (noneCodec) Name() string        { return "none" }
func (noneCodec) ContentType() string { return "application/octet-stream" }

func (noneCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (noneCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

type zstdCodec struct{}

func (zstdCodec) Name() string        { return "zstd" }
func (zstdCodec) ContentType() string { return "application/zstd" }

func (zstdCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w)
}

func (zstdCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	d, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return d.IOReadCloser(), nil
}

type s2Codec struct{}

func (s2Codec) Name() string        { return "s2" }
func (s2Codec) ContentType() string { return "application/x-s2" }

func (s2Codec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return s2.NewWriter(w), nil
}

func (s2Codec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(s2.NewReader(r)), nil
}

type snappyCodec struct{}

func (snappyCodec) Name() string        { return "snappy" }
func (snappyCodec) ContentType() string { return "application/x-snappy-framed" }

func (snappyCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return snappy.NewBufferedWriter(w), nil
}

func (snappyCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(snappy.NewReader(r)), nil
}

type zlibCodec struct{}

func (zlibCodec) Name() string        { return "zlib" }
func (zlibCodec) ContentType() string { return "application/zlib" }

func (zlibCodec) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return zlib.NewWriter(w), nil
}

func (zlibCodec) NewReader(r io.Reader) (io.ReadCloser, error) {
	return zlib.NewReader(r)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
