package adapters

import (
	"bytes"
	"io"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"aptkeeper/internal/shared"
)

// Compression is an index or archive member compression scheme.
type Compression string

const (
	CompressionNone Compression = ""
	CompressionBZIP Compression = "bz2"
	CompressionGZIP Compression = "gz"
	CompressionXZ   Compression = "xz"
	CompressionZSTD Compression = "zst"
)

// ParseCompression recognizes an extension with or without the dot.
func ParseCompression(s string) Compression {
	switch strings.TrimPrefix(s, ".") {
	case "bz2":
		return CompressionBZIP
	case "gz":
		return CompressionGZIP
	case "xz":
		return CompressionXZ
	case "zst":
		return CompressionZSTD
	default:
		return CompressionNone
	}
}

// CompressionOf returns the scheme implied by a file name.
func CompressionOf(name string) Compression {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return CompressionNone
	}
	return ParseCompression(name[idx:])
}

func (c Compression) String() string {
	return string(c)
}

func (c Compression) Extension() string {
	if c == CompressionNone {
		return ""
	}
	return "." + string(c)
}

func (c Compression) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := c.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, shared.Internal("failed to compress "+c.String(), err)
	}
	if err := w.Close(); err != nil {
		return nil, shared.Internal("failed to compress "+c.String(), err)
	}
	return buf.Bytes(), nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// NewWriter compresses into w. Closing the writer does not close w.
func (c Compression) NewWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionGZIP:
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	case CompressionBZIP:
		bw, err := bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.BestCompression})
		if err != nil {
			return nil, shared.Internal("failed to create bzip2 writer", err)
		}
		return bw, nil
	case CompressionXZ:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, shared.Internal("failed to create xz writer", err)
		}
		return xw, nil
	case CompressionZSTD:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, shared.Internal("failed to create zstd writer", err)
		}
		return zw, nil
	default:
		return nil, shared.InvalidArgument("unknown compression " + c.String())
	}
}

// NewReader decompresses r.
func (c Compression) NewReader(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CompressionNone:
		return io.NopCloser(r), nil
	case CompressionGZIP:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, shared.InvalidArgument("invalid gzip data: " + err.Error())
		}
		return gr, nil
	case CompressionBZIP:
		br, err := bzip2.NewReader(r, nil)
		if err != nil {
			return nil, shared.InvalidArgument("invalid bzip2 data: " + err.Error())
		}
		return br, nil
	case CompressionXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, shared.InvalidArgument("invalid xz data: " + err.Error())
		}
		return io.NopCloser(xr), nil
	case CompressionZSTD:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, shared.InvalidArgument("invalid zstd data: " + err.Error())
		}
		return zr.IOReadCloser(), nil
	default:
		return nil, shared.InvalidArgument("unknown compression " + c.String())
	}
}

// Decompress is the in-memory counterpart of NewReader.
func (c Compression) Decompress(data []byte) ([]byte, error) {
	r, err := c.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, shared.InvalidArgument("failed to decompress " + c.String() + ": " + err.Error())
	}
	return out, nil
}
