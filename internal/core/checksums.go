package core

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"os"

	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

// HashWriter computes size and every digest APT indexes carry while the
// data passes through to an optional underlying writer.
type HashWriter struct {
	md5    hash.Hash
	sha1   hash.Hash
	sha256 hash.Hash
	sha512 hash.Hash
	w      io.Writer
	size   int64
}

func NewHashWriter(w io.Writer) *HashWriter {
	return &HashWriter{
		md5:    md5.New(),
		sha1:   sha1.New(),
		sha256: sha256.New(),
		sha512: sha512.New(),
		w:      w,
	}
}

func (h *HashWriter) Write(buf []byte) (int, error) {
	if h.w != nil {
		n, err := h.w.Write(buf)
		h.add(buf[:n])
		return n, err
	}
	h.add(buf)
	return len(buf), nil
}

func (h *HashWriter) add(buf []byte) {
	h.md5.Write(buf)
	h.sha1.Write(buf)
	h.sha256.Write(buf)
	h.sha512.Write(buf)
	h.size += int64(len(buf))
}

func (h *HashWriter) Sums() types.Checksums {
	return types.Checksums{
		Size:   h.size,
		MD5:    hex.EncodeToString(h.md5.Sum(nil)),
		SHA1:   hex.EncodeToString(h.sha1.Sum(nil)),
		SHA256: hex.EncodeToString(h.sha256.Sum(nil)),
		SHA512: hex.EncodeToString(h.sha512.Sum(nil)),
	}
}

// ChecksumsOfReader drains r.
func ChecksumsOfReader(r io.Reader) (types.Checksums, error) {
	h := NewHashWriter(nil)
	if _, err := io.Copy(h, r); err != nil {
		return types.Checksums{}, shared.Internal("failed to hash data", err)
	}
	return h.Sums(), nil
}

func ChecksumsOfFile(path string) (types.Checksums, error) {
	file, err := os.Open(path)
	if err != nil {
		return types.Checksums{}, shared.Internal("failed to open "+path, err)
	}
	defer file.Close()
	return ChecksumsOfReader(file)
}

// VerifyChecksums compares every digest and the size present in expected
// with actual and names the first field that differs.
func VerifyChecksums(expected types.Checksums, actual types.Checksums) (string, bool) {
	if expected.Size > 0 && expected.Size != actual.Size {
		return "size", false
	}
	if expected.MD5 != "" && expected.MD5 != actual.MD5 {
		return "md5", false
	}
	if expected.SHA1 != "" && expected.SHA1 != actual.SHA1 {
		return "sha1", false
	}
	if expected.SHA256 != "" && expected.SHA256 != actual.SHA256 {
		return "sha256", false
	}
	if expected.SHA512 != "" && expected.SHA512 != actual.SHA512 {
		return "sha512", false
	}
	return "", true
}
