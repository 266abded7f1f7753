package adapters

import (
	"context"
	"strings"

	"github.com/vmihailenco/msgpack"

	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

const checksumPrefix = "checksum:"

// ChecksumStoreAdapter caches full checksums of pool files in the KV
// store so repeated imports do not rehash them.
type ChecksumStoreAdapter struct {
	kv ports.KVStore
}

func NewChecksumStoreAdapter(kv ports.KVStore) *ChecksumStoreAdapter {
	return &ChecksumStoreAdapter{kv: kv}
}

// Get returns nil without error when nothing is cached for poolPath.
func (s *ChecksumStoreAdapter) Get(ctx context.Context, poolPath string) (*types.Checksums, error) {
	data, err := s.kv.Get(ctx, checksumPrefix+poolPath)
	if shared.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sums types.Checksums
	if err := msgpack.Unmarshal(data, &sums); err != nil {
		return nil, shared.Corrupted("failed to decode checksums of "+poolPath, err)
	}
	return &sums, nil
}

func (s *ChecksumStoreAdapter) Update(ctx context.Context, poolPath string, checksums *types.Checksums) error {
	data, err := msgpack.Marshal(checksums)
	if err != nil {
		return shared.Internal("failed to encode checksums", err)
	}
	return s.kv.Put(ctx, checksumPrefix+poolPath, data)
}

func (s *ChecksumStoreAdapter) Delete(ctx context.Context, poolPath string) error {
	return s.kv.Delete(ctx, checksumPrefix+poolPath)
}

// Keys returns the pool paths with cached checksums.
func (s *ChecksumStoreAdapter) Keys(ctx context.Context) ([]string, error) {
	it, err := s.kv.Scan(ctx, checksumPrefix)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []string
	for it.Next() {
		out = append(out, strings.TrimPrefix(it.Key(), checksumPrefix))
	}
	return out, it.Err()
}

var _ ports.ChecksumStore = (*ChecksumStoreAdapter)(nil)
