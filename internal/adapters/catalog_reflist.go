package adapters

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack"

	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
)

const (
	refListPrefix   = "reflist:"
	refBucketPrefix = "refbucket:"

	// Lists of at least this many keys are split into buckets.
	refListBucketThreshold = 1000
)

type refListRecord struct {
	Keys    []string
	Buckets []string
}

// RefListStoreAdapter persists reflists. Small lists are stored inline;
// large ones are split by the first byte of the package name into
// content-addressed buckets which unchanged lists share.
type RefListStoreAdapter struct {
	kv ports.KVStore
}

func NewRefListStoreAdapter(kv ports.KVStore) *RefListStoreAdapter {
	return &RefListStoreAdapter{kv: kv}
}

func (s *RefListStoreAdapter) Save(ctx context.Context, id string, keys []string) error {
	record := refListRecord{}
	var ops []ports.KVOp
	if len(keys) < refListBucketThreshold {
		record.Keys = keys
	} else {
		for _, bucket := range splitBuckets(keys) {
			data, err := msgpack.Marshal(bucket)
			if err != nil {
				return shared.Internal("failed to encode reflist bucket", err)
			}
			bucketID := fmt.Sprintf("%016x", xxhash.Sum64(data))
			record.Buckets = append(record.Buckets, bucketID)
			exists, err := s.kv.Has(ctx, refBucketPrefix+bucketID)
			if err != nil {
				return err
			}
			if !exists {
				ops = append(ops, ports.KVOp{Key: refBucketPrefix + bucketID, Value: data})
			}
		}
	}
	data, err := msgpack.Marshal(record)
	if err != nil {
		return shared.Internal("failed to encode reflist "+id, err)
	}
	ops = append(ops, ports.KVOp{Key: refListPrefix + id, Value: data})
	return s.kv.Batch(ctx, ops)
}

// splitBuckets groups keys by the first byte of the package name, in
// byte order.
func splitBuckets(keys []string) [][]string {
	groups := map[byte][]string{}
	for _, key := range keys {
		groups[bucketByte(key)] = append(groups[bucketByte(key)], key)
	}
	order := make([]int, 0, len(groups))
	for b := range groups {
		order = append(order, int(b))
	}
	sort.Ints(order)
	out := make([][]string, 0, len(order))
	for _, b := range order {
		out = append(out, groups[byte(b)])
	}
	return out
}

func bucketByte(key string) byte {
	_, rest, ok := strings.Cut(key, " ")
	if !ok || rest == "" {
		return 0
	}
	return rest[0]
}

func (s *RefListStoreAdapter) Load(ctx context.Context, id string) ([]string, error) {
	record, err := s.record(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(record.Buckets) == 0 {
		return record.Keys, nil
	}
	var keys []string
	for _, bucketID := range record.Buckets {
		data, err := s.kv.Get(ctx, refBucketPrefix+bucketID)
		if err != nil {
			if shared.IsNotFound(err) {
				return nil, shared.Corrupted("reflist "+id+" references missing bucket "+bucketID, err)
			}
			return nil, err
		}
		var bucket []string
		if err := msgpack.Unmarshal(data, &bucket); err != nil {
			return nil, shared.Corrupted("failed to decode reflist bucket "+bucketID, err)
		}
		keys = append(keys, bucket...)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RefListStoreAdapter) record(ctx context.Context, id string) (refListRecord, error) {
	data, err := s.kv.Get(ctx, refListPrefix+id)
	if shared.IsNotFound(err) {
		return refListRecord{}, shared.NotFound("reflist", id)
	}
	if err != nil {
		return refListRecord{}, err
	}
	var record refListRecord
	if err := msgpack.Unmarshal(data, &record); err != nil {
		return refListRecord{}, shared.Corrupted("failed to decode reflist "+id, err)
	}
	return record, nil
}

// Delete removes the list record. Its buckets stay until CleanupBuckets.
func (s *RefListStoreAdapter) Delete(ctx context.Context, id string) error {
	return s.kv.Delete(ctx, refListPrefix+id)
}

func (s *RefListStoreAdapter) IDs(ctx context.Context) ([]string, error) {
	it, err := s.kv.Scan(ctx, refListPrefix)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []string
	for it.Next() {
		out = append(out, strings.TrimPrefix(it.Key(), refListPrefix))
	}
	return out, it.Err()
}

// CleanupBuckets deletes buckets no list references and returns how many
// were (or, with dryRun, would be) deleted.
func (s *RefListStoreAdapter) CleanupBuckets(ctx context.Context, dryRun bool) (int, error) {
	ids, err := s.IDs(ctx)
	if err != nil {
		return 0, err
	}
	referenced := map[string]struct{}{}
	for _, id := range ids {
		record, err := s.record(ctx, id)
		if err != nil {
			return 0, err
		}
		for _, bucketID := range record.Buckets {
			referenced[bucketID] = struct{}{}
		}
	}

	it, err := s.kv.Scan(ctx, refBucketPrefix)
	if err != nil {
		return 0, err
	}
	var ops []ports.KVOp
	for it.Next() {
		bucketID := strings.TrimPrefix(it.Key(), refBucketPrefix)
		if _, ok := referenced[bucketID]; !ok {
			ops = append(ops, ports.KVOp{Key: it.Key(), Delete: true})
		}
	}
	if err := it.Err(); err != nil {
		_ = it.Close()
		return 0, err
	}
	_ = it.Close()
	if dryRun || len(ops) == 0 {
		return len(ops), nil
	}
	return len(ops), s.kv.Batch(ctx, ops)
}

var _ ports.RefListStore = (*RefListStoreAdapter)(nil)
