package ports

import "context"

// KVOp is one mutation of an atomic batch. Delete ops ignore Value.
type KVOp struct {
	Key    string
	Value  []byte
	Delete bool
}

// KVIterator walks a consistent view of a key range in key order.
type KVIterator interface {
	Next() bool
	Key() string
	Value() []byte
	Err() error
	Close() error
}

// KVStore is a durable ordered byte map.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
	Scan(ctx context.Context, prefix string) (KVIterator, error)
	Batch(ctx context.Context, ops []KVOp) error
	RecoverIfCorrupted(ctx context.Context) error
	Close() error
}
