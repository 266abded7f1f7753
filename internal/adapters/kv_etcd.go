package adapters

import (
	"context"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	clientv3 "go.etcd.io/etcd/client/v3"

	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

const etcdDialTimeout = 5 * time.Second

// EtcdAdapter stores keys in etcd below a namespace prefix.
type EtcdAdapter struct {
	client *clientv3.Client
	prefix string
}

// OpenEtcd connects to the configured endpoints.
func OpenEtcd(cfg types.DatabaseConfig) (*EtcdAdapter, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("etcd database backend requires endpoints")
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: etcdDialTimeout,
	})
	if err != nil {
		return nil, shared.Unavailable("failed to connect to etcd", err)
	}
	return NewEtcdAdapter(client, cfg.Prefix), nil
}

// NewEtcdAdapter wraps an existing client.
func NewEtcdAdapter(client *clientv3.Client, prefix string) *EtcdAdapter {
	return &EtcdAdapter{client: client, prefix: prefix}
}

func (a *EtcdAdapter) key(key string) string {
	return a.prefix + key
}

func (a *EtcdAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := a.client.Get(ctx, a.key(key))
	if err != nil {
		return nil, shared.Unavailable("failed to read key "+key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("key not found: " + key)
	}
	return resp.Kvs[0].Value, nil
}

func (a *EtcdAdapter) Put(ctx context.Context, key string, value []byte) error {
	if _, err := a.client.Put(ctx, a.key(key), string(value)); err != nil {
		return shared.Unavailable("failed to write key "+key, err)
	}
	return nil
}

func (a *EtcdAdapter) Delete(ctx context.Context, key string) error {
	if _, err := a.client.Delete(ctx, a.key(key)); err != nil {
		return shared.Unavailable("failed to delete key "+key, err)
	}
	return nil
}

func (a *EtcdAdapter) Has(ctx context.Context, key string) (bool, error) {
	resp, err := a.client.Get(ctx, a.key(key), clientv3.WithCountOnly())
	if err != nil {
		return false, shared.Unavailable("failed to check key "+key, err)
	}
	return resp.Count > 0, nil
}

// Scan reads the whole range at one revision and iterates it in memory.
func (a *EtcdAdapter) Scan(ctx context.Context, prefix string) (ports.KVIterator, error) {
	resp, err := a.client.Get(ctx, a.key(prefix),
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, shared.Unavailable("failed to scan prefix "+prefix, err)
	}
	entries := make([]kvEntry, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		entries = append(entries, kvEntry{
			key:   strings.TrimPrefix(string(kv.Key), a.prefix),
			value: kv.Value,
		})
	}
	return &sliceIterator{entries: entries, pos: -1}, nil
}

// Batch applies all ops in one transaction.
func (a *EtcdAdapter) Batch(ctx context.Context, ops []ports.KVOp) error {
	if len(ops) == 0 {
		return nil
	}
	txnOps := make([]clientv3.Op, 0, len(ops))
	for _, op := range ops {
		if op.Delete {
			txnOps = append(txnOps, clientv3.OpDelete(a.key(op.Key)))
			continue
		}
		txnOps = append(txnOps, clientv3.OpPut(a.key(op.Key), string(op.Value)))
	}
	if _, err := a.client.Txn(ctx).Then(txnOps...).Commit(); err != nil {
		return shared.Unavailable("failed to commit batch", err)
	}
	return nil
}

// RecoverIfCorrupted is a no-op: etcd repairs itself through raft.
func (a *EtcdAdapter) RecoverIfCorrupted(ctx context.Context) error {
	return nil
}

func (a *EtcdAdapter) Close() error {
	if err := a.client.Close(); err != nil {
		return shared.Internal("failed to close etcd client", err)
	}
	return nil
}

type kvEntry struct {
	key   string
	value []byte
}

// sliceIterator iterates a materialized, sorted range.
type sliceIterator struct {
	entries []kvEntry
	pos     int
}

func (i *sliceIterator) Next() bool {
	i.pos++
	return i.pos < len(i.entries)
}

func (i *sliceIterator) Key() string {
	return i.entries[i.pos].key
}

func (i *sliceIterator) Value() []byte {
	return i.entries[i.pos].value
}

func (i *sliceIterator) Err() error {
	return nil
}

func (i *sliceIterator) Close() error {
	return nil
}

var _ ports.KVStore = (*EtcdAdapter)(nil)
