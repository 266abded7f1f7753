package adapters

import (
	"context"
	"errors"
	"os"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
)

// LevelDBAdapter is the default embedded KV store.
type LevelDBAdapter struct {
	db   *leveldb.DB
	path string
}

// OpenLevelDB opens or creates the database at path. A corrupted
// database is reported as Corrupted; call RecoverLevelDB to repair it.
func OpenLevelDB(path string) (*LevelDBAdapter, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, shared.Internal("failed to create database directory", err)
	}
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		if lerrors.IsCorrupted(err) {
			return nil, shared.Corrupted("database is corrupted, run db recover", err)
		}
		return nil, shared.Unavailable("failed to open database at "+path, err)
	}
	return &LevelDBAdapter{db: db, path: path}, nil
}

// OpenMemoryDB opens a LevelDB instance on in-memory storage.
func OpenMemoryDB() (*LevelDBAdapter, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, shared.Internal("failed to open in-memory database", err)
	}
	return &LevelDBAdapter{db: db}, nil
}

// RecoverLevelDB rebuilds the manifest of a damaged database.
func RecoverLevelDB(path string) error {
	db, err := leveldb.RecoverFile(path, nil)
	if err != nil {
		return shared.Corrupted("failed to recover database at "+path, err)
	}
	return db.Close()
}

func (a *LevelDBAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := a.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("key not found: " + key)
	}
	if err != nil {
		return nil, a.wrap("failed to read key "+key, err)
	}
	return value, nil
}

func (a *LevelDBAdapter) Put(ctx context.Context, key string, value []byte) error {
	if err := a.db.Put([]byte(key), value, nil); err != nil {
		return a.wrap("failed to write key "+key, err)
	}
	return nil
}

func (a *LevelDBAdapter) Delete(ctx context.Context, key string) error {
	if err := a.db.Delete([]byte(key), nil); err != nil {
		return a.wrap("failed to delete key "+key, err)
	}
	return nil
}

func (a *LevelDBAdapter) Has(ctx context.Context, key string) (bool, error) {
	ok, err := a.db.Has([]byte(key), nil)
	if err != nil {
		return false, a.wrap("failed to check key "+key, err)
	}
	return ok, nil
}

// Scan iterates a snapshot so concurrent writers do not disturb the walk.
func (a *LevelDBAdapter) Scan(ctx context.Context, prefix string) (ports.KVIterator, error) {
	snapshot, err := a.db.GetSnapshot()
	if err != nil {
		return nil, a.wrap("failed to snapshot database", err)
	}
	it := snapshot.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	return &levelDBIterator{it: it, snapshot: snapshot}, nil
}

func (a *LevelDBAdapter) Batch(ctx context.Context, ops []ports.KVOp) error {
	batch := new(leveldb.Batch)
	for _, op := range ops {
		if op.Delete {
			batch.Delete([]byte(op.Key))
			continue
		}
		batch.Put([]byte(op.Key), op.Value)
	}
	if err := a.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return a.wrap("failed to write batch", err)
	}
	return nil
}

// RecoverIfCorrupted verifies the database by compacting it, which reads
// every table. In-memory databases are never corrupted.
func (a *LevelDBAdapter) RecoverIfCorrupted(ctx context.Context) error {
	if a.path == "" {
		return nil
	}
	err := a.db.CompactRange(util.Range{})
	if err == nil {
		return nil
	}
	if !lerrors.IsCorrupted(err) {
		return shared.Internal("database compaction failed", err)
	}
	log.Ctx(ctx).Warn().Str("path", a.path).Msg("database corruption detected, recovering")
	if err := a.db.Close(); err != nil {
		return shared.Internal("failed to close database", err)
	}
	if err := RecoverLevelDB(a.path); err != nil {
		return err
	}
	db, err := leveldb.OpenFile(a.path, nil)
	if err != nil {
		return shared.Corrupted("failed to reopen database", err)
	}
	a.db = db
	return nil
}

func (a *LevelDBAdapter) Close() error {
	if err := a.db.Close(); err != nil {
		return shared.Internal("failed to close database", err)
	}
	return nil
}

func (a *LevelDBAdapter) wrap(msg string, err error) error {
	if lerrors.IsCorrupted(err) {
		return shared.Corrupted(msg, err)
	}
	return shared.Internal(msg, err)
}

type levelDBIterator struct {
	it       iterator.Iterator
	snapshot *leveldb.Snapshot
}

func (i *levelDBIterator) Next() bool {
	return i.it.Next()
}

func (i *levelDBIterator) Key() string {
	return string(i.it.Key())
}

// Value copies the current value; the iterator reuses its buffer.
func (i *levelDBIterator) Value() []byte {
	return append([]byte(nil), i.it.Value()...)
}

func (i *levelDBIterator) Err() error {
	if err := i.it.Error(); err != nil {
		return shared.Internal("database iteration failed", err)
	}
	return nil
}

func (i *levelDBIterator) Close() error {
	i.it.Release()
	i.snapshot.Release()
	return nil
}

var _ ports.KVStore = (*LevelDBAdapter)(nil)
