package adapters

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/vmihailenco/msgpack"

	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

const (
	packagePrefix = "package:"
	accessPrefix  = "access:"

	defaultPackageCacheSize = 4096
)

// PackageCatalogAdapter stores package records as msgpack under
// "package:<fingerprint>" with an LRU of decoded records in front.
type PackageCatalogAdapter struct {
	kv    ports.KVStore
	cache *lru.Cache[string, types.Package]
	now   func() time.Time
}

func NewPackageCatalogAdapter(kv ports.KVStore, cacheSize int) (*PackageCatalogAdapter, error) {
	if cacheSize <= 0 {
		cacheSize = defaultPackageCacheSize
	}
	cache, err := lru.New[string, types.Package](cacheSize)
	if err != nil {
		return nil, shared.Internal("failed to create package cache", err)
	}
	return &PackageCatalogAdapter{kv: kv, cache: cache, now: time.Now}, nil
}

// Put stores pkg under its fingerprint. Records are immutable, so an
// existing key is left untouched.
func (c *PackageCatalogAdapter) Put(ctx context.Context, pkg types.Package) error {
	key := pkg.Key()
	if c.cache.Contains(key) {
		return nil
	}
	exists, err := c.kv.Has(ctx, packagePrefix+key)
	if err != nil {
		return err
	}
	if !exists {
		data, err := msgpack.Marshal(pkg)
		if err != nil {
			return shared.Internal("failed to encode package "+pkg.String(), err)
		}
		if err := c.kv.Put(ctx, packagePrefix+key, data); err != nil {
			return err
		}
	}
	c.cache.Add(key, pkg)
	return nil
}

func (c *PackageCatalogAdapter) Get(ctx context.Context, key string) (types.Package, error) {
	if pkg, ok := c.cache.Get(key); ok {
		return pkg, nil
	}
	data, err := c.kv.Get(ctx, packagePrefix+key)
	if shared.IsNotFound(err) {
		return types.Package{}, shared.NotFound("package", key)
	}
	if err != nil {
		return types.Package{}, err
	}
	pkg, err := decodePackage(key, data)
	if err != nil {
		return types.Package{}, err
	}
	c.cache.Add(key, pkg)
	return pkg, nil
}

func decodePackage(key string, data []byte) (types.Package, error) {
	var pkg types.Package
	if err := msgpack.Unmarshal(data, &pkg); err != nil {
		return types.Package{}, shared.Corrupted("failed to decode package "+key, err)
	}
	return pkg, nil
}

func (c *PackageCatalogAdapter) Has(ctx context.Context, key string) (bool, error) {
	if c.cache.Contains(key) {
		return true, nil
	}
	return c.kv.Has(ctx, packagePrefix+key)
}

func (c *PackageCatalogAdapter) Delete(ctx context.Context, key string) error {
	c.cache.Remove(key)
	return c.kv.Batch(ctx, []ports.KVOp{
		{Key: packagePrefix + key, Delete: true},
		{Key: accessPrefix + key, Delete: true},
	})
}

// Iterate walks the records whose fingerprint starts with prefix in key
// order. Returning an error from fn stops the walk.
func (c *PackageCatalogAdapter) Iterate(ctx context.Context, prefix string, fn func(key string, pkg types.Package) error) error {
	it, err := c.kv.Scan(ctx, packagePrefix+prefix)
	if err != nil {
		return err
	}
	defer it.Close()
	for it.Next() {
		key := strings.TrimPrefix(it.Key(), packagePrefix)
		pkg, ok := c.cache.Get(key)
		if !ok {
			pkg, err = decodePackage(key, it.Value())
			if err != nil {
				return err
			}
		}
		if err := fn(key, pkg); err != nil {
			return err
		}
	}
	return it.Err()
}

func (c *PackageCatalogAdapter) Keys(ctx context.Context) ([]string, error) {
	it, err := c.kv.Scan(ctx, packagePrefix)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []string
	for it.Next() {
		out = append(out, strings.TrimPrefix(it.Key(), packagePrefix))
	}
	return out, it.Err()
}

// Touch records when a package was last referenced by an import.
func (c *PackageCatalogAdapter) Touch(ctx context.Context, key string) error {
	stamp := strconv.FormatInt(c.now().Unix(), 10)
	return c.kv.Put(ctx, accessPrefix+key, []byte(stamp))
}

// LastAccess returns the time recorded by Touch, zero when never touched.
func (c *PackageCatalogAdapter) LastAccess(ctx context.Context, key string) (time.Time, error) {
	data, err := c.kv.Get(ctx, accessPrefix+key)
	if shared.IsNotFound(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	seconds, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return time.Time{}, shared.Corrupted("invalid access time for "+key, err)
	}
	return time.Unix(seconds, 0).UTC(), nil
}

func (c *PackageCatalogAdapter) ByShortKey(ctx context.Context, name string, version string, arch string) ([]types.Package, error) {
	prefix := types.Package{Name: name, Version: version, Architecture: arch}.ShortKey() + " "
	var out []types.Package
	err := c.Iterate(ctx, prefix, func(key string, pkg types.Package) error {
		out = append(out, pkg)
		return nil
	})
	return out, err
}

func (c *PackageCatalogAdapter) Search(ctx context.Context, match func(types.Package) bool) ([]types.Package, error) {
	var out []types.Package
	err := c.Iterate(ctx, "", func(key string, pkg types.Package) error {
		if match(pkg) {
			out = append(out, pkg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Key() < out[j].Key()
	})
	return out, nil
}

var _ ports.PackageCatalog = (*PackageCatalogAdapter)(nil)
