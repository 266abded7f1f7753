package adapters

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

// StorageType names a blob storage back-end.
type StorageType string

const (
	StorageLocal      StorageType = "local"
	StorageFilesystem StorageType = "filesystem"
	StorageS3         StorageType = "s3"
	StorageAzure      StorageType = "azure"
	StorageSwift      StorageType = "swift"
	StorageSFTP       StorageType = "sftp"
)

type endpointFn func(ctx context.Context, cfg types.Config, name string) (ports.PublishEndpoint, error)

// StorageRegistryAdapter resolves publish storage names such as
// "s3:release" into endpoints. Endpoints are built once and reused.
type StorageRegistryAdapter struct {
	cfg       types.Config
	factories map[StorageType]endpointFn

	mu        sync.Mutex
	endpoints map[string]ports.PublishEndpoint
}

func NewStorageRegistryAdapter(cfg types.Config) *StorageRegistryAdapter {
	return &StorageRegistryAdapter{
		cfg: cfg,
		factories: map[StorageType]endpointFn{
			StorageFilesystem: filesystemEndpoint,
			StorageS3:         s3Endpoint,
			StorageAzure:      azureEndpoint,
			StorageSwift:      swiftEndpoint,
			StorageSFTP:       sftpEndpoint,
		},
		endpoints: map[string]ports.PublishEndpoint{},
	}
}

// Register adds or replaces the factory of a storage type.
func (r *StorageRegistryAdapter) Register(kind StorageType, fn func(ctx context.Context, cfg types.Config, name string) (ports.PublishEndpoint, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = fn
}

// Set pins a ready endpoint under name.
func (r *StorageRegistryAdapter) Set(name string, endpoint ports.PublishEndpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	endpoint.Name = name
	r.endpoints[name] = endpoint
}

func (r *StorageRegistryAdapter) PublishEndpoint(ctx context.Context, name string) (ports.PublishEndpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if endpoint, ok := r.endpoints[name]; ok {
		return endpoint, nil
	}
	var endpoint ports.PublishEndpoint
	if name == "" {
		endpoint = ports.PublishEndpoint{
			Storage:      NewLocalStorageAdapter(filepath.Join(r.cfg.RootDir, "public")),
			LinkMethod:   string(types.LinkMethodHardlink),
			VerifyMethod: string(types.VerifyMethodMD5),
		}
	} else {
		kind, endpointName, ok := strings.Cut(name, ":")
		if !ok || endpointName == "" {
			return ports.PublishEndpoint{}, shared.InvalidArgument("invalid publish storage name: " + name)
		}
		fn, ok := r.factories[StorageType(kind)]
		if !ok {
			return ports.PublishEndpoint{}, shared.InvalidArgument("unknown publish storage type: " + kind)
		}
		built, err := fn(ctx, r.cfg, endpointName)
		if err != nil {
			return ports.PublishEndpoint{}, err
		}
		endpoint = built
	}
	endpoint.Name = name
	r.endpoints[name] = endpoint
	return endpoint, nil
}

func endpointNotFound(kind StorageType, name string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg("published storage " + string(kind) + ":" + name + " not configured")
}

func filesystemEndpoint(ctx context.Context, cfg types.Config, name string) (ports.PublishEndpoint, error) {
	endpoint, ok := cfg.FileSystemPublishEndpoints[name]
	if !ok {
		return ports.PublishEndpoint{}, endpointNotFound(StorageFilesystem, name)
	}
	link := endpoint.LinkMethod
	if link == "" {
		link = types.LinkMethodHardlink
	}
	verify := endpoint.VerifyMethod
	if verify == "" {
		verify = types.VerifyMethodMD5
	}
	switch link {
	case types.LinkMethodHardlink, types.LinkMethodCopy, types.LinkMethodSymlink:
	default:
		return ports.PublishEndpoint{}, shared.InvalidArgument("unknown link method: " + string(link))
	}
	return ports.PublishEndpoint{
		Storage:      NewLocalStorageAdapter(endpoint.RootDir),
		LinkMethod:   string(link),
		VerifyMethod: string(verify),
	}, nil
}

func s3Endpoint(ctx context.Context, cfg types.Config, name string) (ports.PublishEndpoint, error) {
	endpoint, ok := cfg.S3PublishEndpoints[name]
	if !ok {
		return ports.PublishEndpoint{}, endpointNotFound(StorageS3, name)
	}
	storage, err := NewS3StorageAdapter(ctx, endpoint)
	if err != nil {
		return ports.PublishEndpoint{}, err
	}
	return remoteEndpoint(storage), nil
}

func azureEndpoint(ctx context.Context, cfg types.Config, name string) (ports.PublishEndpoint, error) {
	endpoint, ok := cfg.AzurePublishEndpoints[name]
	if !ok {
		return ports.PublishEndpoint{}, endpointNotFound(StorageAzure, name)
	}
	storage, err := NewAzureStorageAdapter(endpoint)
	if err != nil {
		return ports.PublishEndpoint{}, err
	}
	return remoteEndpoint(storage), nil
}

func swiftEndpoint(ctx context.Context, cfg types.Config, name string) (ports.PublishEndpoint, error) {
	endpoint, ok := cfg.SwiftPublishEndpoints[name]
	if !ok {
		return ports.PublishEndpoint{}, endpointNotFound(StorageSwift, name)
	}
	storage, err := NewSwiftStorageAdapter(ctx, endpoint)
	if err != nil {
		return ports.PublishEndpoint{}, err
	}
	return remoteEndpoint(storage), nil
}

func sftpEndpoint(ctx context.Context, cfg types.Config, name string) (ports.PublishEndpoint, error) {
	endpoint, ok := cfg.SFTPPublishEndpoints[name]
	if !ok {
		return ports.PublishEndpoint{}, endpointNotFound(StorageSFTP, name)
	}
	storage, err := NewSFTPStorageAdapter(endpoint)
	if err != nil {
		return ports.PublishEndpoint{}, err
	}
	return remoteEndpoint(storage), nil
}

// Remote endpoints always receive copies and are checked by size and MD5.
func remoteEndpoint(storage ports.BlobStorage) ports.PublishEndpoint {
	return ports.PublishEndpoint{
		Storage:      storage,
		LinkMethod:   string(types.LinkMethodCopy),
		VerifyMethod: string(types.VerifyMethodMD5),
	}
}

// OpenPoolStorage builds the blob storage that holds the package pool.
func OpenPoolStorage(ctx context.Context, cfg types.Config) (ports.BlobStorage, error) {
	pool := cfg.PackagePoolStorage
	switch StorageType(pool.Type) {
	case "", StorageLocal, StorageFilesystem:
		root := pool.Path
		if root == "" {
			root = filepath.Join(cfg.RootDir, "pool")
		}
		return NewLocalStorageAdapter(root), nil
	case StorageS3:
		return NewS3StorageAdapter(ctx, pool.S3)
	case StorageAzure:
		return NewAzureStorageAdapter(pool.Azure)
	case StorageSwift:
		return NewSwiftStorageAdapter(ctx, pool.Swift)
	case StorageSFTP:
		return NewSFTPStorageAdapter(pool.SFTP)
	default:
		return nil, shared.InvalidArgument("unknown package pool storage type: " + pool.Type)
	}
}

var _ ports.StorageRegistry = (*StorageRegistryAdapter)(nil)
