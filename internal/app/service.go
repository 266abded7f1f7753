package app

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"aptkeeper/internal/adapters"
	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

const (
	defaultDownloadConcurrency = 4
	defaultDownloadRetries     = 3
	catalogCacheSize           = 4096
)

// Service orchestrates every repository operation over the configured
// stores. CLI and HTTP API share one Service.
type Service struct {
	Config            types.Config
	KV                ports.KVStore
	Catalog           ports.PackageCatalog
	RefLists          ports.RefListStore
	Repos             ports.RepoStore
	Mirrors           ports.MirrorStore
	Snapshots         ports.SnapshotStore
	Published         ports.PublishStore
	Checksums         ports.ChecksumStore
	Pool              ports.PackagePool
	Storage           ports.StorageRegistry
	Signers           ports.SignerFactory
	Downloader        ports.Downloader
	PackageDownloader ports.Downloader
	Files             ports.PackageFileReader
	Tasks             *TaskRunner
	Clock             func() time.Time
}

// WithDefaults fills unset tunables.
func WithDefaults(cfg types.Config) types.Config {
	if cfg.DownloadConcurrency <= 0 {
		cfg.DownloadConcurrency = defaultDownloadConcurrency
	}
	if cfg.DownloadRetries <= 0 {
		cfg.DownloadRetries = defaultDownloadRetries
	}
	if cfg.GpgProvider == "" {
		cfg.GpgProvider = "internal"
	}
	if cfg.DatabaseBackend.Type == "" {
		cfg.DatabaseBackend.Type = "leveldb"
	}
	return cfg
}

// OpenDatabase opens the configured KV back-end.
func OpenDatabase(cfg types.Config) (ports.KVStore, error) {
	switch cfg.DatabaseBackend.Type {
	case "", "leveldb":
		path := cfg.DatabaseBackend.DBPath
		if path == "" {
			path = filepath.Join(cfg.RootDir, "db")
		}
		return adapters.OpenLevelDB(path)
	case "etcd":
		return adapters.OpenEtcd(cfg.DatabaseBackend)
	default:
		return nil, shared.InvalidArgument("unknown database backend: " + cfg.DatabaseBackend.Type)
	}
}

// Open builds a Service on the configured database.
func Open(ctx context.Context, cfg types.Config) (*Service, error) {
	cfg = WithDefaults(cfg)
	if cfg.RootDir == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("rootDir must be configured")
	}
	kv, err := OpenDatabase(cfg)
	if err != nil {
		return nil, err
	}
	service, err := NewService(ctx, cfg, kv)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}
	return service, nil
}

// NewService wires adapters around an open KV store.
func NewService(ctx context.Context, cfg types.Config, kv ports.KVStore) (*Service, error) {
	cfg = WithDefaults(cfg)
	catalog, err := adapters.NewPackageCatalogAdapter(kv, catalogCacheSize)
	if err != nil {
		return nil, err
	}
	poolStorage, err := adapters.OpenPoolStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}
	checksums := adapters.NewChecksumStoreAdapter(kv)
	downloader := adapters.NewHTTPDownloaderAdapter(&http.Client{}, cfg.DownloadRetries, cfg.DownloadTimeout())
	return &Service{
		Config:            cfg,
		KV:                kv,
		Catalog:           catalog,
		RefLists:          adapters.NewRefListStoreAdapter(kv),
		Repos:             adapters.NewRepoStoreAdapter(kv),
		Mirrors:           adapters.NewMirrorStoreAdapter(kv),
		Snapshots:         adapters.NewSnapshotStoreAdapter(kv),
		Published:         adapters.NewPublishStoreAdapter(kv),
		Checksums:         checksums,
		Pool:              adapters.NewPackagePoolAdapter(poolStorage, checksums),
		Storage:           adapters.NewStorageRegistryAdapter(cfg),
		Signers:           adapters.NewSignerFactoryAdapter(cfg.GpgKeyring, cfg.GpgSecretKeyring),
		Downloader:        downloader,
		PackageDownloader: downloader.WithRetries(1),
		Files:             adapters.NewDebFileAdapter(),
		Tasks:             NewTaskRunner(),
		Clock:             time.Now,
	}, nil
}

func (s *Service) Close() error {
	s.Tasks.Shutdown(context.Background())
	return s.KV.Close()
}

// DependencyFlags returns the configured flags, overridden by per-call
// options when given.
func (s *Service) DependencyFlags(override *types.DependencyFlags) types.DependencyFlags {
	if override != nil {
		return *override
	}
	return s.Config.DependencyFlags()
}

// UploadDir is where /api/files stores uploaded packages.
func (s *Service) UploadDir() string {
	return filepath.Join(s.Config.RootDir, "upload")
}
