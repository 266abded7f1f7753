package app

import (
	"time"

	"aptkeeper/internal/types"
)

type SearchRequest struct {
	Kind          SourceKind
	Name          string
	Queries       []string
	WithDeps      bool
	Architectures []string
	Flags         *types.DependencyFlags
}

type RepoCreateRequest struct {
	Name                string
	Comment             string
	DefaultDistribution string
	DefaultComponent    string
	UploadersFile       string
	// FromSnapshot seeds the repo with the content of a snapshot.
	FromSnapshot string
}

// RepoEditRequest changes only the fields that are set.
type RepoEditRequest struct {
	Name                string
	Comment             *string
	DefaultDistribution *string
	DefaultComponent    *string
	UploadersFile       *string
	// ClearUploaders drops the upload policy.
	ClearUploaders bool
}

type RepoDetails struct {
	Repo         types.LocalRepo
	PackageCount int
	Packages     []types.Package
}

type RepoAddRequest struct {
	Name         string
	Paths        []string
	RemoveFiles  bool
	ForceReplace bool
}

// AddResult reports the outcome per file. Failed files do not abort the
// rest of the batch.
type AddResult struct {
	Added    []string
	Removed  []string
	Failed   []string
	Warnings []string
}

type RepoRemoveRequest struct {
	Name    string
	Queries []string
	DryRun  bool
}

type RepoImportRequest struct {
	Mirror        string
	Repo          string
	Queries       []string
	WithDeps      bool
	DryRun        bool
	Architectures []string
	Flags         *types.DependencyFlags
}

// RepoCopyRequest copies or, with Move, moves packages between repos.
type RepoCopyRequest struct {
	Source        string
	Dest          string
	Queries       []string
	WithDeps      bool
	DryRun        bool
	Move          bool
	Architectures []string
	Flags         *types.DependencyFlags
}

// ChangeResult lists what a modifying operation did, or would do in a dry
// run.
type ChangeResult struct {
	Added   []types.Package
	Removed []types.Package
}

type IncludeRequest struct {
	Paths []string
	// RepoTemplate names the target repo, expanded with the fields of the
	// .changes file. Defaults to "{{.Distribution}}".
	RepoTemplate     string
	UploadersFile    string
	Keyrings         []string
	IgnoreSignatures bool
	AcceptUnsigned   bool
	IgnoreChecksums  bool
	NoRemoveFiles    bool
	ForceReplace     bool
}

type IncludeResult struct {
	AddResult
	Repos []string
}

type MirrorCreateRequest struct {
	Name               string
	ArchiveURL         string
	Distribution       string
	Components         []string
	Architectures      []string
	Filter             string
	FilterWithDeps     bool
	WithSources        bool
	WithUdebs          bool
	WithInstaller      bool
	ForceComponents    bool
	SkipComponentCheck bool
	IgnoreSignatures   bool
	Keyrings           []string
}

// MirrorEditRequest changes only the fields that are set.
type MirrorEditRequest struct {
	Name             string
	ArchiveURL       *string
	Filter           *string
	FilterWithDeps   *bool
	WithSources      *bool
	WithUdebs        *bool
	WithInstaller    *bool
	IgnoreSignatures *bool
	Architectures    []string
	Components       []string
	Keyrings         []string
}

type MirrorUpdateRequest struct {
	Name                 string
	IgnoreChecksums      bool
	IgnoreSignatures     bool
	SkipExistingPackages bool
	DryRun               bool
	Keyrings             []string
}

type MirrorUpdateResult struct {
	Packages        int
	Downloaded      int
	DownloadedBytes int64
	Reused          int
}

type MirrorDetails struct {
	Mirror       types.RemoteMirror
	PackageCount int
	Packages     []types.Package
}

// SnapshotCreateRequest creates a snapshot of a mirror or repo, or an
// empty snapshot when FromKind is empty.
type SnapshotCreateRequest struct {
	Name        string
	FromKind    SourceKind
	FromName    string
	Description string
}

type SnapshotMergeRequest struct {
	Dest     string
	Sources  []string
	Latest   bool
	NoRemove bool
}

type SnapshotPullRequest struct {
	Target        string
	Source        string
	Dest          string
	Queries       []string
	NoDeps        bool
	NoRemove      bool
	AllMatches    bool
	DryRun        bool
	Architectures []string
	Flags         *types.DependencyFlags
}

type SnapshotPullResult struct {
	Snapshot *types.Snapshot
	Added    []types.Package
	Removed  []types.Package
}

type SnapshotFilterRequest struct {
	Source        string
	Dest          string
	Queries       []string
	WithDeps      bool
	Architectures []string
	Flags         *types.DependencyFlags
}

type SnapshotVerifyRequest struct {
	Names         []string
	Architectures []string
	Flags         *types.DependencyFlags
}

type SnapshotDetails struct {
	Snapshot     types.Snapshot
	Sources      []string
	PackageCount int
	Packages     []types.Package
}

const (
	SortByName = "name"
	SortByTime = "time"
)

type PublishRequest struct {
	Storage      string
	Prefix       string
	Distribution string
	SourceKind   types.PublishSourceKind
	// Sources are repo or snapshot names, paired with Components by
	// position.
	Sources              []string
	Components           []string
	Architectures        []string
	Origin               string
	Label                string
	Suite                string
	Codename             string
	NotAutomatic         string
	ButAutomaticUpgrades string
	AcquireByHash        bool
	SkipContents         bool
	SkipBz2              bool
	ForceOverwrite       bool
	Signing              types.SigningOptions
}

// PublishTarget identifies one publication.
type PublishTarget struct {
	Storage      string
	Prefix       string
	Distribution string
}

func (t PublishTarget) String() string {
	prefix := t.Prefix
	if prefix == "" {
		prefix = "."
	}
	if t.Storage != "" {
		prefix = t.Storage + ":" + prefix
	}
	return prefix + "/" + t.Distribution
}

type PublishUpdateRequest struct {
	PublishTarget
	ForceOverwrite bool
	SkipCleanup    bool
	SkipContents   *bool
	SkipBz2        *bool
	AcquireByHash  *bool
	Signing        *types.SigningOptions
}

type PublishSwitchRequest struct {
	PublishTarget
	Components     []string
	Snapshots      []string
	ForceOverwrite bool
	SkipCleanup    bool
	Signing        *types.SigningOptions
}

type PublishSourceRequest struct {
	PublishTarget
	Component string
	Source    string
}

type PublishDropRequest struct {
	PublishTarget
	SkipCleanup bool
	Force       bool
}

type PublishDetails struct {
	Repo types.PublishedRepo
	// Sources maps component to the repo or snapshot name.
	Sources map[string]string
	// Pending is set when staged source changes exist.
	Pending map[string]string
}

type DBCleanupRequest struct {
	DryRun  bool
	Verbose bool
}

type DBCleanupResult struct {
	Packages       []string
	PoolFiles      []string
	RefLists       []string
	Buckets        int
	ChecksumCache  []string
	TempFiles      int
	FreedBytes     int64
	DryRun         bool
	ReferencedKeys int
}

// PackageReference names a collection holding a package.
type PackageReference struct {
	Kind SourceKind
	Name string
}

type PackageDetails struct {
	Package    types.Package
	References []PackageReference
}

// FileUpload is one file stored by the upload endpoint.
type FileUpload struct {
	Dir      string
	Name     string
	Size     int64
	Uploaded time.Time
}
