package types

import (
	"sort"
	"strings"
	"time"
)

// LocalRepo is a mutable, locally curated package collection.
type LocalRepo struct {
	UUID                string
	Name                string
	Comment             string
	DefaultDistribution string
	DefaultComponent    string
	Uploaders           *Uploaders
	CreatedAt           time.Time
}

// UploadersRule restricts which keys may upload packages matching a query.
type UploadersRule struct {
	Condition string   `json:"condition" yaml:"condition"`
	Allow     []string `json:"allow" yaml:"allow"`
	Deny      []string `json:"deny" yaml:"deny"`
}

// Uploaders is the upload policy of a local repo. Allow and Deny entries
// are key ids or "group:<name>" references into Groups.
type Uploaders struct {
	Groups map[string][]string `json:"groups" yaml:"groups"`
	Rules  []UploadersRule     `json:"rules" yaml:"rules"`
}

// RemoteMirror is a local shadow of a remote APT repository.
type RemoteMirror struct {
	UUID          string
	Name          string
	ArchiveRoot   string
	Distribution  string
	Components    []string
	Architectures []string

	Filter         string
	FilterWithDeps bool

	DownloadSources   bool
	DownloadUdebs     bool
	DownloadInstaller bool

	ForceComponents    bool
	SkipComponentCheck bool
	IgnoreSignatures   bool
	Keyrings           []string

	LastDownloadDate time.Time
	Meta             Stanza
	CreatedAt        time.Time
}

// IsFlat reports whether the mirror points at a flat repository.
func (m RemoteMirror) IsFlat() bool {
	return strings.HasSuffix(m.Distribution, "/") || m.Distribution == "."
}

// SnapshotSourceKind records what a snapshot was created from.
type SnapshotSourceKind string

const (
	SnapshotSourceEmpty    SnapshotSourceKind = ""
	SnapshotSourceMirror   SnapshotSourceKind = "repo"
	SnapshotSourceRepo     SnapshotSourceKind = "local"
	SnapshotSourceSnapshot SnapshotSourceKind = "snapshot"
)

// Snapshot is an immutable named reflist.
type Snapshot struct {
	UUID        string
	Name        string
	CreatedAt   time.Time
	SourceKind  SnapshotSourceKind
	SourceIDs   []string
	Description string
}

// PublishSourceKind is the kind of every source of one publication.
type PublishSourceKind string

const (
	PublishSourceLocal    PublishSourceKind = "local"
	PublishSourceSnapshot PublishSourceKind = "snapshot"
)

// SigningOptions configures Release signing for one publication.
type SigningOptions struct {
	Skip          bool
	GpgKey        string
	Keyring       string
	SecretKeyring string
	Passphrase    string `msgpack:"-"`
}

// PublishedRepo is a materialized APT tree identified by
// (storage, prefix, distribution).
type PublishedRepo struct {
	UUID         string
	Storage      string
	Prefix       string
	Distribution string
	SourceKind   PublishSourceKind

	// Sources maps component to the UUID of a snapshot or local repo.
	Sources map[string]string
	// PendingSources holds staged component edits applied by the next
	// update. Nil when nothing is staged.
	PendingSources map[string]string

	Architectures        []string
	Origin               string
	Label                string
	Suite                string
	Codename             string
	NotAutomatic         string
	ButAutomaticUpgrades string

	AcquireByHash bool
	SkipContents  bool
	SkipBz2       bool
	Signing       SigningOptions

	// RefLists maps component to the reflist id written last.
	RefLists  map[string]string
	UpdatedAt time.Time
}

// Components returns the sorted component list.
func (p PublishedRepo) Components() []string {
	out := make([]string, 0, len(p.Sources))
	for component := range p.Sources {
		out = append(out, component)
	}
	sort.Strings(out)
	return out
}

// StoragePrefix joins storage and prefix the way they are displayed.
func (p PublishedRepo) StoragePrefix() string {
	if p.Storage == "" {
		return p.Prefix
	}
	return p.Storage + ":" + p.Prefix
}
