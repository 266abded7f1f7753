package adapters

import (
	"context"
	"errors"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/ncw/swift/v2"

	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

// SwiftStorageAdapter keeps blobs in an OpenStack Swift container.
type SwiftStorageAdapter struct {
	conn      *swift.Connection
	container string
	prefix    string
}

// NewSwiftStorageAdapter authenticates and makes sure the container exists.
func NewSwiftStorageAdapter(ctx context.Context, cfg types.SwiftEndpoint) (*SwiftStorageAdapter, error) {
	if cfg.Container == "" {
		return nil, shared.InvalidArgument("swift endpoint requires a container")
	}
	conn := &swift.Connection{
		UserName: cfg.UserName,
		ApiKey:   cfg.Password,
		AuthUrl:  cfg.AuthURL,
		Tenant:   cfg.Tenant,
		TenantId: cfg.TenantID,
		Domain:   cfg.Domain,
		Region:   cfg.Region,
	}
	if err := conn.Authenticate(ctx); err != nil {
		return nil, shared.Unavailable("swift authentication failed", err)
	}
	if err := conn.ContainerCreate(ctx, cfg.Container, nil); err != nil {
		return nil, shared.Unavailable("failed to create swift container "+cfg.Container, err)
	}
	return &SwiftStorageAdapter{
		conn:      conn,
		container: cfg.Container,
		prefix:    strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (a *SwiftStorageAdapter) object(p string) string {
	if a.prefix == "" {
		return strings.TrimPrefix(p, "/")
	}
	return path.Join(a.prefix, p)
}

func (a *SwiftStorageAdapter) PutFile(ctx context.Context, p string, r io.Reader) error {
	_, err := a.conn.ObjectPut(ctx, a.container, a.object(p), r, false, "", "", nil)
	if err != nil {
		return a.wrap("upload", p, err)
	}
	return nil
}

func (a *SwiftStorageAdapter) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	file, _, err := a.conn.ObjectOpen(ctx, a.container, a.object(p), false, nil)
	if err != nil {
		return nil, a.wrap("open", p, err)
	}
	return file, nil
}

// Stat returns the object hash, which Swift computes as MD5.
func (a *SwiftStorageAdapter) Stat(ctx context.Context, p string) (ports.BlobInfo, error) {
	info, _, err := a.conn.Object(ctx, a.container, a.object(p))
	if err != nil {
		return ports.BlobInfo{}, a.wrap("stat", p, err)
	}
	return ports.BlobInfo{Size: info.Bytes, MD5: info.Hash}, nil
}

func (a *SwiftStorageAdapter) Remove(ctx context.Context, p string) error {
	err := a.conn.ObjectDelete(ctx, a.container, a.object(p))
	if err != nil && !errors.Is(err, swift.ObjectNotFound) {
		return a.wrap("remove", p, err)
	}
	return nil
}

func (a *SwiftStorageAdapter) RemoveDir(ctx context.Context, p string) error {
	paths, err := a.List(ctx, p)
	if err != nil {
		return err
	}
	for _, item := range paths {
		if err := a.Remove(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (a *SwiftStorageAdapter) List(ctx context.Context, prefix string) ([]string, error) {
	listPrefix := a.object(prefix)
	if listPrefix != "" && !strings.HasSuffix(listPrefix, "/") {
		listPrefix += "/"
	}
	names, err := a.conn.ObjectNamesAll(ctx, a.container, &swift.ObjectsOpts{Prefix: listPrefix})
	if err != nil {
		return nil, a.wrap("list", prefix, err)
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if a.prefix != "" {
			name = strings.TrimPrefix(name, a.prefix+"/")
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (a *SwiftStorageAdapter) Rename(ctx context.Context, oldPath string, newPath string) error {
	if err := a.conn.ObjectMove(ctx, a.container, a.object(oldPath), a.container, a.object(newPath)); err != nil {
		return a.wrap("rename", oldPath, err)
	}
	return nil
}

func (a *SwiftStorageAdapter) String() string {
	if a.prefix == "" {
		return "swift:" + a.container
	}
	return "swift:" + a.container + "/" + a.prefix
}

func (a *SwiftStorageAdapter) wrap(op string, p string, err error) error {
	if errors.Is(err, swift.ObjectNotFound) {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("object not found: " + p).
			WithCause(err)
	}
	return shared.Unavailable("failed to "+op+" "+p+" on "+a.String(), err)
}

var _ ports.BlobStorage = (*SwiftStorageAdapter)(nil)
