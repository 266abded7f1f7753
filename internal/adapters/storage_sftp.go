package adapters

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

const sftpDialTimeout = 30 * time.Second

// SFTPStorageAdapter keeps blobs below a directory on an SFTP server.
type SFTPStorageAdapter struct {
	sshClient *ssh.Client
	client    *sftp.Client
	addr      string
	root      string
}

func NewSFTPStorageAdapter(cfg types.SFTPEndpoint) (*SFTPStorageAdapter, error) {
	if cfg.Addr == "" {
		return nil, shared.InvalidArgument("sftp endpoint requires addr")
	}
	auth, err := sftpAuthMethods(cfg)
	if err != nil {
		return nil, err
	}
	hostKeys, err := sftpHostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}
	sshClient, err := ssh.Dial("tcp", cfg.Addr, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         sftpDialTimeout,
	})
	if err != nil {
		return nil, shared.Unavailable("failed to connect to "+cfg.Addr, err)
	}
	client, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, shared.Unavailable("failed to start sftp session on "+cfg.Addr, err)
	}
	return &SFTPStorageAdapter{
		sshClient: sshClient,
		client:    client,
		addr:      cfg.Addr,
		root:      path.Clean("/" + strings.TrimPrefix(cfg.RootDir, "/")),
	}, nil
}

func sftpAuthMethods(cfg types.SFTPEndpoint) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if cfg.PrivateKeyFile != "" {
		data, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, shared.InvalidArgument("failed to read private key " + cfg.PrivateKeyFile)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, shared.InvalidArgument("failed to parse private key " + cfg.PrivateKeyFile)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		methods = append(methods, ssh.Password(cfg.Password))
	}
	if len(methods) == 0 {
		return nil, shared.InvalidArgument("sftp endpoint requires password or privateKeyFile")
	}
	return methods, nil
}

func sftpHostKeyCallback(cfg types.SFTPEndpoint) (ssh.HostKeyCallback, error) {
	if cfg.InsecureIgnoreHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	file := cfg.KnownHostsFile
	if file == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, shared.InvalidArgument("sftp endpoint requires knownHostsFile")
		}
		file = path.Join(home, ".ssh", "known_hosts")
	}
	callback, err := knownhosts.New(file)
	if err != nil {
		return nil, shared.InvalidArgument("failed to load known hosts from " + file)
	}
	return callback, nil
}

func (a *SFTPStorageAdapter) full(p string) string {
	return path.Join(a.root, p)
}

func (a *SFTPStorageAdapter) PutFile(ctx context.Context, p string, r io.Reader) error {
	dest := a.full(p)
	if err := a.client.MkdirAll(path.Dir(dest)); err != nil {
		return a.wrap("create directory for", p, err)
	}
	tmp := dest + ".tmp-" + uuid.NewString()
	file, err := a.client.Create(tmp)
	if err != nil {
		return a.wrap("create", p, err)
	}
	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		_ = a.client.Remove(tmp)
		return a.wrap("write", p, err)
	}
	if err := file.Close(); err != nil {
		_ = a.client.Remove(tmp)
		return a.wrap("close", p, err)
	}
	if err := a.client.PosixRename(tmp, dest); err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("path", p).Msg("posix rename unsupported, falling back")
		_ = a.client.Remove(dest)
		if err := a.client.Rename(tmp, dest); err != nil {
			_ = a.client.Remove(tmp)
			return a.wrap("rename", p, err)
		}
	}
	return nil
}

func (a *SFTPStorageAdapter) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	file, err := a.client.Open(a.full(p))
	if err != nil {
		return nil, a.wrap("open", p, err)
	}
	return file, nil
}

func (a *SFTPStorageAdapter) Stat(ctx context.Context, p string) (ports.BlobInfo, error) {
	info, err := a.client.Stat(a.full(p))
	if err != nil {
		return ports.BlobInfo{}, a.wrap("stat", p, err)
	}
	return ports.BlobInfo{Size: info.Size()}, nil
}

func (a *SFTPStorageAdapter) Remove(ctx context.Context, p string) error {
	err := a.client.Remove(a.full(p))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return a.wrap("remove", p, err)
	}
	return nil
}

func (a *SFTPStorageAdapter) RemoveDir(ctx context.Context, p string) error {
	err := a.client.RemoveAll(a.full(p))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return a.wrap("remove directory", p, err)
	}
	return nil
}

func (a *SFTPStorageAdapter) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	walker := a.client.Walk(a.full(prefix))
	for walker.Step() {
		if err := walker.Err(); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, a.wrap("list", prefix, err)
		}
		if walker.Stat().IsDir() {
			continue
		}
		out = append(out, strings.TrimPrefix(walker.Path(), a.root+"/"))
	}
	sort.Strings(out)
	return out, nil
}

func (a *SFTPStorageAdapter) Rename(ctx context.Context, oldPath string, newPath string) error {
	dest := a.full(newPath)
	if err := a.client.MkdirAll(path.Dir(dest)); err != nil {
		return a.wrap("create directory for", newPath, err)
	}
	if err := a.client.PosixRename(a.full(oldPath), dest); err != nil {
		return a.wrap("rename", oldPath, err)
	}
	return nil
}

func (a *SFTPStorageAdapter) String() string {
	return "sftp:" + a.addr + a.root
}

func (a *SFTPStorageAdapter) Close() error {
	if err := a.client.Close(); err != nil {
		_ = a.sshClient.Close()
		return shared.Internal("failed to close sftp session", err)
	}
	return a.sshClient.Close()
}

func (a *SFTPStorageAdapter) wrap(op string, p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("file not found: " + p).
			WithCause(err)
	}
	return shared.Unavailable("failed to "+op+" "+p+" on "+a.String(), err)
}

var _ ports.BlobStorage = (*SFTPStorageAdapter)(nil)
