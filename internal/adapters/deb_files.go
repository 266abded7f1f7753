package adapters

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/blakesmith/ar"

	"aptkeeper/internal/core"
	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

// DebFileAdapter reads metadata from .deb, .udeb, .dsc and .changes files.
type DebFileAdapter struct{}

func NewDebFileAdapter() DebFileAdapter {
	return DebFileAdapter{}
}

// ReadDebControl returns the control paragraph of a binary package.
func (a DebFileAdapter) ReadDebControl(ctx context.Context, path string) (types.Stanza, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, shared.Internal("failed to open "+path, err)
	}
	defer file.Close()

	var stanza types.Stanza
	err = walkArMember(file, "control.tar", func(member io.Reader) error {
		return walkTar(member, func(hdr *tar.Header, r io.Reader) (bool, error) {
			if strings.TrimPrefix(hdr.Name, "./") != "control" {
				return false, nil
			}
			stanzas, err := core.ParseControl(r)
			if err != nil {
				return true, err
			}
			if len(stanzas) != 1 {
				return true, shared.InvalidArgument("control file of " + path + " must hold one paragraph")
			}
			stanza = stanzas[0]
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}
	if stanza == nil {
		return nil, shared.InvalidArgument("unable to find control file in " + path)
	}
	return stanza, nil
}

// ReadDebContents lists the files a binary package installs, without the
// leading "./".
func (a DebFileAdapter) ReadDebContents(ctx context.Context, r io.Reader) ([]string, error) {
	var files []string
	err := walkArMember(r, "data.tar", func(member io.Reader) error {
		return walkTar(member, func(hdr *tar.Header, _ io.Reader) (bool, error) {
			if hdr.Typeflag == tar.TypeDir {
				return false, nil
			}
			name := strings.TrimPrefix(strings.TrimPrefix(hdr.Name, "."), "/")
			if name != "" {
				files = append(files, name)
			}
			return false, nil
		})
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (a DebFileAdapter) ReadDscControl(ctx context.Context, path string, verifier ports.Verifier) (types.Stanza, error) {
	return readSignedControl(ctx, path, verifier)
}

func (a DebFileAdapter) ReadChanges(ctx context.Context, path string, verifier ports.Verifier) (types.Stanza, error) {
	return readSignedControl(ctx, path, verifier)
}

// readSignedControl parses a possibly clearsigned single-paragraph file.
// With a verifier the signature must be valid.
func readSignedControl(ctx context.Context, path string, verifier ports.Verifier) (types.Stanza, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg("file not found: " + path)
		}
		return nil, shared.Internal("failed to read "+path, err)
	}
	var text []byte
	if verifier != nil {
		text, err = verifier.VerifyClearsigned(ctx, data)
		if err != nil {
			return nil, err
		}
	} else if block, _ := clearsign.Decode(data); block != nil {
		text = block.Bytes
	} else {
		text = data
	}
	stanzas, err := core.ParseControl(bytes.NewReader(text))
	if err != nil {
		return nil, err
	}
	if len(stanzas) != 1 {
		return nil, shared.InvalidArgument(path + " must hold exactly one paragraph")
	}
	return stanzas[0], nil
}

// walkArMember calls fn with the decompressed content of the first ar
// member whose name starts with prefix (e.g. "control.tar" matches
// control.tar.gz).
func walkArMember(r io.Reader, prefix string, fn func(io.Reader) error) error {
	reader := ar.NewReader(r)
	for {
		hdr, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return shared.InvalidArgument("archive has no " + prefix + " member")
		}
		if err != nil {
			return shared.InvalidArgument("invalid deb archive: " + err.Error())
		}
		name := strings.TrimSuffix(hdr.Name, "/")
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		member, err := CompressionOf(name).NewReader(reader)
		if err != nil {
			return err
		}
		defer member.Close()
		return fn(member)
	}
}

// walkTar visits regular entries until fn reports it is done.
func walkTar(r io.Reader, fn func(*tar.Header, io.Reader) (bool, error)) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return shared.InvalidArgument("invalid tar member: " + err.Error())
		}
		done, err := fn(hdr, tr)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

var _ ports.PackageFileReader = DebFileAdapter{}
