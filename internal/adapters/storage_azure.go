package adapters

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/ZanzyTHEbar/errbuilder-go"

	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

// AzureStorageAdapter keeps blobs in an Azure Blob Storage container.
type AzureStorageAdapter struct {
	client    *azblob.Client
	container string
	prefix    string
}

func NewAzureStorageAdapter(cfg types.AzureEndpoint) (*AzureStorageAdapter, error) {
	if cfg.AccountName == "" || cfg.Container == "" {
		return nil, shared.InvalidArgument("azure endpoint requires accountName and container")
	}
	serviceURL := cfg.Endpoint
	if serviceURL == "" {
		serviceURL = fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.AccountName)
	}
	cred, err := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, shared.InvalidArgument("invalid azure credentials: " + err.Error())
	}
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, shared.Unavailable("failed to create azure client", err)
	}
	return &AzureStorageAdapter{
		client:    client,
		container: cfg.Container,
		prefix:    strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (a *AzureStorageAdapter) blobName(p string) string {
	if a.prefix == "" {
		return strings.TrimPrefix(p, "/")
	}
	return path.Join(a.prefix, p)
}

// PutFile stages blocks and commits them in one call, so readers never see
// a partial blob.
func (a *AzureStorageAdapter) PutFile(ctx context.Context, p string, r io.Reader) error {
	if _, err := a.client.UploadStream(ctx, a.container, a.blobName(p), r, nil); err != nil {
		return a.wrap("upload", p, err)
	}
	return nil
}

func (a *AzureStorageAdapter) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	resp, err := a.client.DownloadStream(ctx, a.container, a.blobName(p), nil)
	if err != nil {
		return nil, a.wrap("open", p, err)
	}
	return resp.Body, nil
}

func (a *AzureStorageAdapter) Stat(ctx context.Context, p string) (ports.BlobInfo, error) {
	blobClient := a.client.ServiceClient().NewContainerClient(a.container).NewBlobClient(a.blobName(p))
	props, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		return ports.BlobInfo{}, a.wrap("stat", p, err)
	}
	info := ports.BlobInfo{}
	if props.ContentLength != nil {
		info.Size = *props.ContentLength
	}
	if len(props.ContentMD5) > 0 {
		info.MD5 = hex.EncodeToString(props.ContentMD5)
	}
	return info, nil
}

func (a *AzureStorageAdapter) Remove(ctx context.Context, p string) error {
	_, err := a.client.DeleteBlob(ctx, a.container, a.blobName(p), nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return a.wrap("remove", p, err)
	}
	return nil
}

func (a *AzureStorageAdapter) RemoveDir(ctx context.Context, p string) error {
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

func (a *AzureStorageAdapter) List(ctx context.Context, prefix string) ([]string, error) {
	listPrefix := a.blobName(prefix)
	if listPrefix != "" && !strings.HasSuffix(listPrefix, "/") {
		listPrefix += "/"
	}
	pager := a.client.NewListBlobsFlatPager(a.container, &azblob.ListBlobsFlatOptions{Prefix: &listPrefix})
	var out []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, a.wrap("list", prefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			name := *item.Name
			if a.prefix != "" {
				name = strings.TrimPrefix(name, a.prefix+"/")
			}
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Rename streams the blob to its new name and deletes the old one.
func (a *AzureStorageAdapter) Rename(ctx context.Context, oldPath string, newPath string) error {
	body, err := a.Open(ctx, oldPath)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := a.PutFile(ctx, newPath, body); err != nil {
		return err
	}
	return a.Remove(ctx, oldPath)
}

func (a *AzureStorageAdapter) String() string {
	if a.prefix == "" {
		return "azure:" + a.container
	}
	return "azure:" + a.container + "/" + a.prefix
}

func (a *AzureStorageAdapter) wrap(op string, p string, err error) error {
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("blob not found: " + p).
			WithCause(err)
	}
	return shared.Unavailable("failed to "+op+" "+p+" on "+a.String(), err)
}

var _ ports.BlobStorage = (*AzureStorageAdapter)(nil)
