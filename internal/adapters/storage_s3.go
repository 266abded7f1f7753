package adapters

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"aptkeeper/internal/ports"
	"aptkeeper/internal/shared"
	"aptkeeper/internal/types"
)

// S3StorageAdapter keeps blobs in an S3 (or S3 compatible) bucket.
// Object PUTs are atomic, so no temporary object is written.
type S3StorageAdapter struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3StorageAdapter(ctx context.Context, cfg types.S3Endpoint) (*S3StorageAdapter, error) {
	if cfg.Bucket == "" {
		return nil, shared.InvalidArgument("s3 endpoint requires a bucket")
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, shared.Unavailable("failed to load AWS configuration", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &S3StorageAdapter{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func (a *S3StorageAdapter) key(p string) string {
	if a.prefix == "" {
		return strings.TrimPrefix(p, "/")
	}
	return path.Join(a.prefix, p)
}

func (a *S3StorageAdapter) PutFile(ctx context.Context, p string, r io.Reader) error {
	body, cleanup, err := seekableBody(r)
	if err != nil {
		return err
	}
	defer cleanup()
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(p)),
		Body:   body,
	})
	if err != nil {
		return shared.Unavailable("failed to upload "+p+" to "+a.String(), err)
	}
	return nil
}

func (a *S3StorageAdapter) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(p)),
	})
	if err != nil {
		return nil, a.wrap("open", p, err)
	}
	return out.Body, nil
}

// Stat reports the ETag as MD5 for objects uploaded in one part.
func (a *S3StorageAdapter) Stat(ctx context.Context, p string) (ports.BlobInfo, error) {
	out, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(p)),
	})
	if err != nil {
		return ports.BlobInfo{}, a.wrap("stat", p, err)
	}
	info := ports.BlobInfo{Size: aws.ToInt64(out.ContentLength)}
	etag := strings.Trim(aws.ToString(out.ETag), `"`)
	if len(etag) == 32 && !strings.Contains(etag, "-") {
		info.MD5 = etag
	}
	return info, nil
}

func (a *S3StorageAdapter) Remove(ctx context.Context, p string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(p)),
	})
	if err != nil {
		return a.wrap("remove", p, err)
	}
	return nil
}

func (a *S3StorageAdapter) RemoveDir(ctx context.Context, p string) error {
	paths, err := a.List(ctx, p)
	if err != nil {
		return err
	}
	for _, item := range paths {
		if err := a.Remove(ctx, item); err != nil {
			return err
		}
	}
	log.Ctx(ctx).Debug().Str("storage", a.String()).Str("dir", p).Int("objects", len(paths)).Msg("removed directory")
	return nil
}

func (a *S3StorageAdapter) List(ctx context.Context, prefix string) ([]string, error) {
	listPrefix := a.key(prefix)
	if listPrefix != "" && !strings.HasSuffix(listPrefix, "/") {
		listPrefix += "/"
	}
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(listPrefix),
	})
	var out []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, a.wrap("list", prefix, err)
		}
		for _, object := range page.Contents {
			out = append(out, a.relative(aws.ToString(object.Key)))
		}
	}
	sort.Strings(out)
	return out, nil
}

// Rename copies the object and deletes the source; S3 has no rename.
func (a *S3StorageAdapter) Rename(ctx context.Context, oldPath string, newPath string) error {
	source := url.PathEscape(a.bucket + "/" + a.key(oldPath))
	_, err := a.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(a.bucket),
		Key:        aws.String(a.key(newPath)),
		CopySource: aws.String(source),
	})
	if err != nil {
		return a.wrap("copy", oldPath, err)
	}
	return a.Remove(ctx, oldPath)
}

func (a *S3StorageAdapter) String() string {
	if a.prefix == "" {
		return "s3:" + a.bucket
	}
	return "s3:" + a.bucket + "/" + a.prefix
}

func (a *S3StorageAdapter) relative(key string) string {
	if a.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, a.prefix+"/")
}

func (a *S3StorageAdapter) wrap(op string, p string, err error) error {
	var notFound *s3types.NotFound
	var noSuchKey *s3types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("object not found: " + p).
			WithCause(err)
	}
	return shared.Unavailable("failed to "+op+" "+p+" on "+a.String(), err)
}

// seekableBody returns r when it can be rewound for request signing and
// otherwise spools it to a temporary file.
func seekableBody(r io.Reader) (io.ReadSeeker, func(), error) {
	if rs, ok := r.(io.ReadSeeker); ok {
		return rs, func() {}, nil
	}
	tmp, err := os.CreateTemp("", "aptkeeper-upload-*")
	if err != nil {
		return nil, nil, shared.Internal("failed to create upload buffer", err)
	}
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}
	if _, err := io.Copy(tmp, r); err != nil {
		cleanup()
		return nil, nil, shared.Internal("failed to buffer upload", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, nil, shared.Internal("failed to rewind upload buffer", err)
	}
	return tmp, cleanup, nil
}

var _ ports.BlobStorage = (*S3StorageAdapter)(nil)
