//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"aptkeeper/internal/adapters"
	"aptkeeper/internal/app"
	"aptkeeper/internal/ports"
	"aptkeeper/internal/types"
	"aptkeeper/tests/testutil"
)

const (
	minioUser     = "aptkeeper"
	minioPassword = "aptkeeper-secret"
	minioBucket   = "apt"
)

func startContainer(ctx context.Context, t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})
	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)
	return fmt.Sprintf("http://%s:%s", host, mapped.Port())
}

func startEtcd(ctx context.Context, t *testing.T) string {
	return startContainer(ctx, t, testcontainers.ContainerRequest{
		Image:        "quay.io/coreos/etcd:v3.5.17",
		ExposedPorts: []string{"2379/tcp"},
		Cmd: []string{
			"etcd",
			"--listen-client-urls=http://0.0.0.0:2379",
			"--advertise-client-urls=http://0.0.0.0:2379",
		},
		WaitingFor: wait.ForListeningPort("2379/tcp").WithStartupTimeout(60 * time.Second),
	}, "2379/tcp")
}

func startMinio(ctx context.Context, t *testing.T) string {
	endpoint := startContainer(ctx, t, testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     minioUser,
			"MINIO_ROOT_PASSWORD": minioPassword,
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(60 * time.Second),
	}, "9000/tcp")

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(minioUser, minioPassword, "")))
	require.NoError(t, err)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(minioBucket)})
	require.NoError(t, err)
	return endpoint
}

func minioEndpoint(endpoint string, prefix string) types.S3Endpoint {
	return types.S3Endpoint{
		Region:          "us-east-1",
		Bucket:          minioBucket,
		Endpoint:        endpoint,
		Prefix:          prefix,
		AccessKeyID:     minioUser,
		SecretAccessKey: minioPassword,
		ForcePathStyle:  true,
	}
}

func TestEtcdBackedService(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers test in short mode")
	}
	ctx := t.Context()
	etcd := startEtcd(ctx, t)

	kv, err := adapters.OpenEtcd(types.DatabaseConfig{Endpoints: []string{etcd}, Prefix: "aptkeeper/"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	require.NoError(t, kv.Batch(ctx, []ports.KVOp{
		{Key: "repo:a", Value: []byte("1")},
		{Key: "repo:b", Value: []byte("2")},
		{Key: "snapshot:c", Value: []byte("3")},
	}))
	iter, err := kv.Scan(ctx, "repo:")
	require.NoError(t, err)
	var keys []string
	for iter.Next() {
		keys = append(keys, iter.Key())
	}
	require.NoError(t, iter.Err())
	require.NoError(t, iter.Close())
	assert.Equal(t, []string{"repo:a", "repo:b"}, keys)

	svc := testutil.NewService(t, func(cfg *types.Config) {
		cfg.DatabaseBackend = types.DatabaseConfig{Type: "etcd", Endpoints: []string{etcd}, Prefix: "svc/"}
	})
	_, err = svc.CreateRepo(ctx, app.RepoCreateRequest{Name: "main", DefaultDistribution: "stable", DefaultComponent: "main"})
	require.NoError(t, err)
	dir := t.TempDir()
	hello.Write(t, dir)
	added, err := svc.AddPackages(ctx, app.RepoAddRequest{Name: "main", Paths: []string{dir}})
	require.NoError(t, err)
	assert.Len(t, added.Added, 1)

	details, err := svc.ShowRepo(ctx, "main", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, names(details.Packages))
}

func TestPublishToS3AndPoolOnS3(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping testcontainers test in short mode")
	}
	ctx := t.Context()
	endpoint := startMinio(ctx, t)

	svc := testutil.NewService(t, func(cfg *types.Config) {
		cfg.PackagePoolStorage = types.PoolStorageConfig{Type: "s3", S3: minioEndpoint(endpoint, "pool")}
		cfg.S3PublishEndpoints = map[string]types.S3Endpoint{"public": minioEndpoint(endpoint, "public")}
	})
	_, err := svc.CreateRepo(ctx, app.RepoCreateRequest{Name: "main", DefaultDistribution: "stable", DefaultComponent: "main"})
	require.NoError(t, err)
	dir := t.TempDir()
	hello.Write(t, dir)
	libc6.Write(t, dir)
	_, err = svc.AddPackages(ctx, app.RepoAddRequest{Name: "main", Paths: []string{dir}})
	require.NoError(t, err)

	poolFiles, err := svc.Pool.List(ctx)
	require.NoError(t, err)
	assert.Len(t, poolFiles, 2)

	_, err = svc.Publish(ctx, app.PublishRequest{
		Storage:    "s3:public",
		Prefix:     "debian",
		SourceKind: types.PublishSourceLocal,
		Sources:    []string{"main"},
	})
	require.NoError(t, err)

	bucket, err := adapters.NewS3StorageAdapter(ctx, minioEndpoint(endpoint, "public"))
	require.NoError(t, err)
	release, err := bucket.Open(ctx, "debian/dists/stable/Release")
	require.NoError(t, err)
	body, err := io.ReadAll(release)
	require.NoError(t, err)
	require.NoError(t, release.Close())
	assert.Contains(t, string(body), "main/binary-amd64/Packages.gz")

	published, err := bucket.List(ctx, "debian/pool")
	require.NoError(t, err)
	assert.Contains(t, published, "debian/pool/main/h/hello/hello_1.0-1_amd64.deb")

	require.NoError(t, svc.DropPublished(ctx, app.PublishDropRequest{
		PublishTarget: app.PublishTarget{Storage: "s3:public", Prefix: "debian", Distribution: "stable"},
	}))
	_, err = bucket.Stat(ctx, "debian/dists/stable/Release")
	require.Error(t, err)
}
