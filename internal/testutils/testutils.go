//go:build integration

// Package testutils provides containers and data helpers for integration tests.
package testutils

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/s3blob"
)

// GenerateTestData returns size bytes of test content. Up to 10MiB the
// content is a repeating byte pattern; larger payloads are random.
func GenerateTestData(t *testing.T, size int64) []byte {
	t.Helper()
	data := make([]byte, size)
	if size > 10*1024*1024 {
		if _, err := rand.Read(data); err != nil {
			t.Fatalf("generate random data: %v", err)
		}
		return data
	}
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

func startContainer(t *testing.T, ctx context.Context, req testcontainers.ContainerRequest) testcontainers.Container {
	t.Helper()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start %s container: %v", req.Image, err)
	}
	return c
}

// endpoint returns host:port of the mapped container port.
func endpoint(t *testing.T, ctx context.Context, c testcontainers.Container, port string) string {
	t.Helper()
	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("get container port %s: %v", port, err)
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func terminate(ctx context.Context, c testcontainers.Container) error {
	if c == nil {
		return nil
	}
	return c.Terminate(ctx)
}

// MinioEnv is a running MinIO server with one bucket.
type MinioEnv struct {
	Container testcontainers.Container
	BucketURL string // gocloud s3:// URL for the bucket
	Endpoint  string
	AccessKey string
	SecretKey string
}

// Close terminates the MinIO container.
func (e *MinioEnv) Close(ctx context.Context) error {
	return terminate(ctx, e.Container)
}

// OpenBucket opens the bucket.
func (e *MinioEnv) OpenBucket(ctx context.Context) (*blob.Bucket, error) {
	return blob.OpenBucket(ctx, e.BucketURL)
}

// StartMinioContainer starts MinIO, creates bucketName and exports the
// credentials gocloud reads from the environment.
func StartMinioContainer(t *testing.T, ctx context.Context, bucketName string) *MinioEnv {
	t.Helper()

	const (
		accessKey = "minioadmin"
		secretKey = "minioadmin"
	)

	// mc reaches the server by alias on a private network
	networkName := fmt.Sprintf("ferry-test-net-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{Name: networkName},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(ctx) })

	minio := startContainer(t, ctx, testcontainers.ContainerRequest{
		Image:          "minio/minio:latest",
		ExposedPorts:   []string{"9000/tcp"},
		Networks:       []string{networkName},
		NetworkAliases: map[string][]string{networkName: {"minio"}},
		Env: map[string]string{
			"MINIO_ROOT_USER":     accessKey,
			"MINIO_ROOT_PASSWORD": secretKey,
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
	})

	mc := startContainer(t, ctx, testcontainers.ContainerRequest{
		Image:      "minio/mc:latest",
		Networks:   []string{networkName},
		Entrypoint: []string{"/bin/sh", "-c"},
		Cmd: []string{fmt.Sprintf(
			"/usr/bin/mc alias set local http://minio:9000 %s %s && /usr/bin/mc mb --ignore-existing local/%s",
			accessKey, secretKey, bucketName,
		)},
		WaitingFor: wait.ForExit(),
	})
	defer mc.Terminate(ctx)

	addr := endpoint(t, ctx, minio, "9000")
	t.Setenv("AWS_ACCESS_KEY_ID", accessKey)
	t.Setenv("AWS_SECRET_ACCESS_KEY", secretKey)

	return &MinioEnv{
		Container: minio,
		BucketURL: fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1", bucketName, addr),
		Endpoint:  addr,
		AccessKey: accessKey,
		SecretKey: secretKey,
	}
}

// RedisEnv is a running Redis server.
type RedisEnv struct {
	Container testcontainers.Container
	URL       string // redis:// URL of database 0
}

// Close terminates the Redis container.
func (e *RedisEnv) Close(ctx context.Context) error {
	return terminate(ctx, e.Container)
}

// StartRedisContainer starts a Redis server.
func StartRedisContainer(t *testing.T, ctx context.Context) *RedisEnv {
	t.Helper()
	c := startContainer(t, ctx, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	})
	return &RedisEnv{
		Container: c,
		URL:       fmt.Sprintf("redis://%s/0", endpoint(t, ctx, c, "6379")),
	}
}

// DynamoEnv is a running DynamoDB Local server.
type DynamoEnv struct {
	Container testcontainers.Container
	Endpoint  string // http:// URL of the server
	Region    string
}

// Close terminates the DynamoDB Local container.
func (e *DynamoEnv) Close(ctx context.Context) error {
	return terminate(ctx, e.Container)
}

// TableURL returns a dynamodb:// store URL for table that creates the table
// on open.
func (e *DynamoEnv) TableURL(table string) string {
	return fmt.Sprintf("dynamodb://%s?endpoint=%s&region=%s&create=true", table, e.Endpoint, e.Region)
}

// StartDynamoContainer starts DynamoDB Local and exports the static
// credentials the AWS SDK reads from the environment.
func StartDynamoContainer(t *testing.T, ctx context.Context) *DynamoEnv {
	t.Helper()
	c := startContainer(t, ctx, testcontainers.ContainerRequest{
		Image:        "amazon/dynamodb-local:latest",
		ExposedPorts: []string{"8000/tcp"},
		Cmd:          []string{"-jar", "DynamoDBLocal.jar", "-inMemory", "-sharedDb"},
		WaitingFor:   wait.ForListeningPort("8000/tcp"),
	})
	t.Setenv("AWS_ACCESS_KEY_ID", "local")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "local")
	return &DynamoEnv{
		Container: c,
		Endpoint:  "http://" + endpoint(t, ctx, c, "8000"),
		Region:    "us-east-1",
	}
}

// CompareReaderToData reads r to EOF in 1MiB steps and fails the test at the
// first byte that differs from expected.
func CompareReaderToData(t *testing.T, r io.Reader, expected []byte) {
	t.Helper()

	buf := make([]byte, 1<<20)
	offset := 0
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if offset+n > len(expected) {
				t.Fatalf("read past expected length %d at offset %d", len(expected), offset)
			}
			if !bytes.Equal(buf[:n], expected[offset:offset+n]) {
				t.Fatalf("data mismatch in [%d, %d)", offset, offset+n)
			}
			offset += n
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			t.Fatalf("read error at offset %d: %v", offset, err)
		}
	}

	if offset != len(expected) {
		t.Fatalf("incomplete read: got %d bytes, want %d", offset, len(expected))
	}
}
