//go:build integration

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ligustah/ferry/internal/config"
	"github.com/ligustah/ferry/internal/testutils"
)

func TestCLIIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	data := testutils.GenerateTestData(t, 5*1024*1024+17)
	path := filepath.Join(t.TempDir(), "test-file.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	t.Log("Starting Minio container...")
	minio := testutils.StartMinioContainer(t, ctx, "cli-test-bucket")
	defer func() {
		if err := minio.Close(ctx); err != nil {
			t.Logf("failed to terminate minio container: %v", err)
		}
	}()

	t.Log("Starting Redis container...")
	redis := testutils.StartRedisContainer(t, ctx)
	defer redis.Close(ctx)

	ts, b := startServer(t, config.ServerConfig{
		Bucket:   minio.BucketURL,
		Metadata: redis.URL,
		Codec:    "s2",
	})
	defer b.Close()
	defer ts.Close()

	storage := []string{"-bucket", minio.BucketURL, "-metadata", redis.URL, "-codec", "s2"}

	t.Run("upload", func(t *testing.T) {
		exitCode := run(ctx, []string{
			"upload",
			"-server", ts.URL,
			"-chunk-size", "1MiB",
			"-concurrency", "4",
			"-progress=false",
			path,
		})
		if exitCode != ExitSuccess {
			t.Fatalf("upload failed with exit code %d", exitCode)
		}
	})

	t.Run("sessions", func(t *testing.T) {
		// Merged sessions leave no records behind.
		exitCode := run(ctx, append([]string{"sessions"}, storage...))
		if exitCode != ExitSuccess {
			t.Fatalf("sessions failed with exit code %d", exitCode)
		}
	})

	t.Run("download_to_file", func(t *testing.T) {
		tmpFile := filepath.Join(t.TempDir(), "downloaded.bin")

		exitCode := run(ctx, []string{
			"download",
			"-server", ts.URL,
			"-output", tmpFile,
			"-concurrency", "4",
			"-range-size", "512KiB",
			"-progress=false",
			artifactPath(t, path),
		})
		if exitCode != ExitSuccess {
			t.Fatalf("download failed with exit code %d", exitCode)
		}

		f, err := os.Open(tmpFile)
		if err != nil {
			t.Fatalf("failed to open downloaded file: %v", err)
		}
		defer f.Close()
		testutils.CompareReaderToData(t, f, data)
	})

	t.Run("list", func(t *testing.T) {
		exitCode := run(ctx, []string{"list", "-server", ts.URL})
		if exitCode != ExitSuccess {
			t.Fatalf("list failed with exit code %d", exitCode)
		}
	})
}
