package fuse

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sarcfs/sarc"
)

// TestMountRead mounts an archive through a real FUSE mount and reads a
// file back through the kernel. It requires /dev/fuse and appropriate
// permissions: it is skipped when /dev/fuse is missing and under
// `go test -short`.
func TestMountRead(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping FUSE mount test in short mode")
	}
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("/dev/fuse not available")
	}

	archive := sarc.NewArchive()
	if err := archive.AddFile("hello.txt", []byte("hello from sarcfs")); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	mountpoint := t.TempDir()
	join, err := Mount(archive, mountpoint)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	joinErr := make(chan error, 1)
	go func() { joinErr <- join(ctx) }()

	data, err := os.ReadFile(filepath.Join(mountpoint, "hello.txt"))
	if err != nil {
		t.Fatalf("reading mounted file: %v", err)
	}
	if string(data) != "hello from sarcfs" {
		t.Errorf("mounted file content = %q, want %q", data, "hello from sarcfs")
	}
}
