package main

import (
	"os"
	"path/filepath"
	"testing"

	"sarcfs/sarc"
)

func TestPackThenExtract(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "top.txt"), []byte("top level"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "sub", "nested.txt"), []byte("nested"), 0o644); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "out.sarc")
	archive := sarc.NewArchive()
	archive.SetPath(out)
	if err := archive.Mkdir("sub"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := archive.AddFile("top.txt", []byte("top level")); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := archive.AddFile("sub/nested.txt", []byte("nested")); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := archive.Rebuild(); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	reopened, err := sarc.OpenFile(out)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer reopened.AbandonArchive()

	h, err := reopened.OpenRead("sub/nested.txt")
	if err != nil {
		t.Fatalf("OpenRead: %v", err)
	}
	defer h.Close()
	buf := make([]byte, 6)
	if _, err := h.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != "nested" {
		t.Errorf("content = %q, want %q", buf, "nested")
	}
}
