package main

import (
	"archive/tar"
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/cavaliercoder/go-cpio"
	"github.com/google/renameio"
	"github.com/klauspost/pgzip"
	"golang.org/x/xerrors"

	"sarcfs/sarc"
)

// cmdPack builds a SARC archive from a source directory tree, mirroring
// initrdWriter's directory-walk-and-mirror approach from the original
// initrd packer but targeting sarc.Archive instead of a cpio stream.
// With -companion, it additionally emits a cpio or tar.gz sibling of the
// same tree, for interop with tools that expect those container formats.
func cmdPack(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("pack", flag.ExitOnError)
	companion := fset.String("companion", "", "also write a companion archive: \"cpio\" or \"targz\"")
	fset.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: sarcfs pack [-companion=cpio|targz] <source-dir> <archive>")
		fset.PrintDefaults()
	}
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() != 2 {
		fset.Usage()
		return xerrors.New("syntax: sarcfs pack <source-dir> <archive>")
	}
	srcDir, dstPath := fset.Arg(0), fset.Arg(1)

	archive := sarc.NewArchive()
	archive.SetPath(dstPath)

	var cpioBuf, targzBuf writeBufferer
	switch *companion {
	case "":
	case "cpio":
		cpioBuf = newCPIOBuffer()
	case "targz":
		targzBuf = newTarGzBuffer()
	default:
		return xerrors.Errorf("unknown -companion value %q, want \"cpio\" or \"targz\"", *companion)
	}

	err := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if err := archive.Mkdir(rel); err != nil {
				return xerrors.Errorf("mkdir %s: %w", rel, err)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil // symlinks, devices etc. have no SARC representation
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		if err := archive.AddFile(rel, data); err != nil {
			return xerrors.Errorf("adding %s: %w", rel, err)
		}
		if cpioBuf != nil {
			if err := cpioBuf.addFile(rel, data); err != nil {
				return err
			}
		}
		if targzBuf != nil {
			if err := targzBuf.addFile(rel, data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return xerrors.Errorf("walking %s: %w", srcDir, err)
	}

	if err := archive.Rebuild(); err != nil {
		return xerrors.Errorf("rebuilding %s: %w", dstPath, err)
	}

	if cpioBuf != nil {
		if err := cpioBuf.publish(strings.TrimSuffix(dstPath, filepath.Ext(dstPath)) + ".cpio"); err != nil {
			return err
		}
	}
	if targzBuf != nil {
		if err := targzBuf.publish(strings.TrimSuffix(dstPath, filepath.Ext(dstPath)) + ".tar.gz"); err != nil {
			return err
		}
	}
	return nil
}

// writeBufferer accumulates a companion archive's contents in memory and
// publishes them atomically once the walk completes.
type writeBufferer interface {
	addFile(name string, data []byte) error
	publish(path string) error
}

type cpioBuffer struct {
	buf *renameioBuf
	wr  *cpio.Writer
}

func newCPIOBuffer() *cpioBuffer {
	b := &renameioBuf{}
	return &cpioBuffer{buf: b, wr: cpio.NewWriter(b)}
}

func (c *cpioBuffer) addFile(name string, data []byte) error {
	if err := c.wr.WriteHeader(&cpio.Header{
		Name: name,
		Mode: cpio.FileMode(0o644),
		Size: int64(len(data)),
	}); err != nil {
		return err
	}
	_, err := c.wr.Write(data)
	return err
}

func (c *cpioBuffer) publish(path string) error {
	if err := c.wr.Close(); err != nil {
		return err
	}
	return c.buf.publishTo(path)
}

type targzBuffer struct {
	buf *renameioBuf
	gz  *pgzip.Writer
	tw  *tar.Writer
}

func newTarGzBuffer() *targzBuffer {
	b := &renameioBuf{}
	gz := pgzip.NewWriter(b)
	return &targzBuffer{buf: b, gz: gz, tw: tar.NewWriter(gz)}
}

func (t *targzBuffer) addFile(name string, data []byte) error {
	if err := t.tw.WriteHeader(&tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}); err != nil {
		return err
	}
	_, err := t.tw.Write(data)
	return err
}

func (t *targzBuffer) publish(path string) error {
	if err := t.tw.Close(); err != nil {
		return err
	}
	if err := t.gz.Close(); err != nil {
		return err
	}
	return t.buf.publishTo(path)
}

// renameioBuf collects written bytes and publishes them to a path
// atomically, the same TempFile-then-CloseAtomicallyReplace idiom
// rebuild.go uses for the primary archive.
type renameioBuf struct {
	chunks [][]byte
}

func (b *renameioBuf) Write(p []byte) (int, error) {
	cp := make([]byte, len(p))
	copy(cp, p)
	b.chunks = append(b.chunks, cp)
	return len(p), nil
}

func (b *renameioBuf) publishTo(path string) error {
	t, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		return xerrors.Errorf("creating temp file for %s: %w", path, err)
	}
	defer t.Cleanup()
	for _, c := range b.chunks {
		if _, err := t.Write(c); err != nil {
			return err
		}
	}
	return t.CloseAtomicallyReplace()
}
