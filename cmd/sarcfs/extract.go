package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/xerrors"

	"sarcfs/sarc"
)

func cmdExtract(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("extract", flag.ExitOnError)
	fset.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: sarcfs extract <archive> <path-in-archive> <dest-file>")
	}
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() != 3 {
		fset.Usage()
		return xerrors.New("syntax: sarcfs extract <archive> <path-in-archive> <dest-file>")
	}
	archivePath, member, dest := fset.Arg(0), fset.Arg(1), fset.Arg(2)

	archive, err := sarc.OpenFile(archivePath)
	if err != nil {
		return xerrors.Errorf("opening %s: %w", archivePath, err)
	}
	defer archive.AbandonArchive()

	h, err := archive.OpenRead(member)
	if err != nil {
		return xerrors.Errorf("opening %s in archive: %w", member, err)
	}
	defer h.Close()

	out, err := os.Create(dest)
	if err != nil {
		return xerrors.Errorf("creating %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, streamReader{h}); err != nil {
		return xerrors.Errorf("extracting %s: %w", member, err)
	}
	return nil
}

type streamReader struct{ s sarc.IoStream }

func (r streamReader) Read(buf []byte) (int, error) { return r.s.Read(buf) }
