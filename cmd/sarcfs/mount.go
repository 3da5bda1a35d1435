package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"golang.org/x/xerrors"

	"sarcfs"
	"sarcfs/fuse"
	"sarcfs/sarc"
)

func cmdMount(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("mount", flag.ExitOnError)
	fset.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: sarcfs mount <archive> <mountpoint>")
		fset.PrintDefaults()
	}
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() != 2 {
		fset.Usage()
		return xerrors.New("syntax: sarcfs mount <archive> <mountpoint>")
	}
	archivePath, mountpoint := fset.Arg(0), fset.Arg(1)

	archive, err := sarc.OpenFile(archivePath)
	if err != nil {
		return xerrors.Errorf("opening %s: %w", archivePath, err)
	}
	sarcfs.RegisterAtExit(archive.AbandonArchive)

	join, err := fuse.Mount(archive, mountpoint)
	if err != nil {
		return xerrors.Errorf("mounting: %w", err)
	}
	log.Printf("mounted %s at %s", archivePath, mountpoint)
	return join(ctx)
}
