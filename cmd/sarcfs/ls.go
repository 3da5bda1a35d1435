package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"golang.org/x/xerrors"

	"sarcfs/sarc"
)

func cmdLs(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("ls", flag.ExitOnError)
	fset.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: sarcfs ls <archive>")
	}
	if err := fset.Parse(args); err != nil {
		return err
	}
	if fset.NArg() != 1 {
		fset.Usage()
		return xerrors.New("syntax: sarcfs ls <archive>")
	}

	archive, err := sarc.OpenFile(fset.Arg(0))
	if err != nil {
		return xerrors.Errorf("opening %s: %w", fset.Arg(0), err)
	}
	defer archive.AbandonArchive()

	return walk(archive, "")
}

func walk(archive *sarc.Archive, dir string) error {
	return archive.Enumerate(dir, func(st sarc.Stat) error {
		if st.IsDir {
			fmt.Printf("%s/\n", st.Name)
			return walk(archive, st.Name)
		}
		fmt.Printf("%10d  %s\n", st.Size, st.Name)
		return nil
	})
}
