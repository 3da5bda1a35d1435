// Command sarcfs mounts, lists, extracts from, and builds SARC archives.
package main

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/xerrors"

	"sarcfs"
)

type cmd struct {
	fn    func(ctx context.Context, args []string) error
	usage string
}

var verbs = map[string]cmd{
	"mount":   {cmdMount, "mount <archive> <mountpoint>"},
	"ls":      {cmdLs, "ls <archive>"},
	"extract": {cmdExtract, "extract <archive> <path-in-archive> <dest-file>"},
	"pack":    {cmdPack, "pack [-companion=cpio|targz] <source-dir> <archive>"},
}

func run() error {
	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		return xerrors.New("syntax: sarcfs <command> [options]")
	}
	verb, rest := args[0], args[1:]
	v, ok := verbs[verb]
	if !ok {
		printUsage()
		return xerrors.Errorf("unknown command %q", verb)
	}

	ctx, cancel := sarcfs.InterruptibleContext()
	defer cancel()

	if err := v.fn(ctx, rest); err != nil {
		return xerrors.Errorf("%s: %w", verb, err)
	}
	return sarcfs.RunAtExit()
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: sarcfs <command> [options]")
	fmt.Fprintln(os.Stderr, "commands:")
	for name, c := range verbs {
		fmt.Fprintf(os.Stderr, "\t%s\n", c.usage)
		_ = name
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
