// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Command vaultpack is a thin front end over the core engine: it
// wires together a repository's Backend, Codec and Config and drives
// the Archiver, Repairer and snapshot listing from a handful of
// subcommands. It deliberately does not grow into a full CLI
// framework — the command-line front end is out of this module's
// scope (spec §1) beyond the minimum needed to exercise the core
// end-to-end, the way Perkeep's cmd/pk-put and cmd/pk-get are thin
// callers over pkg/client and pkg/schema rather than where any real
// logic lives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
)

func main() {
	log.SetFlags(0)
	log.SetPrefix("vaultpack: ")

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	ctx := context.Background()
	var err error
	switch cmd {
	case "init":
		err = runInit(ctx, args)
	case "backup":
		err = runBackup(ctx, args)
	case "snapshots":
		err = runSnapshots(ctx, args)
	case "repair":
		err = runRepair(ctx, args)
	case "repair-index":
		err = runRepairIndex(ctx, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: vaultpack <command> [flags]

commands:
  init           create a new repository
  backup         archive a directory tree into a new snapshot
  snapshots      list snapshots in a repository
  repair         rewrite snapshots whose trees have damaged/missing blobs
  repair-index   rebuild the index from the pack listing`)
}

// repoFlags are the flags every subcommand needs to open a
// repository: where it lives on disk, and the age identity file
// guarding its codec. Key management proper (generation, rotation,
// multi-recipient) is out of scope (spec §1); this is the minimum
// needed to open one.
type repoFlags struct {
	repo     string
	identity string
}

func (f *repoFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.repo, "repo", "", "path to the repository root")
	fs.StringVar(&f.identity, "identity", "", "path to the age identity file")
}
