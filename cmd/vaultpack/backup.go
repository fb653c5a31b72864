// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"vaultpack.dev/vaultpack/archiver"
	"vaultpack.dev/vaultpack/blob"
	"vaultpack.dev/vaultpack/index"
	"vaultpack.dev/vaultpack/pack"
	"vaultpack.dev/vaultpack/snapshot"
	"vaultpack.dev/vaultpack/tree"
)

func runBackup(ctx context.Context, args []string) error {
	flagSet := flag.NewFlagSet("backup", flag.ExitOnError)
	var f repoFlags
	f.register(flagSet)
	withAtime := flagSet.Bool("with_atime", false, "capture real atime instead of collapsing it to mtime")
	tags := flagSet.String("tag", "", "comma-separated tags to attach to the snapshot")
	flagSet.Parse(args)

	paths := flagSet.Args()
	if len(paths) != 1 {
		return fmt.Errorf("vaultpack backup: exactly one path argument is required")
	}
	root := paths[0]

	r, err := openRepo(f)
	if err != nil {
		return err
	}

	ib, err := index.Open(ctx, r.be, r.codec)
	if err != nil {
		return fmt.Errorf("vaultpack backup: opening index: %w", err)
	}
	idx := index.NewIndexer(r.be, r.codec)
	dataPacker := pack.New(blob.KindData, r.be, r.codec, idx)
	treePacker := pack.New(blob.KindTree, r.be, r.codec, idx)

	parentSnap, err := findParent(ctx, r, root)
	if err != nil {
		return fmt.Errorf("vaultpack backup: finding parent snapshot: %w", err)
	}
	parent, err := archiver.NewParent(ctx, r.be, r.codec, ib, parentSnap)
	if err != nil {
		return fmt.Errorf("vaultpack backup: building parent cursor: %w", err)
	}

	a := archiver.New(r.be, r.codec, dataPacker, treePacker, idx, ib, r.pol, parent)

	if err := walkInto(ctx, a, root, *withAtime); err != nil {
		return fmt.Errorf("vaultpack backup: %w", err)
	}

	s, err := a.Finalize(ctx, []string{root}, hostnameOrUnknown())
	if err != nil {
		return fmt.Errorf("vaultpack backup: finalizing snapshot: %w", err)
	}
	if *tags != "" {
		// Archiver.Finalize takes no tags, so the snapshot it wrote is
		// untagged. Snapshots are immutable once written: a tagged
		// backup writes a tagged copy under its own id and removes the
		// untagged one.
		tagged := *s
		tagged.Id = blob.Id{}
		tagged.Tags = splitTags(*tags)
		if err := snapshot.Write(ctx, r.be, r.codec, &tagged); err != nil {
			return fmt.Errorf("vaultpack backup: writing tagged snapshot: %w", err)
		}
		if err := snapshot.Delete(ctx, r.be, s.Id); err != nil {
			return fmt.Errorf("vaultpack backup: removing untagged snapshot %s: %w", s.Id, err)
		}
		s = &tagged
	}

	fmt.Printf("snapshot %s\n", s.Id)
	return nil
}

// findParent returns the most recent snapshot of root, or nil if none
// exists yet.
func findParent(ctx context.Context, r *repo, root string) (*snapshot.Snapshot, error) {
	all, err := snapshot.List(ctx, r.be, r.codec)
	if err != nil {
		return nil, err
	}
	var best *snapshot.Snapshot
	for _, s := range all {
		if len(s.Paths) != 1 || s.Paths[0] != root {
			continue
		}
		if best == nil || s.Time.After(best.Time) {
			best = s
		}
	}
	return best, nil
}

// walkInto drives a pre-order, siblings-sorted-by-name walk of root
// into a, satisfying the Archiver's walk contract (spec §4.5).
func walkInto(ctx context.Context, a *archiver.Archiver, root string, withAtime bool) error {
	return walkDir(ctx, a, root, withAtime)
}

func walkDir(ctx context.Context, a *archiver.Archiver, dir string, withAtime bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		name := e.Name()
		full := filepath.Join(dir, name)
		info, err := e.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", full, err)
		}
		meta := populateMetadata(info, withAtime)

		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(full)
			if err != nil {
				return fmt.Errorf("reading symlink %s: %w", full, err)
			}
			a.AddSymlink(name, target, meta)
		case info.IsDir():
			a.OpenDir(ctx, name)
			if err := walkDir(ctx, a, full, withAtime); err != nil {
				return err
			}
			if _, err := a.CloseDir(ctx, name, meta); err != nil {
				return err
			}
		case info.Mode()&(fs.ModeDevice|fs.ModeCharDevice|fs.ModeNamedPipe|fs.ModeSocket) != 0:
			a.AddSpecial(name, specialType(info.Mode()), meta)
		default:
			open := func() (io.ReadCloser, error) { return os.Open(full) }
			if err := a.AddFile(ctx, name, meta, open); err != nil {
				return fmt.Errorf("adding %s: %w", full, err)
			}
		}
	}
	return nil
}

func specialType(mode fs.FileMode) tree.NodeType {
	switch {
	case mode&fs.ModeCharDevice != 0:
		return tree.TypeChardev
	case mode&fs.ModeDevice != 0:
		return tree.TypeDev
	case mode&fs.ModeNamedPipe != 0:
		return tree.TypeFifo
	default:
		return tree.TypeSocket
	}
}

func splitTags(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
