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

	"vaultpack.dev/vaultpack/blob"
	"vaultpack.dev/vaultpack/index"
	"vaultpack.dev/vaultpack/pack"
	"vaultpack.dev/vaultpack/repair"
	"vaultpack.dev/vaultpack/snapshot"
)

func runRepair(ctx context.Context, args []string) error {
	flagSet := flag.NewFlagSet("repair", flag.ExitOnError)
	var f repoFlags
	f.register(flagSet)
	suffix := flagSet.String("suffix", ".repaired", "suffix appended to nodes whose content was lost")
	tags := flagSet.String("tag", "", "comma-separated tags to attach to any rewritten snapshot")
	dryRun := flagSet.Bool("n", false, "report what would change without writing or deleting anything")
	flagSet.Parse(args)

	r, err := openRepo(f)
	if err != nil {
		return err
	}
	ib, err := index.Open(ctx, r.be, r.codec)
	if err != nil {
		return fmt.Errorf("vaultpack repair: opening index: %w", err)
	}
	idx := index.NewIndexer(r.be, r.codec)
	treePacker := pack.New(blob.KindTree, r.be, r.codec, idx)

	snaps, err := snapshot.List(ctx, r.be, r.codec)
	if err != nil {
		return fmt.Errorf("vaultpack repair: listing snapshots: %w", err)
	}

	rep := repair.New(r.be, r.codec, ib, treePacker, repair.Options{
		Suffix: *suffix,
		Tags:   splitTags(*tags),
		DryRun: *dryRun,
	})
	outcomes, err := rep.RepairSnapshots(ctx, snaps)
	if err != nil {
		return fmt.Errorf("vaultpack repair: %w", err)
	}

	changedAny := false
	for _, o := range outcomes {
		if o.Changed == repair.None {
			continue
		}
		changedAny = true
		fmt.Printf("snapshot %s: %s", o.Old.Id, o.Changed)
		if o.New != nil {
			fmt.Printf(" -> tree %s", o.New.Tree)
		}
		fmt.Println()
	}
	if !changedAny {
		fmt.Println("no damage found")
		return nil
	}

	if *dryRun {
		// With DryRun set on the Repairer above, RepairSnapshots wrote
		// no tree blob and no replacement snapshot, and every
		// outcome's Delete is false: nothing durable happened, so
		// there is nothing left to flush or delete here.
		fmt.Println("dry run: no snapshots written or deleted")
		return nil
	}
	if err := treePacker.Finalize(ctx); err != nil {
		return fmt.Errorf("vaultpack repair: flushing rewritten trees: %w", err)
	}
	if err := idx.Finalize(ctx); err != nil {
		return fmt.Errorf("vaultpack repair: flushing index: %w", err)
	}
	for _, o := range outcomes {
		if !o.Delete {
			continue
		}
		if err := snapshot.Delete(ctx, r.be, o.Old.Id); err != nil {
			return fmt.Errorf("vaultpack repair: deleting superseded snapshot %s: %w", o.Old.Id, err)
		}
	}
	return nil
}
