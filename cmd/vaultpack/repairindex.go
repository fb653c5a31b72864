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

	"vaultpack.dev/vaultpack/index"
)

func runRepairIndex(ctx context.Context, args []string) error {
	flagSet := flag.NewFlagSet("repair-index", flag.ExitOnError)
	var f repoFlags
	f.register(flagSet)
	readAll := flagSet.Bool("read_all", false, "re-read every pack header instead of trusting the existing index")
	flagSet.Parse(args)

	r, err := openRepo(f)
	if err != nil {
		return err
	}
	idx, err := index.RepairIndex(ctx, r.be, r.codec, *readAll)
	if err != nil {
		return fmt.Errorf("vaultpack repair-index: %w", err)
	}
	if err := idx.Finalize(ctx); err != nil {
		return fmt.Errorf("vaultpack repair-index: writing rebuilt index: %w", err)
	}
	fmt.Println("index rebuilt")
	return nil
}
