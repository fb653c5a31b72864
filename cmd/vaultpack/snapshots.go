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
	"sort"
	"strings"

	"vaultpack.dev/vaultpack/snapshot"
)

func runSnapshots(ctx context.Context, args []string) error {
	flagSet := flag.NewFlagSet("snapshots", flag.ExitOnError)
	var f repoFlags
	f.register(flagSet)
	flagSet.Parse(args)

	r, err := openRepo(f)
	if err != nil {
		return err
	}
	all, err := snapshot.List(ctx, r.be, r.codec)
	if err != nil {
		return fmt.Errorf("vaultpack snapshots: %w", err)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Time.Before(all[j].Time) })
	for _, s := range all {
		fmt.Printf("%s  %s  %s  %s  tree=%s", s.Id, s.Time.Format("2006-01-02T15:04:05Z07:00"), s.Hostname, strings.Join(s.Paths, ","), s.Tree)
		if s.Original != nil {
			fmt.Printf("  original=%s", *s.Original)
		}
		if len(s.Tags) > 0 {
			fmt.Printf("  tags=%s", strings.Join(s.Tags, ","))
		}
		fmt.Println()
	}
	return nil
}
