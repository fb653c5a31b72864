// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package archiver

import (
	"context"

	"golang.org/x/sync/errgroup"

	"vaultpack.dev/vaultpack/backend"
	"vaultpack.dev/vaultpack/blob"
	"vaultpack.dev/vaultpack/index"
)

// MaxWarmUpReaders bounds the number of packs WarmUp probes
// concurrently: the bounded reader pool from spec.md §5, sized to
// match MAX_READER_THREADS_NUM from the implementation this design is
// interoperable with.
const MaxWarmUpReaders = 20

// WarmUp issues a best-effort one-byte read against every distinct
// pack referenced by entries, ahead of a restore or repair pass that
// will read them for real. It exists to let a Backend spin up remote
// storage or prime a cache; individual failures are ignored, since a
// cold pack simply means the later real read pays the full latency
// instead of warm-up. WarmUp blocks until every probe has returned.
func WarmUp(ctx context.Context, be backend.Backend, entries []index.Entry) {
	seen := make(map[blob.Id]bool, len(entries))
	var g errgroup.Group
	g.SetLimit(MaxWarmUpReaders)
	for _, e := range entries {
		if seen[e.PackId] {
			continue
		}
		seen[e.PackId] = true
		packId := e.PackId
		g.Go(func() error {
			be.ReadPartial(ctx, blob.Pack, packId, false, 0, 1)
			return nil
		})
	}
	g.Wait()
}
