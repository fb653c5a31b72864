// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package repair

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"

	"filippo.io/age"

	"vaultpack.dev/vaultpack/archiver"
	"vaultpack.dev/vaultpack/backend"
	"vaultpack.dev/vaultpack/backend/memory"
	"vaultpack.dev/vaultpack/blob"
	"vaultpack.dev/vaultpack/chunker"
	"vaultpack.dev/vaultpack/crypto"
	"vaultpack.dev/vaultpack/index"
	"vaultpack.dev/vaultpack/pack"
	"vaultpack.dev/vaultpack/snapshot"
	"vaultpack.dev/vaultpack/tree"
)

func testCodec(t *testing.T) crypto.Codec {
	t.Helper()
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	return crypto.NewAgeCodec(id, false)
}

func openBytes(data []byte) archiver.Open {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

// buildArchiver returns a fresh Archiver wired against be's current
// contents, mirroring how a real backup run is assembled.
func buildArchiver(ctx context.Context, t *testing.T, be backend.Backend, codec crypto.Codec) (*archiver.Archiver, *index.Indexer, *index.IndexBackend) {
	t.Helper()
	ib, err := index.Open(ctx, be, codec)
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	idx := index.NewIndexer(be, codec)
	dataPacker := pack.New(blob.KindData, be, codec, idx)
	treePacker := pack.New(blob.KindTree, be, codec, idx)
	return archiver.New(be, codec, dataPacker, treePacker, idx, ib, chunker.DefaultPolynomial, nil), idx, ib
}

// TestRepairFileWithMissingChunk exercises scenario S4: a file's only
// data pack is deleted, and repair renames the node, empties its
// content, and marks the snapshot for replacement.
func TestRepairFileWithMissingChunk(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	codec := testCodec(t)

	a, _, _ := buildArchiver(ctx, t, be, codec)
	payload := []byte("the only chunk of this tiny file")
	if err := a.AddFile(ctx, "x", tree.Metadata{Size: uint64(len(payload))}, openBytes(payload)); err != nil {
		t.Fatal(err)
	}
	s, err := a.Finalize(ctx, []string{"/src"}, "host")
	if err != nil {
		t.Fatal(err)
	}

	packIds, err := be.List(ctx, blob.Pack)
	if err != nil {
		t.Fatal(err)
	}
	// Delete every Data pack (there's exactly one: x's single chunk).
	ibBefore, err := index.Open(ctx, be, codec)
	if err != nil {
		t.Fatal(err)
	}
	rootBefore, err := loadRootForTest(ctx, be, codec, ibBefore, s.Tree)
	if err != nil {
		t.Fatal(err)
	}
	xNode, ok := rootBefore.Find("x")
	if !ok || len(xNode.Content) == 0 {
		t.Fatalf("expected x to have content chunks, got %+v", xNode)
	}
	dataEntry, ok := ibBefore.GetData(xNode.Content[0])
	if !ok {
		t.Fatal("x's chunk not indexed")
	}
	for _, pid := range packIds {
		if pid == dataEntry.PackId {
			if err := be.Remove(ctx, blob.Pack, pid, false); err != nil {
				t.Fatal(err)
			}
		}
	}

	ib, err := index.Open(ctx, be, codec)
	if err != nil {
		t.Fatal(err)
	}
	idx := index.NewIndexer(be, codec)
	treePacker := pack.New(blob.KindTree, be, codec, idx)
	r := New(be, codec, ib, treePacker, Options{Suffix: ".repaired"})

	outcomes, err := r.RepairSnapshots(ctx, []*snapshot.Snapshot{s})
	if err != nil {
		t.Fatalf("RepairSnapshots: %v", err)
	}
	if err := treePacker.Finalize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := idx.Finalize(ctx); err != nil {
		t.Fatal(err)
	}

	if len(outcomes) != 1 {
		t.Fatalf("expected one outcome, got %d", len(outcomes))
	}
	o := outcomes[0]
	if o.Changed != SubTree {
		t.Fatalf("expected SubTree, got %v", o.Changed)
	}
	if !o.Delete || o.New == nil {
		t.Fatalf("expected old snapshot marked for deletion and a replacement written: %+v", o)
	}

	ib2, err := index.Open(ctx, be, codec)
	if err != nil {
		t.Fatal(err)
	}
	newRoot, err := loadRootForTest(ctx, be, codec, ib2, o.New.Tree)
	if err != nil {
		t.Fatal(err)
	}
	renamed, ok := newRoot.Find("x.repaired")
	if !ok {
		t.Fatalf("expected renamed node x.repaired in rewritten tree: %+v", newRoot.Nodes)
	}
	if len(renamed.Content) != 0 || renamed.Meta.Size != 0 {
		t.Fatalf("expected emptied content and zero size, got %+v", renamed)
	}
	if _, ok := newRoot.Find("x"); ok {
		t.Fatalf("old node name x should no longer be present")
	}
}

// TestRepairIdempotent exercises invariant 6: a second repair pass
// over the already-repaired snapshot set reports Changed::None for
// every snapshot.
func TestRepairIdempotent(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	codec := testCodec(t)

	a, _, _ := buildArchiver(ctx, t, be, codec)
	if err := a.AddFile(ctx, "ok.txt", tree.Metadata{Size: 5}, openBytes([]byte("hello"))); err != nil {
		t.Fatal(err)
	}
	s, err := a.Finalize(ctx, []string{"/src"}, "host")
	if err != nil {
		t.Fatal(err)
	}

	ib, err := index.Open(ctx, be, codec)
	if err != nil {
		t.Fatal(err)
	}
	idx := index.NewIndexer(be, codec)
	treePacker := pack.New(blob.KindTree, be, codec, idx)
	r := New(be, codec, ib, treePacker, Options{})

	outcomes, err := r.RepairSnapshots(ctx, []*snapshot.Snapshot{s})
	if err != nil {
		t.Fatal(err)
	}
	if outcomes[0].Changed != None {
		t.Fatalf("expected an intact tree to report None, got %v", outcomes[0].Changed)
	}

	// run again over the same (untouched) snapshot set with a fresh
	// Repairer: still None.
	ib2, err := index.Open(ctx, be, codec)
	if err != nil {
		t.Fatal(err)
	}
	idx2 := index.NewIndexer(be, codec)
	treePacker2 := pack.New(blob.KindTree, be, codec, idx2)
	r2 := New(be, codec, ib2, treePacker2, Options{})
	outcomes2, err := r2.RepairSnapshots(ctx, []*snapshot.Snapshot{s})
	if err != nil {
		t.Fatal(err)
	}
	if outcomes2[0].Changed != None || outcomes2[0].Delete {
		t.Fatalf("second repair pass should also report None and no deletion, got %+v", outcomes2[0])
	}
}

// TestRepairDamagedSubdirectory exercises scenario S5: a nested
// directory's tree blob is unreadable; repair replaces the dead
// subtree with an empty one, renames the directory, and propagates
// Changed::SubTree to the root.
func TestRepairDamagedSubdirectory(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	codec := testCodec(t)

	a, _, _ := buildArchiver(ctx, t, be, codec)
	a.OpenDir(ctx, "sub")
	if err := a.AddFile(ctx, "inner.txt", tree.Metadata{Size: 3}, openBytes([]byte("abc"))); err != nil {
		t.Fatal(err)
	}
	if _, err := a.CloseDir(ctx, "sub", tree.Metadata{}); err != nil {
		t.Fatal(err)
	}
	s, err := a.Finalize(ctx, []string{"/src"}, "host")
	if err != nil {
		t.Fatal(err)
	}

	ibBefore, err := index.Open(ctx, be, codec)
	if err != nil {
		t.Fatal(err)
	}
	root, err := loadRootForTest(ctx, be, codec, ibBefore, s.Tree)
	if err != nil {
		t.Fatal(err)
	}
	sub, ok := root.Find("sub")
	if !ok || sub.Subtree == nil {
		t.Fatalf("expected a sub directory node, got %+v", sub)
	}
	subEntry, ok := ibBefore.GetTree(*sub.Subtree)
	if !ok {
		t.Fatal("sub's tree not indexed")
	}
	// Corrupt one byte of sub's tree blob in place, leaving the pack's
	// overall size and header untouched (scenario S5).
	raw, err := be.ReadFull(ctx, blob.Pack, subEntry.PackId)
	if err != nil {
		t.Fatal(err)
	}
	corrupted := append([]byte(nil), raw...)
	corrupted[subEntry.Offset] ^= 0xFF
	if err := be.Remove(ctx, blob.Pack, subEntry.PackId, false); err != nil {
		t.Fatal(err)
	}
	if err := be.WriteFull(ctx, blob.Pack, subEntry.PackId, corrupted); err != nil {
		t.Fatal(err)
	}

	ib, err := index.Open(ctx, be, codec)
	if err != nil {
		t.Fatal(err)
	}
	idx := index.NewIndexer(be, codec)
	treePacker := pack.New(blob.KindTree, be, codec, idx)
	r := New(be, codec, ib, treePacker, Options{Suffix: ".repaired"})

	outcomes, err := r.RepairSnapshots(ctx, []*snapshot.Snapshot{s})
	if err != nil {
		t.Fatalf("RepairSnapshots: %v", err)
	}
	if err := treePacker.Finalize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := idx.Finalize(ctx); err != nil {
		t.Fatal(err)
	}

	o := outcomes[0]
	if o.Changed != SubTree {
		t.Fatalf("expected root to report SubTree, got %v", o.Changed)
	}

	ib2, err := index.Open(ctx, be, codec)
	if err != nil {
		t.Fatal(err)
	}
	newRoot, err := loadRootForTest(ctx, be, codec, ib2, o.New.Tree)
	if err != nil {
		t.Fatal(err)
	}
	renamedSub, ok := newRoot.Find("sub.repaired")
	if !ok || renamedSub.Subtree == nil {
		t.Fatalf("expected renamed empty sub.repaired dir node, got %+v", newRoot.Nodes)
	}
	emptyChild, err := loadRootForTest(ctx, be, codec, ib2, *renamedSub.Subtree)
	if err != nil {
		t.Fatal(err)
	}
	if len(emptyChild.Nodes) != 0 {
		t.Fatalf("replacement subtree should be empty, got %+v", emptyChild.Nodes)
	}
}

// TestRepairDryRunWritesNothing exercises the -n/dry-run contract: a
// damaged snapshot is reported as SubTree, but no replacement snapshot
// or rewritten tree blob is ever written to the backend, and no
// outcome is marked for deletion.
func TestRepairDryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	codec := testCodec(t)

	a, _, _ := buildArchiver(ctx, t, be, codec)
	payload := []byte("the only chunk of this tiny file")
	if err := a.AddFile(ctx, "x", tree.Metadata{Size: uint64(len(payload))}, openBytes(payload)); err != nil {
		t.Fatal(err)
	}
	s, err := a.Finalize(ctx, []string{"/src"}, "host")
	if err != nil {
		t.Fatal(err)
	}

	ibBefore, err := index.Open(ctx, be, codec)
	if err != nil {
		t.Fatal(err)
	}
	rootBefore, err := loadRootForTest(ctx, be, codec, ibBefore, s.Tree)
	if err != nil {
		t.Fatal(err)
	}
	xNode, ok := rootBefore.Find("x")
	if !ok || len(xNode.Content) == 0 {
		t.Fatalf("expected x to have content chunks, got %+v", xNode)
	}
	dataEntry, ok := ibBefore.GetData(xNode.Content[0])
	if !ok {
		t.Fatal("x's chunk not indexed")
	}
	if err := be.Remove(ctx, blob.Pack, dataEntry.PackId, false); err != nil {
		t.Fatal(err)
	}

	snapsBefore, err := be.List(ctx, blob.Snapshot)
	if err != nil {
		t.Fatal(err)
	}
	packsBefore, err := be.List(ctx, blob.Pack)
	if err != nil {
		t.Fatal(err)
	}

	ib, err := index.Open(ctx, be, codec)
	if err != nil {
		t.Fatal(err)
	}
	idx := index.NewIndexer(be, codec)
	treePacker := pack.New(blob.KindTree, be, codec, idx)
	r := New(be, codec, ib, treePacker, Options{Suffix: ".repaired", DryRun: true})

	outcomes, err := r.RepairSnapshots(ctx, []*snapshot.Snapshot{s})
	if err != nil {
		t.Fatalf("RepairSnapshots: %v", err)
	}
	// A real run would call these too; simulate the CLI's full
	// sequence to confirm Finalize has nothing pending to write.
	if err := treePacker.Finalize(ctx); err != nil {
		t.Fatal(err)
	}
	if err := idx.Finalize(ctx); err != nil {
		t.Fatal(err)
	}

	if len(outcomes) != 1 {
		t.Fatalf("expected one outcome, got %d", len(outcomes))
	}
	o := outcomes[0]
	if o.Changed != SubTree {
		t.Fatalf("expected SubTree, got %v", o.Changed)
	}
	if o.Delete {
		t.Fatalf("dry run must never mark a snapshot for deletion, got Delete=true")
	}
	if o.New == nil || o.New.Id != (blob.Id{}) {
		t.Fatalf("dry run's preview snapshot must be unwritten (zero Id), got %+v", o.New)
	}

	snapsAfter, err := be.List(ctx, blob.Snapshot)
	if err != nil {
		t.Fatal(err)
	}
	if len(snapsAfter) != len(snapsBefore) {
		t.Fatalf("dry run wrote or deleted a snapshot: before=%d after=%d", len(snapsBefore), len(snapsAfter))
	}
	packsAfter, err := be.List(ctx, blob.Pack)
	if err != nil {
		t.Fatal(err)
	}
	if len(packsAfter) != len(packsBefore) {
		t.Fatalf("dry run wrote a pack: before=%d after=%d", len(packsBefore), len(packsAfter))
	}
}

func loadRootForTest(ctx context.Context, be backend.Backend, codec crypto.Codec, ib *index.IndexBackend, id blob.Id) (*tree.Tree, error) {
	entry, ok := ib.GetTree(id)
	if !ok {
		return nil, fmt.Errorf("tree %s not indexed", id)
	}
	encoded, err := be.ReadPartial(ctx, blob.Pack, entry.PackId, true, int64(entry.Offset), int64(entry.Length))
	if err != nil {
		return nil, err
	}
	data, err := codec.Decode(encoded)
	if err != nil {
		return nil, err
	}
	return tree.Parse(data)
}
