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
	"fmt"

	"vaultpack.dev/vaultpack/backend"
	"vaultpack.dev/vaultpack/blob"
	"vaultpack.dev/vaultpack/crypto"
	"vaultpack.dev/vaultpack/index"
	"vaultpack.dev/vaultpack/snapshot"
	"vaultpack.dev/vaultpack/tree"
	"vaultpack.dev/vaultpack/verrors"
)

// Parent is a stateful cursor over a previous snapshot's root tree,
// consulted by the archiver to fast-path files that have not changed.
// It descends and ascends in lockstep with the archiver's own
// directory walk, loading each child tree lazily so a run touches at
// most O(parent tree size) tree blobs rather than re-descending from
// the root for every file (see Parent cursor vs. random-access lookup
// in the design notes).
//
// A nil entry on the internal stack means the walk has diverged from
// the parent at that level (the directory is new, renamed, or the
// parent's tree for it could not be loaded) — Find simply reports
// nothing found until the matching Ascend pops that level back off.
type Parent struct {
	ib    *index.IndexBackend
	be    backend.Backend
	codec crypto.Codec

	// Snapshot is the previous snapshot this cursor walks, or nil if
	// this archiver run has no parent.
	Snapshot *snapshot.Snapshot

	stack []*tree.Tree
}

// NewParent returns a cursor over parentSnapshot's root tree. A nil
// parentSnapshot is valid: it produces a cursor that never fast-paths
// anything, matching a first backup of a path.
func NewParent(ctx context.Context, be backend.Backend, codec crypto.Codec, ib *index.IndexBackend, parentSnapshot *snapshot.Snapshot) (*Parent, error) {
	p := &Parent{ib: ib, be: be, codec: codec, Snapshot: parentSnapshot}
	if parentSnapshot == nil {
		p.stack = []*tree.Tree{nil}
		return p, nil
	}
	root, err := p.loadTree(ctx, parentSnapshot.Tree)
	if err != nil {
		// A parent whose very root can't be read just means no
		// fast-path is available this run, not a run failure: the
		// archiver always falls back to reading file content.
		p.stack = []*tree.Tree{nil}
		return p, nil
	}
	p.stack = []*tree.Tree{root}
	return p, nil
}

// Find reports the node named name in the directory the cursor is
// currently positioned at, mirroring tree.Tree.Find.
func (p *Parent) Find(name string) (tree.Node, bool) {
	cur := p.stack[len(p.stack)-1]
	if cur == nil {
		return tree.Node{}, false
	}
	return cur.Find(name)
}

// Descend advances the cursor into the child directory named name,
// loading its tree if the parent has one at this path. It must be
// called exactly once per Archiver.OpenDir, in the same order.
func (p *Parent) Descend(ctx context.Context, name string) {
	cur := p.stack[len(p.stack)-1]
	if cur == nil {
		p.stack = append(p.stack, nil)
		return
	}
	node, ok := cur.Find(name)
	if !ok || node.Type != tree.TypeDir || node.Subtree == nil {
		p.stack = append(p.stack, nil)
		return
	}
	child, err := p.loadTree(ctx, *node.Subtree)
	if err != nil {
		p.stack = append(p.stack, nil)
		return
	}
	p.stack = append(p.stack, child)
}

// Ascend retreats the cursor back to the enclosing directory. It must
// be called exactly once per Archiver.CloseDir, in the same order,
// after the matching Descend. The root level is never popped.
func (p *Parent) Ascend() {
	if len(p.stack) > 1 {
		p.stack = p.stack[:len(p.stack)-1]
	}
}

// loadTree reads, decodes and parses the tree named id via the
// IndexBackend's location for it, verifying the decoded bytes
// actually hash to id.
func (p *Parent) loadTree(ctx context.Context, id blob.Id) (*tree.Tree, error) {
	entry, ok := p.ib.GetTree(id)
	if !ok {
		return nil, fmt.Errorf("archiver: parent: tree %s not indexed: %w", id, verrors.IntegrityError)
	}
	encoded, err := p.be.ReadPartial(ctx, blob.Pack, entry.PackId, true, int64(entry.Offset), int64(entry.Length))
	if err != nil {
		return nil, fmt.Errorf("archiver: parent: reading tree %s: %w", id, err)
	}
	data, err := p.codec.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("archiver: parent: decoding tree %s: %w", id, err)
	}
	if got := blob.Hash(data); got != id {
		return nil, fmt.Errorf("archiver: parent: tree %s hash mismatch (got %s): %w", id, got, verrors.IntegrityError)
	}
	return tree.Parse(data)
}
