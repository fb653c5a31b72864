// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package repair implements the depth-first, memoized tree traversal
// that detects and rewrites damaged trees: a File node whose content
// chunks are no longer indexed, or a Dir node whose subtree blob can't
// be loaded at all, is replaced in a freshly rewritten parent tree
// rather than silently dropped.
//
// The traversal's shape — recurse, memoize by original tree id, and
// only pay to re-serialize a directory when something underneath it
// actually changed — mirrors how Perkeep's pkg/index/corpus walks and
// caches schema blobs it has already resolved rather than re-fetching
// them on every query.
package repair

import (
	"context"
	"fmt"

	"vaultpack.dev/vaultpack/backend"
	"vaultpack.dev/vaultpack/blob"
	"vaultpack.dev/vaultpack/crypto"
	"vaultpack.dev/vaultpack/index"
	"vaultpack.dev/vaultpack/pack"
	"vaultpack.dev/vaultpack/snapshot"
	"vaultpack.dev/vaultpack/tree"
	"vaultpack.dev/vaultpack/verrors"
)

// Changed reports what a repair pass did to a tree (or, at the top
// level, a snapshot).
type Changed int

const (
	// None means the tree (or snapshot) needed no change: every blob
	// it references, recursively, is present.
	None Changed = iota
	// This means the tree itself could not be loaded or decoded: it
	// is treated as empty and the caller must rename/replace it in
	// its parent.
	This
	// SubTree means the tree itself loaded fine, but something
	// beneath it (a file's chunk, or a nested subtree) was replaced,
	// so this tree had to be rewritten too.
	SubTree
)

func (c Changed) String() string {
	switch c {
	case None:
		return "none"
	case This:
		return "this"
	case SubTree:
		return "subtree"
	default:
		return fmt.Sprintf("Changed(%d)", int(c))
	}
}

// MaxDepth bounds the tree recursion depth repairTree will follow,
// converting pathological (or adversarially crafted) subtree cycles
// into an error rather than stack exhaustion, per the tree recursion
// depth design note.
const MaxDepth = 1000

// Options configures a repair run.
type Options struct {
	// Suffix is appended to the name of any node whose content was
	// lost, e.g. "x" becomes "x.repaired". New replaces an empty
	// Suffix with ".repaired".
	Suffix string

	// Tags are applied to every new snapshot a SubTree-level repair
	// writes, in addition to the superseded snapshot's own tags.
	Tags []string

	// DryRun reports what would change without writing any rewritten
	// tree blob or replacement snapshot, and without flagging any
	// snapshot for deletion. Ids in the returned outcomes (SnapshotOutcome.New.Tree,
	// in particular) are still the real ids the rewritten content would
	// have, since those are pure hashes of the rewritten bytes.
	DryRun bool
}

// result is one memoized outcome of repairTree, keyed by the
// original (pre-repair) tree id.
type result struct {
	newId   blob.Id
	changed Changed
}

// Repairer runs repair passes against one repository, memoizing
// rewritten trees across every snapshot it processes so identical
// damage encountered via two different snapshots is rewritten once
// and produces the same replacement id both times (determinism, per
// spec.md §4.6).
type Repairer struct {
	be    backend.Backend
	codec crypto.Codec
	ib    *index.IndexBackend
	trees *pack.Packer // blob.KindTree
	opts  Options

	memo map[blob.Id]result
}

// New returns a Repairer. trees is the Tree Packer new rewritten
// trees are stored through; ib is the IndexBackend consulted for
// "does this blob still exist".
func New(be backend.Backend, codec crypto.Codec, ib *index.IndexBackend, trees *pack.Packer, opts Options) *Repairer {
	if opts.Suffix == "" {
		opts.Suffix = ".repaired"
	}
	return &Repairer{
		be:    be,
		codec: codec,
		ib:    ib,
		trees: trees,
		opts:  opts,
		memo:  make(map[blob.Id]result),
	}
}

// SnapshotOutcome is the per-snapshot result of a repair run.
type SnapshotOutcome struct {
	Old     *snapshot.Snapshot
	Changed Changed

	// New is the replacement snapshot for a SubTree change. Nil for
	// None and This. When Options.DryRun is set, New is populated for
	// preview purposes (its Tree field is the real id the rewritten
	// tree would have) but is never written to the backend, and its Id
	// field is left zero.
	New *snapshot.Snapshot

	// Delete reports whether Old should be removed: true for both
	// This (root lost, nothing to replace it with) and SubTree (Old
	// is superseded by New). Always false when Options.DryRun is set,
	// since nothing was actually written to supersede it.
	Delete bool
}

// RepairSnapshots runs the tree repair traversal over every snapshot
// in snaps, writing replacement snapshots for any whose root tree
// needed rewriting. It does not delete anything itself — callers
// apply SnapshotOutcome.Delete via snapshot.Delete once satisfied with
// the result — matching the non-goal that pruning/retention policy
// lives outside the core.
func (r *Repairer) RepairSnapshots(ctx context.Context, snaps []*snapshot.Snapshot) ([]SnapshotOutcome, error) {
	out := make([]SnapshotOutcome, 0, len(snaps))
	for _, s := range snaps {
		newRoot, changed, err := r.repairTree(ctx, s.Tree, 0)
		if err != nil {
			return nil, fmt.Errorf("repair: snapshot %s: %w", s.Id, err)
		}
		o := SnapshotOutcome{Old: s, Changed: changed}
		switch changed {
		case None:
			// unchanged; nothing to write, nothing to delete.
		case This:
			o.Delete = !r.opts.DryRun
		case SubTree:
			ns := &snapshot.Snapshot{
				Time:     s.Time,
				Hostname: s.Hostname,
				Username: s.Username,
				Paths:    s.Paths,
				Tags:     mergeTags(s.Tags, r.opts.Tags),
				Label:    s.Label,
				Tree:     newRoot,
				Parent:   s.Parent,
			}
			original := s.Id
			if s.Original != nil {
				original = *s.Original
			}
			ns.Original = &original
			if !r.opts.DryRun {
				if err := snapshot.Write(ctx, r.be, r.codec, ns); err != nil {
					return nil, fmt.Errorf("repair: writing replacement for snapshot %s: %w", s.Id, err)
				}
				o.Delete = true
			}
			o.New = ns
		}
		out = append(out, o)
	}
	return out, nil
}

func mergeTags(old, add []string) []string {
	if len(add) == 0 {
		return old
	}
	seen := make(map[string]bool, len(old)+len(add))
	out := make([]string, 0, len(old)+len(add))
	for _, t := range old {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range add {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// repairTree repairs the tree named id, returning its (possibly
// unchanged) id in the rewritten repository and what changed. It
// memoizes by the original id so repeated references to the same
// damaged subtree, across or within snapshots, rewrite identically.
func (r *Repairer) repairTree(ctx context.Context, id blob.Id, depth int) (blob.Id, Changed, error) {
	if depth > MaxDepth {
		return blob.Id{}, 0, fmt.Errorf("repair: tree depth exceeds %d at %s", MaxDepth, id)
	}
	if res, ok := r.memo[id]; ok {
		return res.newId, res.changed, nil
	}

	t, loadErr := r.loadTree(ctx, id)
	selfDamaged := loadErr != nil
	if selfDamaged {
		t = tree.New()
	}

	changed := None
	if selfDamaged {
		changed = This
	}

	rewritten := tree.New()
	for _, n := range t.Nodes {
		switch n.Type {
		case tree.TypeFile:
			nn, nodeChanged := r.repairFile(n)
			rewritten.Add(nn)
			if nodeChanged {
				changed = maxChanged(changed, SubTree)
			}
		case tree.TypeDir:
			nn, dirChanged, err := r.repairDir(ctx, n, depth)
			if err != nil {
				return blob.Id{}, 0, err
			}
			rewritten.Add(nn)
			if dirChanged {
				changed = maxChanged(changed, SubTree)
			}
		default:
			rewritten.Add(n)
		}
	}

	if changed == None {
		r.memo[id] = result{newId: id, changed: None}
		return id, None, nil
	}

	rewritten.Sort()
	data, newId, err := rewritten.Serialize()
	if err != nil {
		return blob.Id{}, 0, fmt.Errorf("repair: serializing rewritten tree for %s: %w", id, err)
	}
	if !r.opts.DryRun && !r.ib.HasTree(newId) {
		if _, err := r.trees.Add(ctx, newId, data); err != nil {
			return blob.Id{}, 0, fmt.Errorf("repair: storing rewritten tree for %s: %w", id, err)
		}
	}
	r.memo[id] = result{newId: newId, changed: changed}
	return newId, changed, nil
}

// repairFile filters n's content list against the index, dropping any
// chunk no longer present and recomputing meta.size from the
// survivors. A node whose content shrank is renamed with the
// configured suffix to flag the data loss to a human browsing the
// tree.
func (r *Repairer) repairFile(n tree.Node) (tree.Node, bool) {
	kept := n.Content[:0:0]
	var size uint64
	lost := false
	for _, c := range n.Content {
		if r.ib.HasData(c) {
			kept = append(kept, c)
			size += chunkPlainLength(r.ib, c)
		} else {
			lost = true
		}
	}
	if !lost {
		if size == n.Meta.Size {
			return n, false
		}
		// every chunk survives but the recorded size disagrees with
		// their sum: correct the size without renaming the node.
		n.Meta.Size = size
		return n, true
	}
	n.Content = kept
	n.Meta.Size = size
	n.Name += r.opts.Suffix
	return n, true
}

func chunkPlainLength(ib *index.IndexBackend, id blob.Id) uint64 {
	e, ok := ib.GetData(id)
	if !ok {
		return 0
	}
	if e.UncompressedLength != 0 {
		return uint64(e.UncompressedLength)
	}
	return uint64(e.Length)
}

// repairDir recurses into n's subtree and applies the Dir handling
// rules from spec.md §4.6: a None child leaves n untouched; a This
// child (the subtree itself is gone) replaces n's subtree pointer
// with the rewritten (possibly empty) tree and renames n; a SubTree
// child replaces the subtree pointer without renaming n.
func (r *Repairer) repairDir(ctx context.Context, n tree.Node, depth int) (tree.Node, bool, error) {
	if n.Subtree == nil {
		return n, false, fmt.Errorf("repair: dir node %q has no subtree: %w", n.Name, verrors.IntegrityError)
	}
	newSub, childChanged, err := r.repairTree(ctx, *n.Subtree, depth+1)
	if err != nil {
		return tree.Node{}, false, err
	}
	switch childChanged {
	case None:
		return n, false, nil
	case This:
		n.Subtree = &newSub
		n.Name += r.opts.Suffix
		return n, true, nil
	default: // SubTree
		n.Subtree = &newSub
		return n, true, nil
	}
}

// loadTree resolves id via the IndexBackend, reads its encoded bytes
// from the backend, decodes, and verifies the decoded bytes actually
// hash to id. Any failure along this path — not indexed, backend
// read error, codec failure, hash mismatch — is reported uniformly:
// the caller treats it as "this tree is gone".
func (r *Repairer) loadTree(ctx context.Context, id blob.Id) (*tree.Tree, error) {
	entry, ok := r.ib.GetTree(id)
	if !ok {
		return nil, fmt.Errorf("repair: tree %s: %w", id, verrors.NotFound)
	}
	encoded, err := r.be.ReadPartial(ctx, blob.Pack, entry.PackId, true, int64(entry.Offset), int64(entry.Length))
	if err != nil {
		return nil, fmt.Errorf("repair: reading tree %s: %w", id, err)
	}
	data, err := r.codec.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("repair: decoding tree %s: %w", id, err)
	}
	if got := blob.Hash(data); got != id {
		return nil, fmt.Errorf("repair: tree %s hash mismatch (got %s): %w", id, got, verrors.IntegrityError)
	}
	t, err := tree.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("repair: parsing tree %s: %w", id, err)
	}
	return t, nil
}

func maxChanged(a, b Changed) Changed {
	if b > a {
		return b
	}
	return a
}
