// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package archiver turns a pre-order filesystem walk into snapshot
// state: it chunks and dedups file content against a Packer pair and
// an IndexBackend, assembles directories into Trees as they close, and
// fast-paths files unchanged since a parent snapshot via Parent.
//
// The shape — a stack of in-progress directories fed by caller-driven
// Open/Close calls rather than owning the walk itself — mirrors how
// Perkeep's cmd/pk-put Uploader is driven by a caller-supplied
// filepath.Walk rather than walking the filesystem itself; vaultpack's
// walk contract (pre-order, parent before children, siblings sorted by
// name) is the caller's responsibility, matching rustic's own
// Archiver::add_entry API shape.
package archiver

import (
	"context"
	"fmt"
	"io"
	"time"

	"vaultpack.dev/vaultpack/backend"
	"vaultpack.dev/vaultpack/blob"
	"vaultpack.dev/vaultpack/chunker"
	"vaultpack.dev/vaultpack/crypto"
	"vaultpack.dev/vaultpack/index"
	"vaultpack.dev/vaultpack/pack"
	"vaultpack.dev/vaultpack/snapshot"
	"vaultpack.dev/vaultpack/tree"
)

// Archiver accumulates one backup run's worth of directory state. It
// is not safe for concurrent use by multiple goroutines driving the
// same walk; the data and tree Packers it wraps handle their own
// internal concurrency for background uploads.
type Archiver struct {
	be    backend.Backend
	codec crypto.Codec

	data *pack.Packer // blob.KindData
	tree *pack.Packer // blob.KindTree
	idx  *index.Indexer
	ib   *index.IndexBackend
	pol  chunker.Pol

	parent *Parent

	// stack holds one *tree.Tree per directory level currently open,
	// root first. It is never empty while an Archiver is in use:
	// Finalize requires it back down to exactly one entry (the root).
	stack []*tree.Tree
}

// New returns an Archiver that chunks and dedups file content into
// dataPacker, directory listings into treePacker, reports both to idx,
// and consults ib and parent (see NewParent) for dedup decisions.
// parent may be nil.
func New(be backend.Backend, codec crypto.Codec, dataPacker, treePacker *pack.Packer, idx *index.Indexer, ib *index.IndexBackend, pol chunker.Pol, parent *Parent) *Archiver {
	return &Archiver{
		be:     be,
		codec:  codec,
		data:   dataPacker,
		tree:   treePacker,
		idx:    idx,
		ib:     ib,
		pol:    pol,
		parent: parent,
		stack:  []*tree.Tree{tree.New()},
	}
}

func (a *Archiver) current() *tree.Tree {
	return a.stack[len(a.stack)-1]
}

// OpenDir begins a new directory level named name, nested under the
// directory currently open. Call CloseDir once every entry inside it
// (including nested directories, fully closed) has been added.
func (a *Archiver) OpenDir(ctx context.Context, name string) {
	if a.parent != nil {
		a.parent.Descend(ctx, name)
	}
	a.stack = append(a.stack, tree.New())
}

// CloseDir serializes the directory level opened by the matching
// OpenDir, stores it via the tree Packer unless it is already known,
// and appends a Dir node pointing at it, carrying meta (the
// directory's own stat metadata), to the enclosing directory. The
// root level is closed by Finalize, not CloseDir: calling CloseDir
// with no directory open returns an error.
func (a *Archiver) CloseDir(ctx context.Context, name string, meta tree.Metadata) (blob.Id, error) {
	if len(a.stack) == 1 {
		return blob.Id{}, fmt.Errorf("archiver: CloseDir called with no directory open")
	}
	t := a.current()
	t.Sort()
	data, id, err := t.Serialize()
	if err != nil {
		return blob.Id{}, fmt.Errorf("archiver: serializing directory %q: %w", name, err)
	}
	if !a.ib.HasTree(id) {
		if _, err := a.tree.Add(ctx, id, data); err != nil {
			return blob.Id{}, fmt.Errorf("archiver: storing directory %q: %w", name, err)
		}
	}

	a.stack = a.stack[:len(a.stack)-1]
	if a.parent != nil {
		a.parent.Ascend()
	}

	a.current().Add(tree.Node{Name: name, Type: tree.TypeDir, Meta: meta, Subtree: &id})
	return id, nil
}

// Open is a reader factory passed to AddFile: it is only invoked when
// the parent fast-path does not apply, so an unchanged file's bytes
// are never read.
type Open func() (io.ReadCloser, error)

// AddFile adds a regular file named name to the directory currently
// open. If the parent has a node named name with the same size and
// mtime, its content list is reused verbatim and open is never called
// (the parent fast-path from spec.md §4.5 step 1). Otherwise the file
// is streamed through the chunker, each chunk deduped against ib and
// the in-flight data pack, and a fresh content list is built.
func (a *Archiver) AddFile(ctx context.Context, name string, meta tree.Metadata, open Open) error {
	if a.parent != nil {
		if pn, ok := a.parent.Find(name); ok && pn.Type == tree.TypeFile &&
			pn.Meta.Size == meta.Size && pn.Meta.Mtime.Equal(meta.Mtime) {
			meta.Size = pn.Meta.Size
			a.current().Add(tree.Node{Name: name, Type: tree.TypeFile, Meta: meta, Content: pn.Content})
			return nil
		}
	}

	r, err := open()
	if err != nil {
		return fmt.Errorf("archiver: opening %q: %w", name, err)
	}
	defer r.Close()

	content, size, err := a.chunkAndStore(ctx, r)
	if err != nil {
		return fmt.Errorf("archiver: reading %q: %w", name, err)
	}
	meta.Size = size
	a.current().Add(tree.Node{Name: name, Type: tree.TypeFile, Meta: meta, Content: content})
	return nil
}

// chunkAndStore splits r with the repository's chunker polynomial,
// stores every chunk not already known, and returns the ordered list
// of chunk ids plus the total plaintext size.
func (a *Archiver) chunkAndStore(ctx context.Context, r io.Reader) ([]blob.Id, uint64, error) {
	ck := chunker.New(r, a.pol)
	var ids []blob.Id
	var size uint64
	buf := make([]byte, 0, chunker.DefaultMaxSize)
	for {
		chunk, err := ck.Next(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		id := blob.Hash(chunk.Data)
		if !a.ib.HasData(id) {
			if _, err := a.data.Add(ctx, id, chunk.Data); err != nil {
				return nil, 0, err
			}
		}
		ids = append(ids, id)
		size += uint64(chunk.Length)
		buf = chunk.Data[:0]
	}
	return ids, size, nil
}

// AddSymlink adds a symlink node to the directory currently open.
func (a *Archiver) AddSymlink(name, target string, meta tree.Metadata) {
	a.current().Add(tree.Node{Name: name, Type: tree.TypeSymlink, Meta: meta, LinkTarget: target})
}

// AddSpecial adds a device, fifo or socket node to the directory
// currently open. typ must be one of TypeDev, TypeChardev, TypeFifo or
// TypeSocket.
func (a *Archiver) AddSpecial(name string, typ tree.NodeType, meta tree.Metadata) {
	a.current().Add(tree.Node{Name: name, Type: typ, Meta: meta})
}

// Finalize closes the root directory, flushes both packers and the
// indexer, and writes a Snapshot pointing at the resulting root tree.
// It must be called exactly once, after every OpenDir has a matching
// CloseDir.
func (a *Archiver) Finalize(ctx context.Context, paths []string, hostname string) (*snapshot.Snapshot, error) {
	if len(a.stack) != 1 {
		return nil, fmt.Errorf("archiver: Finalize called with %d directory level(s) still open", len(a.stack)-1)
	}
	root := a.current()
	root.Sort()
	data, rootId, err := root.Serialize()
	if err != nil {
		return nil, fmt.Errorf("archiver: serializing root tree: %w", err)
	}
	if !a.ib.HasTree(rootId) {
		if _, err := a.tree.Add(ctx, rootId, data); err != nil {
			return nil, fmt.Errorf("archiver: storing root tree: %w", err)
		}
	}

	if err := a.data.Finalize(ctx); err != nil {
		return nil, fmt.Errorf("archiver: finalizing data packer: %w", err)
	}
	if err := a.tree.Finalize(ctx); err != nil {
		return nil, fmt.Errorf("archiver: finalizing tree packer: %w", err)
	}
	if err := a.idx.Finalize(ctx); err != nil {
		return nil, fmt.Errorf("archiver: finalizing index: %w", err)
	}

	s := &snapshot.Snapshot{
		Time:     time.Now().UTC(),
		Hostname: hostname,
		Paths:    paths,
		Tree:     rootId,
	}
	if a.parent != nil && a.parent.Snapshot != nil {
		parentId := a.parent.Snapshot.Id
		s.Parent = &parentId
	}
	if err := snapshot.Write(ctx, a.be, a.codec, s); err != nil {
		return nil, fmt.Errorf("archiver: writing snapshot: %w", err)
	}
	return s, nil
}
