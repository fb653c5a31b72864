// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package index tracks which blobs live in which packs.
//
// Two views are exposed, modeled on Perkeep's split between its write
// path (pkg/index, fed descriptions as blobs are received) and its
// read path (an in-memory mapping built once and consulted by every
// subsequent lookup, the way pkg/sorted's memKeys holds an entire
// small index in RAM): an Indexer accumulates pack descriptions as an
// archiver run proceeds and periodically flushes them to the backend
// as IndexFiles; an IndexBackend reads every IndexFile written by any
// past run and builds the single in-memory id→Entry table the
// archiver and repair traversal consult for "do we already have
// this blob" and "where does it live".
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"vaultpack.dev/vaultpack/backend"
	"vaultpack.dev/vaultpack/blob"
	"vaultpack.dev/vaultpack/crypto"
	"vaultpack.dev/vaultpack/pack"
	"vaultpack.dev/vaultpack/verrors"
)

// Entry locates one blob within a pack and records the sizes needed
// to read and validate it.
type Entry struct {
	PackId             blob.Id
	Kind               blob.Kind
	Offset             uint32
	Length             uint32
	UncompressedLength uint32
}

// packDescription is the wire record of one sealed pack, as written
// inside an IndexFile. Offsets are never stored: a reader recomputes
// them as running sums over Blobs, exactly as pack.Locations does.
type packDescription struct {
	PackId blob.Id       `json:"pack_id"`
	Size   uint32        `json:"size"`
	Blobs  []blob.Header `json:"blobs"`
}

// indexFile is the top-level shape of one Index-typed object. Packs
// lists live packs; PacksToDelete lists packs superseded by a repair
// or copy run but retained until a later pruning pass removes them.
// Nothing in this package prunes — that is explicitly out of scope —
// but the field is part of the on-disk shape so a future pruning pass
// (or a human inspecting a repository) can find them.
type indexFile struct {
	Packs          []packDescription `json:"packs"`
	PacksToDelete  []packDescription `json:"packs_to_delete,omitempty"`
}

// FlushThreshold is the number of pack descriptions an Indexer
// accumulates before writing them out as a new IndexFile. A smaller
// number bounds how much work is lost if a run is interrupted before
// finalize; a larger number amortizes IndexFile overhead across more
// packs.
const FlushThreshold = 50

// Indexer is the write-side accumulator: every pack a Packer seals is
// reported here via AddPack, and periodically flushed to be as an
// IndexFile.
type Indexer struct {
	be    backend.Backend
	codec crypto.Codec

	mu             sync.Mutex
	pending        []packDescription
	pendingDeleted []packDescription
	knownData      map[blob.Id]Entry
	knownTree      map[blob.Id]Entry
}

// NewIndexer returns an Indexer that writes IndexFiles to be.
func NewIndexer(be backend.Backend, codec crypto.Codec) *Indexer {
	return &Indexer{
		be:        be,
		codec:     codec,
		knownData: make(map[blob.Id]Entry),
		knownTree: make(map[blob.Id]Entry),
	}
}

// Known reports whether id has already been described by a pack
// sealed during this Indexer's lifetime. It does not consult blobs
// from earlier runs — that is IndexBackend's job — since a Packer
// only needs this to avoid re-adding a blob two of its own sealed
// packs already disagree about.
func (ix *Indexer) Known(kind blob.Kind, id blob.Id) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if kind == blob.KindTree {
		_, ok := ix.knownTree[id]
		return ok
	}
	_, ok := ix.knownData[id]
	return ok
}

// AddPack records a newly sealed pack's contents and flushes an
// IndexFile once enough packs have accumulated. It implements
// pack.Indexer.
func (ix *Indexer) AddPack(packId blob.Id, headers []blob.Header, locs []blob.Location, size uint32) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for i, h := range headers {
		e := Entry{
			PackId:             packId,
			Kind:               h.Type,
			Offset:             locs[i].Offset,
			Length:             h.Length,
			UncompressedLength: h.UncompressedLength,
		}
		if h.Type == blob.KindTree {
			ix.knownTree[h.Id] = e
		} else {
			ix.knownData[h.Id] = e
		}
	}
	ix.pending = append(ix.pending, packDescription{PackId: packId, Size: size, Blobs: headers})
	if len(ix.pending) >= FlushThreshold {
		ix.flushLocked(context.Background())
	}
}

// MarkPackDeleted records that packId is superseded: it stays in the
// repository (no pruning pass runs here — that is out of scope) but a
// future pruning pass can find it in the next flushed IndexFile's
// packs_to_delete list.
func (ix *Indexer) MarkPackDeleted(packId blob.Id) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.pendingDeleted = append(ix.pendingDeleted, packDescription{PackId: packId})
}

// flushLocked writes any pending pack descriptions as a new IndexFile.
// Callers must hold ix.mu.
func (ix *Indexer) flushLocked(ctx context.Context) error {
	if len(ix.pending) == 0 && len(ix.pendingDeleted) == 0 {
		return nil
	}
	f := indexFile{Packs: ix.pending, PacksToDelete: ix.pendingDeleted}
	raw, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("index: marshaling index file: %w", err)
	}
	encoded, err := ix.codec.Encode(raw)
	if err != nil {
		return fmt.Errorf("index: encoding index file: %w", err)
	}
	id := blob.Hash(raw)
	if err := ix.be.WriteFull(ctx, blob.Index, id, encoded); err != nil {
		return fmt.Errorf("index: writing index file %s: %w", id, err)
	}
	ix.pending = nil
	ix.pendingDeleted = nil
	return nil
}

// Finalize flushes any pending descriptions, blocking until the final
// IndexFile (if any) is durably written.
func (ix *Indexer) Finalize(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.flushLocked(ctx)
}

var _ pack.Indexer = (*Indexer)(nil)

// IndexBackend is the read-side view: every IndexFile a Backend holds,
// decoded once at Open into an immutable in-memory id→Entry table.
type IndexBackend struct {
	data map[blob.Id]Entry
	tree map[blob.Id]Entry
}

// Open streams every IndexFile from be and builds the lookup table.
// The result is immutable: a run's own newly sealed packs are visible
// only through its Indexer, never through the IndexBackend snapshot
// taken at the start of the run (the archiver only ever needs
// already-indexed content when consulting a parent snapshot, which by
// definition was indexed before this run began).
func Open(ctx context.Context, be backend.Backend, codec crypto.Codec) (*IndexBackend, error) {
	ib := &IndexBackend{data: make(map[blob.Id]Entry), tree: make(map[blob.Id]Entry)}
	ids, err := be.List(ctx, blob.Index)
	if err != nil {
		return nil, fmt.Errorf("index: listing index files: %w", err)
	}
	for _, id := range ids {
		encoded, err := be.ReadFull(ctx, blob.Index, id)
		if err != nil {
			return nil, fmt.Errorf("index: reading index file %s: %w", id, err)
		}
		raw, err := codec.Decode(encoded)
		if err != nil {
			return nil, fmt.Errorf("index: decoding index file %s: %w", id, err)
		}
		var f indexFile
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&f); err != nil {
			return nil, fmt.Errorf("index: parsing index file %s: %w: %v", id, verrors.IntegrityError, err)
		}
		for _, p := range f.Packs {
			locs := pack.Locations(p.PackId, p.Blobs)
			for i, h := range p.Blobs {
				e := Entry{
					PackId:             p.PackId,
					Kind:               h.Type,
					Offset:             locs[i].Offset,
					Length:             h.Length,
					UncompressedLength: h.UncompressedLength,
				}
				if h.Type == blob.KindTree {
					ib.tree[h.Id] = e
				} else {
					ib.data[h.Id] = e
				}
			}
		}
	}
	return ib, nil
}

// HasData reports whether id names a known Data blob.
func (ib *IndexBackend) HasData(id blob.Id) bool {
	_, ok := ib.data[id]
	return ok
}

// HasTree reports whether id names a known Tree blob.
func (ib *IndexBackend) HasTree(id blob.Id) bool {
	_, ok := ib.tree[id]
	return ok
}

// GetData returns the Entry for a known Data blob.
func (ib *IndexBackend) GetData(id blob.Id) (Entry, bool) {
	e, ok := ib.data[id]
	return e, ok
}

// GetTree returns the Entry for a known Tree blob.
func (ib *IndexBackend) GetTree(id blob.Id) (Entry, bool) {
	e, ok := ib.tree[id]
	return e, ok
}

// Len reports the total number of indexed Data and Tree blobs.
func (ib *IndexBackend) Len() int {
	return len(ib.data) + len(ib.tree)
}

// knownPacks returns the set of pack ids this IndexBackend has at
// least one blob entry in, used by RepairIndex to decide which packs
// already have a trustworthy description.
func (ib *IndexBackend) knownPacks() map[blob.Id]bool {
	out := make(map[blob.Id]bool, len(ib.data)+len(ib.tree))
	for _, e := range ib.data {
		out[e.PackId] = true
	}
	for _, e := range ib.tree {
		out[e.PackId] = true
	}
	return out
}

// RepairIndex rebuilds the repository's index from the pack listing
// rather than trusting existing IndexFiles, implementing the
// repair_index reconciliation: a crash between an Indexer flushing an
// IndexFile and the packs it describes becoming reachable leaves a
// transient indexed-without-pack window (spec.md §5); conversely a
// crash the other way round — a pack durably written but never
// described — leaves a pack-without-index window that a normal Open
// never notices, since it only ever reads what IndexFiles say exists.
//
// When readAll is false, a pack already described by at least one
// entry in the repository's current index is trusted and its header
// is not re-read — cheap reconciliation for the common case where the
// index is mostly intact. When readAll is true, every pack's header is
// re-read and re-described regardless, the thorough (and slow) path
// for when the index itself is suspected corrupt or entirely absent.
// Either way, the returned Indexer has not been flushed; callers call
// Finalize once they're ready to commit the rebuilt IndexFile(s).
func RepairIndex(ctx context.Context, be backend.Backend, codec crypto.Codec, readAll bool) (*Indexer, error) {
	var trusted map[blob.Id]bool
	if !readAll {
		existing, err := Open(ctx, be, codec)
		if err != nil {
			return nil, fmt.Errorf("index: repair: opening existing index: %w", err)
		}
		trusted = existing.knownPacks()
	}

	packs, err := be.ListWithSize(ctx, blob.Pack)
	if err != nil {
		return nil, fmt.Errorf("index: repair: listing packs: %w", err)
	}

	ix := NewIndexer(be, codec)
	for _, p := range packs {
		if trusted[p.Id] {
			continue
		}
		headers, locs, err := pack.ReadHeader(ctx, be, codec, p.Id, int64(p.Size))
		if err != nil {
			// A pack whose header can't be read is orphaned or
			// corrupt; repair_index reconciles the index against
			// what's actually readable and leaves such packs for a
			// human (or a future pruning pass) to deal with, rather
			// than failing the whole rebuild.
			continue
		}
		ix.AddPack(p.Id, headers, locs, p.Size)
	}
	return ix, nil
}
