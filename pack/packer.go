// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package pack

import (
	"context"
	"fmt"
	"sync"

	"go4.org/syncutil"

	"vaultpack.dev/vaultpack/backend"
	"vaultpack.dev/vaultpack/blob"
	"vaultpack.dev/vaultpack/crypto"
)

// TargetSize is the payload size at which a Packer seals its current
// pack and starts a new one. MaxSize is the hard ceiling a single
// oversized blob is allowed to push a pack past; Perkeep's zip
// archiver packs to the same order of magnitude (16MiB) before
// rotating to a new file.
const (
	TargetSize = 16 << 20
	MaxSize    = 32 << 20
)

// Indexer receives pack descriptions as packs are sealed, and is
// consulted to skip blobs it has already been told about. It is
// satisfied by *index.Indexer.
type Indexer interface {
	Known(kind blob.Kind, id blob.Id) bool
	AddPack(packId blob.Id, headers []blob.Header, locs []blob.Location, size uint32)
}

// Packer accumulates encoded blobs of one Kind into pack files and
// writes them to a Backend once they cross TargetSize, deduplicating
// against blobs already known to idx. One Packer instance is intended
// per blob Kind (the core opens exactly one Data packer and one Tree
// packer), matching how diskpacked serializes all writes through a
// single current-file-under-construction, generalized here to allow
// one in-flight upload to overlap with the next pack's accumulation.
type Packer struct {
	kind    blob.Kind
	be      backend.Backend
	codec   crypto.Codec
	idx     Indexer
	target  int
	maxSize int

	mu      sync.Mutex
	pending []Entry
	size    int
	seen    map[blob.Id]bool

	uploadGate *syncutil.Gate
	grp        syncutil.Group
}

// New returns a Packer for kind, writing sealed packs to be and
// reporting them to idx.
func New(kind blob.Kind, be backend.Backend, codec crypto.Codec, idx Indexer) *Packer {
	return &Packer{
		kind:       kind,
		be:         be,
		codec:      codec,
		idx:        idx,
		target:     TargetSize,
		maxSize:    MaxSize,
		seen:       make(map[blob.Id]bool),
		uploadGate: syncutil.NewGate(1),
	}
}

// Add encodes and queues plaintext for inclusion in a pack, unless id
// is already known to idx (described by a pack reported to it) or
// already queued in this Packer's pending buffer. Blobs from earlier
// runs are not checked here; callers consult an IndexBackend for that. It returns true if the blob was newly
// added. ctx is threaded through to the Backend write if Add happens
// to trigger a seal.
func (p *Packer) Add(ctx context.Context, id blob.Id, plaintext []byte) (bool, error) {
	p.mu.Lock()
	if p.seen[id] || p.idx.Known(p.kind, id) {
		p.mu.Unlock()
		return false, nil
	}
	p.mu.Unlock()

	encoded, err := p.codec.Encode(plaintext)
	if err != nil {
		return false, fmt.Errorf("pack: encoding blob %s: %w", id, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen[id] || p.idx.Known(p.kind, id) {
		// lost a race with a concurrent Add for the same id between
		// the unlocked Encode above and re-acquiring the lock.
		return false, nil
	}
	p.seen[id] = true
	p.pending = append(p.pending, Entry{
		Id:                 id,
		Kind:               p.kind,
		Encoded:            encoded,
		UncompressedLength: uint32(len(plaintext)),
	})
	p.size += len(encoded)

	if p.size >= p.target || p.size >= p.maxSize {
		p.sealLocked(ctx)
	}
	return true, nil
}

// sealLocked takes ownership of the pending buffer and hands it to a
// background goroutine that assembles, writes, and reports the pack,
// then resets the buffer so callers can keep accumulating while the
// upload is in flight. Callers must hold p.mu.
func (p *Packer) sealLocked(ctx context.Context) {
	if len(p.pending) == 0 {
		return
	}
	entries := p.pending
	p.pending = nil
	p.size = 0
	p.seen = make(map[blob.Id]bool)

	p.uploadGate.Start()
	p.grp.Go(func() error {
		defer p.uploadGate.Done()
		return p.upload(ctx, entries)
	})
}

func (p *Packer) upload(ctx context.Context, entries []Entry) error {
	data, encodedHeader, headers, err := Assemble(entries, p.codec)
	if err != nil {
		return fmt.Errorf("pack: assembling: %w", err)
	}
	packId := blob.Hash(encodedHeader)
	if err := p.be.WriteFull(ctx, blob.Pack, packId, data); err != nil {
		return fmt.Errorf("pack: writing %s: %w", packId, err)
	}
	p.idx.AddPack(packId, headers, Locations(packId, headers), uint32(len(data)))
	return nil
}

// Finalize seals any remaining pending blobs and blocks until every
// pack this Packer has started is durably written, returning the
// first upload error encountered, if any.
func (p *Packer) Finalize(ctx context.Context) error {
	p.mu.Lock()
	p.sealLocked(ctx)
	p.mu.Unlock()
	return p.grp.Err()
}
