// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package pack

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"filippo.io/age"

	"vaultpack.dev/vaultpack/backend"
	"vaultpack.dev/vaultpack/backend/memory"
	"vaultpack.dev/vaultpack/blob"
	"vaultpack.dev/vaultpack/crypto"
)

type fakeIndexer struct {
	mu      sync.Mutex
	known   map[blob.Id]bool
	packs   []blob.Id
	headers map[blob.Id][]blob.Header
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{known: make(map[blob.Id]bool), headers: make(map[blob.Id][]blob.Header)}
}

func (f *fakeIndexer) Known(kind blob.Kind, id blob.Id) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.known[id]
}

func (f *fakeIndexer) AddPack(packId blob.Id, headers []blob.Header, locs []blob.Location, size uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.packs = append(f.packs, packId)
	f.headers[packId] = headers
	for _, h := range headers {
		f.known[h.Id] = true
	}
}

func testCodec(t *testing.T) crypto.Codec {
	t.Helper()
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	return crypto.NewAgeCodec(id, false)
}

func TestPackerAddDedupesWithinPendingBuffer(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	idx := newFakeIndexer()
	p := New(blob.KindData, be, testCodec(t), idx)

	data := []byte("hello world")
	id := blob.Hash(data)

	added, err := p.Add(ctx, id, data)
	if err != nil || !added {
		t.Fatalf("first Add: added=%v err=%v", added, err)
	}
	added, err = p.Add(ctx, id, data)
	if err != nil || added {
		t.Fatalf("second Add should be a no-op dedupe: added=%v err=%v", added, err)
	}
}

func TestPackerFinalizeWritesPack(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	idx := newFakeIndexer()
	codec := testCodec(t)
	p := New(blob.KindData, be, codec, idx)

	blobs := map[blob.Id][]byte{}
	for _, s := range []string{"alpha", "beta", "gamma"} {
		d := []byte(s)
		id := blob.Hash(d)
		blobs[id] = d
		if _, err := p.Add(ctx, id, d); err != nil {
			t.Fatalf("Add(%s): %v", s, err)
		}
	}

	if err := p.Finalize(ctx); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if len(idx.packs) != 1 {
		t.Fatalf("expected exactly one sealed pack, got %d", len(idx.packs))
	}
	packId := idx.packs[0]

	sized, err := be.ListWithSize(ctx, blob.Pack)
	if err != nil || len(sized) != 1 || sized[0].Id != packId {
		t.Fatalf("ListWithSize: %+v, %v", sized, err)
	}

	headers, locs, err := ReadHeader(ctx, be, codec, packId, int64(sized[0].Size))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if len(headers) != len(blobs) {
		t.Fatalf("got %d headers, want %d", len(headers), len(blobs))
	}

	raw, err := be.ReadFull(ctx, blob.Pack, packId)
	if err != nil {
		t.Fatal(err)
	}
	for i, h := range headers {
		want, ok := blobs[h.Id]
		if !ok {
			t.Fatalf("header for unknown id %s", h.Id)
		}
		loc := locs[i]
		encoded := raw[loc.Offset : loc.Offset+loc.Length]
		got, err := codec.Decode(encoded)
		if err != nil {
			t.Fatalf("decoding blob %s: %v", h.Id, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("blob %s round-tripped to %q, want %q", h.Id, got, want)
		}
	}
}

func TestPackerSealsAtTargetSize(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	idx := newFakeIndexer()
	p := New(blob.KindData, be, testCodec(t), idx)
	p.target = 1024
	p.maxSize = 4096

	// push several blobs past the (lowered) target so a seal fires
	// mid-stream, then confirm a second pack accumulates afterward.
	for i := 0; i < 40; i++ {
		d := bytes.Repeat([]byte{byte(i)}, 64)
		id := blob.Hash(d)
		if _, err := p.Add(ctx, id, d); err != nil {
			t.Fatalf("Add %d: %v", i, err)
		}
	}
	if err := p.Finalize(ctx); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(idx.packs) < 2 {
		t.Fatalf("expected sealing to have produced more than one pack, got %d", len(idx.packs))
	}

	var total int
	for _, h := range idx.headers {
		total += len(h)
	}
	if total != 40 {
		t.Fatalf("total blobs across packs = %d, want 40", total)
	}
}

// TestAssemblePackIdIsHashOfEncodedHeader pins spec.md §3/§4.2's
// definition of a pack's id: hash(encoded header), not hash of the
// whole assembled file.
func TestAssemblePackIdIsHashOfEncodedHeader(t *testing.T) {
	codec := testCodec(t)

	var entries []Entry
	for _, s := range []string{"alpha", "beta", "gamma"} {
		d := []byte(s)
		encoded, err := codec.Encode(d)
		if err != nil {
			t.Fatalf("Encode(%s): %v", s, err)
		}
		entries = append(entries, Entry{
			Id:                 blob.Hash(d),
			Kind:               blob.KindData,
			Encoded:            encoded,
			UncompressedLength: uint32(len(d)),
		})
	}

	data, encodedHeader, _, err := Assemble(entries, codec)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	packId := blob.Hash(encodedHeader)
	trailerStart := len(data) - trailerLen
	if trailerStart < len(encodedHeader) || !bytes.Equal(data[trailerStart-len(encodedHeader):trailerStart], encodedHeader) {
		t.Fatalf("returned encoded header is not the header stored in the assembled pack")
	}
	if blob.Hash(data) == packId {
		t.Fatalf("test fixture coincidentally makes hash(data) == hash(encodedHeader); adjust entries so the two diverge")
	}
}

// TestPackerUploadUsesHeaderHashAsPackId confirms the Packer's own
// upload path, not just Assemble in isolation, derives the pack id the
// same way: from the encoded header alone.
func TestPackerUploadUsesHeaderHashAsPackId(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	idx := newFakeIndexer()
	codec := testCodec(t)
	p := New(blob.KindData, be, codec, idx)

	var entries []Entry
	for _, s := range []string{"one", "two", "three"} {
		d := []byte(s)
		id := blob.Hash(d)
		if _, err := p.Add(ctx, id, d); err != nil {
			t.Fatalf("Add(%s): %v", s, err)
		}
		encoded, err := codec.Encode(d)
		if err != nil {
			t.Fatalf("Encode(%s): %v", s, err)
		}
		entries = append(entries, Entry{Id: id, Kind: blob.KindData, Encoded: encoded, UncompressedLength: uint32(len(d))})
	}
	if err := p.Finalize(ctx); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(idx.packs) != 1 {
		t.Fatalf("expected exactly one sealed pack, got %d", len(idx.packs))
	}

	// The Packer re-encodes through the same codec with fresh nonces,
	// so the bytes it actually wrote won't match this fixture's own
	// Encode calls entry-for-entry; instead confirm the pack id is
	// exactly the hash of the header blob read back off the backend.
	sized, err := be.ListWithSize(ctx, blob.Pack)
	if err != nil || len(sized) != 1 {
		t.Fatalf("ListWithSize: %+v, %v", sized, err)
	}
	packId := sized[0].Id
	raw, err := be.ReadFull(ctx, blob.Pack, packId)
	if err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if len(raw) < trailerLen {
		t.Fatalf("pack too small: %d bytes", len(raw))
	}
	headerLen := int(raw[len(raw)-4]) | int(raw[len(raw)-3])<<8 | int(raw[len(raw)-2])<<16 | int(raw[len(raw)-1])<<24
	headerStart := len(raw) - trailerLen - headerLen
	if headerStart < 0 {
		t.Fatalf("header length %d overruns pack of size %d", headerLen, len(raw))
	}
	encodedHeader := raw[headerStart : headerStart+headerLen]
	if got := blob.Hash(encodedHeader); got != packId {
		t.Fatalf("pack id %s does not match hash(encoded header) %s", packId, got)
	}
}

var _ backend.Backend = (*memory.Storage)(nil)
