// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package snapshot

import (
	"context"
	"testing"
	"time"

	"filippo.io/age"

	"vaultpack.dev/vaultpack/backend/memory"
	"vaultpack.dev/vaultpack/blob"
	"vaultpack.dev/vaultpack/crypto"
)

func testCodec(t *testing.T) crypto.Codec {
	t.Helper()
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatal(err)
	}
	return crypto.NewAgeCodec(id, false)
}

func TestWriteLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	codec := testCodec(t)

	s := &Snapshot{
		Time:     time.Unix(1_700_000_000, 0).UTC(),
		Hostname: "host.example",
		Paths:    []string{"/home/user"},
		Tree:     blob.Hash([]byte("root tree bytes")),
	}
	if err := Write(ctx, be, codec, s); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !s.Id.Valid() {
		t.Fatalf("Write did not assign an id")
	}

	got, err := Load(ctx, be, codec, s.Id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Hostname != s.Hostname || got.Tree != s.Tree || !got.Time.Equal(s.Time) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, s)
	}
	if got.Id != s.Id {
		t.Fatalf("Load did not reproduce the written id: got %s, want %s", got.Id, s.Id)
	}
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	codec := testCodec(t)

	for i := 0; i < 3; i++ {
		s := &Snapshot{
			Time:     time.Unix(int64(1_700_000_000+i), 0).UTC(),
			Hostname: "host.example",
			Tree:     blob.Hash([]byte{byte(i)}),
		}
		if err := Write(ctx, be, codec, s); err != nil {
			t.Fatal(err)
		}
	}

	all, err := List(ctx, be, codec)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List returned %d snapshots, want 3", len(all))
	}

	if err := Delete(ctx, be, all[0].Id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	remaining, err := List(ctx, be, codec)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 2 {
		t.Fatalf("after Delete, List returned %d snapshots, want 2", len(remaining))
	}
}

func TestParentAndOriginalLinks(t *testing.T) {
	ctx := context.Background()
	be := memory.New()
	codec := testCodec(t)

	base := &Snapshot{Time: time.Now().UTC(), Hostname: "h", Tree: blob.Hash([]byte("a"))}
	if err := Write(ctx, be, codec, base); err != nil {
		t.Fatal(err)
	}

	child := &Snapshot{
		Time:     time.Now().UTC(),
		Hostname: "h",
		Tree:     blob.Hash([]byte("b")),
		Parent:   &base.Id,
	}
	if err := Write(ctx, be, codec, child); err != nil {
		t.Fatal(err)
	}

	rewritten := &Snapshot{
		Time:     time.Now().UTC(),
		Hostname: "h",
		Tree:     blob.Hash([]byte("c")),
		Original: &child.Id,
	}
	if err := Write(ctx, be, codec, rewritten); err != nil {
		t.Fatal(err)
	}

	got, err := Load(ctx, be, codec, rewritten.Id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Original == nil || *got.Original != child.Id {
		t.Fatalf("Original link did not round-trip: %+v", got.Original)
	}

	gotChild, err := Load(ctx, be, codec, child.Id)
	if err != nil {
		t.Fatal(err)
	}
	if gotChild.Parent == nil || *gotChild.Parent != base.Id {
		t.Fatalf("Parent link did not round-trip: %+v", gotChild.Parent)
	}
}
