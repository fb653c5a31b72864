// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package snapshot is the repository's root-of-trust record: one
// Snapshot per completed archiver (or repair) run, pointing at a root
// Tree. Its JSON shape and backend plumbing follow tree.Tree's.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vaultpack.dev/vaultpack/backend"
	"vaultpack.dev/vaultpack/blob"
	"vaultpack.dev/vaultpack/crypto"
	"vaultpack.dev/vaultpack/verrors"
)

// Snapshot is the immutable record of one backup (or repair rewrite).
// Once Written, a Snapshot is never modified in place: repair
// "changes" a snapshot by writing a new one with Original set to the
// id of the one it supersedes.
type Snapshot struct {
	Id blob.Id `json:"-"`

	Time     time.Time `json:"time"`
	Hostname string    `json:"hostname"`
	Username string    `json:"username,omitempty"`
	Paths    []string  `json:"paths"`
	Tags     []string  `json:"tags,omitempty"`
	Label    string    `json:"label,omitempty"`

	Tree     blob.Id  `json:"tree"`
	Parent   *blob.Id `json:"parent,omitempty"`
	Original *blob.Id `json:"original,omitempty"`
}

// serialize encodes s (fixed field order from the struct definition)
// and returns its bytes and content id. Id is never part of the
// serialized form.
func (s *Snapshot) serialize() ([]byte, blob.Id, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, blob.Id{}, fmt.Errorf("snapshot: serializing: %w", err)
	}
	return data, blob.Hash(data), nil
}

// parse decodes a snapshot blob previously produced by serialize.
func parse(data []byte) (*Snapshot, error) {
	var s Snapshot
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("snapshot: parsing: %w: %v", verrors.IntegrityError, err)
	}
	return &s, nil
}

// Write assigns s.Id and persists it to be. Callers must not reuse s
// for a second Write — snapshots are immutable once saved.
func Write(ctx context.Context, be backend.Backend, codec crypto.Codec, s *Snapshot) error {
	data, id, err := s.serialize()
	if err != nil {
		return err
	}
	encoded, err := codec.Encode(data)
	if err != nil {
		return fmt.Errorf("snapshot: encoding: %w", err)
	}
	if err := be.WriteFull(ctx, blob.Snapshot, id, encoded); err != nil {
		return fmt.Errorf("snapshot: writing %s: %w", id, err)
	}
	s.Id = id
	return nil
}

// Load reads and decodes the snapshot named id.
func Load(ctx context.Context, be backend.Backend, codec crypto.Codec, id blob.Id) (*Snapshot, error) {
	encoded, err := be.ReadFull(ctx, blob.Snapshot, id)
	if err != nil {
		return nil, fmt.Errorf("snapshot: reading %s: %w", id, err)
	}
	data, err := codec.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("snapshot: decoding %s: %w", id, err)
	}
	s, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %s: %w", id, err)
	}
	s.Id = id
	return s, nil
}

// List loads every snapshot in the repository.
func List(ctx context.Context, be backend.Backend, codec crypto.Codec) ([]*Snapshot, error) {
	ids, err := be.List(ctx, blob.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("snapshot: listing: %w", err)
	}
	out := make([]*Snapshot, 0, len(ids))
	for _, id := range ids {
		s, err := Load(ctx, be, codec, id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Delete removes a superseded or damaged-beyond-repair snapshot.
func Delete(ctx context.Context, be backend.Backend, id blob.Id) error {
	if err := be.Remove(ctx, blob.Snapshot, id, false); err != nil {
		return fmt.Errorf("snapshot: deleting %s: %w", id, err)
	}
	return nil
}
