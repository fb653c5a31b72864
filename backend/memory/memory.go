// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package memory is an in-memory Backend, grounded on Perkeep's
// pkg/blobserver/memory: a map guarded by a mutex, used by core tests
// that exercise the Packer, Indexer, Archiver and Repair without
// touching disk.
package memory

import (
	"context"
	"fmt"
	"sync"

	"vaultpack.dev/vaultpack/backend"
	"vaultpack.dev/vaultpack/blob"
	"vaultpack.dev/vaultpack/verrors"
)

type key struct {
	t  blob.FileType
	id blob.Id
}

// Storage is an in-memory backend.Backend implementation.
type Storage struct {
	mu sync.RWMutex
	m  map[key][]byte
}

// New returns an empty in-memory backend.
func New() *Storage {
	return &Storage{m: make(map[key][]byte)}
}

func (s *Storage) List(ctx context.Context, t blob.FileType) ([]blob.Id, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []blob.Id
	for k := range s.m {
		if k.t == t {
			out = append(out, k.id)
		}
	}
	return out, nil
}

func (s *Storage) ListWithSize(ctx context.Context, t blob.FileType) ([]backend.SizedId, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []backend.SizedId
	for k, v := range s.m {
		if k.t == t {
			out = append(out, backend.SizedId{Id: k.id, Size: uint32(len(v))})
		}
	}
	return out, nil
}

func (s *Storage) ReadFull(ctx context.Context, t blob.FileType, id blob.Id) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key{t, id}]
	if !ok {
		return nil, fmt.Errorf("memory: %s %s: %w", t, id, verrors.NotFound)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Storage) ReadPartial(ctx context.Context, t blob.FileType, id blob.Id, cacheable bool, offset, length int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key{t, id}]
	if !ok {
		return nil, fmt.Errorf("memory: %s %s: %w", t, id, verrors.NotFound)
	}
	if offset < 0 || length < 0 || offset+length > int64(len(v)) {
		return nil, fmt.Errorf("memory: %s %s: out of range [%d:%d] of %d: %w", t, id, offset, offset+length, len(v), verrors.IoError)
	}
	out := make([]byte, length)
	copy(out, v[offset:offset+length])
	return out, nil
}

func (s *Storage) WriteFull(ctx context.Context, t blob.FileType, id blob.Id, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key{t, id}]; ok {
		return nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.m[key{t, id}] = cp
	return nil
}

func (s *Storage) Remove(ctx context.Context, t blob.FileType, id blob.Id, cacheable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key{t, id})
	return nil
}

var _ backend.Backend = (*Storage)(nil)
