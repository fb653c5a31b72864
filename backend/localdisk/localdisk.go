// Copyright 2011 Google Inc.
// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package localdisk implements backend.Backend on a local filesystem,
// laid out as:
//
//	config                      - single file
//	keys/<hex-id>                - one file per key
//	snapshots/<hex-id>            - one file per snapshot
//	index/<hex-id>                 - one file per index
//	data/<first-2-hex>/<hex-id>     - pack files sharded by id prefix
//
// The sharding and atomic-write-via-rename technique are grounded on
// Perkeep's pkg/blobserver/localdisk (path.go, receive.go): a blob's
// directory is derived from the first two hex digits of its id, and a
// write lands via a temp file that is fsynced, closed and renamed
// into place so a concurrent reader never observes a partial object.
package localdisk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"vaultpack.dev/vaultpack/backend"
	"vaultpack.dev/vaultpack/blob"
	"vaultpack.dev/vaultpack/verrors"
)

// Storage is a localdisk-backed backend.Backend.
type Storage struct {
	root string
}

// New returns a Storage rooted at root, which must already exist.
func New(root string) (*Storage, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("localdisk: stat root %q: %w", root, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("localdisk: root %q is not a directory", root)
	}
	s := &Storage{root: root}
	for _, dir := range []string{"keys", "snapshots", "index", "data"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0700); err != nil {
			return nil, fmt.Errorf("localdisk: creating %s: %w", dir, err)
		}
	}
	return s, nil
}

func typeDir(t blob.FileType) (dir string, sharded bool, ok bool) {
	switch t {
	case blob.Config:
		return "", false, true
	case blob.Key:
		return "keys", false, true
	case blob.Snapshot:
		return "snapshots", false, true
	case blob.Index:
		return "index", false, true
	case blob.Pack:
		return "data", true, true
	default:
		return "", false, false
	}
}

func (s *Storage) path(t blob.FileType, id blob.Id) (string, error) {
	if t == blob.Config {
		return filepath.Join(s.root, "config"), nil
	}
	dir, sharded, ok := typeDir(t)
	if !ok {
		return "", fmt.Errorf("localdisk: unsupported FileType %v: %w", t, verrors.InputError)
	}
	hex := id.String()
	base := filepath.Join(s.root, dir)
	if sharded {
		base = filepath.Join(base, hex[:2])
	}
	return filepath.Join(base, hex), nil
}

func (s *Storage) List(ctx context.Context, t blob.FileType) ([]blob.Id, error) {
	sized, err := s.ListWithSize(ctx, t)
	if err != nil {
		return nil, err
	}
	ids := make([]blob.Id, len(sized))
	for i, sz := range sized {
		ids[i] = sz.Id
	}
	return ids, nil
}

func (s *Storage) ListWithSize(ctx context.Context, t blob.FileType) ([]backend.SizedId, error) {
	dir, sharded, ok := typeDir(t)
	if !ok || t == blob.Config {
		return nil, fmt.Errorf("localdisk: unsupported FileType %v: %w", t, verrors.InputError)
	}
	root := filepath.Join(s.root, dir)
	var out []backend.SizedId
	walk := func(dir string) error {
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			id, err := blob.ParseId(e.Name())
			if err != nil {
				continue // skip stray non-object files (tmp leftovers etc.)
			}
			fi, err := e.Info()
			if err != nil {
				return err
			}
			out = append(out, backend.SizedId{Id: id, Size: uint32(fi.Size())})
		}
		return nil
	}
	if sharded {
		shards, err := os.ReadDir(root)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("localdisk: listing %s: %w", dir, err)
		}
		for _, shard := range shards {
			if !shard.IsDir() {
				continue
			}
			if err := walk(filepath.Join(root, shard.Name())); err != nil {
				return nil, fmt.Errorf("localdisk: listing %s: %w", dir, err)
			}
		}
	} else if err := walk(root); err != nil {
		return nil, fmt.Errorf("localdisk: listing %s: %w", dir, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id.String() < out[j].Id.String() })
	return out, nil
}

func (s *Storage) ReadFull(ctx context.Context, t blob.FileType, id blob.Id) ([]byte, error) {
	p, err := s.path(t, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("localdisk: %s %s: %w", t, id, verrors.NotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("localdisk: reading %s %s: %w", t, id, verrors.IoError)
	}
	return data, nil
}

func (s *Storage) ReadPartial(ctx context.Context, t blob.FileType, id blob.Id, cacheable bool, offset, length int64) ([]byte, error) {
	p, err := s.path(t, id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("localdisk: %s %s: %w", t, id, verrors.NotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("localdisk: opening %s %s: %w", t, id, verrors.IoError)
	}
	defer f.Close()
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("localdisk: reading %s %s [%d:%d]: %w", t, id, offset, offset+length, verrors.IoError)
	}
	return buf, nil
}

func (s *Storage) WriteFull(ctx context.Context, t blob.FileType, id blob.Id, data []byte) error {
	p, err := s.path(t, id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err == nil {
		// content-addressed: an existing object with this id is
		// already byte-identical, nothing to do.
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0700); err != nil {
		return fmt.Errorf("localdisk: creating directory for %s %s: %w", t, id, verrors.IoError)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), filepath.Base(p)+".tmp")
	if err != nil {
		return fmt.Errorf("localdisk: creating temp file for %s %s: %w", t, id, verrors.IoError)
	}
	tmpName := tmp.Name()
	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("localdisk: writing %s %s: %w", t, id, verrors.IoError)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("localdisk: syncing %s %s: %w", t, id, verrors.IoError)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("localdisk: closing %s %s: %w", t, id, verrors.IoError)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("localdisk: renaming into place %s %s: %w", t, id, verrors.IoError)
	}
	succeeded = true
	return nil
}

func (s *Storage) Remove(ctx context.Context, t blob.FileType, id blob.Id, cacheable bool) error {
	p, err := s.path(t, id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("localdisk: removing %s %s: %w", t, id, verrors.IoError)
	}
	return nil
}

// WriteConfig and ReadConfig special-case the Config FileType, which
// is a single unsharded, unkeyed file at the
// repository root rather than one-file-per-id.
func (s *Storage) WriteConfig(data []byte) error {
	p := filepath.Join(s.root, "config")
	tmp, err := os.CreateTemp(s.root, "config.tmp")
	if err != nil {
		return fmt.Errorf("localdisk: creating temp config: %w", verrors.IoError)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("localdisk: writing config: %w", verrors.IoError)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("localdisk: syncing config: %w", verrors.IoError)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("localdisk: closing config: %w", verrors.IoError)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return fmt.Errorf("localdisk: renaming config into place: %w", verrors.IoError)
	}
	return nil
}

func (s *Storage) ReadConfig() ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, "config"))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("localdisk: config: %w", verrors.NotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("localdisk: reading config: %w", verrors.IoError)
	}
	return data, nil
}

var _ backend.Backend = (*Storage)(nil)
