// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package backend defines the byte-addressable storage contract the
// core engine consumes. vaultpack's core never opens a file or a
// socket directly; every read and write goes through a Backend, the
// way Perkeep's blobserver.Storage is the single point any core
// package (schema, index, client) goes through to reach bytes.
//
// Two concrete Backends ship with this module: backend/localdisk,
// matching the on-disk repository layout, and backend/memory, an
// in-process store used by the core's tests. Remote backends —
// S3, GCS, SFTP — are deliberately out of scope (non-goal: network
// transport); implementing one is a matter of satisfying this
// interface.
package backend

import (
	"context"

	"vaultpack.dev/vaultpack/blob"
)

// Backend is the storage contract the core requires. Implementations
// must provide the properties described below: writes
// are atomic (a reader observes the full object or nothing), ids are
// unique per FileType, and a successful read of a written id returns
// exactly its bytes or fails.
type Backend interface {
	// List returns every id stored under t, in no particular order.
	List(ctx context.Context, t blob.FileType) ([]blob.Id, error)

	// ListWithSize is like List but also reports each object's
	// encoded size, for index reconciliation (repair_index) and
	// reporting.
	ListWithSize(ctx context.Context, t blob.FileType) ([]blob.SizedId, error)

	// ReadFull returns the complete encoded bytes of the object
	// (t, id). It returns an error wrapping verrors.NotFound if no
	// such object exists.
	ReadFull(ctx context.Context, t blob.FileType, id blob.Id) ([]byte, error)

	// ReadPartial returns length encoded bytes starting at offset
	// within the object (t, id). cacheable is a hint that the range
	// is worth caching (e.g. a pack header, read repeatedly by
	// concurrent restores) as opposed to a one-off warm-up probe.
	ReadPartial(ctx context.Context, t blob.FileType, id blob.Id, cacheable bool, offset, length int64) ([]byte, error)

	// WriteFull stores data under (t, id), creating the object if
	// absent. Callers never call WriteFull twice for the same id
	// with different bytes: ids are content-addressed, so repeated
	// writes of the same id are idempotent in practice, and the
	// backend is free to treat a second write as a no-op.
	WriteFull(ctx context.Context, t blob.FileType, id blob.Id, data []byte) error

	// Remove deletes the object (t, id). cacheable mirrors
	// ReadPartial's hint so implementations that front a cache can
	// invalidate the right tier.
	Remove(ctx context.Context, t blob.FileType, id blob.Id, cacheable bool) error
}

// SizedId pairs an Id with the stored (encoded) size of its object.
type SizedId struct {
	Id   blob.Id
	Size uint32
}
