// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package verrors defines the error kinds shared across vaultpack's
// core packages. Kinds are sentinel values, the way Perkeep's
// blobserver package exposes os.ErrNotExist / ErrNotImplemented:
// callers classify failures with errors.Is rather than type switches,
// and every package wraps the underlying cause with %w.
package verrors

import "errors"

var (
	// NotFound means the backend has no object with the given id.
	NotFound = errors.New("vaultpack: not found")

	// IntegrityError means a decoded header disagreed with payload
	// length, a blob id didn't match its recomputed hash, or an
	// index referenced a pack that doesn't exist.
	IntegrityError = errors.New("vaultpack: integrity error")

	// CodecError means decryption or decompression failed, or the
	// wrong key was used.
	CodecError = errors.New("vaultpack: codec error")

	// IoError means a backend read or write failed for reasons
	// unrelated to the object's existence or integrity.
	IoError = errors.New("vaultpack: io error")

	// InputError means the caller supplied malformed input: a
	// non-UTF-8 path, a missing parent snapshot, and so on.
	InputError = errors.New("vaultpack: invalid input")
)
