// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package blob

import (
	sha256simd "github.com/minio/sha256-simd"
)

// Hash computes the Id (SHA-256 digest) of plaintext content. The
// digest backend is github.com/minio/sha256-simd, which picks the
// fastest available implementation (AVX2/SHA-NI) for the content
// hashing hot path that the chunker, packer and indexer all sit on.
func Hash(plaintext []byte) Id {
	return Id(sha256simd.Sum256(plaintext))
}

// NewHasher returns a streaming hasher producing an Id, for callers
// that want to hash without buffering the whole chunk (e.g. while a
// chunk is being assembled from a lazy reader).
func NewHasher() *Hasher {
	return &Hasher{h: sha256simd.New()}
}

// Hasher wraps a streaming SHA-256 implementation and yields an Id.
type Hasher struct {
	h interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
	}
}

// Write implements io.Writer.
func (h *Hasher) Write(p []byte) (int, error) { return h.h.Write(p) }

// Sum returns the Id of everything written so far.
func (h *Hasher) Sum() Id {
	var id Id
	copy(id[:], h.h.Sum(nil))
	return id
}
