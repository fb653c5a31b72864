// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"time"

	"vaultpack.dev/vaultpack/chunker"
)

// unixTime builds a UTC time.Time from a seconds/nanoseconds pair, the
// shape syscall.Timespec breaks down into on every platform.
func unixTime(sec, nsec int64) time.Time {
	return time.Unix(sec, nsec).UTC()
}

// randomHex returns a 16-byte random repository identity, distinct
// from any blob.Id (it names the repository itself, not an object in
// it).
func randomHex() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// polynomialHex renders pol as the hex string repoconfig.ConfigFile
// stores it as.
func polynomialHex(pol chunker.Pol) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(pol))
	return hex.EncodeToString(b[:])
}
