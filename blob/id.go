// Copyright 2013 The Perkeep Authors
// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package blob defines the content identifiers and typed objects that
// make up a vaultpack repository.
package blob

import (
	"encoding/hex"
	"fmt"
)

// IDLen is the length in bytes of an Id: the SHA-256 digest of a
// blob's plaintext content.
const IDLen = 32

// Id is the content identifier of a Blob: the SHA-256 hash of its
// plaintext (pre-encode) bytes. Two blobs with equal Ids are assumed
// to be byte-identical.
type Id [IDLen]byte

// Zero is the zero Id. It never names a real blob; Valid reports
// whether an Id differs from it.
var Zero Id

// Valid reports whether id is non-zero.
func (id Id) Valid() bool { return id != Zero }

// String returns the lowercase hex encoding of id.
func (id Id) String() string {
	return hex.EncodeToString(id[:])
}

// ParseId parses a 64-character lowercase hex string into an Id.
func ParseId(s string) (Id, error) {
	var id Id
	if len(s) != IDLen*2 {
		return id, fmt.Errorf("blob: invalid id length %d", len(s))
	}
	n, err := hex.Decode(id[:], []byte(s))
	if err != nil {
		return Id{}, fmt.Errorf("blob: invalid id %q: %w", s, err)
	}
	if n != IDLen {
		return Id{}, fmt.Errorf("blob: short id %q", s)
	}
	return id, nil
}

// MustParseId is like ParseId but panics on error. Used in tests and
// for ids that are known-good (e.g. round-tripped from a String()).
func MustParseId(s string) Id {
	id, err := ParseId(s)
	if err != nil {
		panic(err)
	}
	return id
}

// MarshalJSON implements json.Marshaler so Ids serialize as their hex
// string form inside tree nodes, snapshots and index files.
func (id Id) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (id *Id) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("blob: malformed id JSON %q", data)
	}
	parsed, err := ParseId(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// FileType enumerates the five persistent object kinds a Backend
// stores, and the two blob kinds carried inside a Pack.
type FileType int

const (
	// Persistent object kinds, stored one-per-id by a Backend.
	Config FileType = iota
	Key
	Snapshot
	Index
	Pack

	// Blob kinds, valid only inside a pack header; never passed to
	// Backend directly.
	Data
	Tree
)

func (t FileType) String() string {
	switch t {
	case Config:
		return "config"
	case Key:
		return "key"
	case Snapshot:
		return "snapshot"
	case Index:
		return "index"
	case Pack:
		return "pack"
	case Data:
		return "data"
	case Tree:
		return "tree"
	default:
		return fmt.Sprintf("FileType(%d)", int(t))
	}
}
