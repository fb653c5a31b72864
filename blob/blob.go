// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package blob

// Kind distinguishes the two blob payload types a Pack carries. It is
// a narrower enumeration than FileType, since only Data and Tree ever
// appear inside a pack header.
type Kind int

const (
	KindData Kind = iota
	KindTree
)

func (k Kind) String() string {
	if k == KindTree {
		return "tree"
	}
	return "data"
}

// MarshalJSON implements json.Marshaler, matching FileType's wire
// spelling ("data" / "tree") rather than the numeric value.
func (k Kind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *Kind) UnmarshalJSON(data []byte) error {
	s := string(data)
	switch s {
	case `"tree"`:
		*k = KindTree
	default:
		*k = KindData
	}
	return nil
}

// Location pins a blob to a byte range inside a physical pack.
type Location struct {
	PackId Id
	Offset uint32
	Length uint32
}

// Header is the metadata a pack header (and an IndexFile entry)
// records for one blob: everything needed to locate and validate it
// without touching the payload bytes beyond its own slice.
type Header struct {
	Type                Kind `json:"type"`
	Id                  Id   `json:"id"`
	Length              uint32 `json:"length"`
	UncompressedLength  uint32 `json:"uncompressed_length,omitempty"`
}
