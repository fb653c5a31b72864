// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package repoconfig is the repository's bootstrap configuration: the
// one object every other component needs before it can do anything
// (the chunker polynomial two repositories must agree on to produce
// identical chunk boundaries, and a repository identity). It is
// stored as a single plaintext JSON file rather than through the
// codec, the way Perkeep's serverconfig is a plain JSON file read
// before any blob storage is opened — config has to be legible before
// the codec's key material (key management, out of scope here) is
// available to decode anything else.
package repoconfig

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"vaultpack.dev/vaultpack/chunker"
	"vaultpack.dev/vaultpack/verrors"
)

// CurrentVersion is the only config version this module writes or
// reads.
const CurrentVersion = 1

// ConfigWriter and ConfigReader are satisfied by backend.localdisk's
// WriteConfig/ReadConfig; kept as narrow interfaces here so
// repoconfig doesn't need to import the concrete backend package.
type ConfigWriter interface {
	WriteConfig(data []byte) error
}

type ConfigReader interface {
	ReadConfig() ([]byte, error)
}

// ConfigFile is the repository's bootstrap record.
type ConfigFile struct {
	Version            int    `json:"version"`
	Id                 string `json:"id"`
	ChunkerPolynomial  string `json:"chunker_polynomial"`
	Compress           bool   `json:"compress"`
}

// Polynomial parses ChunkerPolynomial as the hex-encoded 64-bit value
// chunker.New expects.
func (c *ConfigFile) Polynomial() (chunker.Pol, error) {
	raw, err := hex.DecodeString(c.ChunkerPolynomial)
	if err != nil || len(raw) > 8 {
		return 0, fmt.Errorf("repoconfig: invalid chunker_polynomial %q: %w", c.ChunkerPolynomial, verrors.IntegrityError)
	}
	var v uint64
	for _, b := range raw {
		v = v<<8 | uint64(b)
	}
	return chunker.Pol(v), nil
}

// Save writes c as the repository's config file. Callers should only
// ever do this once, at repository creation.
func Save(w ConfigWriter, c *ConfigFile) error {
	if c.Version == 0 {
		c.Version = CurrentVersion
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("repoconfig: marshaling: %w", err)
	}
	if err := w.WriteConfig(data); err != nil {
		return fmt.Errorf("repoconfig: writing: %w", err)
	}
	return nil
}

// Load reads and validates the repository's config file.
func Load(r ConfigReader) (*ConfigFile, error) {
	data, err := r.ReadConfig()
	if err != nil {
		return nil, fmt.Errorf("repoconfig: reading: %w", err)
	}
	var c ConfigFile
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("repoconfig: parsing: %w: %v", verrors.IntegrityError, err)
	}
	if c.Version != CurrentVersion {
		return nil, fmt.Errorf("repoconfig: unsupported version %d: %w", c.Version, verrors.IntegrityError)
	}
	return &c, nil
}
