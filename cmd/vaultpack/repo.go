// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"filippo.io/age"

	"vaultpack.dev/vaultpack/backend"
	"vaultpack.dev/vaultpack/backend/localdisk"
	"vaultpack.dev/vaultpack/chunker"
	"vaultpack.dev/vaultpack/crypto"
	"vaultpack.dev/vaultpack/repoconfig"
)

// repo bundles the handful of objects every subcommand needs once a
// repository is open: its storage, its codec, its bootstrap config
// and the chunker polynomial that config names.
type repo struct {
	be    backend.Backend
	codec crypto.Codec
	cfg   *repoconfig.ConfigFile
	pol   chunker.Pol
}

func openRepo(f repoFlags) (*repo, error) {
	if f.repo == "" {
		return nil, fmt.Errorf("vaultpack: -repo is required")
	}
	if f.identity == "" {
		return nil, fmt.Errorf("vaultpack: -identity is required")
	}
	be, err := localdisk.New(f.repo)
	if err != nil {
		return nil, err
	}
	cfg, err := repoconfig.Load(be)
	if err != nil {
		return nil, err
	}
	pol, err := cfg.Polynomial()
	if err != nil {
		return nil, err
	}
	identity, err := readIdentity(f.identity)
	if err != nil {
		return nil, err
	}
	codec := crypto.NewAgeCodec(identity, cfg.Compress)
	return &repo{be: be, codec: codec, cfg: cfg, pol: pol}, nil
}

// readIdentity reads the first age identity ("AGE-SECRET-KEY-...")
// line from path, the same plain-text identity file format
// age-keygen and filippo.io/age's own CLI examples use.
func readIdentity(path string) (*age.X25519Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vaultpack: opening identity file: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return age.ParseX25519Identity(line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("vaultpack: no identity found in %s", path)
}

// hostnameOrUnknown returns the local hostname for a new snapshot's
// Hostname field, falling back to "unknown" rather than failing the
// whole run over a cosmetic field.
func hostnameOrUnknown() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
