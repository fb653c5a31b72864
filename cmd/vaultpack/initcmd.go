// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"filippo.io/age"

	"vaultpack.dev/vaultpack/backend/localdisk"
	"vaultpack.dev/vaultpack/chunker"
	"vaultpack.dev/vaultpack/repoconfig"
)

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	var f repoFlags
	f.register(fs)
	compress := fs.Bool("compress", true, "compress blobs with zstd before encrypting")
	fs.Parse(args)

	if f.repo == "" {
		return fmt.Errorf("vaultpack init: -repo is required")
	}
	if err := os.MkdirAll(f.repo, 0700); err != nil {
		return fmt.Errorf("vaultpack init: creating repository directory: %w", err)
	}
	be, err := localdisk.New(f.repo)
	if err != nil {
		return err
	}

	if f.identity == "" {
		f.identity = f.repo + ".identity"
	}
	if _, err := os.Stat(f.identity); err == nil {
		return fmt.Errorf("vaultpack init: identity file %s already exists", f.identity)
	}
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("vaultpack init: generating identity: %w", err)
	}
	if err := os.WriteFile(f.identity, []byte(identity.String()+"\n"), 0600); err != nil {
		return fmt.Errorf("vaultpack init: writing identity file: %w", err)
	}

	cfg := &repoconfig.ConfigFile{
		Id:                randomHex(),
		ChunkerPolynomial: polynomialHex(chunker.DefaultPolynomial),
		Compress:          *compress,
	}
	if err := repoconfig.Save(be, cfg); err != nil {
		return fmt.Errorf("vaultpack init: writing config: %w", err)
	}

	fmt.Printf("initialized repository at %s (identity: %s, recipient: %s)\n", f.repo, f.identity, identity.Recipient())
	return nil
}
