// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

//go:build !linux && !darwin

package main

import (
	"io/fs"

	"vaultpack.dev/vaultpack/tree"
)

// populateMetadata on platforms without a POSIX syscall.Stat_t falls
// back to the portable fs.FileInfo fields only: no uid/gid/inode/dev,
// matching how Perkeep's schema_windows.go (if it existed) would have
// nothing to add beyond ModTime and Mode.
func populateMetadata(fi fs.FileInfo, withAtime bool) tree.Metadata {
	m := tree.Metadata{
		Size:  uint64(fi.Size()),
		Mtime: fi.ModTime().UTC(),
		Mode:  uint32(fi.Mode().Perm()),
	}
	m.Ctime = m.Mtime
	m.Atime = m.Mtime
	return m
}
