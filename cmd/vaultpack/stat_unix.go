// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

//go:build linux || darwin

// OS-level filesystem metadata extraction is an out-of-scope
// collaborator (spec §1): the core only ever consumes a tree.Metadata
// value, never a stat(2) result. This file is the thin,
// platform-specific populateMetadata the CLI front end uses to build
// one, grounded on Perkeep's pkg/schema/schema_posix.go (same
// syscall.Stat_t field extraction, same os/user lookup-with-cache
// shape for turning a uid/gid into a name). atime extraction itself is
// platform-specific (stat_linux.go / stat_darwin.go), since
// syscall.Stat_t spells the field differently per OS.
package main

import (
	"io/fs"
	"os/user"
	"strconv"
	"sync"
	"syscall"

	"vaultpack.dev/vaultpack/tree"
)

var (
	userCacheMu sync.Mutex
	userCache   = map[uint32]string{}
	groupCache  = map[uint32]string{}
)

// atimeFromStat is set by stat_linux.go / stat_darwin.go to extract
// the platform-specific atime field.
var atimeFromStat func(*syscall.Stat_t) (sec, nsec int64)

func populateMetadata(fi fs.FileInfo, withAtime bool) tree.Metadata {
	m := tree.Metadata{
		Size:  uint64(fi.Size()),
		Mtime: fi.ModTime().UTC(),
		Mode:  uint32(fi.Mode().Perm()),
	}
	// Atime collapses to mtime when atime capture is disabled: an
	// intentional-by-comment behavior in the implementation this
	// design is interoperable with (spec §9 Open Question), preserved
	// here rather than emitting a zero value.
	m.Ctime = m.Mtime
	m.Atime = m.Mtime

	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return m
	}
	m.UID = st.Uid
	m.GID = st.Gid
	m.Inode = st.Ino
	m.Dev = uint64(st.Dev)
	m.Nlink = uint64(st.Nlink)
	m.User = lookupUser(st.Uid)
	m.Group = lookupGroup(st.Gid)
	if withAtime && atimeFromStat != nil {
		sec, nsec := atimeFromStat(st)
		m.Atime = unixTime(sec, nsec)
	}
	return m
}

func lookupUser(uid uint32) string {
	userCacheMu.Lock()
	defer userCacheMu.Unlock()
	if name, ok := userCache[uid]; ok {
		return name
	}
	name := ""
	if u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10)); err == nil {
		name = u.Username
	}
	userCache[uid] = name
	return name
}

func lookupGroup(gid uint32) string {
	userCacheMu.Lock()
	defer userCacheMu.Unlock()
	if name, ok := groupCache[gid]; ok {
		return name
	}
	name := ""
	if g, err := user.LookupGroupId(strconv.FormatUint(uint64(gid), 10)); err == nil {
		name = g.Name
	}
	groupCache[gid] = name
	return name
}
