// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

//go:build darwin

package main

import "syscall"

func init() {
	atimeFromStat = func(st *syscall.Stat_t) (sec, nsec int64) {
		return st.Atimespec.Sec, st.Atimespec.Nsec
	}
}
