// Copyright 2011 Google Inc. (pkg/schema, on which this package's
// JSON-schema shape is modeled)
// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package tree implements the directory serialization described in
// an ordered sequence of Nodes, serialized as a
// single deterministic blob and stored under the Tree blob kind.
//
// The JSON-schema-blob shape is modeled on Perkeep's pkg/schema
// (directories are JSON blobs with a "camliType" discriminator and a
// nested static-set); vaultpack flattens that into a single
// self-contained object (a single key, "nodes"),
// since there is no separate static-set blob layer here.
package tree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"vaultpack.dev/vaultpack/blob"
	"vaultpack.dev/vaultpack/verrors"
)

// NodeType enumerates the kinds of entries a directory can hold.
type NodeType string

const (
	TypeFile    NodeType = "file"
	TypeDir     NodeType = "dir"
	TypeSymlink NodeType = "symlink"
	TypeDev     NodeType = "dev"
	TypeChardev NodeType = "chardev"
	TypeFifo    NodeType = "fifo"
	TypeSocket  NodeType = "socket"
)

// Metadata is the POSIX metadata carried by every Node, the way
// Perkeep's schema.Node attributes (unixPermission, unixOwnerId, …)
// round-trip stat(2) fields through a schema blob.
type Metadata struct {
	Size  uint64    `json:"size"`
	Mtime time.Time `json:"mtime"`
	Atime time.Time `json:"atime"`
	Ctime time.Time `json:"ctime"`

	Mode uint32 `json:"mode"`
	UID  uint32 `json:"uid"`
	GID  uint32 `json:"gid"`
	User  string `json:"user,omitempty"`
	Group string `json:"group,omitempty"`

	Inode uint64 `json:"inode"`
	Dev   uint64 `json:"dev"`
	Nlink uint64 `json:"nlink"`
}

// Node is one entry of a Tree.
type Node struct {
	Name string   `json:"name"`
	Type NodeType `json:"type"`
	Meta Metadata `json:"meta"`

	// Content holds the ordered chunk ids of a File's data. Nil for
	// every other node type.
	Content []blob.Id `json:"content,omitempty"`

	// Subtree is the child Tree's id, for Dir nodes only.
	Subtree *blob.Id `json:"subtree,omitempty"`

	// LinkTarget is the symlink target, for Symlink nodes only.
	LinkTarget string `json:"linktarget,omitempty"`
}

// Tree is an ordered sequence of Nodes: the stable, deterministic
// serialization of one directory's contents.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// New returns an empty Tree.
func New() *Tree {
	return &Tree{}
}

// Add appends n to the tree without reordering. Callers that add
// nodes out of name order must call Sort once before Serialize.
func (t *Tree) Add(n Node) {
	t.Nodes = append(t.Nodes, n)
}

// Sort orders the tree's nodes by name.
func (t *Tree) Sort() {
	sortNodes(t.Nodes)
}

func sortNodes(nodes []Node) {
	// insertion sort: trees are small (one directory's worth of
	// entries) and this keeps the dependency surface to the
	// standard library for a concern this simple.
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j].Name < nodes[j-1].Name; j-- {
			nodes[j], nodes[j-1] = nodes[j-1], nodes[j]
		}
	}
}

// Serialize encodes the tree deterministically and returns both the
// encoded bytes and their Id. Identical logical trees always produce
// byte-identical output: struct field order
// is fixed by the type definition and encoding/json does not reorder
// struct fields, so the only determinism hazard — map key ordering —
// never arises here.
func (t *Tree) Serialize() ([]byte, blob.Id, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, blob.Id{}, fmt.Errorf("tree: serializing: %w", err)
	}
	return data, blob.Hash(data), nil
}

// Parse decodes a tree blob previously produced by Serialize.
func Parse(data []byte) (*Tree, error) {
	var t Tree
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("tree: parsing: %w: %v", verrors.IntegrityError, err)
	}
	return &t, nil
}

// Find returns the node named name, or false if none exists. Trees
// are sorted by name, so this could binary search; a linear scan is
// used here since directory node counts are small in practice and it
// keeps the Parent cursor logic (archiver package) simple to reason
// about.
func (t *Tree) Find(name string) (Node, bool) {
	for _, n := range t.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return Node{}, false
}
