// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

package chunker

import (
	"bytes"
	"io"
	"math/rand"
	"testing"
)

func chunkAll(t *testing.T, data []byte, opts ...Option) []Chunk {
	t.Helper()
	c := New(bytes.NewReader(data), DefaultPolynomial, opts...)
	var chunks []Chunk
	for {
		ch, err := c.Next(nil)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		chunks = append(chunks, ch)
	}
	return chunks
}

func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	data := make([]byte, 4*1024*1024)
	r.Read(data)

	chunks := chunkAll(t, data, WithSizeBounds(16*1024, 256*1024), WithMaskBits(14))

	var got []byte
	for _, c := range chunks {
		got = append(got, c.Data...)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(data))
	}
}

func TestDeterministic(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	data := make([]byte, 2*1024*1024)
	r.Read(data)

	a := chunkAll(t, data, WithSizeBounds(16*1024, 256*1024), WithMaskBits(14))
	b := chunkAll(t, data, WithSizeBounds(16*1024, 256*1024), WithMaskBits(14))

	if len(a) != len(b) {
		t.Fatalf("chunk count differs: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Length != b[i].Length || !bytes.Equal(a[i].Data, b[i].Data) {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestSizeBounds(t *testing.T) {
	r := rand.New(rand.NewSource(99))
	data := make([]byte, 1024*1024)
	r.Read(data)

	const min, max = 8 * 1024, 32 * 1024
	chunks := chunkAll(t, data, WithSizeBounds(min, max), WithMaskBits(13))

	total := uint(0)
	for i, c := range chunks {
		total += c.Length
		last := i == len(chunks)-1
		if c.Length > max {
			t.Fatalf("chunk %d exceeds max: %d > %d", i, c.Length, max)
		}
		if !last && c.Length < min {
			t.Fatalf("non-final chunk %d below min: %d < %d", i, c.Length, min)
		}
	}
	if total != uint(len(data)) {
		t.Fatalf("total chunked bytes %d != input %d", total, len(data))
	}
}

func TestEmptyInput(t *testing.T) {
	chunks := chunkAll(t, nil)
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks for empty input, got %d", len(chunks))
	}
}

func TestDifferentPolynomialsDiffer(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	data := make([]byte, 2*1024*1024)
	r.Read(data)

	a := chunkAll(t, data, WithSizeBounds(4*1024, 64*1024), WithMaskBits(12))

	c := New(bytes.NewReader(data), 0x1EDC6F41, WithSizeBounds(4*1024, 64*1024), WithMaskBits(12))
	var b []Chunk
	for {
		ch, err := c.Next(nil)
		if err == io.EOF {
			break
		}
		b = append(b, ch)
	}

	same := len(a) == len(b)
	if same {
		for i := range a {
			if a[i].Length != b[i].Length {
				same = false
				break
			}
		}
	}
	if same {
		t.Fatalf("expected different polynomials to (almost certainly) produce different boundaries")
	}
}
