// Copyright 2011 Google Inc. (pkg/rollsum, on which this package's
// shape is modeled)
// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package chunker implements content-defined chunking via a
// Rabin-style rolling polynomial fingerprint.
//
// The package's shape — a small struct holding a fixed-size window and
// a rolling digest, fed one byte at a time — is modeled on Perkeep's
// pkg/rollsum (a bup-style rolling checksum used to split Perkeep
// "file" schema blobs). Unlike rollsum's fixed internal constants,
// vaultpack needs the polynomial to be a repository parameter (loaded
// from Config.ChunkerPolynomial): two repositories using
// the same polynomial must split identically, so the polynomial is
// plumbed in rather than hard-coded.
package chunker

import (
	"bufio"
	"io"
	"math/bits"
)

// Pol is an irreducible polynomial over GF(2), represented with its
// highest set bit marking the polynomial's degree.
type Pol uint64

// Degree returns the degree of p: the bit position of its highest set
// bit. A zero polynomial has degree -1.
func (p Pol) Degree() int {
	return bits.Len64(uint64(p)) - 1
}

const (
	// WindowSize is the number of trailing bytes the rolling
	// fingerprint is computed over (W=64).
	WindowSize = 64

	// DefaultMinSize and DefaultMaxSize bound chunk sizes so that
	// pathological content (all zero bytes, adversarial input)
	// can't produce degenerate chunks; expected size is ~1MiB.
	DefaultMinSize = 512 * 1024
	DefaultMaxSize = 8 * 1024 * 1024

	// DefaultMaskBits gives a boundary probability of 1/2^20,
	// tuned so the expected chunk size is close to 1MiB.
	DefaultMaskBits = 20

	// DefaultPolynomial is used by new repositories that don't
	// generate their own random irreducible polynomial. It is a
	// degree-53 polynomial, the same default used by the
	// restic/chunker package this design is interoperable with.
	DefaultPolynomial Pol = 0x3DA3358B4DC173
)

// Chunk is one content-defined slice of the input.
type Chunk struct {
	Data   []byte
	Length uint
}

// Chunker splits a byte stream into content-defined chunks. It
// consumes a lazy io.Reader and produces a finite lazy sequence of
// chunks via repeated calls to Next; concatenating the returned
// chunks' Data reproduces the input exactly.
type Chunker struct {
	rd  *bufio.Reader
	pol Pol
	deg int

	minSize, maxSize uint
	maskBits         uint

	base uint64 // x^8 mod pol
	pow  uint64 // x^(8*(WindowSize-1)) mod pol

	window [WindowSize]byte
	wpos   int
	digest uint64

	closed bool
}

// Option configures a Chunker's size bounds or split probability.
// Unset options take the Default* values above.
type Option func(*Chunker)

// WithSizeBounds overrides the [min,max] chunk size range.
func WithSizeBounds(minSize, maxSize uint) Option {
	return func(c *Chunker) {
		c.minSize = minSize
		c.maxSize = maxSize
	}
}

// WithMaskBits overrides the number of trailing fingerprint bits that
// must be zero to declare a boundary (controls expected chunk size).
func WithMaskBits(n uint) Option {
	return func(c *Chunker) { c.maskBits = n }
}

// New returns a Chunker that reads from rd and splits content using
// pol, the repository's chunker polynomial (trusted
// verbatim, not validated for irreducibility).
func New(rd io.Reader, pol Pol, opts ...Option) *Chunker {
	c := &Chunker{
		rd:       bufio.NewReaderSize(rd, 512*1024),
		pol:      pol,
		deg:      pol.Degree(),
		minSize:  DefaultMinSize,
		maxSize:  DefaultMaxSize,
		maskBits: DefaultMaskBits,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.base = gfMod(256, pol, c.deg)
	c.pow = gfPow(c.base, WindowSize-1, pol, c.deg)
	return c
}

// slide rolls one byte into the fingerprint window, removing the
// byte that falls out the trailing edge.
func (c *Chunker) slide(b byte) {
	out := c.window[c.wpos]
	c.window[c.wpos] = b
	c.wpos = (c.wpos + 1) % WindowSize

	c.digest ^= gfMulMod(uint64(out), c.pow, c.pol, c.deg)
	c.digest = gfMulMod(c.digest, c.base, c.pol, c.deg)
	c.digest ^= uint64(b)
}

// atBoundary reports whether the current fingerprint declares a
// content-defined chunk boundary.
func (c *Chunker) atBoundary() bool {
	mask := uint64(1)<<c.maskBits - 1
	return c.digest&mask == 0
}

// Next returns the next chunk, reusing buf's backing array when it
// has enough capacity. The final chunk of a stream is returned with a
// nil error like any other; io.EOF (with a zero-length Chunk) is
// returned only once the stream is fully drained.
func (c *Chunker) Next(buf []byte) (Chunk, error) {
	if c.closed {
		return Chunk{}, io.EOF
	}
	data := buf[:0]
	var sinceBoundary uint
	for {
		b, err := c.rd.ReadByte()
		if err == io.EOF {
			c.closed = true
			if len(data) == 0 {
				return Chunk{}, io.EOF
			}
			return Chunk{Data: data, Length: uint(len(data))}, nil
		}
		if err != nil {
			return Chunk{}, err
		}
		data = append(data, b)
		sinceBoundary++
		c.slide(b)

		if sinceBoundary >= c.maxSize {
			return Chunk{Data: data, Length: uint(len(data))}, nil
		}
		if sinceBoundary >= c.minSize && c.atBoundary() {
			return Chunk{Data: data, Length: uint(len(data))}, nil
		}
	}
}

// gfMulMod multiplies a and b as polynomials over GF(2) and reduces
// the product modulo pol, a degree-deg irreducible polynomial.
func gfMulMod(a, b uint64, pol Pol, deg int) uint64 {
	var res uint64
	p := uint64(pol)
	top := uint64(1) << deg
	for b != 0 {
		if b&1 != 0 {
			res ^= a
		}
		b >>= 1
		a <<= 1
		if a&top != 0 {
			a ^= p
		}
	}
	return res
}

// gfMod reduces a value of up to 64 bits modulo pol by repeated
// long-division XOR, from the top bit down to deg.
func gfMod(a uint64, pol Pol, deg int) uint64 {
	p := uint64(pol)
	for i := 63; i >= deg; i-- {
		if a&(uint64(1)<<uint(i)) != 0 {
			a ^= p << uint(i-deg)
		}
	}
	return a
}

// gfPow computes base^exp mod pol via square-and-multiply.
func gfPow(base uint64, exp int, pol Pol, deg int) uint64 {
	result := uint64(1)
	b := base
	for exp > 0 {
		if exp&1 != 0 {
			result = gfMulMod(result, b, pol, deg)
		}
		b = gfMulMod(b, b, pol, deg)
		exp >>= 1
	}
	return result
}
