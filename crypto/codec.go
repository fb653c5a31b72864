// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package crypto is the encrypt+MAC (+optional compress) codec the
// core engine treats as opaque: an "encode(bytes)→bytes
// / decode(bytes)→bytes pair keyed by a repository master key". The
// core never inspects these bytes; it only ever calls Encode before a
// write and Decode after a read.
//
// This package gives that interface a concrete, testable
// implementation using filippo.io/age for the AEAD stream and
// klauspost/compress's zstd
// for optional pre-encryption compression, the way restic/rustic pack
// layouts compress before encrypting.
package crypto

import (
	"bytes"
	"fmt"
	"io"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"

	"vaultpack.dev/vaultpack/verrors"
)

// Codec is the consumed encode/decode contract. All non-config
// objects are passed through Encode before being handed
// to a Backend.WriteFull, and through Decode after a Backend read.
type Codec interface {
	Encode(plaintext []byte) ([]byte, error)
	Decode(ciphertext []byte) ([]byte, error)
}

// AgeCodec implements Codec with an age X25519 identity for
// encryption/authentication and, optionally, zstd compression applied
// to the plaintext before encryption.
type AgeCodec struct {
	recipient age.Recipient
	identity  age.Identity
	compress  bool
}

// NewAgeCodec derives a codec from a single age identity, used as
// both the encryption recipient and the decryption identity (a
// repository has exactly one master key). Setting
// compress enables zstd compression of the plaintext before
// encryption.
func NewAgeCodec(identity *age.X25519Identity, compress bool) *AgeCodec {
	return &AgeCodec{
		recipient: identity.Recipient(),
		identity:  identity,
		compress:  compress,
	}
}

// Encode compresses (if enabled) and encrypts plaintext, returning
// ciphertext suitable for Backend.WriteFull.
func (c *AgeCodec) Encode(plaintext []byte) ([]byte, error) {
	payload := plaintext
	if c.compress {
		compressed, err := zstdCompress(plaintext)
		if err != nil {
			return nil, fmt.Errorf("crypto: compressing: %w: %v", verrors.CodecError, err)
		}
		payload = compressed
	}
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, c.recipient)
	if err != nil {
		return nil, fmt.Errorf("crypto: opening age writer: %w: %v", verrors.CodecError, err)
	}
	if _, err := w.Write(payload); err != nil {
		return nil, fmt.Errorf("crypto: encrypting: %w: %v", verrors.CodecError, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("crypto: closing age writer: %w: %v", verrors.CodecError, err)
	}
	out := make([]byte, buf.Len()+1)
	if c.compress {
		out[0] = 1
	}
	copy(out[1:], buf.Bytes())
	return out, nil
}

// Decode reverses Encode: decrypts, then decompresses if the leading
// flag byte says the payload was compressed. A flag byte other than
// the 0 or 1 Encode writes is rejected as a CodecError.
func (c *AgeCodec) Decode(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 1 {
		return nil, fmt.Errorf("crypto: empty ciphertext: %w", verrors.CodecError)
	}
	if ciphertext[0] > 1 {
		return nil, fmt.Errorf("crypto: unknown flag byte %#x: %w", ciphertext[0], verrors.CodecError)
	}
	compressed := ciphertext[0] == 1
	r, err := age.Decrypt(bytes.NewReader(ciphertext[1:]), c.identity)
	if err != nil {
		return nil, fmt.Errorf("crypto: opening age reader: %w: %v", verrors.CodecError, err)
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypting: %w: %v", verrors.CodecError, err)
	}
	if !compressed {
		return payload, nil
	}
	plaintext, err := zstdDecompress(payload)
	if err != nil {
		return nil, fmt.Errorf("crypto: decompressing: %w: %v", verrors.CodecError, err)
	}
	return plaintext, nil
}

func zstdCompress(p []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(p, make([]byte, 0, len(p))), nil
}

func zstdDecompress(p []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(p, nil)
}

var _ Codec = (*AgeCodec)(nil)
