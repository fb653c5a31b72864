// Copyright 2026 The Vaultpack Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0

// Package pack implements the append-only pack file container: many
// small blobs concatenated into one Backend object, with a trailing
// header describing where each one landed.
//
// The wire layout is modeled on Perkeep's diskpacked format (payload
// followed by a trailer, read back-to-front to locate entries without
// a separate index file), adapted to a JSON header instead of
// diskpacked's line-oriented one, and to a single multi-blob container
// rather than diskpacked's one-file-per-few-thousand-blobs rotation.
package pack

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"vaultpack.dev/vaultpack/backend"
	"vaultpack.dev/vaultpack/blob"
	"vaultpack.dev/vaultpack/crypto"
	"vaultpack.dev/vaultpack/verrors"
)

// trailerLen is the width of the trailing length field that closes
// every pack file: a little-endian uint32 byte count of the encoded
// header that precedes it.
const trailerLen = 4

// EncodeHeader serializes headers deterministically (array order is
// preserved; JSON object key order within each entry is fixed by
// blob.Header's field order) and runs the result through codec so the
// header is encrypted exactly like the blobs it describes.
func EncodeHeader(headers []blob.Header, codec crypto.Codec) ([]byte, error) {
	raw, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("pack: marshaling header: %w", err)
	}
	return codec.Encode(raw)
}

// decodeHeader reverses EncodeHeader.
func decodeHeader(encoded []byte, codec crypto.Codec) ([]blob.Header, error) {
	raw, err := codec.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("pack: decoding header: %w", err)
	}
	var headers []blob.Header
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&headers); err != nil {
		return nil, fmt.Errorf("pack: unmarshaling header: %w: %v", verrors.IntegrityError, err)
	}
	return headers, nil
}

// Assemble concatenates a sequence of already-encoded blobs with their
// describing header and trailer into one pack file's bytes. It also
// returns the encoded header slice on its own: a pack's id is the hash
// of exactly these bytes (spec.md §3, §4.2), not of the assembled file
// as a whole, so callers must hash encodedHeader rather than data to
// derive it. The returned blob.Header records carry no location (the
// id isn't known until after Assemble returns); callers fill it in
// once they have it, see Locations.
func Assemble(entries []Entry, codec crypto.Codec) (data []byte, encodedHeader []byte, headers []blob.Header, err error) {
	var payload bytes.Buffer
	headers = make([]blob.Header, 0, len(entries))
	for _, e := range entries {
		payload.Write(e.Encoded)
		headers = append(headers, blob.Header{
			Type:               e.Kind,
			Id:                 e.Id,
			Length:             uint32(len(e.Encoded)),
			UncompressedLength: e.UncompressedLength,
		})
	}
	encodedHeader, err = EncodeHeader(headers, codec)
	if err != nil {
		return nil, nil, nil, err
	}
	var out bytes.Buffer
	out.Write(payload.Bytes())
	out.Write(encodedHeader)
	var trailer [trailerLen]byte
	binary.LittleEndian.PutUint32(trailer[:], uint32(len(encodedHeader)))
	out.Write(trailer[:])
	return out.Bytes(), encodedHeader, headers, nil
}

// Entry is one blob queued for inclusion in a pack, prior to
// assembly.
type Entry struct {
	Id                 blob.Id
	Kind               blob.Kind
	Encoded            []byte // post-codec bytes, as written to the pack
	UncompressedLength uint32
}

// Locations derives each header's blob.Location within packId, by
// running sums over the headers' Length fields in order — the same
// order Assemble wrote them in.
func Locations(packId blob.Id, headers []blob.Header) []blob.Location {
	locs := make([]blob.Location, len(headers))
	var off uint32
	for i, h := range headers {
		locs[i] = blob.Location{PackId: packId, Offset: off, Length: h.Length}
		off += h.Length
	}
	return locs
}

// ReadHeader fetches and decodes packId's header from be, given the
// pack's total size (callers typically already have this from
// Backend.ListWithSize). It returns each blob's header alongside the
// blob.Location at which its encoded bytes can be read with
// ReadPartial.
func ReadHeader(ctx context.Context, be backend.Backend, codec crypto.Codec, packId blob.Id, size int64) ([]blob.Header, []blob.Location, error) {
	if size < int64(trailerLen) {
		return nil, nil, fmt.Errorf("pack: %s: too small to contain a trailer: %w", packId, verrors.IntegrityError)
	}
	trailer, err := be.ReadPartial(ctx, blob.Pack, packId, true, size-trailerLen, trailerLen)
	if err != nil {
		return nil, nil, fmt.Errorf("pack: %s: reading trailer: %w", packId, err)
	}
	headerLen := int64(binary.LittleEndian.Uint32(trailer))
	headerStart := size - trailerLen - headerLen
	if headerStart < 0 {
		return nil, nil, fmt.Errorf("pack: %s: header length %d overruns file: %w", packId, headerLen, verrors.IntegrityError)
	}
	encodedHeader, err := be.ReadPartial(ctx, blob.Pack, packId, true, headerStart, headerLen)
	if err != nil {
		return nil, nil, fmt.Errorf("pack: %s: reading header: %w", packId, err)
	}
	headers, err := decodeHeader(encodedHeader, codec)
	if err != nil {
		return nil, nil, fmt.Errorf("pack: %s: %w", packId, err)
	}
	locs := Locations(packId, headers)
	if len(locs) > 0 {
		last := locs[len(locs)-1]
		if int64(last.Offset+last.Length) != headerStart {
			return nil, nil, fmt.Errorf("pack: %s: payload length does not match header start %d: %w", packId, headerStart, verrors.IntegrityError)
		}
	} else if headerStart != 0 {
		return nil, nil, fmt.Errorf("pack: %s: empty header but non-zero header start %d: %w", packId, headerStart, verrors.IntegrityError)
	}
	return headers, locs, nil
}
