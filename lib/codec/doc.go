// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides buildjail's standard CBOR encoding configuration.
//
// CBOR is used for the on-disk composition manifest that a kept scratch
// directory carries for post-mortem inspection, and as the canonical byte
// form that mount-set fingerprints are computed over. Everything that a
// human or the launcher reads (argument vectors, CLI output, overlay
// configuration) stays textual.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. Same logical
// data always produces identical bytes, which is what makes fingerprints
// stable across runs.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Types that are only ever written as CBOR use `cbor` struct tags. Never
// put both `cbor` and `json` tags on the same field.
package codec
