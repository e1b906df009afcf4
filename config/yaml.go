// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"io"

	"gopkg.in/yaml.v3"
)

// newStrictDecoder wraps gopkg.in/yaml.v3's Decoder with KnownFields(true)
// so a config file containing a key no Config field declares is a load
// error rather than silently ignored.
func newStrictDecoder(r io.Reader) *yaml.Decoder {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	return dec
}
