// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package server

import "errors"

var (
	errBadSyntax   = errors.New("bad command syntax")
	errEmptyLine   = errors.New("bad command syntax: empty line")
	errLineTooLong = errors.New("line too long")
)

// MaxLineBytes is the per-line cap on the wire (1 MiB), measured including
// the trailing CRLF.
const MaxLineBytes = 1 << 20
