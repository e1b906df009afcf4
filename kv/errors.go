// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package kv

import "errors"

// Error taxonomy surfaced across the command/response boundary. Only
// per-command local failures are ever visible here: replication and
// anti-entropy failures are best-effort and never reach this set.
var (
	ErrNotFound         = errors.New("not_found")
	ErrNotNumeric       = errors.New("not numeric")
	ErrOverflow         = errors.New("overflow")
	ErrInvalidKey       = errors.New("invalid key")
	ErrInvalidCharacter = errors.New("invalid character")
	ErrLineTooLong      = errors.New("line too long")
	ErrOddArity         = errors.New("odd arity")
	ErrFlushTimeout     = errors.New("flush timeout")
)
