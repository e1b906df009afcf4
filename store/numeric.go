// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package store

import (
	"strconv"

	"github.com/merklekv/merklekv/kv"
)

// parseNumeric parses the current value of a numeric key. An absent key is
// treated as 0; a present value that isn't a valid signed 64-bit decimal
// integer is kv.ErrNotNumeric.
func parseNumeric(value []byte, existed bool) (int64, error) {
	if !existed {
		return 0, nil
	}
	n, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return 0, kv.ErrNotNumeric
	}
	return n, nil
}

func formatNumeric(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}
