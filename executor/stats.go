// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package executor

import (
	"fmt"
	"time"

	"github.com/merklekv/merklekv/merkle"
)

func renderStats(keyCount int, root merkle.Digest, uptime time.Duration, replOverflow, aeRun, aeFailed uint64) string {
	return fmt.Sprintf("keys=%d root=%x uptime=%s repl_overflow=%d ae_sessions=%d ae_failed=%d",
		keyCount, root[:], uptime.Round(time.Second), replOverflow, aeRun, aeFailed)
}
