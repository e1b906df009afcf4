// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Command merklekv runs a single MerkleKV cluster node: the client-facing
// text protocol, the pub/sub replication hot path, and the anti-entropy
// cold path, over one in-memory (optionally durable) store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// buildVersion is overridden at release build time via
// -ldflags "-X main.buildVersion=...".
var buildVersion = "dev"

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "merklekv",
		Short: "MerkleKV: a distributed, eventually-consistent, in-memory key-value store",
	}
	root.AddCommand(serveCmd(), versionCmd(), checkConfigCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the merklekv build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), buildVersion)
			return nil
		},
	}
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "merklekv: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}
