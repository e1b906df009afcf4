// Copyright (C) 2023-2025, MerkleKV Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/merklekv/merklekv/config"
)

func checkConfigCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate a config file without starting the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return configError{err}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: node_id=%s bind=%s:%d\n",
				cfg.NodeID, cfg.Network.BindAddress, cfg.Network.BindPort)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "config", "merklekv.yaml", "path to the node's YAML config file")
	return cmd
}
