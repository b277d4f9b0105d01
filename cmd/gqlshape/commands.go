// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"

	"github.com/AleutianAI/gqlshape/services/shaper/ledger"
	"github.com/AleutianAI/gqlshape/services/shaper/persist"
	"github.com/AleutianAI/gqlshape/services/shaper/policy"
)

// snapshotFlags are shared by the offline commands.
type snapshotFlags struct {
	driver          string
	path            string
	minObservations int
	threshold       float64
}

func (f *snapshotFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "snapshot", persist.DefaultFilePath, "Ledger location (file, badger directory or sqlite database)")
	cmd.Flags().StringVar(&f.driver, "driver", persist.DriverFile, "Ledger driver: file, badger or sqlite")
	cmd.Flags().IntVar(&f.minObservations, "min-observations", policy.DefaultMinObservations, "Observations required before pruning")
	cmd.Flags().Float64Var(&f.threshold, "threshold", policy.DefaultThreshold, "Presence ratio a field must exceed to be kept")
}

func (f *snapshotFlags) policy() (*policy.Policy, error) {
	cfg := policy.Config{MinObservations: f.minObservations, Threshold: f.threshold}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return policy.New(cfg), nil
}

// newRootCmd builds the command tree.
//
//	gqlshape serve   [--config file]
//	gqlshape inspect [--snapshot file] [--surface s] [--json]
//	gqlshape prune   [--snapshot file] [--surface s] --query q
//	gqlshape config init [path]
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gqlshape",
		Short: "Adaptive GraphQL query-shaping proxy",
		Long: `gqlshape sits in front of a GraphQL API, learns which response fields each
client surface actually receives, and trims queries down to those fields
once it has seen enough traffic.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the proxy configuration file",
	}
	configCmd.AddCommand(newConfigInitCmd())

	root.AddCommand(
		newServeCmd(),
		newInspectCmd(),
		newPruneCmd(),
		configCmd,
	)
	return root
}

// loadSnapshot reads a ledger snapshot with the given driver.
func loadSnapshot(cmd *cobra.Command, f snapshotFlags) (ledger.Snapshot, error) {
	b, err := persist.Open(persist.Config{Driver: f.driver, Path: f.path})
	if err != nil {
		return ledger.Snapshot{}, err
	}
	defer b.Close()
	return b.Load(cmd.Context())
}
