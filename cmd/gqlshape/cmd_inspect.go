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
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/gqlshape/services/shaper/ledger"
	"github.com/AleutianAI/gqlshape/services/shaper/policy"
)

// inspectRow is one line of inspect output.
type inspectRow struct {
	Surface      string   `json:"surface"`
	Operation    string   `json:"operation"`
	Observations int64    `json:"observations"`
	Ready        bool     `json:"ready"`
	Allowed      []string `json:"allowed"`
}

func newInspectCmd() *cobra.Command {
	var (
		flags   snapshotFlags
		surface string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the allow-lists a stored ledger yields",
		RunE: func(cmd *cobra.Command, args []string) error {
			pol, err := flags.policy()
			if err != nil {
				return err
			}
			snap, err := loadSnapshot(cmd, flags)
			if err != nil {
				return err
			}

			rows := inspectRows(snap, pol, surface)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			return writeInspectTable(cmd, rows)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&surface, "surface", "", "Only show this surface")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}

func inspectRows(snap ledger.Snapshot, pol *policy.Policy, surface string) []inspectRow {
	rows := []inspectRow{}
	for _, s := range snap.Surfaces() {
		if surface != "" && s != surface {
			continue
		}
		for _, op := range snap.Operations(s) {
			e, _ := snap.Entry(s, op)
			allowed, ready := pol.Decide(snap, s, op)
			if allowed == nil {
				allowed = []string{}
			}
			rows = append(rows, inspectRow{
				Surface:      s,
				Operation:    op,
				Observations: e.Observations,
				Ready:        ready,
				Allowed:      allowed,
			})
		}
	}
	return rows
}

func writeInspectTable(cmd *cobra.Command, rows []inspectRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), "No learned operations.")
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SURFACE\tOPERATION\tOBSERVATIONS\tREADY\tALLOWED")
	for _, r := range rows {
		ready := "no"
		if r.Ready {
			ready = "yes"
		}
		allowed := strings.Join(r.Allowed, ", ")
		if allowed == "" {
			allowed = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", r.Surface, r.Operation, r.Observations, ready, allowed)
	}
	return w.Flush()
}
