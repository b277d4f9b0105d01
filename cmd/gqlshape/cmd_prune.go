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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/gqlshape/services/shaper"
	"github.com/AleutianAI/gqlshape/services/shaper/ledger"
)

func newPruneCmd() *cobra.Command {
	var (
		flags     snapshotFlags
		surface   string
		queryText string
		queryFile string
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Print the query the proxy would forward for a surface",
		Long: `Run a query through the shaping pipeline against a stored ledger without
contacting any backend. The forwarded query is printed to stdout and the
decision to stderr.`,
		Example: `  gqlshape prune --surface HOME_SCREEN --query '{ user { name email } }'
  gqlshape prune --surface HOME_SCREEN --query-file - < query.graphql`,
		RunE: func(cmd *cobra.Command, args []string) error {
			document, err := readQuery(cmd, queryText, queryFile)
			if err != nil {
				return err
			}
			pol, err := flags.policy()
			if err != nil {
				return err
			}
			snap, err := loadSnapshot(cmd, flags)
			if err != nil {
				return err
			}

			quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
			s := shaper.New(ledger.NewMemoryStore(snap), pol, nil, quiet)
			plan := s.Plan(cmd.Context(), surface, document)

			fmt.Fprintf(cmd.ErrOrStderr(), "surface=%s operation=%s outcome=%s allowed=%d\n",
				plan.Surface, plan.OperationKey, plan.Outcome, plan.Allowed)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), plan.Query)
			return err
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&surface, "surface", ledger.DefaultSurface, "Client surface to plan for")
	cmd.Flags().StringVarP(&queryText, "query", "q", "", "GraphQL query document")
	cmd.Flags().StringVar(&queryFile, "query-file", "", "Read the query from a file, or - for stdin")
	cmd.MarkFlagsMutuallyExclusive("query", "query-file")
	return cmd
}

func readQuery(cmd *cobra.Command, text, file string) (string, error) {
	switch {
	case text != "":
		return text, nil
	case file == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), err
	case file != "":
		data, err := os.ReadFile(file)
		return string(data), err
	default:
		return "", errors.New("one of --query or --query-file is required")
	}
}
