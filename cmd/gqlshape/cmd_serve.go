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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/gqlshape/pkg/config"
	"github.com/AleutianAI/gqlshape/pkg/logging"
	"github.com/AleutianAI/gqlshape/services/orchestrator"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the shaping proxy",
		Long: `Run the shaping proxy until SIGINT or SIGTERM.

Configuration is read from --config when given, then overridden by
environment variables such as PORT and GRAPHQL_BACKEND_URL. The policy
section of the config file is reloaded when the file changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "gqlshape",
		Format:  logging.Format(cfg.Logging.Format),
	})
	defer logger.Close()

	if level != logging.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	svc, err := orchestrator.New(cfg, orchestrator.Options{
		ConfigPath: configPath,
		Lookup:     os.LookupEnv,
		Logger:     logger.Slog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create proxy: %w", err)
	}
	return svc.Run(ctx)
}
