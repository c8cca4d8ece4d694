// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package main is the entrypoint of the otelstore ingester.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var confPath string
	root := &cobra.Command{
		Use:          "otelstore",
		Short:        "OTLP ingestion backend over PostgreSQL",
		SilenceUsage: true,
	}
	run := &cobra.Command{
		Use:   "run",
		Short: "Run the OTLP gRPC receiver and storage pipeline",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runApp(cmd.Context(), confPath)
		},
	}
	run.Flags().StringVarP(&confPath, "config", "c", "", "path to an optional YAML config file")
	root.AddCommand(run)
	return root
}
