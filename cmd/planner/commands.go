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
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianPlanner/services/planner"
)

var (
	configPath string
	portFlag   int
	ephemeral  bool
	debugFlag  bool

	serverURL   string
	treeProject string

	rootCmd = &cobra.Command{
		Use:   "planner",
		Short: "Task hierarchy and dependency planner",
		Long: `planner serves a project task tree with typed dependencies between
tasks, stage history and live change events over HTTP.`,
		SilenceUsage: true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the planner API server",
		RunE:  runServe,
	}
	treeCmd = &cobra.Command{
		Use:   "tree",
		Short: "Print a project's task tree from a running server",
		Long: `tree fetches a project's live tasks and stages from a planner server
and prints the parent/child hierarchy. Set PLANNER_OUTPUT=machine for
tab-separated rows.`,
		RunE: runTree,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the planner version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "planner %s (%s)\n", planner.ServiceVersion, runtime.Version())
		},
	}
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file (watched for log level changes)")
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "Listen port, overrides the config file")
	serveCmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "Keep all data in memory")
	serveCmd.Flags().BoolVar(&debugFlag, "debug", false, "Enable gin debug mode and request logging")

	rootCmd.AddCommand(treeCmd)
	treeCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8090", "Planner server base URL")
	treeCmd.Flags().StringVarP(&treeProject, "project", "p", "", "Project ID")

	rootCmd.AddCommand(versionCmd)
}
