// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command planner runs the task planner API server.
//
// Usage:
//
//	planner serve --config planner.yaml
//	planner serve --ephemeral --port 9090
//	planner version
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8090/health
//
//	# Create a task
//	curl -X POST http://localhost:8090/v1/tasks \
//	  -H "Content-Type: application/json" \
//	  -H "X-Actor-ID: alice" \
//	  -d '{"project_id": "...", "title": "Write launch post"}'
//
//	# Link two tasks
//	curl -X POST http://localhost:8090/v1/dependencies \
//	  -H "Content-Type: application/json" \
//	  -H "X-Actor-ID: alice" \
//	  -d '{"predecessor_task_id": "...", "successor_task_id": "..."}'
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
