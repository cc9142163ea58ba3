// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the hook points a deployment can swap out
// without touching the planner core.
//
// The open source build ships no-op or in-process defaults. A hosted
// deployment injects its own implementations, for example an audit sink
// that forwards to a SIEM.
//
// Usage:
//
//	// Open source: use defaults
//	opts := extensions.DefaultOptions()
//
//	// Hosted: inject implementations
//	opts := extensions.DefaultOptions().WithAudit(splunkAuditor)
package extensions

// ServiceOptions holds the injectable extension implementations.
type ServiceOptions struct {
	// AuditLogger records who changed what.
	// Default: NopAuditLogger (discards all events)
	AuditLogger AuditLogger
}

// DefaultOptions returns options with every extension set to its no-op
// implementation.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuditLogger: &NopAuditLogger{},
	}
}

// WithAudit returns a copy of opts using logger for audit events.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}
