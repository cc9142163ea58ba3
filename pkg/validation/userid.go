// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks externally supplied identifiers before they are
// stored or echoed into logs.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxUserIDLength is the longest accepted user ID.
const MaxUserIDLength = 128

// userIDPattern accepts opaque IDs from an upstream identity provider:
// ASCII letters, digits and . _ @ + - , starting with a letter or digit.
var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@+\-]{0,127}$`)

// ValidateUserID validates a user ID.
//
// Description:
//
//	User IDs arrive in the X-Actor-ID header and in assignee lists. They are
//	opaque to the planner but end up in keys, events and log lines, so
//	anything outside a conservative character set is rejected.
//
// Inputs:
//
//	id - The user ID to validate.
//
// Outputs:
//
//	error - Non-nil if the ID is empty or malformed.
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("user ID cannot be empty")
	}
	if len(id) > MaxUserIDLength {
		return fmt.Errorf("user ID exceeds %d characters", MaxUserIDLength)
	}
	if !userIDPattern.MatchString(id) {
		return fmt.Errorf("invalid user ID format: %q", id)
	}
	return nil
}

// ValidateUserIDs validates every ID and reports all invalid ones together.
func ValidateUserIDs(ids []string) error {
	var invalid []string
	for _, id := range ids {
		if err := ValidateUserID(id); err != nil {
			invalid = append(invalid, fmt.Sprintf("%q", id))
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid user IDs: %s", strings.Join(invalid, ", "))
	}
	return nil
}

// SanitizeUserID trims surrounding whitespace and validates the result.
func SanitizeUserID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if err := ValidateUserID(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
