// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders CLI output for people and for scripts.
package ux

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// EnvOutput overrides output level detection.
const EnvOutput = "PLANNER_OUTPUT"

// Level controls how rich CLI output is.
type Level string

const (
	// LevelRich uses colors, icons and boxes.
	LevelRich Level = "rich"

	// LevelPlain uses icons and layout but no colors.
	LevelPlain Level = "plain"

	// LevelMachine prints undecorated, tab-separated text for scripts.
	LevelMachine Level = "machine"
)

// ParseLevel converts a string to a Level. Unknown values yield LevelPlain.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rich", "full":
		return LevelRich
	case "machine", "script":
		return LevelMachine
	default:
		return LevelPlain
	}
}

// DetectLevel picks the level for w.
//
// PLANNER_OUTPUT wins when set. Otherwise a terminal gets LevelRich, or
// LevelPlain when NO_COLOR is set, and anything else gets LevelMachine.
func DetectLevel(w io.Writer) Level {
	return detectLevel(w, os.LookupEnv)
}

func detectLevel(w io.Writer, lookup func(string) (string, bool)) Level {
	if v, ok := lookup(EnvOutput); ok && v != "" {
		return ParseLevel(v)
	}
	if !isTerminal(w) {
		return LevelMachine
	}
	if _, ok := lookup("NO_COLOR"); ok {
		return LevelPlain
	}
	return LevelRich
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
