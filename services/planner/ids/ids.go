// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ids generates globally unique, lexicographically sortable
// identifiers (ULIDs).
//
// IDs produced by one Generator sort in creation order even within the same
// millisecond, which lets storage prefix scans double as chronological
// listings.
package ids

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid"
)

// Generator produces ULIDs. Safe for concurrent use.
type Generator struct {
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// WithEntropy overrides the randomness source. The reader is wrapped in
// monotonic entropy so IDs within one millisecond still increase.
func WithEntropy(r io.Reader) Option {
	return func(g *Generator) {
		g.entropy = ulid.Monotonic(r, 0)
	}
}

// NewGenerator returns a Generator using crypto/rand and the wall clock.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// New returns a fresh 26-character ULID string.
func (g *Generator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	if err != nil {
		// Monotonic overflow within one millisecond (2^80 increments).
		// Ordering inside that millisecond is no longer guaranteed.
		id = ulid.MustNew(ulid.Timestamp(g.now()), rand.Reader)
	}
	return id.String()
}

// Valid reports whether s parses as a ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

var defaultGenerator = NewGenerator()

// New returns an ID from the package-level generator.
func New() string {
	return defaultGenerator.New()
}
