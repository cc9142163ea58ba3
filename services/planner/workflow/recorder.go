// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflow records stage transitions.
package workflow

import (
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianPlanner/services/planner/ids"
	"github.com/AleutianAI/AleutianPlanner/services/planner/model"
)

// HistoryWriter appends history rows inside an open transaction.
// store.Tx satisfies it.
type HistoryWriter interface {
	AppendHistory(e *model.StatusHistoryEntry) error
	Now() time.Time
}

// Recorder writes StatusHistoryEntry rows.
//
// It does not check that the stage exists; the caller has already done so
// under the same transaction. A write failure is returned so the caller's
// transaction aborts, keeping the task update and its history atomic.
type Recorder struct {
	ids *ids.Generator
}

// NewRecorder returns a Recorder drawing entry IDs from gen. A nil gen gets
// a fresh generator.
func NewRecorder(gen *ids.Generator) *Recorder {
	if gen == nil {
		gen = ids.NewGenerator()
	}
	return &Recorder{ids: gen}
}

// Record appends one entry for taskID moving from -> to, stamped with the
// transaction time.
//
// Inputs:
//   - w: The open transaction.
//   - taskID: The task whose stage changed.
//   - from: Previous stage, nil when the task had none.
//   - to: New stage. Transitions to "no stage" are never recorded, so this
//     is always set.
//   - actor: The user who made the change.
//
// Outputs:
//   - *model.StatusHistoryEntry: The written entry.
//   - error: Non-nil when the write failed; the caller must abort.
func (r *Recorder) Record(w HistoryWriter, taskID string, from *string, to string, actor string) (*model.StatusHistoryEntry, error) {
	entry := model.StatusHistoryEntry{
		ID:          r.ids.New(),
		TaskID:      taskID,
		FromStageID: from,
		ToStageID:   to,
		ChangedBy:   actor,
		ChangedAt:   w.Now(),
	}
	if err := w.AppendHistory(&entry); err != nil {
		return nil, fmt.Errorf("record stage transition for task %s: %w", taskID, err)
	}
	return &entry, nil
}
