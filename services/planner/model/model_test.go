// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskPatch_UnmarshalDistinguishesAbsentFromNull(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantSet   bool
		wantNull  bool
		wantValue string
	}{
		{name: "absent", body: `{}`, wantSet: false},
		{name: "explicit null", body: `{"stage_id": null}`, wantSet: true, wantNull: true},
		{name: "value", body: `{"stage_id": "s1"}`, wantSet: true, wantValue: "s1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p TaskPatch
			require.NoError(t, json.Unmarshal([]byte(tt.body), &p))

			assert.Equal(t, tt.wantSet, p.StageID.Set)
			assert.Equal(t, tt.wantNull, p.StageID.IsNull())
			if tt.wantValue != "" {
				require.NotNil(t, p.StageID.Value)
				assert.Equal(t, tt.wantValue, *p.StageID.Value)
			}
		})
	}
}

func TestTaskPatch_MarshalOmitsUnsetFields(t *testing.T) {
	p := TaskPatch{
		Title:   Some("hello"),
		StageID: Null[string](),
	}
	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"hello","stage_id":null}`, string(data))
}

func TestTaskPatch_Validate(t *testing.T) {
	assert.NoError(t, TaskPatch{}.Validate())
	assert.True(t, TaskPatch{}.Empty())

	err := TaskPatch{Title: Null[string]()}.Validate()
	assert.True(t, errors.Is(err, &Error{Code: CodeInvalidInput}))

	err = TaskPatch{Importance: Some(Importance("URGENT"))}.Validate()
	assert.Equal(t, CodeInvalidInput, CodeOf(err))

	err = TaskPatch{Position: Null[int]()}.Validate()
	assert.Equal(t, CodeInvalidInput, CodeOf(err))

	assert.NoError(t, TaskPatch{Importance: Some(ImportanceHigh)}.Validate())
}

func TestTaskPatch_Apply(t *testing.T) {
	task := &Task{Title: "old", Description: "desc", Importance: ImportanceNormal, Position: 3}

	TaskPatch{
		Title:       Some("new"),
		Description: Null[string](),
		Importance:  Some(ImportanceCritical),
	}.Apply(task)

	assert.Equal(t, "new", task.Title)
	assert.Equal(t, "", task.Description)
	assert.Equal(t, ImportanceCritical, task.Importance)
	assert.Equal(t, 3, task.Position, "absent field must be untouched")
}

func TestValidate_CreateTaskInput(t *testing.T) {
	err := Validate(CreateTaskInput{ProjectID: "p1", Title: "t"})
	assert.NoError(t, err)

	err = Validate(CreateTaskInput{ProjectID: "p1"})
	require.Error(t, err)
	assert.Equal(t, CodeInvalidInput, CodeOf(err))
	assert.Contains(t, err.Error(), "Title")

	err = Validate(CreateTaskInput{ProjectID: "p1", Title: "t", Importance: "SOMEDAY"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "importance")
}

func TestValidate_CreateDependencyInput(t *testing.T) {
	assert.NoError(t, Validate(CreateDependencyInput{PredecessorTaskID: "a", SuccessorTaskID: "b"}))
	assert.NoError(t, Validate(CreateDependencyInput{PredecessorTaskID: "a", SuccessorTaskID: "b", DepType: DepStartToFinish}))

	err := Validate(CreateDependencyInput{PredecessorTaskID: "a", SuccessorTaskID: "b", DepType: "XX"})
	assert.Equal(t, CodeInvalidInput, CodeOf(err))
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("create edge: %w", Errorf(CodeCircularDependency, "edge %s -> %s closes a cycle", "a", "b"))

	assert.True(t, errors.Is(err, ErrCircularDependency))
	assert.False(t, errors.Is(err, ErrSelfDependency))
	assert.Equal(t, CodeCircularDependency, CodeOf(err))
}

func TestError_WrapKeepsCause(t *testing.T) {
	cause := errors.New("disk gone")
	err := Wrap(CodeTransactionConflict, cause, "commit failed")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "commit failed: disk gone", err.Error())
	assert.True(t, err.Kind().Retryable())
}

func TestCode_KindAndStatus(t *testing.T) {
	tests := []struct {
		code   Code
		kind   Kind
		status int
	}{
		{CodeTaskNotFound, KindNotFound, http.StatusNotFound},
		{CodeSuccessorNotFound, KindNotFound, http.StatusNotFound},
		{CodeTaskCircularParent, KindStateConflict, http.StatusUnprocessableEntity},
		{CodeCircularDependency, KindStateConflict, http.StatusBadRequest},
		{CodeSelfDependency, KindStateConflict, http.StatusBadRequest},
		{CodeWorkspaceArchived, KindStateConflict, http.StatusConflict},
		{CodeDependencyExists, KindDuplicate, http.StatusConflict},
		{CodeTransactionConflict, KindTransient, http.StatusServiceUnavailable},
		{Code("SOMETHING_ELSE"), KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.code.Kind())
			assert.Equal(t, tt.status, tt.code.HTTPStatus())
		})
	}
	assert.False(t, KindNotFound.Retryable())
}

func TestSameRef(t *testing.T) {
	assert.True(t, SameRef(nil, nil))
	assert.False(t, SameRef(nil, StringPtr("s1")))
	assert.False(t, SameRef(StringPtr("s1"), nil))
	assert.True(t, SameRef(StringPtr("s1"), StringPtr("s1")))
	assert.False(t, SameRef(StringPtr("s1"), StringPtr("s2")))
}
