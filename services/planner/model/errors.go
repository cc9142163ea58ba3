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
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind groups error codes by how a caller should react to them.
type Kind string

const (
	// KindNotFound: a referenced entity is absent or soft-deleted.
	KindNotFound Kind = "NOT_FOUND"

	// KindStateConflict: the mutation is structurally invalid given the
	// current graph state.
	KindStateConflict Kind = "STATE_CONFLICT"

	// KindDuplicate: the mutation is already satisfied.
	KindDuplicate Kind = "DUPLICATE"

	// KindValidation: the input itself is malformed.
	KindValidation Kind = "VALIDATION"

	// KindTransient: a storage condition that may clear on retry.
	KindTransient Kind = "TRANSIENT"

	// KindInternal: anything else.
	KindInternal Kind = "INTERNAL"
)

// Retryable reports whether repeating the same request may succeed.
func (k Kind) Retryable() bool {
	return k == KindTransient
}

// =============================================================================
// ERROR CODES
// =============================================================================

// Code is the stable identifier surfaced to API clients.
type Code string

const (
	CodeTaskNotFound        Code = "TASK_NOT_FOUND"
	CodeProjectNotFound     Code = "PROJECT_NOT_FOUND"
	CodeWorkspaceNotFound   Code = "WORKSPACE_NOT_FOUND"
	CodeStageNotFound       Code = "STAGE_NOT_FOUND"
	CodePredecessorNotFound Code = "PREDECESSOR_NOT_FOUND"
	CodeSuccessorNotFound   Code = "SUCCESSOR_NOT_FOUND"
	CodeDependencyNotFound  Code = "DEPENDENCY_NOT_FOUND"

	CodeTaskCircularParent    Code = "TASK_CIRCULAR_PARENT"
	CodeCircularDependency    Code = "CIRCULAR_DEPENDENCY"
	CodeSelfDependency        Code = "SELF_DEPENDENCY"
	CodeProjectArchived       Code = "PROJECT_ARCHIVED"
	CodeWorkspaceArchived     Code = "WORKSPACE_ARCHIVED"
	CodeParentProjectMismatch Code = "PARENT_PROJECT_MISMATCH"

	CodeDependencyExists Code = "DEPENDENCY_EXISTS"

	CodeInvalidInput Code = "INVALID_INPUT"

	CodeTransactionConflict Code = "TRANSACTION_CONFLICT"

	CodeInternal Code = "INTERNAL_ERROR"
)

type codeInfo struct {
	kind   Kind
	status int
}

var codeTable = map[Code]codeInfo{
	CodeTaskNotFound:        {KindNotFound, http.StatusNotFound},
	CodeProjectNotFound:     {KindNotFound, http.StatusNotFound},
	CodeWorkspaceNotFound:   {KindNotFound, http.StatusNotFound},
	CodeStageNotFound:       {KindNotFound, http.StatusNotFound},
	CodePredecessorNotFound: {KindNotFound, http.StatusNotFound},
	CodeSuccessorNotFound:   {KindNotFound, http.StatusNotFound},
	CodeDependencyNotFound:  {KindNotFound, http.StatusNotFound},

	CodeTaskCircularParent:    {KindStateConflict, http.StatusUnprocessableEntity},
	CodeCircularDependency:    {KindStateConflict, http.StatusBadRequest},
	CodeSelfDependency:        {KindStateConflict, http.StatusBadRequest},
	CodeProjectArchived:       {KindStateConflict, http.StatusConflict},
	CodeWorkspaceArchived:     {KindStateConflict, http.StatusConflict},
	CodeParentProjectMismatch: {KindStateConflict, http.StatusUnprocessableEntity},

	CodeDependencyExists: {KindDuplicate, http.StatusConflict},

	CodeInvalidInput: {KindValidation, http.StatusBadRequest},

	CodeTransactionConflict: {KindTransient, http.StatusServiceUnavailable},

	CodeInternal: {KindInternal, http.StatusInternalServerError},
}

// Kind returns the family a code belongs to. Unknown codes are internal.
func (c Code) Kind() Kind {
	if info, ok := codeTable[c]; ok {
		return info.kind
	}
	return KindInternal
}

// HTTPStatus returns the status code the API layer maps c to.
func (c Code) HTTPStatus() int {
	if info, ok := codeTable[c]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is a planner failure carrying a stable code and a human-readable
// message. Two Errors match under errors.Is when their codes are equal, so
// the sentinels below can be used as comparison targets.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Kind is shorthand for e.Code.Kind().
func (e *Error) Kind() Kind {
	return e.Code.Kind()
}

// Errorf builds an Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error around a lower-level cause.
func Wrap(code Code, cause error, message string) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the code from err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// =============================================================================
// SENTINELS
// =============================================================================

var (
	ErrTaskNotFound        = &Error{Code: CodeTaskNotFound, Message: "task not found"}
	ErrProjectNotFound     = &Error{Code: CodeProjectNotFound, Message: "project not found"}
	ErrWorkspaceNotFound   = &Error{Code: CodeWorkspaceNotFound, Message: "workspace not found"}
	ErrStageNotFound       = &Error{Code: CodeStageNotFound, Message: "stage not found"}
	ErrPredecessorNotFound = &Error{Code: CodePredecessorNotFound, Message: "predecessor task not found"}
	ErrSuccessorNotFound   = &Error{Code: CodeSuccessorNotFound, Message: "successor task not found"}
	ErrDependencyNotFound  = &Error{Code: CodeDependencyNotFound, Message: "dependency not found"}

	ErrTaskCircularParent    = &Error{Code: CodeTaskCircularParent, Message: "task cannot be moved under its own descendant"}
	ErrCircularDependency    = &Error{Code: CodeCircularDependency, Message: "dependency would create a cycle"}
	ErrSelfDependency        = &Error{Code: CodeSelfDependency, Message: "task cannot depend on itself"}
	ErrProjectArchived       = &Error{Code: CodeProjectArchived, Message: "project is archived"}
	ErrWorkspaceArchived     = &Error{Code: CodeWorkspaceArchived, Message: "workspace is archived"}
	ErrParentProjectMismatch = &Error{Code: CodeParentProjectMismatch, Message: "parent task belongs to a different project"}

	ErrDependencyExists = &Error{Code: CodeDependencyExists, Message: "dependency already exists"}

	ErrTransactionConflict = &Error{Code: CodeTransactionConflict, Message: "concurrent modification, retry the request"}
)

// InvalidInput builds a validation error.
func InvalidInput(format string, args ...any) *Error {
	return Errorf(CodeInvalidInput, format, args...)
}
