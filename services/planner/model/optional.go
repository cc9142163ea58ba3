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
	"bytes"
	"encoding/json"
)

// Optional is a field of a partial update.
//
// It distinguishes three request shapes:
//
//	{}                 Set=false            leave the field untouched
//	{"stage_id": null} Set=true, Value=nil  clear the field
//	{"stage_id": "s1"} Set=true, Value=&s1  assign the field
//
// Use the `omitzero` json option on Optional fields so an unset value is
// not marshalled back out.
type Optional[T any] struct {
	Set   bool
	Value *T
}

// Some returns an Optional assigning v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: &v}
}

// Null returns an Optional clearing the field.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true}
}

// IsZero reports whether the field was absent.
func (o Optional[T]) IsZero() bool {
	return !o.Set
}

// IsNull reports whether the field was present and null.
func (o Optional[T]) IsNull() bool {
	return o.Set && o.Value == nil
}

// UnmarshalJSON marks the field present and decodes its value. encoding/json
// only calls this when the key appears in the document.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

// MarshalJSON writes the value, or null when cleared.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if o.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*o.Value)
}
