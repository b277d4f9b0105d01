// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fieldpath models materialized GraphQL response values and walks
// them to produce the dotted field paths present in a response.
//
// # Description
//
// A response is decoded once into a closed tagged union (Null, Scalar, Array,
// Object). Extract walks that union and returns the set of paths the
// response actually carried. Those paths are the unit of usage counting in
// the ledger and of pruning decisions in the query rewriter.
//
// # Path Format
//
// Paths are dot-separated field names rooted at the operation key:
//
//	user
//	user.address
//	user.address.city
//
// Arrays are never index-qualified. All elements are assumed to share a
// shape and only the first element is sampled.
//
// # Thread Safety
//
// Values are immutable after Decode returns and may be shared freely.
package fieldpath

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidJSON is returned when a response body is not valid JSON.
var ErrInvalidJSON = errors.New("invalid JSON value")

// Value is one node of a decoded response.
//
// The set of implementations is closed: Null, Scalar, Array and Object.
// Consumers switch on the concrete type.
type Value interface {
	isValue()
}

// Null is an explicit JSON null.
type Null struct{}

// Scalar is a string, number or boolean leaf.
//
// Numbers are kept as json.Number so no precision is lost.
type Scalar struct {
	V any
}

// Array is an ordered list of values.
type Array []Value

// Object maps response keys to values.
type Object map[string]Value

func (Null) isValue()   {}
func (Scalar) isValue() {}
func (Array) isValue()  {}
func (Object) isValue() {}

// Decode parses a JSON document into a Value.
//
// # Inputs
//
//   - data: Raw JSON bytes, typically a backend response body.
//
// # Outputs
//
//   - Value: The decoded tree.
//   - error: ErrInvalidJSON (wrapped) if data is not a single JSON value.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after value", ErrInvalidJSON)
	}
	return FromAny(raw), nil
}

// FromAny converts a value produced by encoding/json into a Value.
//
// Unknown Go types are treated as scalars.
func FromAny(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Null{}
	case map[string]any:
		obj := make(Object, len(v))
		for k, child := range v {
			obj[k] = FromAny(child)
		}
		return obj
	case []any:
		arr := make(Array, len(v))
		for i, child := range v {
			arr[i] = FromAny(child)
		}
		return arr
	default:
		return Scalar{V: v}
	}
}

// Field returns the child stored under key when v is an Object.
//
// The second result is false when v is not an object or the key is absent.
// An explicit null is returned as Null{} with true.
func Field(v Value, key string) (Value, bool) {
	obj, ok := v.(Object)
	if !ok {
		return nil, false
	}
	child, ok := obj[key]
	return child, ok
}

// IsNull reports whether v is absent or an explicit null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}
