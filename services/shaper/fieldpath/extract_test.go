// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package fieldpath

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, raw string) Value {
	t.Helper()
	v, err := Decode([]byte(raw))
	require.NoError(t, err)
	return v
}

// =============================================================================
// Decode Tests
// =============================================================================

func TestDecode_BuildsTaggedUnion(t *testing.T) {
	v := mustDecode(t, `{"a":null,"b":1,"c":[{"d":true}],"e":{"f":"x"}}`)

	obj, ok := v.(Object)
	require.True(t, ok)

	assert.IsType(t, Null{}, obj["a"])
	assert.Equal(t, Scalar{V: json.Number("1")}, obj["b"])
	assert.IsType(t, Array{}, obj["c"])
	assert.IsType(t, Object{}, obj["e"])
}

func TestDecode_InvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`{"a":`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidJSON)

	_, err = Decode([]byte(`{} {}`))
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestField(t *testing.T) {
	v := mustDecode(t, `{"user":{"name":"a"},"gone":null}`)

	child, ok := Field(v, "user")
	assert.True(t, ok)
	assert.IsType(t, Object{}, child)

	child, ok = Field(v, "gone")
	assert.True(t, ok)
	assert.True(t, IsNull(child))

	_, ok = Field(v, "missing")
	assert.False(t, ok)

	_, ok = Field(Scalar{V: "x"}, "user")
	assert.False(t, ok)
}

// =============================================================================
// Extract Tests
// =============================================================================

func TestExtract_NestedObject(t *testing.T) {
	v := mustDecode(t, `{"name":"Ada","address":{"city":"London","street":"x"}}`)

	paths := Extract(v, "user")

	assert.Equal(t, []string{
		"user.address",
		"user.address.city",
		"user.address.street",
		"user.name",
	}, paths)
}

func TestExtract_NullSkipsPathAndDescendants(t *testing.T) {
	v := mustDecode(t, `{"name":"Ada","phone":null,"address":null}`)

	paths := Extract(v, "user")

	assert.Equal(t, []string{"user.name"}, paths)
	assert.NotContains(t, paths, "user.phone")
	assert.NotContains(t, paths, "user.address")
}

func TestExtract_ArraySamplesFirstElementOnly(t *testing.T) {
	v := mustDecode(t, `{"posts":[{"title":"a"},{"body":"b","title":"c"}]}`)

	paths := Extract(v, "user")

	assert.Equal(t, []string{"user.posts", "user.posts.title"}, paths)
	assert.NotContains(t, paths, "user.posts.body")
}

func TestExtract_ArrayOfScalarsAndEmptyArray(t *testing.T) {
	v := mustDecode(t, `{"tags":["a","b"],"posts":[]}`)

	paths := Extract(v, "user")

	assert.Equal(t, []string{"user.posts", "user.tags"}, paths)
}

func TestExtract_RootArraySampledWithoutIndexes(t *testing.T) {
	v := mustDecode(t, `[{"id":1,"name":"a"},{"id":2,"email":"b"}]`)

	paths := Extract(v, "users")

	assert.Equal(t, []string{"users.id", "users.name"}, paths)
}

func TestExtract_ScalarRootHasNoPaths(t *testing.T) {
	assert.Empty(t, Extract(Scalar{V: json.Number("3")}, "count"))
	assert.Empty(t, Extract(Null{}, "count"))
	assert.Empty(t, Extract(nil, "count"))
}

func TestExtract_EmptyPrefix(t *testing.T) {
	v := mustDecode(t, `{"a":{"b":1}}`)

	assert.Equal(t, []string{"a", "a.b"}, Extract(v, ""))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "a", Join("", "a"))
	assert.Equal(t, "a.b", Join("a", "b"))
}
