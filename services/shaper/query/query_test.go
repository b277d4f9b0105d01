// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package query

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// selectedPaths parses document and lists the dotted field paths selected
// by its first operation. Fragment contents are not expanded.
func selectedPaths(t *testing.T, document string) []string {
	t.Helper()
	doc, err := parser.ParseQuery(&ast.Source{Input: document})
	require.NoError(t, err)
	require.NotEmpty(t, doc.Operations)

	var paths []string
	var walk func(ast.SelectionSet, string)
	walk = func(sels ast.SelectionSet, prefix string) {
		for _, sel := range sels {
			f, ok := sel.(*ast.Field)
			if !ok {
				continue
			}
			p := joinPath(prefix, f.Name)
			paths = append(paths, p)
			walk(f.SelectionSet, p)
		}
	}
	walk(doc.Operations[0].SelectionSet, "")
	sort.Strings(paths)
	return paths
}

// =============================================================================
// Classify Tests
// =============================================================================

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		document string
		want     string
	}{
		{"shorthand", `{ user { name } }`, "user"},
		{"named query", `query GetUsers { users { id } }`, "users"},
		{"arguments and variables", `query Q($id: ID!) { user(id: $id) { name } }`, "user"},
		{"first of multiple roots", `{ user { name } posts { title } }`, "user"},
		{"alias uses field name", `{ me: user { name } }`, "user"},
		{"skips leading fragment spread", `{ ...Root user { name } } fragment Root on Query { __typename }`, "user"},
		{"skips leading inline fragment", `{ ... on Query { viewer { id } } user { name } }`, "user"},
		{"only fragments", `{ ...Root } fragment Root on Query { user { name } }`, ""},
		{"mutation", `mutation { addUser(name: "a") { id } }`, ""},
		{"subscription", `subscription { userAdded { id } }`, ""},
		{"fragment defined first", `fragment F on User { name } query { user { ...F } }`, ""},
		{"query before fragment", `query { user { ...F } } fragment F on User { name }`, "user"},
		{"mutation first then query", `mutation M { a { id } } query Q { user { id } }`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Classify(tt.document)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassify_ParseError(t *testing.T) {
	for _, doc := range []string{"{ user { name }", "not graphql", "query {"} {
		key, err := Classify(doc)
		assert.ErrorIs(t, err, ErrParse, "document %q", doc)
		assert.Empty(t, key)
	}
}

// =============================================================================
// Prune Tests
// =============================================================================

func TestPrune_EmptyAllowListIsPassthrough(t *testing.T) {
	doc := `{ user { name email } }`

	out, changed, err := Prune(doc, nil)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, doc, out)

	out, changed, err = Prune(doc, []string{})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, doc, out)
}

func TestPrune_UnchangedReturnsOriginalText(t *testing.T) {
	doc := "query   {\n  user { name    }\n}"

	out, changed, err := Prune(doc, []string{"user.name"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, doc, out, "original formatting must survive when nothing is dropped")
}

func TestPrune_DropsUnallowedLeaves(t *testing.T) {
	out, changed, err := Prune(`{ user { name email phone } }`, []string{"user.name"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"user", "user.name"}, selectedPaths(t, out))
}

func TestPrune_AncestorRetention(t *testing.T) {
	doc := `{ user { phone address { city street zip } } }`

	out, changed, err := Prune(doc, []string{"user.address.city"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"user", "user.address", "user.address.city"}, selectedPaths(t, out))
}

func TestPrune_PrefixNeedsSeparator(t *testing.T) {
	// "user.name" is not an ancestor of "user.nameSuffix"
	out, changed, err := Prune(`{ user { name nameSuffix } }`, []string{"user.nameSuffix"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"user", "user.nameSuffix"}, selectedPaths(t, out))
}

func TestPrune_TypenameAlwaysKept(t *testing.T) {
	doc := `{ __typename user { __typename name phone address { __typename street } } }`

	out, changed, err := Prune(doc, []string{"user.name"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"__typename", "user", "user.__typename", "user.name"}, selectedPaths(t, out))
}

func TestPrune_FragmentsKeptUnmodified(t *testing.T) {
	doc := `query { user { ...UserBits ... on Admin { level } phone name } }
fragment UserBits on User { email phone }`

	out, changed, err := Prune(doc, []string{"user.name"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []string{"user", "user.name"}, selectedPaths(t, out))

	parsed, err := parser.ParseQuery(&ast.Source{Input: out})
	require.NoError(t, err)
	require.Len(t, parsed.Fragments, 1)
	assert.Len(t, parsed.Fragments[0].SelectionSet, 2, "fragment definitions are not pruned")

	user := parsed.Operations[0].SelectionSet[0].(*ast.Field)
	var spreads, inlines int
	for _, sel := range user.SelectionSet {
		switch sel.(type) {
		case *ast.FragmentSpread:
			spreads++
		case *ast.InlineFragment:
			inlines++
		}
	}
	assert.Equal(t, 1, spreads)
	assert.Equal(t, 1, inlines)
}

func TestPrune_PreservesArgumentsAndVariables(t *testing.T) {
	doc := `query GetUser($id: ID!, $big: Boolean = false) {
  user(id: $id) @cached(ttl: 30) {
    name
    avatar(size: 64) @include(if: $big)
    phone
  }
}`

	out, changed, err := Prune(doc, []string{"user.name", "user.avatar"})
	require.NoError(t, err)
	require.True(t, changed)

	parsed, err := parser.ParseQuery(&ast.Source{Input: out})
	require.NoError(t, err)
	op := parsed.Operations[0]
	assert.Equal(t, "GetUser", op.Name)
	require.Len(t, op.VariableDefinitions, 2)
	assert.Equal(t, "id", op.VariableDefinitions[0].Variable)
	require.NotNil(t, op.VariableDefinitions[1].DefaultValue)

	user := op.SelectionSet[0].(*ast.Field)
	require.Len(t, user.Arguments, 1)
	assert.Equal(t, "id", user.Arguments[0].Name)
	require.Len(t, user.Directives, 1)
	assert.Equal(t, "cached", user.Directives[0].Name)

	require.Len(t, user.SelectionSet, 2)
	avatar := user.SelectionSet[1].(*ast.Field)
	assert.Equal(t, "avatar", avatar.Name)
	require.Len(t, avatar.Arguments, 1)
	require.Len(t, avatar.Directives, 1)
	assert.Equal(t, "include", avatar.Directives[0].Name)
}

func TestPrune_AliasesUseFieldNames(t *testing.T) {
	out, changed, err := Prune(`{ me: user { fullName: name phone } }`, []string{"user.name"})
	require.NoError(t, err)
	assert.True(t, changed)

	parsed, err := parser.ParseQuery(&ast.Source{Input: out})
	require.NoError(t, err)
	me := parsed.Operations[0].SelectionSet[0].(*ast.Field)
	assert.Equal(t, "me", me.Alias)
	require.Len(t, me.SelectionSet, 1)
	assert.Equal(t, "fullName", me.SelectionSet[0].(*ast.Field).Alias)
}

func TestPrune_MutationsUntouched(t *testing.T) {
	doc := `mutation { user { name phone } }`

	out, changed, err := Prune(doc, []string{"user.name"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, doc, out)
}

func TestPrune_EveryQueryOperation(t *testing.T) {
	doc := `query A { user { name phone } } query B { user { email name } } mutation C { user { phone } }`

	out, changed, err := Prune(doc, []string{"user.name"})
	require.NoError(t, err)
	require.True(t, changed)

	parsed, err := parser.ParseQuery(&ast.Source{Input: out})
	require.NoError(t, err)
	require.Len(t, parsed.Operations, 3)
	for _, op := range parsed.Operations[:2] {
		user := op.SelectionSet[0].(*ast.Field)
		require.Len(t, user.SelectionSet, 1, "operation %s", op.Name)
		assert.Equal(t, "name", user.SelectionSet[0].(*ast.Field).Name)
	}
	mutationUser := parsed.Operations[2].SelectionSet[0].(*ast.Field)
	assert.Len(t, mutationUser.SelectionSet, 1)
	assert.Equal(t, "phone", mutationUser.SelectionSet[0].(*ast.Field).Name)
}

func TestPrune_KeepsChildrenWhenAllWouldBeDropped(t *testing.T) {
	out, changed, err := Prune(`{ user { name address { street } } }`, []string{"user.name", "user.address.city"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, `{ user { name address { street } } }`, out)
}

func TestPrune_DoesNotMutateInput(t *testing.T) {
	doc, err := parser.ParseQuery(&ast.Source{Input: `{ user { name phone } }`})
	require.NoError(t, err)

	sels, dropped := pruneSelections(doc.Operations[0].SelectionSet, "", newAllowSet([]string{"user.name"}))
	require.True(t, dropped)

	original := doc.Operations[0].SelectionSet[0].(*ast.Field)
	assert.Len(t, original.SelectionSet, 2)
	assert.Len(t, sels[0].(*ast.Field).SelectionSet, 1)
}

func TestPrune_ParseError(t *testing.T) {
	doc := `{ user { name `

	out, changed, err := Prune(doc, []string{"user.name"})
	assert.ErrorIs(t, err, ErrParse)
	assert.False(t, changed)
	assert.Equal(t, doc, out)
}

func TestPrune_OutputIsClassifiable(t *testing.T) {
	out, changed, err := Prune(`{ user { name email phone } }`, []string{"user.name"})
	require.NoError(t, err)
	require.True(t, changed)

	key, err := Classify(out)
	require.NoError(t, err)
	assert.Equal(t, "user", key)
}

func TestClassify_EmptyDocument(t *testing.T) {
	key, err := Classify("")
	require.NoError(t, err)
	assert.Empty(t, key)
}
