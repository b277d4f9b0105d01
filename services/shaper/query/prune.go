// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
)

// allowSet answers keep/drop questions for field paths.
type allowSet struct {
	exact     map[string]struct{}
	ancestors map[string]struct{}
}

func newAllowSet(allow []string) allowSet {
	s := allowSet{
		exact:     make(map[string]struct{}, len(allow)),
		ancestors: make(map[string]struct{}),
	}
	for _, p := range allow {
		s.exact[p] = struct{}{}
		for i := 0; i < len(p); i++ {
			if p[i] == '.' {
				s.ancestors[p[:i]] = struct{}{}
			}
		}
	}
	return s
}

// keeps reports whether path is allowed or is a strict prefix of an
// allowed path.
func (s allowSet) keeps(path string) bool {
	if _, ok := s.exact[path]; ok {
		return true
	}
	_, ok := s.ancestors[path]
	return ok
}

// Prune rewrites document so it only selects allowed field paths.
//
// # Description
//
// Every query operation in the document is rebuilt bottom-up; mutations
// and subscriptions are left alone. At each level:
//
//   - fragment spreads and inline fragments are kept unmodified
//   - __typename is kept
//   - any other field is kept when its path is in allow, or when some
//     allowed path starts with path + "."
//
// The path of a root field is its bare name, so paths line up with those
// recorded from responses under the operation key. Aliases are ignored;
// paths use field names.
//
// A kept field whose children would all be dropped keeps its original
// children instead, since an empty selection set is not valid GraphQL.
//
// When nothing is dropped the original text is returned byte-for-byte.
// Otherwise the rebuilt document is printed with gqlparser's formatter,
// preserving arguments, variables, directives and fragment definitions.
//
// # Inputs
//
//   - document: GraphQL document text.
//   - allow: Allowed field paths. Empty means nothing is pruned.
//
// # Outputs
//
//   - string: Rewritten document, or document itself when unchanged.
//   - bool: True if at least one selection was dropped.
//   - error: Wraps ErrParse. The returned document is the original.
//
// # Examples
//
//	out, changed, _ := query.Prune(`{ user { name phone } }`, []string{"user.name"})
//	// changed == true, out selects only user.name
func Prune(document string, allow []string) (string, bool, error) {
	if len(allow) == 0 {
		return document, false, nil
	}

	doc, err := parse(document)
	if err != nil {
		return document, false, err
	}

	set := newAllowSet(allow)
	changed := false

	ops := make(ast.OperationList, 0, len(doc.Operations))
	for _, op := range doc.Operations {
		if op.Operation != ast.Query {
			ops = append(ops, op)
			continue
		}
		sels, dropped := pruneSelections(op.SelectionSet, "", set)
		if !dropped {
			ops = append(ops, op)
			continue
		}
		changed = true
		rebuilt := *op
		rebuilt.SelectionSet = sels
		ops = append(ops, &rebuilt)
	}

	if !changed {
		return document, false, nil
	}

	rewritten := *doc
	rewritten.Operations = ops

	var b strings.Builder
	formatter.NewFormatter(&b).FormatQueryDocument(&rewritten)
	return b.String(), true, nil
}

// pruneSelections returns a new selection set containing the kept
// selections of sels. The input is never modified.
func pruneSelections(sels ast.SelectionSet, prefix string, set allowSet) (ast.SelectionSet, bool) {
	out := make(ast.SelectionSet, 0, len(sels))
	dropped := false

	for _, sel := range sels {
		field, ok := sel.(*ast.Field)
		if !ok || field.Name == TypenameField {
			out = append(out, sel)
			continue
		}

		path := joinPath(prefix, field.Name)
		if !set.keeps(path) {
			dropped = true
			continue
		}

		if len(field.SelectionSet) == 0 {
			out = append(out, field)
			continue
		}

		children, childDropped := pruneSelections(field.SelectionSet, path, set)
		if !childDropped {
			out = append(out, field)
			continue
		}
		dropped = true
		rebuilt := *field
		rebuilt.SelectionSet = children
		out = append(out, &rebuilt)
	}

	if len(out) == 0 {
		return sels, false
	}
	return out, dropped
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
