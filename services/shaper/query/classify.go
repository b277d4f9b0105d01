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
	"github.com/vektah/gqlparser/v2/ast"
)

// Classify returns the operation key of document.
//
// # Description
//
// The first top-level definition in source order must be a query operation
// with at least one selection. Its first direct field selection names the
// operation; fragment spreads and inline fragments before it are skipped.
// Only that first root field identifies the request. Any further root
// fields are not learned from.
//
// # Inputs
//
//   - document: GraphQL document text, well-formed or not.
//
// # Outputs
//
//   - string: Operation key, empty when unavailable.
//   - error: Wraps ErrParse when the document does not parse. The key is
//     empty in that case.
//
// # Examples
//
//	key, err := query.Classify(`{ user(id: 1) { name } }`)
//	// key == "user", err == nil
//
//	key, err = query.Classify(`mutation { addUser { id } }`)
//	// key == "", err == nil
func Classify(document string) (string, error) {
	doc, err := parse(document)
	if err != nil {
		return "", err
	}

	op := firstDefinition(doc)
	if op == nil || op.Operation != ast.Query || len(op.SelectionSet) == 0 {
		return "", nil
	}

	for _, sel := range op.SelectionSet {
		if field, ok := sel.(*ast.Field); ok {
			return field.Name, nil
		}
	}
	return "", nil
}

// firstDefinition returns the first definition of doc if it is an
// operation. A fragment definition appearing first yields nil.
func firstDefinition(doc *ast.QueryDocument) *ast.OperationDefinition {
	var first *ast.OperationDefinition
	firstPos := -1

	for _, op := range doc.Operations {
		pos := offset(op.Position)
		if firstPos < 0 || pos < firstPos {
			first, firstPos = op, pos
		}
	}
	for _, frag := range doc.Fragments {
		if pos := offset(frag.Position); firstPos < 0 || pos < firstPos {
			return nil
		}
	}
	return first
}

func offset(p *ast.Position) int {
	if p == nil {
		return 0
	}
	return p.Start
}
