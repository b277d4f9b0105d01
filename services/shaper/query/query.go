// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query classifies and rewrites GraphQL query documents.
//
// # Description
//
// Classify extracts the operation key of a request: the name of the first
// root field of its first definition. Prune rebuilds the selection tree of
// every query operation so that only allowed field paths and their
// ancestors remain.
//
// Documents are parsed with gqlparser without a schema. Nothing here checks
// that fields exist or that the rewritten document is valid against the
// backend's schema.
package query

import (
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// ErrParse is returned when a document is not syntactically valid GraphQL.
var ErrParse = errors.New("graphql parse error")

// TypenameField is the meta field that is never pruned.
const TypenameField = "__typename"

// parse parses document into an AST, wrapping failures in ErrParse.
func parse(document string) (*ast.QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "request", Input: document})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return doc, nil
}
