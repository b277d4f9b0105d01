// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fieldpath

import "sort"

// Join appends name to prefix with a dot, or returns name for an empty prefix.
func Join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// Extract returns every field path reachable in v, rooted at prefix.
//
// # Description
//
// Walks v by structural recursion:
//   - keys holding null are skipped together with their descendants
//   - scalar keys contribute their own path
//   - array keys contribute their own path, plus the paths of the first
//     element when that element is an object
//   - object keys contribute their own path plus the paths of their contents
//
// A root Array is sampled the same way: only its first element is walked,
// under prefix itself. A root Scalar or Null contributes nothing.
//
// # Inputs
//
//   - v: The value to walk. Nil is treated as Null.
//   - prefix: Path of v itself, usually the operation key.
//
// # Outputs
//
//   - []string: Sorted, de-duplicated paths. Never includes prefix itself.
//
// # Examples
//
//	v, _ := Decode([]byte(`{"name":"a","address":{"city":"x","zip":null}}`))
//	Extract(v, "user")
//	// [user.address user.address.city user.name]
func Extract(v Value, prefix string) []string {
	seen := make(map[string]struct{})
	collect(v, prefix, seen)

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func collect(v Value, prefix string, seen map[string]struct{}) {
	switch node := v.(type) {
	case Object:
		for key, child := range node {
			if IsNull(child) {
				continue
			}
			path := Join(prefix, key)
			seen[path] = struct{}{}
			collect(child, path, seen)
		}
	case Array:
		if len(node) == 0 {
			return
		}
		if first, ok := node[0].(Object); ok {
			collect(first, prefix, seen)
		}
	case Scalar, Null, nil:
		// leaves carry no nested paths
	}
}
