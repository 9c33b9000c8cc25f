// Copyright 2023 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package engine extracts indexable build targets from the Bazel action
// graph: it queries the action graph for compile actions, normalizes their
// compiler invocations, and serves the resulting target list through an
// on-disk cache with background refresh.
package engine

import (
	"encoding/json"
	"fmt"
)

// BazelTarget is one indexable compile unit extracted from the action graph:
// the target's label and id, the source files the compile action reads, and
// the normalized compiler invocation. Records are compared by value over all
// fields; freshly decoded and cached records are never pointer-identical, so
// nothing here may rely on reference identity.
type BazelTarget struct {
	Id                uint32   `json:"id"`
	URI               string   `json:"uri"`
	Label             string   `json:"label"`
	Kind              string   `json:"kind"`
	Tags              []string `json:"tags"`
	InputFiles        []string `json:"inputFiles"`
	CompilerArguments []string `json:"compilerArguments"`
}

// TargetURI renders the canonical target identifier, bazel://<label>#<id>.
func TargetURI(label string, id uint32) string {
	return fmt.Sprintf("bazel://%s#%d", label, id)
}

// valueKey returns a stable byte-for-byte key covering every field, used for
// deduplication and set comparison. Struct field order fixes the encoding
// order, so equal values always produce equal keys.
func (t BazelTarget) valueKey() string {
	key, err := json.Marshal(t)
	if err != nil {
		// Marshaling a struct of strings and slices cannot fail.
		panic(err)
	}
	return string(key)
}

func targetSet(targets []BazelTarget) map[string]struct{} {
	set := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		set[t.valueKey()] = struct{}{}
	}
	return set
}

// EqualSets reports whether the two lists contain the same target values,
// ignoring order and duplicates.
func EqualSets(a, b []BazelTarget) bool {
	setA := targetSet(a)
	setB := targetSet(b)
	if len(setA) != len(setB) {
		return false
	}
	for key := range setA {
		if _, ok := setB[key]; !ok {
			return false
		}
	}
	return true
}

// dedupe folds the list through a value-equality set, keeping the first
// occurrence of each distinct value.
func dedupe(targets []BazelTarget) []BazelTarget {
	seen := make(map[string]struct{}, len(targets))
	out := make([]BazelTarget, 0, len(targets))
	for _, t := range targets {
		key := t.valueKey()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}
