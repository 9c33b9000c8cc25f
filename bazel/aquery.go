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

package bazel

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

type artifactId uint32
type depsetId uint32
type pathFragmentId uint32

// artifact contains the relevant portion of Bazel's aquery proto, Artifact.
// A single file produced or consumed by an action, identified by a leaf in
// the path fragment forest.
type artifact struct {
	Id             uint32 `json:"id"`
	PathFragmentId uint32 `json:"pathFragmentId"`
}

// pathFragment is one labeled edge in Bazel's path trie. A zero ParentId
// marks a root fragment.
type pathFragment struct {
	Id       uint32 `json:"id"`
	Label    string `json:"label"`
	ParentId uint32 `json:"parentId"`
}

// depSetOfFiles contains the relevant portion of Bazel's aquery proto,
// DepSetOfFiles. The set of artifacts it denotes is the union of its direct
// artifacts with the artifacts of each transitive depset.
type depSetOfFiles struct {
	Id                  uint32   `json:"id"`
	DirectArtifactIds   []uint32 `json:"directArtifactIds"`
	TransitiveDepSetIds []uint32 `json:"transitiveDepSetIds"`
}

// KeyValuePair represents Bazel's aquery proto, KeyValuePair.
type KeyValuePair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Action contains the relevant portion of Bazel's aquery proto, Action.
// Represents a single command line invocation in the Bazel action graph.
type Action struct {
	TargetId             uint32         `json:"targetId"`
	Mnemonic             string         `json:"mnemonic"`
	Arguments            []string       `json:"arguments"`
	EnvironmentVariables []KeyValuePair `json:"environmentVariables"`
	InputDepSetIds       []uint32       `json:"inputDepSetIds"`
}

// Env flattens the action's environment pairs into a map. Later pairs win on
// duplicate keys, matching how a shell would apply them.
func (a *Action) Env() map[string]string {
	env := make(map[string]string, len(a.EnvironmentVariables))
	for _, pair := range a.EnvironmentVariables {
		env[pair.Key] = pair.Value
	}
	return env
}

// Target contains the relevant portion of Bazel's aquery proto, Target. The
// label is the canonical Bazel form //pkg:name.
type Target struct {
	Id    uint32 `json:"id"`
	Label string `json:"label"`
}

// actionGraphContainer mirrors the jsonproto document emitted by
// `bazel aquery --output=jsonproto`.
type actionGraphContainer struct {
	Artifacts     []artifact      `json:"artifacts"`
	Actions       []Action        `json:"actions"`
	DepSetOfFiles []depSetOfFiles `json:"depSetOfFiles"`
	Targets       []Target        `json:"targets"`
	PathFragments []pathFragment  `json:"pathFragments"`
}

// ActionGraph is the decoded form of an aquery response: the action and
// target lists plus id-keyed maps for resolving artifact paths and depset
// closures. All lookups are pure reads; an ActionGraph is immutable once
// built and safe for concurrent use.
type ActionGraph struct {
	Actions []Action

	artifacts map[artifactId]artifact
	depsets   map[depsetId]depSetOfFiles
	fragments map[pathFragmentId]pathFragment
	targets   map[uint32]Target
}

func indexBy[K comparable, V any](values []V, keyFn func(v V) K) map[K]V {
	m := make(map[K]V, len(values))
	for _, v := range values {
		m[keyFn(v)] = v
	}
	return m
}

// ParseActionGraph decodes an aquery jsonproto document into an ActionGraph.
// An empty buffer is rejected up front; a decode failure reports the buffer
// size, which is usually enough to tell a truncated pipe from bad content.
func ParseActionGraph(data []byte) (*ActionGraph, error) {
	if len(data) == 0 {
		return nil, errors.New("empty aquery output")
	}
	var container actionGraphContainer
	if err := json.Unmarshal(data, &container); err != nil {
		return nil, errors.Wrapf(err, "decoding aquery output (%d bytes)", len(data))
	}

	return &ActionGraph{
		Actions: container.Actions,
		artifacts: indexBy(container.Artifacts, func(a artifact) artifactId {
			return artifactId(a.Id)
		}),
		depsets: indexBy(container.DepSetOfFiles, func(d depSetOfFiles) depsetId {
			return depsetId(d.Id)
		}),
		fragments: indexBy(container.PathFragments, func(f pathFragment) pathFragmentId {
			return pathFragmentId(f.Id)
		}),
		targets: indexBy(container.Targets, func(t Target) uint32 {
			return t.Id
		}),
	}, nil
}

// Target returns the query target for the given id.
func (g *ActionGraph) Target(id uint32) (Target, bool) {
	t, ok := g.targets[id]
	return t, ok
}

// ArtifactPath resolves an artifact id to its workspace-relative path, or ""
// when the artifact or any fragment on its parent chain is missing.
func (g *ActionGraph) ArtifactPath(id uint32) string {
	a, ok := g.artifacts[artifactId(id)]
	if !ok {
		return ""
	}
	return g.expandPathFragment(pathFragmentId(a.PathFragmentId))
}

// expandPathFragment joins the fragment labels along the parent chain with
// "/". Only positive ids are valid; an id of zero terminates the walk. A
// dangling parent reference resolves to the empty string.
func (g *ActionGraph) expandPathFragment(id pathFragmentId) string {
	var labels []string
	currId := id
	for currId > 0 {
		currFragment, ok := g.fragments[currId]
		if !ok {
			return ""
		}
		labels = append([]string{currFragment.Label}, labels...)
		parentId := pathFragmentId(currFragment.ParentId)
		if currId == parentId {
			// A self-parented fragment would loop forever.
			return ""
		}
		currId = parentId
	}
	return strings.Join(labels, "/")
}

// DepsetClosure returns the transitive closure of artifact ids under the
// given depset: its direct artifacts concatenated with the recursively
// resolved transitives, depth first. Duplicate ids across branches are
// permitted and not collapsed at this layer. An unknown depset id
// contributes nothing.
func (g *ActionGraph) DepsetClosure(id uint32) []uint32 {
	depset, ok := g.depsets[depsetId(id)]
	if !ok {
		return nil
	}
	closure := append([]uint32{}, depset.DirectArtifactIds...)
	for _, transitiveId := range depset.TransitiveDepSetIds {
		closure = append(closure, g.DepsetClosure(transitiveId)...)
	}
	return closure
}
