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

package engine

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bazel-ios/sourcekit-bsp/apple"
	"github.com/bazel-ios/sourcekit-bsp/bazel"
	"github.com/bazel-ios/sourcekit-bsp/compilerargs"
)

// Source extensions the indexer understands.
var indexableExtensions = map[string]struct{}{
	".swift": {},
	".m":     {},
	".h":     {},
}

const progressInterval = 10

// processActions fans out over every action in the graph and assembles one
// BazelTarget per action, then folds duplicates. Iterations only read the
// immutable graph; the mutex guards the output slice and the progress
// counter, nothing else. Per-action failures (missing target entry, no SDK
// platform in the environment) drop that action with a warning and never
// fail the batch, so the returned error is always nil today; the signature
// keeps the group's contract.
func (e *Engine) processActions(graph *bazel.ActionGraph) ([]BazelTarget, error) {
	var (
		mu        sync.Mutex
		collected []BazelTarget
		completed int
	)

	group := errgroup.Group{}
	group.SetLimit(runtime.NumCPU())
	total := len(graph.Actions)
	for i := range graph.Actions {
		action := &graph.Actions[i]
		group.Go(func() error {
			target, ok := e.processAction(graph, action)

			mu.Lock()
			if ok {
				collected = append(collected, target)
			}
			completed++
			if completed%progressInterval == 0 || completed == total {
				e.log.Infof("processed %d/%d actions", completed, total)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	return dedupe(collected), nil
}

func (e *Engine) processAction(graph *bazel.ActionGraph, action *bazel.Action) (BazelTarget, bool) {
	queryTarget, ok := graph.Target(action.TargetId)
	if !ok {
		e.log.Warnf("action %q references unknown target id %d, skipping", action.Mnemonic, action.TargetId)
		return BazelTarget{}, false
	}

	sdkRoot, err := apple.SDKRoot(action.Env())
	if err != nil {
		e.log.Warnf("skipping action for %s: %v", queryTarget.Label, err)
		return BazelTarget{}, false
	}

	return BazelTarget{
		Id:                queryTarget.Id,
		URI:               TargetURI(queryTarget.Label, queryTarget.Id),
		Label:             queryTarget.Label,
		Kind:              "swift_library",
		Tags:              []string{},
		InputFiles:        e.collectInputFiles(graph, action),
		CompilerArguments: compilerargs.Rewrite(action.Arguments, e.ExecRoot, sdkRoot),
	}, true
}

// collectInputFiles flattens the action's input depsets, resolves each
// artifact against the workspace root, and keeps the sources the indexer can
// consume: indexable extension, present on disk. Duplicate artifact ids
// across depset branches are tolerated and resolve to the same URI.
func (e *Engine) collectInputFiles(graph *bazel.ActionGraph, action *bazel.Action) []string {
	inputFiles := []string{}
	for _, depsetId := range action.InputDepSetIds {
		for _, artifactId := range graph.DepsetClosure(depsetId) {
			relPath := graph.ArtifactPath(artifactId)
			if relPath == "" {
				continue
			}
			if _, ok := indexableExtensions[filepath.Ext(relPath)]; !ok {
				continue
			}
			absPath := filepath.Join(e.WorkspaceRoot, relPath)
			if _, err := os.Stat(absPath); err != nil {
				continue
			}
			inputFiles = append(inputFiles, "file://"+absPath)
		}
	}
	return inputFiles
}

// FindTargetForFile scans every target's input files for the given file://
// URI and returns the first owning target.
func FindTargetForFile(targets []BazelTarget, uri string) (BazelTarget, bool) {
	for _, t := range targets {
		for _, f := range t.InputFiles {
			if f == uri || strings.TrimPrefix(f, "file://") == strings.TrimPrefix(uri, "file://") {
				return t, true
			}
		}
	}
	return BazelTarget{}, false
}
