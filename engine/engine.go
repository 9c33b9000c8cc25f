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
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bazel-ios/sourcekit-bsp/bazel"
)

// aqueryRunner issues the action query against a workspace. Production use
// shells out to bazel; tests substitute canned documents.
type aqueryRunner interface {
	Aquery(workspaceRoot, expression string, extraArgs []string) ([]byte, error)
}

type bazelAqueryRunner struct {
	log *logrus.Logger
}

func (r *bazelAqueryRunner) Aquery(workspaceRoot, expression string, extraArgs []string) ([]byte, error) {
	argv := append([]string{"aquery", expression, "--output=jsonproto"}, extraArgs...)
	r.log.Debugf("running bazel %s", strings.Join(argv, " "))
	resp := bazel.ExecCommand(bazel.CmdRequest{Name: "bazel", Dir: workspaceRoot, Argv: argv})
	if resp.ExitCode != 0 {
		return nil, errors.Errorf("bazel aquery exited with %d: %s", resp.ExitCode, resp.Stderr)
	}
	return resp.Stdout, nil
}

// Engine ties the pipeline together: cache lookup, action query, graph
// decoding, parallel action processing, and cache write-back. Results are
// delivered through a completion callback so that a cache hit can be served
// immediately while a refresh runs behind it.
type Engine struct {
	WorkspaceRoot string
	ExecRoot      string

	log    *logrus.Logger
	cache  *TargetCache
	runner aqueryRunner

	// Closed when a background refresh finishes, if set. Tests use this to
	// wait out the refresh; production leaves it nil.
	refreshDone chan struct{}
}

func NewEngine(workspaceRoot, execRoot string, cache *TargetCache, log *logrus.Logger) *Engine {
	return &Engine{
		WorkspaceRoot: workspaceRoot,
		ExecRoot:      execRoot,
		log:           log,
		cache:         cache,
		runner:        &bazelAqueryRunner{log: log},
	}
}

// CacheKey is the cache address of a label set: the sorted labels joined by
// "|", so that permutations of the same set share one entry.
func CacheKey(labels []string) string {
	sorted := make([]string, len(labels))
	copy(sorted, labels)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

// Execute resolves the target list for the given top-level labels.
//
// On a cache hit, completion is invoked immediately with the cached list and
// a background refresh re-runs the pipeline; if the fresh list differs as a
// set from what was served, completion fires a second time with the fresh
// list. The second invocation only happens after the refresh has been
// written to disk. A failing refresh is logged and leaves both the cache
// entry and the served result alone.
//
// On a miss the pipeline runs synchronously and its error, if any, is
// returned to the caller; the cache is not touched on failure.
func (e *Engine) Execute(labels []string, aqueryArgs []string, completion func([]BazelTarget)) error {
	key := CacheKey(labels)

	if cached, ok := e.cache.Load(key); ok {
		e.log.Infof("serving %d targets from cache for %q", len(cached), key)
		completion(cached)
		go func() {
			if e.refreshDone != nil {
				defer close(e.refreshDone)
			}
			fresh, err := e.runPipeline(labels, aqueryArgs)
			if err != nil {
				e.log.Errorf("background refresh failed: %v", err)
				return
			}
			e.cache.Save(key, fresh)
			if !EqualSets(fresh, cached) {
				e.log.Infof("refresh changed the target list (%d targets), re-notifying", len(fresh))
				completion(fresh)
			}
		}()
		return nil
	}

	fresh, err := e.runPipeline(labels, aqueryArgs)
	if err != nil {
		return err
	}
	e.cache.Save(key, fresh)
	completion(fresh)
	return nil
}

func (e *Engine) runPipeline(labels []string, aqueryArgs []string) ([]BazelTarget, error) {
	expression := fmt.Sprintf("mnemonic(\"SwiftCompile|ObjcCompile\", deps(set(%s)))", strings.Join(labels, " "))
	stdout, err := e.runner.Aquery(e.WorkspaceRoot, expression, aqueryArgs)
	if err != nil {
		return nil, err
	}
	if len(stdout) == 0 {
		return nil, errors.New("bazel aquery produced no output")
	}
	graph, err := bazel.ParseActionGraph(stdout)
	if err != nil {
		return nil, err
	}
	e.log.Infof("aquery returned %d actions", len(graph.Actions))
	return e.processActions(graph)
}
