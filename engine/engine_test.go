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
	"strings"
	"testing"
	"time"
)

const aqueryDocDebug = `
{
 "actions": [{
   "targetId": 1,
   "mnemonic": "SwiftCompile",
   "arguments": ["-DDEBUG"],
   "environmentVariables": [{ "key": "APPLE_SDK_PLATFORM", "value": "MacOSX" }]
 }],
 "targets": [{ "id": 1, "label": "//app:Lib" }]
}
`

const aqueryDocRelease = `
{
 "actions": [{
   "targetId": 1,
   "mnemonic": "SwiftCompile",
   "arguments": ["-DRELEASE"],
   "environmentVariables": [{ "key": "APPLE_SDK_PLATFORM", "value": "MacOSX" }]
 }],
 "targets": [{ "id": 1, "label": "//app:Lib" }]
}
`

// fakeAqueryRunner serves canned jsonproto documents and records the
// expressions it was asked to evaluate.
type fakeAqueryRunner struct {
	output      []byte
	err         error
	expressions []string
}

func (f *fakeAqueryRunner) Aquery(workspaceRoot, expression string, extraArgs []string) ([]byte, error) {
	f.expressions = append(f.expressions, expression)
	return f.output, f.err
}

func newTestExecuteEngine(t *testing.T, runner aqueryRunner) *Engine {
	t.Helper()
	e := testEngine(t, t.TempDir())
	e.runner = runner
	return e
}

func TestCacheKey(t *testing.T) {
	if key := CacheKey([]string{"//b:B", "//a:A"}); key != "//a:A|//b:B" {
		t.Errorf("expected sorted joined key, got %q", key)
	}
	if key := CacheKey([]string{"//a:A", "//b:B"}); key != "//a:A|//b:B" {
		t.Errorf("expected permutation-stable key, got %q", key)
	}
}

func TestExecuteMissRunsPipelineOnce(t *testing.T) {
	runner := &fakeAqueryRunner{output: []byte(aqueryDocDebug)}
	e := newTestExecuteEngine(t, runner)

	var deliveries [][]BazelTarget
	if err := e.Execute([]string{"//app:Lib"}, nil, func(targets []BazelTarget) {
		deliveries = append(deliveries, targets)
	}); err != nil {
		t.Fatal(err)
	}

	if len(deliveries) != 1 {
		t.Fatalf("expected exactly one completion, got %d", len(deliveries))
	}
	if len(deliveries[0]) != 1 || deliveries[0][0].Label != "//app:Lib" {
		t.Errorf("unexpected delivery %v", deliveries[0])
	}
	if len(runner.expressions) != 1 {
		t.Fatalf("expected one aquery, got %d", len(runner.expressions))
	}
	expectedExpr := `mnemonic("SwiftCompile|ObjcCompile", deps(set(//app:Lib)))`
	if runner.expressions[0] != expectedExpr {
		t.Errorf("expected expression %q, got %q", expectedExpr, runner.expressions[0])
	}

	cached, ok := e.cache.Load(CacheKey([]string{"//app:Lib"}))
	if !ok {
		t.Fatal("expected the result to be cached")
	}
	if !EqualSets(deliveries[0], cached) {
		t.Errorf("cache differs from delivery: %v vs %v", cached, deliveries[0])
	}
}

func TestExecuteHitWithIdenticalRefreshNotifiesOnce(t *testing.T) {
	runner := &fakeAqueryRunner{output: []byte(aqueryDocDebug)}
	e := newTestExecuteEngine(t, runner)

	if err := e.Execute([]string{"//app:Lib"}, nil, func([]BazelTarget) {}); err != nil {
		t.Fatal(err)
	}

	e.refreshDone = make(chan struct{})
	var deliveries [][]BazelTarget
	if err := e.Execute([]string{"//app:Lib"}, nil, func(targets []BazelTarget) {
		deliveries = append(deliveries, targets)
	}); err != nil {
		t.Fatal(err)
	}
	if len(deliveries) != 1 {
		t.Fatalf("expected the cached delivery before Execute returned, got %d", len(deliveries))
	}

	<-e.refreshDone
	if len(deliveries) != 1 {
		t.Errorf("expected no re-notification for a set-equal refresh, got %d deliveries", len(deliveries))
	}
	if len(runner.expressions) != 2 {
		t.Errorf("expected the refresh to issue a second aquery, got %d", len(runner.expressions))
	}
}

func TestExecuteHitWithChangedRefreshNotifiesTwice(t *testing.T) {
	runner := &fakeAqueryRunner{output: []byte(aqueryDocDebug)}
	e := newTestExecuteEngine(t, runner)

	if err := e.Execute([]string{"//app:Lib"}, nil, func([]BazelTarget) {}); err != nil {
		t.Fatal(err)
	}

	// The build definition changes between the two calls.
	runner.output = []byte(aqueryDocRelease)

	e.refreshDone = make(chan struct{})
	var deliveries [][]BazelTarget
	if err := e.Execute([]string{"//app:Lib"}, nil, func(targets []BazelTarget) {
		deliveries = append(deliveries, targets)
	}); err != nil {
		t.Fatal(err)
	}
	<-e.refreshDone

	if len(deliveries) != 2 {
		t.Fatalf("expected stale then fresh deliveries, got %d", len(deliveries))
	}
	if args := deliveries[0][0].CompilerArguments; args[0] != "-DDEBUG" {
		t.Errorf("expected the stale list first, got %v", args)
	}
	if args := deliveries[1][0].CompilerArguments; args[0] != "-DRELEASE" {
		t.Errorf("expected the fresh list second, got %v", args)
	}

	cached, _ := e.cache.Load(CacheKey([]string{"//app:Lib"}))
	if !EqualSets(deliveries[1], cached) {
		t.Errorf("expected the cache to hold the fresh list, got %v", cached)
	}
}

func TestExecuteEmptyAqueryOutputFails(t *testing.T) {
	runner := &fakeAqueryRunner{output: []byte{}}
	e := newTestExecuteEngine(t, runner)

	called := false
	err := e.Execute([]string{"//app:Lib"}, nil, func([]BazelTarget) { called = true })
	if err == nil {
		t.Fatal("expected an error for empty aquery output")
	}
	if !strings.Contains(err.Error(), "no output") {
		t.Errorf("unexpected error %q", err.Error())
	}
	if called {
		t.Error("completion must not fire on a failed pipeline")
	}
	if _, ok := e.cache.Load(CacheKey([]string{"//app:Lib"})); ok {
		t.Error("a failed pipeline must not touch the cache")
	}
}

func TestExecuteFailedRefreshKeepsCacheAndStaleResult(t *testing.T) {
	runner := &fakeAqueryRunner{output: []byte(aqueryDocDebug)}
	e := newTestExecuteEngine(t, runner)
	if err := e.Execute([]string{"//app:Lib"}, nil, func([]BazelTarget) {}); err != nil {
		t.Fatal(err)
	}

	runner.output = []byte{}

	e.refreshDone = make(chan struct{})
	var deliveries [][]BazelTarget
	if err := e.Execute([]string{"//app:Lib"}, nil, func(targets []BazelTarget) {
		deliveries = append(deliveries, targets)
	}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-e.refreshDone:
	case <-time.After(5 * time.Second):
		t.Fatal("background refresh never finished")
	}

	if len(deliveries) != 1 {
		t.Fatalf("expected only the cached delivery, got %d", len(deliveries))
	}
	cached, ok := e.cache.Load(CacheKey([]string{"//app:Lib"}))
	if !ok {
		t.Fatal("expected the cache entry to survive a failed refresh")
	}
	if !EqualSets(deliveries[0], cached) {
		t.Errorf("cache entry changed after failed refresh: %v", cached)
	}
}

func TestExecuteEmptyLabelSetStillQueries(t *testing.T) {
	runner := &fakeAqueryRunner{output: []byte(`{"actions": [], "targets": []}`)}
	e := newTestExecuteEngine(t, runner)

	var deliveries [][]BazelTarget
	if err := e.Execute(nil, nil, func(targets []BazelTarget) {
		deliveries = append(deliveries, targets)
	}); err != nil {
		t.Fatal(err)
	}
	if len(runner.expressions) != 1 {
		t.Fatalf("expected the aquery to be issued even for no labels, got %d", len(runner.expressions))
	}
	if runner.expressions[0] != `mnemonic("SwiftCompile|ObjcCompile", deps(set()))` {
		t.Errorf("unexpected expression %q", runner.expressions[0])
	}
	if len(deliveries) != 1 || len(deliveries[0]) != 0 {
		t.Errorf("expected one empty delivery, got %v", deliveries)
	}
}
