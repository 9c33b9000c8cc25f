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

// Package compilerargs normalizes the raw argument vectors of Bazel compile
// actions into invocations an indexer can run directly against the
// workspace: wrapper and batch-mode tokens are dropped, Bazel placeholders
// are substituted, and bazel-out/external prefixes are rebased onto the
// execution root.
package compilerargs

import (
	"os"
	"strings"

	"github.com/bazel-ios/sourcekit-bsp/apple"
)

const (
	executionRootPlaceholder = "__BAZEL_EXECUTION_ROOT__"
	sdkRootPlaceholder       = "__BAZEL_XCODE_SDKROOT__"
	developerDirPlaceholder  = "__BAZEL_XCODE_DEVELOPER_DIR__/"
)

// rewriter walks the argument list with an explicit cursor so that rules may
// consume the token under the cursor together with its successor.
type rewriter struct {
	args     []string
	cursor   int
	execRoot string
	sdkRoot  string

	out []string
	// Path-shaped tokens checked against the filesystem, kept for future
	// diagnostics. Not part of the returned vector.
	validPaths   []string
	invalidPaths []string
}

// Rewrite transforms an action's raw argument list into a normalized vector.
// execRoot is the absolute Bazel execution root; sdkRoot the SDK path chosen
// for this action. Relative input order of retained tokens is preserved.
//
// Note on ordering: execution-root substitution yields an absolute path that
// no longer carries a bazel-out/ or external/ prefix, so it must run before
// the prefix rules.
func Rewrite(args []string, execRoot, sdkRoot string) []string {
	r := &rewriter{args: args, execRoot: execRoot, sdkRoot: sdkRoot}
	r.run()
	return r.out
}

func (r *rewriter) run() {
	for r.cursor < len(r.args) {
		tok := r.args[r.cursor]
		switch {
		case strings.Contains(tok, "-Xwrapped-swift") ||
			strings.HasSuffix(tok, "worker") ||
			strings.HasPrefix(tok, "swiftc") ||
			strings.Contains(tok, "wrapped_clang"):
			// Compiler wrapper tokens; the indexer invokes the compiler
			// itself.
			r.skip(1)
		case strings.Contains(tok, executionRootPlaceholder):
			r.emit(strings.ReplaceAll(tok, executionRootPlaceholder, r.execRoot))
		case strings.Contains(tok, "-enable-batch-mode"):
			// Batch mode conflicts with the -index-file flag the indexer
			// injects.
			r.skip(1)
		case strings.Contains(tok, "-index-store-path") && r.nextContains("indexstore"):
			r.skip(2)
		case strings.Contains(tok, "-Xfrontend") &&
			(r.nextContains("-const-gather-protocols-file") || r.nextContains("const_protocols_to_gather.json")):
			r.skip(2)
		case strings.Contains(tok, sdkRootPlaceholder):
			r.emitChecked(strings.ReplaceAll(tok, sdkRootPlaceholder, r.sdkRoot))
		case strings.Contains(tok, developerDirPlaceholder):
			r.emit(strings.ReplaceAll(tok, developerDirPlaceholder, apple.DeveloperDir+"/"))
		case strings.Contains(tok, "bazel-out/") && !strings.Contains(tok, r.execRoot+"/bazel-out/"):
			// The negative guard keeps an already-rebased token stable.
			r.emitChecked(strings.ReplaceAll(tok, "bazel-out/", r.execRoot+"/bazel-out/"))
		case strings.Contains(tok, "external/") && !strings.Contains(tok, r.execRoot+"/external/"):
			r.emitChecked(strings.ReplaceAll(tok, "external/", r.execRoot+"/external/"))
		default:
			r.emitChecked(tok)
		}
	}
}

func (r *rewriter) nextContains(substr string) bool {
	if r.cursor+1 >= len(r.args) {
		return false
	}
	return strings.Contains(r.args[r.cursor+1], substr)
}

func (r *rewriter) skip(n int) {
	r.cursor += n
}

func (r *rewriter) emit(tok string) {
	r.out = append(r.out, tok)
	r.cursor++
}

func (r *rewriter) emitChecked(tok string) {
	r.checkPath(tok)
	r.emit(tok)
}

// checkPath records whether a path-shaped token refers to an existing file.
// A token is path-shaped if it contains a separator and is not flag-like;
// -I and -F flags carry a path suffix that is extracted and checked too.
func (r *rewriter) checkPath(tok string) {
	path := ""
	switch {
	case strings.HasPrefix(tok, "-I") && len(tok) > 2:
		path = tok[2:]
	case strings.HasPrefix(tok, "-F") && len(tok) > 2:
		path = tok[2:]
	case strings.Contains(tok, "/") && !strings.HasPrefix(tok, "-"):
		path = tok
	default:
		return
	}
	if _, err := os.Stat(path); err == nil {
		r.validPaths = append(r.validPaths, path)
	} else {
		r.invalidPaths = append(r.invalidPaths, path)
	}
}
