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

// Package bsp serves the Build Server Protocol over a JSON-RPC 2.0
// connection, mapping BSP methods onto the target list the engine extracts
// from the Bazel action graph.
package bsp

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.lsp.dev/jsonrpc2"

	"github.com/bazel-ios/sourcekit-bsp/bazel"
	"github.com/bazel-ios/sourcekit-bsp/config"
	"github.com/bazel-ios/sourcekit-bsp/engine"
)

// Server holds the per-connection state of one BSP session. The current
// target list is a single-writer, many-reader cell: request handlers take a
// snapshot under the read lock, the engine's completion callback installs a
// replacement under the write lock.
type Server struct {
	log  *logrus.Logger
	conn jsonrpc2.Conn

	mu      sync.RWMutex
	targets []engine.BazelTarget

	cfg           *config.Config
	eng           *engine.Engine
	workspaceRoot string
	execRoot      string
}

func NewServer(log *logrus.Logger) *Server {
	return &Server{log: log}
}

// Run serves BSP over the given transport until the peer disconnects or
// build/exit closes the connection.
func (s *Server) Run(ctx context.Context, rwc io.ReadWriteCloser) error {
	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(rwc))
	s.conn = conn
	conn.Go(ctx, s.handle)
	<-conn.Done()
	if err := conn.Err(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (s *Server) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	s.log.Debugf("<- %s", req.Method())
	switch req.Method() {
	case "build/initialize":
		var params InitializeBuildParams
		if err := json.Unmarshal(req.Params(), &params); err != nil {
			return reply(ctx, nil, errors.Wrap(jsonrpc2.ErrInvalidParams, err.Error()))
		}
		result, err := s.initialize(&params)
		return reply(ctx, result, err)
	case "build/initialized":
		s.log.Info("client initialized")
		return reply(ctx, nil, nil)
	case "workspace/buildTargets":
		result, err := s.buildTargets(ctx)
		return reply(ctx, result, err)
	case "buildTarget/sources":
		var params SourcesParams
		if err := json.Unmarshal(req.Params(), &params); err != nil {
			return reply(ctx, nil, errors.Wrap(jsonrpc2.ErrInvalidParams, err.Error()))
		}
		return reply(ctx, s.sources(&params), nil)
	case "textDocument/sourceKitOptions":
		var params SourceKitOptionsParams
		if err := json.Unmarshal(req.Params(), &params); err != nil {
			return reply(ctx, nil, errors.Wrap(jsonrpc2.ErrInvalidParams, err.Error()))
		}
		return reply(ctx, s.sourceKitOptions(&params), nil)
	case "textDocument/registerForChanges":
		var params RegisterForChangesParams
		if err := json.Unmarshal(req.Params(), &params); err != nil {
			return reply(ctx, nil, errors.Wrap(jsonrpc2.ErrInvalidParams, err.Error()))
		}
		err := reply(ctx, nil, nil)
		s.notifyOptions(ctx, params.URI)
		return err
	case "buildTarget/prepare":
		var params PrepareParams
		if err := json.Unmarshal(req.Params(), &params); err != nil {
			return reply(ctx, nil, errors.Wrap(jsonrpc2.ErrInvalidParams, err.Error()))
		}
		s.prepare()
		return reply(ctx, nil, nil)
	case "workspace/didChangeWatchedFiles":
		var params DidChangeWatchedFilesParams
		if err := json.Unmarshal(req.Params(), &params); err != nil {
			return reply(ctx, nil, errors.Wrap(jsonrpc2.ErrInvalidParams, err.Error()))
		}
		s.watchedFilesChanged(ctx)
		return reply(ctx, nil, nil)
	case "build/shutdown":
		return reply(ctx, nil, nil)
	case "build/exit":
		err := reply(ctx, nil, nil)
		s.conn.Close()
		return err
	default:
		return reply(ctx, nil, jsonrpc2.ErrMethodNotFound)
	}
}

// initialize loads the workspace configuration and asks bazel for the
// execution root. Either failing is fatal to the session; the client gets
// the error on its initialize request.
func (s *Server) initialize(params *InitializeBuildParams) (*InitializeBuildResult, error) {
	root := strings.TrimPrefix(params.RootURI, "file://")
	if root == "" {
		return nil, errors.Errorf("invalid root URI %q", params.RootURI)
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}

	resp := bazel.ExecCommand(bazel.CmdRequest{Name: "bazel", Dir: root, Argv: []string{"info", "execution_root"}})
	if resp.ExitCode != 0 {
		return nil, errors.Errorf("bazel info execution_root exited with %d: %s", resp.ExitCode, resp.Stderr)
	}
	execRoot := strings.TrimSpace(string(resp.Stdout))

	cachePath, err := engine.DefaultCachePath()
	if err != nil {
		return nil, err
	}

	s.cfg = cfg
	s.workspaceRoot = root
	s.execRoot = execRoot
	s.eng = engine.NewEngine(root, execRoot, engine.NewTargetCache(cachePath, s.log), s.log)
	s.log.Infof("initialized for %s (execution root %s)", root, execRoot)

	return &InitializeBuildResult{
		DisplayName: cfg.Name,
		Version:     cfg.Version,
		BSPVersion:  ProtocolVersion,
		Capabilities: BuildServerCapabilities{
			CompileProvider: &LanguageProvider{LanguageIds: []string{"swift"}},
		},
		Data: &InitializeBuildData{
			IndexDatabasePath:        cfg.IndexDatabasePath,
			IndexStorePath:           execRoot + "/bazel-out/_global_index_store",
			OutputPathsProvider:      false,
			PrepareProvider:          true,
			SourceKitOptionsProvider: true,
			DefaultSettings:          cfg.DefaultSettings,
		},
	}, nil
}

// fetchTargets runs the engine for the configured labels. The first
// completion is synchronous and becomes the return value; a later refresh
// delivery replaces the snapshot and announces the change to the client.
func (s *Server) fetchTargets(ctx context.Context) ([]engine.BazelTarget, error) {
	if s.eng == nil {
		return nil, errors.New("build/initialize has not completed")
	}
	var served []engine.BazelTarget
	first := true
	err := s.eng.Execute(s.cfg.Targets, s.cfg.AqueryArgs, func(targets []engine.BazelTarget) {
		s.mu.Lock()
		s.targets = targets
		s.mu.Unlock()
		if first {
			first = false
			served = targets
			return
		}
		s.notifyTargetsChanged(ctx, targets)
	})
	if err != nil {
		return nil, err
	}
	return served, nil
}

func (s *Server) snapshot() []engine.BazelTarget {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.targets
}

func (s *Server) buildTargets(ctx context.Context) (*WorkspaceBuildTargetsResult, error) {
	targets, err := s.fetchTargets(ctx)
	if err != nil {
		return nil, err
	}
	return &WorkspaceBuildTargetsResult{Targets: toBuildTargets(targets)}, nil
}

// toBuildTargets projects engine targets onto the BSP target shape.
// Dependencies are always empty; the action graph does not carry the edges.
func toBuildTargets(targets []engine.BazelTarget) []BuildTarget {
	out := []BuildTarget{}
	for _, t := range targets {
		out = append(out, BuildTarget{
			Id:           BuildTargetIdentifier{URI: t.URI},
			DisplayName:  t.Label,
			Tags:         t.Tags,
			LanguageIds:  []string{"swift"},
			Dependencies: []BuildTargetIdentifier{},
			Capabilities: BuildTargetCapabilities{
				CanCompile: true,
				CanTest:    strings.Contains(t.Kind, "test"),
				CanRun:     strings.Contains(t.Kind, "binary"),
				CanDebug:   false,
			},
		})
	}
	return out
}

func (s *Server) sources(params *SourcesParams) *SourcesResult {
	targets := s.snapshot()
	result := &SourcesResult{Items: []SourcesItem{}}
	for _, id := range params.Targets {
		for _, t := range targets {
			if t.URI != id.URI {
				continue
			}
			item := SourcesItem{
				Target:   id,
				Sources:  []SourceItem{},
				DataKind: "sourceKit",
			}
			for _, f := range t.InputFiles {
				item.Sources = append(item.Sources, SourceItem{
					URI:       f,
					Kind:      SourceItemKindFile,
					Generated: false,
				})
			}
			result.Items = append(result.Items, item)
			break
		}
	}
	return result
}

func (s *Server) sourceKitOptions(params *SourceKitOptionsParams) *SourceKitOptionsResult {
	for _, t := range s.snapshot() {
		if t.URI == params.Target.URI {
			return &SourceKitOptionsResult{
				CompilerArguments: t.CompilerArguments,
				WorkingDirectory:  s.workspaceRoot,
			}
		}
	}
	return s.defaultOptions()
}

func (s *Server) defaultOptions() *SourceKitOptionsResult {
	settings := []string{}
	if s.cfg != nil && s.cfg.DefaultSettings != nil {
		settings = s.cfg.DefaultSettings
	}
	return &SourceKitOptionsResult{CompilerArguments: settings, WorkingDirectory: s.workspaceRoot}
}

// notifyOptions resolves options for a file registered for change
// notifications: options come from the first target whose inputs contain
// the file, falling back to the configured defaults.
func (s *Server) notifyOptions(ctx context.Context, uri string) {
	options := s.defaultOptions()
	if t, ok := engine.FindTargetForFile(s.snapshot(), uri); ok {
		options = &SourceKitOptionsResult{CompilerArguments: t.CompilerArguments, WorkingDirectory: s.workspaceRoot}
	}
	s.notify(ctx, "build/sourceKitOptionsChanged", &SourceKitOptionsChangedNotification{
		URI:            uri,
		UpdatedOptions: *options,
	})
}

// prepare kicks off a bazel build of the configured targets and returns
// immediately. Build output never reaches the request's response; only the
// completion status is logged.
func (s *Server) prepare() {
	cfg := s.cfg
	if cfg == nil {
		return
	}
	root := s.workspaceRoot
	log := s.log
	go func() {
		argv := append(append([]string{"build"}, cfg.Targets...), cfg.AqueryArgs...)
		resp := bazel.ExecCommand(bazel.CmdRequest{Name: "bazel", Dir: root, Argv: argv})
		if resp.ExitCode != 0 {
			log.Warnf("bazel build exited with %d: %s", resp.ExitCode, resp.Stderr)
			return
		}
		log.Info("bazel build completed")
	}()
}

func (s *Server) watchedFilesChanged(ctx context.Context) {
	targets := s.snapshot()
	if len(targets) == 0 {
		s.log.Warn("watched files changed but no targets are known yet")
		return
	}
	s.notifyTargetsChanged(ctx, targets)
}

func (s *Server) notifyTargetsChanged(ctx context.Context, targets []engine.BazelTarget) {
	params := &DidChangeBuildTargetParams{Changes: []BuildTargetEvent{}}
	for _, t := range targets {
		params.Changes = append(params.Changes, BuildTargetEvent{
			Target: BuildTargetIdentifier{URI: t.URI},
			Kind:   BuildTargetEventKindChanged,
		})
	}
	s.notify(ctx, "buildTarget/didChange", params)
}

func (s *Server) notify(ctx context.Context, method string, params interface{}) {
	if s.conn == nil {
		return
	}
	if err := s.conn.Notify(ctx, method, params); err != nil {
		s.log.Errorf("sending %s: %v", method, err)
	}
}
