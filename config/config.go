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

// Package config loads the buildServer.json file a workspace places at its
// root to describe this build server to clients.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/bazelbuild/bazel-gazelle/label"
	"github.com/pkg/errors"
)

// FileName is the config file looked up at the workspace root.
const FileName = "buildServer.json"

// Config mirrors buildServer.json.
type Config struct {
	Name              string   `json:"name"`
	Argv              []string `json:"argv"`
	Version           string   `json:"version"`
	BSPVersion        string   `json:"bspVersion"`
	Languages         []string `json:"languages"`
	Targets           []string `json:"targets"`
	IndexDatabasePath string   `json:"indexDatabasePath"`
	AqueryArgs        []string `json:"aqueryArgs"`
	DefaultSettings   []string `json:"defaultSettings,omitempty"`
}

// Load reads and validates buildServer.json from the workspace root. Every
// entry of targets must be a parseable Bazel label; an empty target list is
// rejected because nothing could ever be indexed.
func Load(workspaceRoot string) (*Config, error) {
	path := filepath.Join(workspaceRoot, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	if len(cfg.Targets) == 0 {
		return nil, errors.Errorf("%s declares no targets", path)
	}
	for _, t := range cfg.Targets {
		if _, err := label.Parse(t); err != nil {
			return nil, errors.Wrapf(err, "invalid target label %q in %s", t, path)
		}
	}
	return &cfg, nil
}
