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
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	cacheDirName  = ".bazel-sourcekit-bsp"
	cacheFileName = "bazel-targets-cache.json"
)

type cacheEntry struct {
	Targets   []BazelTarget `json:"targets"`
	Timestamp time.Time     `json:"timestamp"`
}

type cacheFile struct {
	Entries map[string]cacheEntry `json:"entries"`
}

type saveRequest struct {
	key     string
	targets []BazelTarget
	done    chan struct{}
}

// TargetCache is the process-wide on-disk store of prior extraction results,
// keyed by the sorted label set of a run. Entries never expire; a fresh run
// replaces them. All writes funnel through one writer goroutine so the file
// is never written from two goroutines at once; readers open the file
// directly. Two server processes for the same user share the file with no
// coordination, last writer wins.
type TargetCache struct {
	path  string
	log   *logrus.Logger
	saves chan saveRequest
}

// DefaultCachePath returns ~/.bazel-sourcekit-bsp/bazel-targets-cache.json.
func DefaultCachePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "locating user home for target cache")
	}
	return filepath.Join(home, cacheDirName, cacheFileName), nil
}

// NewTargetCache starts the writer goroutine and returns the cache. The
// goroutine lives for the life of the process.
func NewTargetCache(path string, log *logrus.Logger) *TargetCache {
	c := &TargetCache{
		path:  path,
		log:   log,
		saves: make(chan saveRequest),
	}
	go c.writeLoop()
	return c
}

// Load returns the cached target list for key, or false when the cache file
// does not exist, cannot be decoded, or has no entry for the key.
func (c *TargetCache) Load(key string) ([]BazelTarget, bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, false
	}
	var file cacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		c.log.Warnf("target cache at %s is not decodable: %v", c.path, err)
		return nil, false
	}
	entry, ok := file.Entries[key]
	if !ok {
		return nil, false
	}
	return entry.Targets, true
}

// Save stores the target list under key. The write happens on the cache's
// writer goroutine; Save returns once the file is on disk, so a caller that
// notifies after Save observes the write ordering the engine promises.
func (c *TargetCache) Save(key string, targets []BazelTarget) {
	done := make(chan struct{})
	c.saves <- saveRequest{key: key, targets: targets, done: done}
	<-done
}

func (c *TargetCache) writeLoop() {
	for req := range c.saves {
		if err := c.write(req.key, req.targets); err != nil {
			c.log.Errorf("writing target cache: %v", err)
		}
		close(req.done)
	}
}

// write re-reads the current file, replaces the one entry, and writes the
// whole file back pretty-printed. An unreadable existing file counts as an
// empty cache for this save.
func (c *TargetCache) write(key string, targets []BazelTarget) error {
	file := cacheFile{Entries: map[string]cacheEntry{}}
	if data, err := os.ReadFile(c.path); err == nil {
		if err := json.Unmarshal(data, &file); err != nil || file.Entries == nil {
			file = cacheFile{Entries: map[string]cacheEntry{}}
		}
	}
	file.Entries[key] = cacheEntry{Targets: targets, Timestamp: time.Now()}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return errors.Wrap(err, "creating cache directory")
	}
	data, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding target cache")
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return errors.Wrap(err, "writing target cache")
	}
	return nil
}
