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
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testCache(t *testing.T) *TargetCache {
	t.Helper()
	return NewTargetCache(filepath.Join(t.TempDir(), "bazel-targets-cache.json"), testLogger())
}

func TestCacheMissOnAbsentFile(t *testing.T) {
	cache := testCache(t)
	if _, ok := cache.Load("//app:Lib"); ok {
		t.Error("expected a miss before anything was saved")
	}
}

func TestCacheSaveLoadRoundTrip(t *testing.T) {
	cache := testCache(t)
	saved := []BazelTarget{libTarget("//app:Lib", "-DDEBUG")}

	cache.Save("//app:Lib", saved)

	loaded, ok := cache.Load("//app:Lib")
	if !ok {
		t.Fatal("expected a hit after save")
	}
	if !EqualSets(saved, loaded) {
		t.Errorf("loaded list differs from saved: %v vs %v", loaded, saved)
	}
	if _, ok := cache.Load("//app:Other"); ok {
		t.Error("expected a miss for an unknown key")
	}
}

func TestCacheSavePreservesOtherEntries(t *testing.T) {
	cache := testCache(t)
	first := []BazelTarget{libTarget("//app:A")}
	second := []BazelTarget{libTarget("//app:B")}

	cache.Save("a", first)
	cache.Save("b", second)

	loaded, ok := cache.Load("a")
	if !ok {
		t.Fatal("expected entry a to survive the save of b")
	}
	if !EqualSets(first, loaded) {
		t.Errorf("entry a changed: %v", loaded)
	}
}

func TestCacheSaveReplacesEntry(t *testing.T) {
	cache := testCache(t)
	cache.Save("k", []BazelTarget{libTarget("//app:Old")})
	replacement := []BazelTarget{libTarget("//app:New")}
	cache.Save("k", replacement)

	loaded, _ := cache.Load("k")
	if !EqualSets(replacement, loaded) {
		t.Errorf("expected the replacement list, got %v", loaded)
	}
}

func TestCacheToleratesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bazel-targets-cache.json")
	if err := os.WriteFile(path, []byte("{ not json"), 0644); err != nil {
		t.Fatal(err)
	}
	cache := NewTargetCache(path, testLogger())

	if _, ok := cache.Load("k"); ok {
		t.Error("expected a miss on a corrupt file")
	}
	// A save treats the unreadable file as empty and starts over.
	saved := []BazelTarget{libTarget("//app:Lib")}
	cache.Save("k", saved)
	loaded, ok := cache.Load("k")
	if !ok || !EqualSets(saved, loaded) {
		t.Errorf("expected the save to recover the file, got %v (hit=%v)", loaded, ok)
	}
}
