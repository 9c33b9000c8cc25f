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

package bsp

// Build Server Protocol envelope shapes, fixed by BSP 2.0.0. Only the
// fields this server reads or produces are modeled.

// ProtocolVersion is the BSP version this server speaks.
const ProtocolVersion = "2.0.0"

type InitializeBuildParams struct {
	DisplayName  string                  `json:"displayName"`
	Version      string                  `json:"version"`
	BSPVersion   string                  `json:"bspVersion"`
	RootURI      string                  `json:"rootUri"`
	Capabilities BuildClientCapabilities `json:"capabilities"`
}

type BuildClientCapabilities struct {
	LanguageIds []string `json:"languageIds"`
}

type InitializeBuildResult struct {
	DisplayName  string                  `json:"displayName"`
	Version      string                  `json:"version"`
	BSPVersion   string                  `json:"bspVersion"`
	Capabilities BuildServerCapabilities `json:"capabilities"`
	Data         *InitializeBuildData    `json:"data,omitempty"`
}

type BuildServerCapabilities struct {
	CompileProvider *LanguageProvider `json:"compileProvider,omitempty"`
}

type LanguageProvider struct {
	LanguageIds []string `json:"languageIds"`
}

// InitializeBuildData is the SourceKit-specific payload of the initialize
// response: where the index lives and which option surfaces this server
// provides. DefaultSettings is a legacy fallback for clients that predate
// per-file option requests.
type InitializeBuildData struct {
	IndexDatabasePath        string   `json:"indexDatabasePath"`
	IndexStorePath           string   `json:"indexStorePath"`
	OutputPathsProvider      bool     `json:"outputPathsProvider"`
	PrepareProvider          bool     `json:"prepareProvider"`
	SourceKitOptionsProvider bool     `json:"sourceKitOptionsProvider"`
	DefaultSettings          []string `json:"defaultSettings,omitempty"`
}

type BuildTargetIdentifier struct {
	URI string `json:"uri"`
}

type BuildTargetCapabilities struct {
	CanCompile bool `json:"canCompile"`
	CanTest    bool `json:"canTest"`
	CanRun     bool `json:"canRun"`
	CanDebug   bool `json:"canDebug"`
}

type BuildTarget struct {
	Id           BuildTargetIdentifier   `json:"id"`
	DisplayName  string                  `json:"displayName"`
	Tags         []string                `json:"tags"`
	LanguageIds  []string                `json:"languageIds"`
	Dependencies []BuildTargetIdentifier `json:"dependencies"`
	Capabilities BuildTargetCapabilities `json:"capabilities"`
}

type WorkspaceBuildTargetsResult struct {
	Targets []BuildTarget `json:"targets"`
}

type SourcesParams struct {
	Targets []BuildTargetIdentifier `json:"targets"`
}

// SourceItemKind: 1 = file, 2 = directory.
const SourceItemKindFile = 1

type SourceItem struct {
	URI       string `json:"uri"`
	Kind      int    `json:"kind"`
	Generated bool   `json:"generated"`
}

type SourcesItem struct {
	Target   BuildTargetIdentifier `json:"target"`
	Sources  []SourceItem          `json:"sources"`
	DataKind string                `json:"dataKind"`
	Data     struct{}              `json:"data"`
}

type SourcesResult struct {
	Items []SourcesItem `json:"items"`
}

type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

type SourceKitOptionsParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Target       BuildTargetIdentifier  `json:"target"`
}

type SourceKitOptionsResult struct {
	CompilerArguments []string `json:"compilerArguments"`
	WorkingDirectory  string   `json:"workingDirectory"`
}

type RegisterForChangesParams struct {
	URI    string `json:"uri"`
	Action string `json:"action"`
}

// SourceKitOptionsChangedNotification delivers resolved options for a file
// registered with textDocument/registerForChanges.
type SourceKitOptionsChangedNotification struct {
	URI            string                 `json:"uri"`
	UpdatedOptions SourceKitOptionsResult `json:"updatedOptions"`
}

type PrepareParams struct {
	Targets []BuildTargetIdentifier `json:"targets"`
}

// BuildTargetEventKind: 1 = created, 2 = changed, 3 = deleted.
const BuildTargetEventKindChanged = 2

type BuildTargetEvent struct {
	Target BuildTargetIdentifier `json:"target"`
	Kind   int                   `json:"kind"`
}

type DidChangeBuildTargetParams struct {
	Changes []BuildTargetEvent `json:"changes"`
}

type FileEvent struct {
	URI  string `json:"uri"`
	Type int    `json:"type"`
}

type DidChangeWatchedFilesParams struct {
	Changes []FileEvent `json:"changes"`
}
