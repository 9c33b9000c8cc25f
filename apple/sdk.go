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

// Package apple resolves Apple toolchain paths for compile actions. Paths
// follow Xcode's default installation layout; a machine with a relocated
// Xcode needs these adjusted.
package apple

import (
	"github.com/pkg/errors"
)

// DeveloperDir is the Xcode developer directory substituted for the
// __BAZEL_XCODE_DEVELOPER_DIR__ placeholder.
const DeveloperDir = "/Applications/Xcode.app/Contents/Developer"

const (
	sdkPlatformEnvKey = "APPLE_SDK_PLATFORM"

	macOSSDKRoot           = DeveloperDir + "/Platforms/MacOSX.platform/Developer/SDKs/MacOSX.sdk"
	iPhoneSimulatorSDKRoot = DeveloperDir + "/Platforms/iPhoneSimulator.platform/Developer/SDKs/iPhoneSimulator.sdk"
)

// SDKRoot picks the SDK path that substitutes the __BAZEL_XCODE_SDKROOT__
// placeholder, based on the APPLE_SDK_PLATFORM entry of a compile action's
// environment. Any platform other than iPhoneSimulator maps to the macOS
// SDK. An environment without the entry is an error; the caller skips the
// action.
func SDKRoot(env map[string]string) (string, error) {
	platform, ok := env[sdkPlatformEnvKey]
	if !ok {
		return "", errors.Errorf("action environment has no %s", sdkPlatformEnvKey)
	}
	if platform == "iPhoneSimulator" {
		return iPhoneSimulatorSDKRoot, nil
	}
	return macOSSDKRoot, nil
}
