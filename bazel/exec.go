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

package bazel

import (
	"bytes"
	"io"
	"os/exec"
)

// CmdRequest describes one external command invocation: the program name as
// resolved through PATH, the working directory it runs in, and its argv tail.
type CmdRequest struct {
	Name string
	Dir  string
	Argv []string
}

// CmdResponse carries the captured output of a finished command. ExitCode is
// -1 when the process could not be spawned at all; Stderr then holds the
// spawn error.
type CmdResponse struct {
	Stdout   []byte
	Stderr   string
	ExitCode int
}

// ExecCommand runs the requested program and captures both output streams.
// The program is launched through env so that ordinary PATH resolution
// applies regardless of how this server itself was started.
//
// Stdout is read to EOF before waiting on the process. Waiting first would
// deadlock whenever the child writes more than a pipe buffer of output.
// Stderr goes into an in-memory buffer and is only inspected after exit.
func ExecCommand(req CmdRequest) CmdResponse {
	cmd := exec.Command("/usr/bin/env", append([]string{req.Name}, req.Argv...)...)
	cmd.Dir = req.Dir

	stderrBuffer := &bytes.Buffer{}
	cmd.Stderr = stderrBuffer

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return CmdResponse{Stderr: err.Error(), ExitCode: -1}
	}
	if err := cmd.Start(); err != nil {
		return CmdResponse{Stderr: err.Error(), ExitCode: -1}
	}

	stdout, readErr := io.ReadAll(stdoutPipe)
	waitErr := cmd.Wait()

	resp := CmdResponse{
		Stdout:   stdout,
		Stderr:   stderrBuffer.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
	}
	if readErr != nil && resp.Stderr == "" {
		resp.Stderr = readErr.Error()
	}
	if waitErr != nil && resp.Stderr == "" {
		resp.Stderr = waitErr.Error()
	}
	return resp
}
