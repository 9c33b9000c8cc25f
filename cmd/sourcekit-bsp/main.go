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

// sourcekit-bsp serves the Build Server Protocol over stdio, bridging a
// SourceKit indexing client to the Bazel build graph.
package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/bazel-ios/sourcekit-bsp/bsp"
)

const version = "1.0.0"

// stdio adapts the process's standard streams to the connection transport.
// Stdout carries protocol frames exclusively; anything else a human should
// see goes through the logger.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdio) Close() error                { return os.Stdin.Close() }

func main() {
	var (
		logFile string
		verbose bool
	)

	rootCmd := &cobra.Command{
		Use:     "sourcekit-bsp",
		Short:   "Build Server Protocol endpoint for Bazel Swift/Objective-C workspaces",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.New()
			log.SetOutput(os.Stderr)
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
				if err != nil {
					return err
				}
				defer f.Close()
				log.SetOutput(f)
			}
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}

			return bsp.NewServer(log).Run(context.Background(), stdio{})
		},
	}
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "append logs to this file instead of stderr")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
