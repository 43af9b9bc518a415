// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/hive/internal/log"
)

var submitTimeout time.Duration

var submitCmd = &cobra.Command{
	Use:   "submit [task]",
	Short: "Run a single task through the orchestrator",
	Long: `Boot an in-process orchestrator, run one task to completion and print
the final result.

The task is decomposed, scheduled across the configured workers and the
aggregated answer is written to stdout. The command exits non-zero when
the request ends in an error.

Examples:
  hive submit "create a file named notes.txt with content 'hello'"
  hive submit --timeout 10m "design a schema for the orders service"`,
	Args: cobra.ExactArgs(1),
	Run:  runSubmit,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 5*time.Minute, "how long to wait for the final result")
}

func runSubmit(cmd *cobra.Command, args []string) {
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		os.Exit(1)
	}

	if err := log.Init(config.Logging.Level, config.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger := log.Logger()
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := buildStack(ctx, config, logger)
	if err != nil {
		logger.Fatal("Failed to build orchestrator", zap.Error(err))
	}
	defer st.Close()

	st.Start(ctx)

	waitCtx, waitCancel := context.WithTimeout(ctx, submitTimeout)
	defer waitCancel()

	// A component dying (store I/O) would otherwise leave us waiting for
	// the full timeout.
	go func() {
		if err := <-st.Fatal(); err != nil {
			logger.Error("Component failed", zap.Error(err))
			waitCancel()
		}
	}()

	future, err := st.dispatcher.Submit(ctx, args[0])
	if err != nil {
		logger.Fatal("Failed to submit task", zap.Error(err))
	}
	logger.Info("Waiting for result", zap.String("request_id", future.RequestID()))

	outcome, err := future.Wait(waitCtx)
	if err != nil {
		logger.Fatal("No result before deadline",
			zap.String("request_id", future.RequestID()),
			zap.Error(err))
	}

	cancel()
	st.Wait(5 * time.Second)

	fmt.Println(outcome.Result.Content)
	if s := outcome.Result.Summary; s.TotalTasks > 0 {
		fmt.Fprintf(os.Stderr, "\n%d/%d tasks completed (%.0f%% success) in %.1fs\n",
			s.CompletedTasks, s.TotalTasks, s.SuccessRate*100, s.TotalSeconds)
	}
	if !outcome.OK {
		os.Exit(1)
	}
}
