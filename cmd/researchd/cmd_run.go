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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/loom-research/pkg/prompts"
	"github.com/teradata-labs/loom-research/pkg/stream"
	"github.com/teradata-labs/loom-research/pkg/workflow"
)

var (
	runType       string
	runIterations int
	runJSON       bool
	runVerbose    bool
)

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Run one research workflow locally and print its progress",
	Long: `Run one research workflow in the foreground without the HTTP server or
job store. Progress events are printed to stdout as they happen and the
report is written under the artifacts directory.`,
	Example: `  researchd run "EV charging infrastructure in Europe" --type "Industry Report"
  researchd run "Solar inverters" --type barrier --iterations 1 --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVarP(&runType, "type", "t", string(prompts.IndustryReport), "analysis type")
	runCmd.Flags().IntVarP(&runIterations, "iterations", "n", 0, "critique cycles, 0 keeps the draft (default from workflow.iteration_bound)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print events as JSON lines")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "print tool results in full")
}

func runOnce(cmd *cobra.Command, args []string) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	analysisType, err := resolveAnalysisType(runType)
	if err != nil {
		return err
	}

	// Logs go to stderr so stdout carries only progress.
	logCfg := config.Logging
	if logCfg.File == "" {
		logCfg.File = "stderr"
	}
	if !cmd.Flags().Changed("log-level") && logCfg.Level == "info" {
		logCfg.Level = "warn"
	}
	logger, err := NewLogger(logCfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, config, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	q := stream.NewQueue()
	req := workflow.RunRequest{
		JobID:        uuid.NewString(),
		Query:        strings.Join(args, " "),
		AnalysisType: analysisType,
		Stream:       q,
	}
	if cmd.Flags().Changed("iterations") {
		req.IterationBound = &runIterations
	}

	type outcome struct {
		res *workflow.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := a.engine.Run(ctx, req)
		done <- outcome{res, err}
	}()

	printer := stream.NewPrinter(cmd.OutOrStdout(), runVerbose, runJSON)
	// The engine always closes the stream, so Drain ends with the run.
	if err := q.Drain(context.WithoutCancel(ctx), printer.Print); err != nil {
		return err
	}

	out := <-done
	if out.err != nil {
		if errors.Is(out.err, context.Canceled) {
			return fmt.Errorf("run interrupted")
		}
		return out.err
	}
	logger.Info("Run finished",
		zap.String("job_id", out.res.JobID),
		zap.Int("iterations", out.res.Iterations),
		zap.Int("gaps", out.res.GapsFound),
		zap.Duration("duration", out.res.Duration))
	if !runJSON {
		fmt.Fprintf(cmd.OutOrStdout(), "Saved to %s\n", filepath.Join(config.Artifacts.Dir, out.res.ReportPath))
	}
	return nil
}

// resolveAnalysisType accepts a full type name or a unique prefix of one
// ("industry", "barrier").
func resolveAnalysisType(s string) (prompts.AnalysisType, error) {
	if t, err := prompts.ParseAnalysisType(s); err == nil {
		return t, nil
	}
	prefix := strings.ToLower(strings.TrimSpace(s))
	var matches []prompts.AnalysisType
	if prefix != "" {
		for _, t := range prompts.AnalysisTypes() {
			if strings.HasPrefix(strings.ToLower(string(t)), prefix) {
				matches = append(matches, t)
			}
		}
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	names := make([]string, 0, len(prompts.AnalysisTypes()))
	for _, t := range prompts.AnalysisTypes() {
		names = append(names, string(t))
	}
	return "", fmt.Errorf("unknown analysis type %q (one of: %s)", s, strings.Join(names, ", "))
}
