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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/loom-research/pkg/client"
	"github.com/teradata-labs/loom-research/pkg/storage"
	"github.com/teradata-labs/loom-research/pkg/stream"
)

var submitCmd = &cobra.Command{
	Use:   "submit <query>",
	Short: "Start an analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		analysisType, _ := cmd.Flags().GetString("type")
		id, err := c.Submit(cmd.Context(), args[0], analysisType)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)

		if watch, _ := cmd.Flags().GetBool("watch"); watch {
			return watchJob(cmd, c, id)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show an analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		job, err := c.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if viper.GetBool("json") {
			return writeJSON(cmd.OutOrStdout(), job)
		}
		printJob(cmd.OutOrStdout(), job)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent analyses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		list, err := c.List(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if viper.GetBool("json") {
			return writeJSON(cmd.OutOrStdout(), list)
		}
		printJobs(cmd.OutOrStdout(), list)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "Follow a running analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		return watchJob(cmd, c, args[0])
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a running analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		if err := c.Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Canceling %s\n", args[0])
		return nil
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <id>",
	Short: "Download the report of a finished analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("output")
		if out == "" || out == "-" {
			_, err := c.FetchReport(cmd.Context(), args[0], cmd.OutOrStdout())
			return err
		}

		if dir := filepath.Dir(out); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if _, err := c.FetchReport(cmd.Context(), args[0], f); err != nil {
			_ = f.Close()
			_ = os.Remove(out)
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Saved to %s\n", out)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringP("type", "t", "Industry Report", "analysis type")
	submitCmd.Flags().BoolP("watch", "w", false, "follow progress after submitting")
	listCmd.Flags().Int("limit", 20, "maximum number of analyses")
	fetchCmd.Flags().StringP("output", "o", "", "write the report to a file instead of stdout")
}

func watchJob(cmd *cobra.Command, c *client.Client, id string) error {
	printer := stream.NewPrinter(cmd.OutOrStdout(), viper.GetBool("verbose"), viper.GetBool("json"))
	return c.Watch(cmd.Context(), id, printer.Print)
}

func printJob(w io.Writer, job *storage.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", job.ID)
	fmt.Fprintf(tw, "Query:\t%s\n", job.Query)
	fmt.Fprintf(tw, "Type:\t%s\n", job.AnalysisType)
	fmt.Fprintf(tw, "Status:\t%s\n", job.Status)
	if job.ReportPath != "" {
		fmt.Fprintf(tw, "Report:\t%s\n", job.ReportPath)
	}
	if job.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", job.Error)
	}
	fmt.Fprintf(tw, "Created:\t%s\n", job.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(tw, "Updated:\t%s\n", job.UpdatedAt.Local().Format(time.DateTime))
	_ = tw.Flush()
}

func printJobs(w io.Writer, jobs []*storage.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No analyses.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tTYPE\tCREATED\tQUERY")
	for _, job := range jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", job.ID, job.Status, job.AnalysisType,
			job.CreatedAt.Local().Format(time.DateTime), truncate(job.Query, 60))
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
