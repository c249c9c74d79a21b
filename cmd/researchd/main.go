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
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/loom-research/internal/version"
)

var (
	cfgFile string
	config  *Config
)

var rootCmd = &cobra.Command{
	Use:   "researchd",
	Short: "Research daemon - iterative report generation service",
	Long: heredoc.Doc(`
		researchd runs research jobs that draft a report, critique it for gaps,
		research every gap concurrently and merge the findings back, for a
		bounded number of cycles. Progress streams to clients over WebSocket
		or server-sent events.
	`),
	Version:       version.Get(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $RESEARCH_DATA_DIR/researchd.yaml)")

	flags.String("llm-provider", "gemini", "LLM provider (gemini, anthropic, bedrock, openai)")
	flags.String("llm-model", "", "model override for the selected provider")
	flags.String("storage-backend", "sqlite", "job store backend (sqlite, mysql, postgres)")
	flags.String("db", "", "SQLite database path")
	flags.String("reports-dir", "", "directory for generated reports")
	flags.String("prompts-dir", "", "directory with prompt pack overrides")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, console)")

	v := viper.GetViper()
	_ = v.BindPFlag("llm.provider", flags.Lookup("llm-provider"))
	_ = v.BindPFlag("storage.backend", flags.Lookup("storage-backend"))
	_ = v.BindPFlag("prompts.dir", flags.Lookup("prompts-dir"))
	_ = v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("logging.format", flags.Lookup("log-format"))

	rootCmd.AddCommand(serveCmd, migrateCmd, runCmd, configCmd, versionCmd)
}

// initConfig loads the config before any subcommand runs.
func initConfig() {
	var err error
	config, err = LoadConfig(viper.GetViper(), cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	applyFlagOverrides(rootCmd, config)
}

// applyFlagOverrides handles flags whose config key depends on another
// setting or whose empty default must not mask the config file.
func applyFlagOverrides(cmd *cobra.Command, cfg *Config) {
	flags := cmd.PersistentFlags()
	if f := flags.Lookup("llm-model"); f != nil && f.Changed {
		switch cfg.LLM.Provider {
		case "anthropic", "bedrock":
			cfg.LLM.Anthropic.Model = f.Value.String()
		case "openai":
			cfg.LLM.OpenAI.Model = f.Value.String()
		default:
			cfg.LLM.Gemini.Model = f.Value.String()
		}
	}
	if f := flags.Lookup("db"); f != nil && f.Changed {
		cfg.Storage.Path = f.Value.String()
	}
	if f := flags.Lookup("reports-dir"); f != nil && f.Changed {
		cfg.Artifacts.Dir = f.Value.String()
	}
}
