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
	"os/signal"
	"syscall"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/teradata-labs/loom-research/internal/version"
	"github.com/teradata-labs/loom-research/pkg/client"
)

var rootCmd = &cobra.Command{
	Use:   "research",
	Short: "Client for the research daemon",
	Long: heredoc.Doc(`
		research submits analyses to a running researchd, follows their
		progress and downloads the finished reports.

		The server address comes from --server or RESEARCH_SERVER.
	`),
	Version:       version.Get(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	viper.SetEnvPrefix("RESEARCH")
	viper.AutomaticEnv()
	viper.SetDefault("server", "http://localhost:8000")

	flags := rootCmd.PersistentFlags()
	flags.String("server", "http://localhost:8000", "research server URL")
	flags.BoolP("verbose", "v", false, "show full tool results and debug logs")
	flags.Bool("json", false, "print raw JSON")
	_ = viper.BindPFlag("server", flags.Lookup("server"))
	_ = viper.BindPFlag("verbose", flags.Lookup("verbose"))
	_ = viper.BindPFlag("json", flags.Lookup("json"))

	rootCmd.AddCommand(submitCmd, statusCmd, listCmd, watchCmd, cancelCmd, fetchCmd)
}

// newClient builds a client from the global flags.
func newClient() (*client.Client, error) {
	logger := zap.NewNop()
	if viper.GetBool("verbose") {
		dev, err := zap.NewDevelopment()
		if err == nil {
			logger = dev
		}
	}
	return client.New(viper.GetString("server"), client.WithLogger(logger))
}
