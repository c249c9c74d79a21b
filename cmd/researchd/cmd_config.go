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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	researchconfig "github.com/teradata-labs/loom-research/pkg/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage researchd configuration and secrets",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write an example researchd.yaml to the data directory",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the merged configuration with secrets redacted",
	RunE:  runConfigShow,
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key <key-name>",
	Short: "Save an API key to the system keyring",
	Long: heredoc.Doc(`
		Save an API key to the system keyring. The value is read from stdin
		so it does not end up in shell history.

		Run 'researchd config list-keys' to see available key names.
	`),
	Args: cobra.ExactArgs(1),
	RunE: runConfigSetKey,
}

var configGetKeyCmd = &cobra.Command{
	Use:   "get-key <key-name>",
	Short: "Check whether an API key is stored (value is masked)",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGetKey,
}

var configDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key <key-name>",
	Short: "Remove an API key from the system keyring",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigDeleteKey,
}

var configListKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List the secret names the keyring can hold",
	Run: func(cmd *cobra.Command, _ []string) {
		for _, key := range ListAvailableSecretKeys() {
			fmt.Fprintln(cmd.OutOrStdout(), key)
		}
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd, configSetKeyCmd, configGetKeyCmd,
		configDeleteKeyCmd, configListKeysCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	dir := researchconfig.DataDir()
	path := filepath.Join(dir, DefaultConfigFileName+".yaml")
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("config file already exists: %s (use --force to overwrite)", path)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(GenerateExampleConfig()), 0o600); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	settings := redactSecrets(viper.AllSettings())
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigSetKey(cmd *cobra.Command, args []string) error {
	key := args[0]
	if err := checkSecretKey(key); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Enter value for %s (input hidden): ", key)
	value, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if err := SaveSecretToKeyring(key, value); err != nil {
		return fmt.Errorf("failed to save to keyring: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s to the system keyring\n", key)
	return nil
}

func runConfigGetKey(cmd *cobra.Command, args []string) error {
	if err := checkSecretKey(args[0]); err != nil {
		return err
	}
	value, err := GetSecretFromKeyring(args[0])
	if err != nil {
		return fmt.Errorf("%s not found in keyring: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], maskSecret(value))
	return nil
}

func runConfigDeleteKey(cmd *cobra.Command, args []string) error {
	if err := checkSecretKey(args[0]); err != nil {
		return err
	}
	if err := DeleteSecretFromKeyring(args[0]); err != nil {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s from the system keyring\n", args[0])
	return nil
}

func checkSecretKey(key string) error {
	if !slices.Contains(ListAvailableSecretKeys(), key) {
		return fmt.Errorf("unknown key %q (run 'researchd config list-keys')", key)
	}
	return nil
}

// Swapped in tests.
var (
	isTerminal   = term.IsTerminal
	readPassword = term.ReadPassword
)

// readSecret reads one line. A terminal has echo turned off while typing;
// piped input is read as is.
func readSecret(r io.Reader, w io.Writer) (string, error) {
	var line string
	if f, ok := r.(interface{ Fd() uintptr }); ok && isTerminal(int(f.Fd())) {
		b, err := readPassword(int(f.Fd()))
		fmt.Fprintln(w)
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		line = string(b)
	} else {
		var err error
		line, err = bufio.NewReader(r).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return "", errors.New("empty value")
	}
	return value, nil
}

func maskSecret(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

var secretMarkers = []string{"api_key", "password", "secret", "token"}

// redactSecrets returns a copy of settings with secret values masked.
// A DSN may carry a password, so it is masked too.
func redactSecrets(settings map[string]any) map[string]any {
	out := make(map[string]any, len(settings))
	for k, v := range settings {
		switch val := v.(type) {
		case map[string]any:
			out[k] = redactSecrets(val)
		case string:
			if val != "" && isSecretKey(k) {
				out[k] = "********"
			} else {
				out[k] = val
			}
		default:
			out[k] = v
		}
	}
	return out
}

func isSecretKey(k string) bool {
	k = strings.ToLower(k)
	if k == "dsn" {
		return true
	}
	for _, m := range secretMarkers {
		if strings.Contains(k, m) {
			return true
		}
	}
	return false
}

// GenerateExampleConfig returns a commented researchd.yaml.
func GenerateExampleConfig() string {
	return heredoc.Doc(`
		# researchd configuration
		# Every key can also be set through RESEARCH_<SECTION>_<KEY>, for
		# example RESEARCH_LLM_PROVIDER=anthropic. API keys are best kept in
		# the keyring: researchd config set-key gemini_api_key

		server:
		  addr: ":8000"
		  cors:
		    enabled: true
		    allowed_origins: ["http://localhost:3000", "http://localhost:5000"]

		llm:
		  provider: gemini          # gemini, anthropic, bedrock, openai
		  gemini:
		    model: gemini-2.0-flash
		  retry:
		    max_retries: 3
		  rate_limit:
		    enabled: true
		    requests_per_second: 2

		workflow:
		  iteration_bound: 2
		  max_concurrent_resolvers: 8
		  snapshots: true

		jobs:
		  max_concurrent_jobs: 4

		tools:
		  search:
		    provider: serper        # serper or tavily

		mcp:
		  servers: []
		  # - name: research
		  #   transport: streamable_http
		  #   url: http://localhost:8001/mcp

		storage:
		  backend: sqlite           # sqlite, mysql, postgres
		  auto_migrate: true

		prompts:
		  dir: ""                   # directory of prompt pack overrides
		  hot_reload: false

		retention:
		  schedule: "@every 1h"
		  retention: 168h

		logging:
		  level: info
		  format: json
	`)
}
