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
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/teradata-labs/loom-research/pkg/agent"
	researchconfig "github.com/teradata-labs/loom-research/pkg/config"
	"github.com/teradata-labs/loom-research/pkg/jobs"
	"github.com/teradata-labs/loom-research/pkg/llm"
	"github.com/teradata-labs/loom-research/pkg/llm/anthropic"
	"github.com/teradata-labs/loom-research/pkg/llm/factory"
	"github.com/teradata-labs/loom-research/pkg/llm/gemini"
	"github.com/teradata-labs/loom-research/pkg/llm/openai"
	"github.com/teradata-labs/loom-research/pkg/scheduler"
	"github.com/teradata-labs/loom-research/pkg/server"
	"github.com/teradata-labs/loom-research/pkg/shuttle/builtin"
	"github.com/teradata-labs/loom-research/pkg/shuttle/mcp"
	"github.com/teradata-labs/loom-research/pkg/storage/backend"
	"github.com/teradata-labs/loom-research/pkg/workflow"
)

const (
	// DefaultConfigFileName is searched for in the data directory, the
	// working directory and /etc/research.
	DefaultConfigFileName = "researchd"
	// ServiceName is the keyring service that holds API keys.
	ServiceName = "loom-research"
	// EnvPrefix prefixes every environment override (RESEARCH_LLM_PROVIDER).
	EnvPrefix = "RESEARCH"
)

// Config is the daemon configuration.
type Config struct {
	// DataDir is resolved from RESEARCH_DATA_DIR, never from the file.
	DataDir string `mapstructure:"-"`

	Server        server.Config       `mapstructure:"server"`
	LLM           factory.Config      `mapstructure:"llm"`
	Agent         agent.Config        `mapstructure:"agent"`
	Workflow      workflow.Config     `mapstructure:"workflow"`
	Jobs          jobs.Config         `mapstructure:"jobs"`
	Tools         builtin.Config      `mapstructure:"tools"`
	MCP           MCPConfig           `mapstructure:"mcp"`
	Storage       backend.Config      `mapstructure:"storage"`
	Artifacts     ArtifactsConfig     `mapstructure:"artifacts"`
	Prompts       PromptsConfig       `mapstructure:"prompts"`
	Retention     scheduler.Config    `mapstructure:"retention"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// MCPConfig lists the MCP servers whose tools are offered to the model.
type MCPConfig struct {
	Servers        []mcp.ServerConfig `mapstructure:"servers"`
	ConnectTimeout time.Duration      `mapstructure:"connect_timeout"`
	// Required fails startup when a server cannot be reached.
	Required bool `mapstructure:"required"`
}

// ArtifactsConfig locates the report directory.
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir"`
}

// PromptsConfig points at prompt pack overrides.
type PromptsConfig struct {
	Dir       string `mapstructure:"dir"`
	HotReload bool   `mapstructure:"hot_reload"`
}

// ObservabilityConfig toggles Prometheus metrics.
type ObservabilityConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
	File   string `mapstructure:"file"`   // empty logs to stderr
}

// LoadConfig reads the config file (if any), the environment and bound
// flags into a Config. Secrets missing from all three are looked up in
// the system keyring.
func LoadConfig(v *viper.Viper, cfgFile string) (*Config, error) {
	dataDir := researchconfig.DataDir()
	setDefaults(v, dataDir)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(dataDir)
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/research/")
		v.SetConfigName(DefaultConfigFileName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", v.ConfigFileUsed(), err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.DataDir = dataDir

	loadSecrets(&config)
	return &config, nil
}

func setDefaults(v *viper.Viper, dataDir string) {
	srv := server.DefaultConfig()
	v.SetDefault("server.addr", srv.Addr)
	v.SetDefault("server.read_timeout", srv.ReadTimeout)
	v.SetDefault("server.idle_timeout", srv.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", srv.ShutdownTimeout)
	v.SetDefault("server.ping_interval", srv.PingInterval)
	v.SetDefault("server.cors.enabled", srv.CORS.Enabled)
	v.SetDefault("server.cors.allowed_origins", srv.CORS.AllowedOrigins)
	v.SetDefault("server.cors.allowed_methods", srv.CORS.AllowedMethods)
	v.SetDefault("server.cors.allowed_headers", srv.CORS.AllowedHeaders)
	v.SetDefault("server.cors.exposed_headers", srv.CORS.ExposedHeaders)
	v.SetDefault("server.cors.allow_credentials", srv.CORS.AllowCredentials)
	v.SetDefault("server.cors.max_age", srv.CORS.MaxAge)

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.gemini.api_key", "")
	v.SetDefault("llm.gemini.model", gemini.DefaultModel)
	v.SetDefault("llm.anthropic.api_key", "")
	v.SetDefault("llm.anthropic.model", anthropic.DefaultModel)
	v.SetDefault("llm.anthropic.bedrock.region", "us-east-1")
	v.SetDefault("llm.anthropic.bedrock.profile", "")
	v.SetDefault("llm.openai.api_key", "")
	v.SetDefault("llm.openai.model", openai.DefaultModel)
	v.SetDefault("llm.openai.base_url", "")
	retry := llm.DefaultRetryConfig()
	v.SetDefault("llm.retry.max_retries", retry.MaxRetries)
	v.SetDefault("llm.retry.base_delay", retry.BaseDelay)
	v.SetDefault("llm.retry.max_delay", retry.MaxDelay)
	v.SetDefault("llm.retry.jitter", retry.Jitter)
	limit := llm.DefaultRateLimiterConfig()
	v.SetDefault("llm.rate_limit.enabled", limit.Enabled)
	v.SetDefault("llm.rate_limit.requests_per_second", limit.RequestsPerSecond)
	v.SetDefault("llm.rate_limit.burst", limit.BurstCapacity)
	v.SetDefault("llm.rate_limit.queue_timeout", limit.QueueTimeout)

	ag := agent.DefaultConfig()
	v.SetDefault("agent.max_turns", ag.MaxTurns)
	v.SetDefault("agent.max_tool_result_tokens", ag.MaxToolResultTokens)
	v.SetDefault("agent.tool_timeout", ag.ToolTimeout)
	v.SetDefault("agent.stream_text", ag.StreamText)

	wf := workflow.DefaultConfig()
	v.SetDefault("workflow.iteration_bound", wf.IterationBound)
	v.SetDefault("workflow.max_concurrent_resolvers", wf.MaxConcurrentResolvers)
	v.SetDefault("workflow.snapshots", wf.Snapshots)

	jb := jobs.DefaultConfig()
	v.SetDefault("jobs.max_concurrent_jobs", jb.MaxConcurrentJobs)
	v.SetDefault("jobs.status_timeout", jb.StatusTimeout)

	v.SetDefault("tools.search.provider", "")
	v.SetDefault("tools.search.serper_api_key", "")
	v.SetDefault("tools.search.tavily_api_key", "")
	v.SetDefault("tools.search.max_results", 5)
	v.SetDefault("tools.fetch.timeout", 30*time.Second)

	v.SetDefault("mcp.connect_timeout", 30*time.Second)
	v.SetDefault("mcp.required", false)

	st := backend.DefaultConfig()
	v.SetDefault("storage.backend", st.Backend)
	v.SetDefault("storage.path", filepath.Join(dataDir, st.Path))
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.auto_migrate", st.AutoMigrate)
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", 5432)
	v.SetDefault("storage.postgres.database", "research")
	v.SetDefault("storage.postgres.user", "research")
	v.SetDefault("storage.postgres.password", "")
	v.SetDefault("storage.postgres.ssl_mode", "disable")

	v.SetDefault("artifacts.dir", filepath.Join(dataDir, "reports"))
	v.SetDefault("prompts.dir", "")
	v.SetDefault("prompts.hot_reload", false)

	rt := scheduler.DefaultConfig()
	v.SetDefault("retention.schedule", rt.Schedule)
	v.SetDefault("retention.timezone", rt.Timezone)
	v.SetDefault("retention.retention", rt.Retention)
	v.SetDefault("retention.stale_after", rt.StaleAfter)

	v.SetDefault("observability.enabled", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
}

// SecretMapping maps a keyring key (and its conventional environment
// variable) to a config field.
type SecretMapping struct {
	KeyringKey string
	EnvVar     string
	Setter     func(*Config, string)
	IsSet      func(*Config) bool
}

// GetSecretMappings returns every secret the daemon can load.
func GetSecretMappings() []SecretMapping {
	return []SecretMapping{
		{
			KeyringKey: "gemini_api_key",
			EnvVar:     "GEMINI_API_KEY",
			Setter:     func(c *Config, val string) { c.LLM.Gemini.APIKey = val },
			IsSet:      func(c *Config) bool { return c.LLM.Gemini.APIKey != "" },
		},
		{
			KeyringKey: "anthropic_api_key",
			EnvVar:     "ANTHROPIC_API_KEY",
			Setter:     func(c *Config, val string) { c.LLM.Anthropic.APIKey = val },
			IsSet:      func(c *Config) bool { return c.LLM.Anthropic.APIKey != "" },
		},
		{
			KeyringKey: "openai_api_key",
			EnvVar:     "OPENAI_API_KEY",
			Setter:     func(c *Config, val string) { c.LLM.OpenAI.APIKey = val },
			IsSet:      func(c *Config) bool { return c.LLM.OpenAI.APIKey != "" },
		},
		{
			KeyringKey: "bedrock_access_key_id",
			Setter:     func(c *Config, val string) { c.LLM.Anthropic.Bedrock.AccessKeyID = val },
			IsSet:      func(c *Config) bool { return c.LLM.Anthropic.Bedrock.AccessKeyID != "" },
		},
		{
			KeyringKey: "bedrock_secret_access_key",
			Setter:     func(c *Config, val string) { c.LLM.Anthropic.Bedrock.SecretAccessKey = val },
			IsSet:      func(c *Config) bool { return c.LLM.Anthropic.Bedrock.SecretAccessKey != "" },
		},
		{
			KeyringKey: "bedrock_session_token",
			Setter:     func(c *Config, val string) { c.LLM.Anthropic.Bedrock.SessionToken = val },
			IsSet:      func(c *Config) bool { return c.LLM.Anthropic.Bedrock.SessionToken != "" },
		},
		{
			KeyringKey: "serper_api_key",
			EnvVar:     "SERPER_API_KEY",
			Setter:     func(c *Config, val string) { c.Tools.Search.SerperAPIKey = val },
			IsSet:      func(c *Config) bool { return c.Tools.Search.SerperAPIKey != "" },
		},
		{
			KeyringKey: "tavily_api_key",
			EnvVar:     "TAVILY_API_KEY",
			Setter:     func(c *Config, val string) { c.Tools.Search.TavilyAPIKey = val },
			IsSet:      func(c *Config) bool { return c.Tools.Search.TavilyAPIKey != "" },
		},
		{
			KeyringKey: "postgres_password",
			Setter:     func(c *Config, val string) { c.Storage.Postgres.Password = val },
			IsSet:      func(c *Config) bool { return c.Storage.Postgres.Password != "" },
		},
	}
}

// loadSecrets fills unset secrets from their environment variable, then
// from the keyring. A missing or unavailable keyring is not an error.
func loadSecrets(config *Config) {
	for _, mapping := range GetSecretMappings() {
		if mapping.IsSet(config) {
			continue
		}
		if mapping.EnvVar != "" {
			if value := os.Getenv(mapping.EnvVar); value != "" {
				mapping.Setter(config, value)
				continue
			}
		}
		if value, err := GetSecretFromKeyring(mapping.KeyringKey); err == nil && value != "" {
			mapping.Setter(config, value)
		}
	}
}

// GetSecretFromKeyring retrieves a secret from the system keyring.
func GetSecretFromKeyring(key string) (string, error) {
	return keyring.Get(ServiceName, key)
}

// SaveSecretToKeyring saves a secret to the system keyring.
func SaveSecretToKeyring(key, value string) error {
	return keyring.Set(ServiceName, key, value)
}

// DeleteSecretFromKeyring removes a secret from the system keyring.
func DeleteSecretFromKeyring(key string) error {
	return keyring.Delete(ServiceName, key)
}

// ListAvailableSecretKeys returns all known keyring keys.
func ListAvailableSecretKeys() []string {
	mappings := GetSecretMappings()
	keys := make([]string, len(mappings))
	for i, mapping := range mappings {
		keys[i] = mapping.KeyringKey
	}
	return keys
}

// Validate checks the sections every command needs.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Workflow.Validate(); err != nil {
		return fmt.Errorf("workflow: %w", err)
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Retention.Validate(); err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	if c.Artifacts.Dir == "" {
		return fmt.Errorf("artifacts.dir is required")
	}
	if c.Jobs.MaxConcurrentJobs < 0 {
		return fmt.Errorf("jobs.max_concurrent_jobs must not be negative")
	}
	for i, s := range c.MCP.Servers {
		if s.Name == "" {
			return fmt.Errorf("mcp.servers[%d]: name is required", i)
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console", "text":
	default:
		return fmt.Errorf("unsupported logging.format %q", c.Logging.Format)
	}
	return nil
}

// NewLogger builds the production zap logger described by cfg. Stack
// traces are only attached at error level.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()

	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	switch strings.ToLower(cfg.Format) {
	case "console", "text":
		zapConfig.Encoding = "console"
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.File != "" {
		zapConfig.OutputPaths = []string{cfg.File}
		zapConfig.ErrorOutputPaths = []string{cfg.File}
	}

	return zapConfig.Build(zap.AddStacktrace(zap.ErrorLevel))
}
