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

// Package mcp exposes tools hosted on Model Context Protocol servers (search,
// social, scraping and video lookups) as shuttle tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/teradata-labs/loom-research/pkg/observability"
	"github.com/teradata-labs/loom-research/pkg/shuttle"
)

// ServerConfig describes one MCP server.
type ServerConfig struct {
	Name string `mapstructure:"name"`
	// Transport is "streamable_http", "sse" or "command".
	Transport string            `mapstructure:"transport"`
	URL       string            `mapstructure:"url"`
	Headers   map[string]string `mapstructure:"headers"`
	Command   string            `mapstructure:"command"`
	Args      []string          `mapstructure:"args"`
	Env       map[string]string `mapstructure:"env"`
}

// Source holds live MCP client sessions and wraps their tools.
type Source struct {
	client *sdkmcp.Client
	logger *zap.Logger
	tracer observability.Tracer

	mu       sync.RWMutex
	sessions map[string]*sdkmcp.ClientSession
}

// NewSource creates an MCP tool source with no connected servers.
func NewSource(logger *zap.Logger, tracer observability.Tracer) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &Source{
		client:   sdkmcp.NewClient(&sdkmcp.Implementation{Name: "loom-research", Version: "1.0.0"}, nil),
		logger:   logger,
		tracer:   tracer,
		sessions: make(map[string]*sdkmcp.ClientSession),
	}
}

// Connect starts a session with the configured server.
func (s *Source) Connect(ctx context.Context, cfg ServerConfig) error {
	transport, err := buildTransport(cfg)
	if err != nil {
		return err
	}
	return s.ConnectTransport(ctx, cfg.Name, transport)
}

// ConnectTransport starts a session over an already built transport.
func (s *Source) ConnectTransport(ctx context.Context, name string, transport sdkmcp.Transport) error {
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanMCPConnect,
		observability.WithAttribute(observability.AttrMCPServerName, name))
	defer s.tracer.EndSpan(span)

	session, err := s.client.Connect(ctx, transport, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("connect MCP server %q: %w", name, err)
	}

	s.mu.Lock()
	if old, ok := s.sessions[name]; ok {
		_ = old.Close()
	}
	s.sessions[name] = session
	s.mu.Unlock()

	s.logger.Info("MCP server connected", zap.String("server", name))
	return nil
}

func buildTransport(cfg ServerConfig) (sdkmcp.Transport, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("mcp server name is required")
	}
	kind := strings.ToLower(strings.TrimSpace(cfg.Transport))
	if kind == "" {
		if cfg.URL != "" {
			kind = "streamable_http"
		} else {
			kind = "command"
		}
	}

	var httpClient *http.Client
	if len(cfg.Headers) > 0 {
		httpClient = &http.Client{Transport: &headerTransport{headers: cfg.Headers, base: http.DefaultTransport}}
	}

	switch kind {
	case "streamable_http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcp server %q: url is required for streamable_http transport", cfg.Name)
		}
		return &sdkmcp.StreamableClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient}, nil
	case "sse":
		if cfg.URL == "" {
			return nil, fmt.Errorf("mcp server %q: url is required for sse transport", cfg.Name)
		}
		return &sdkmcp.SSEClientTransport{Endpoint: cfg.URL, HTTPClient: httpClient}, nil
	case "command":
		if cfg.Command == "" {
			return nil, fmt.Errorf("mcp server %q: command is required for command transport", cfg.Name)
		}
		cmd := exec.Command(cfg.Command, cfg.Args...)
		if len(cfg.Env) > 0 {
			env := os.Environ()
			for k, v := range cfg.Env {
				env = append(env, fmt.Sprintf("%s=%s", k, v))
			}
			cmd.Env = env
		}
		return &sdkmcp.CommandTransport{Command: cmd}, nil
	default:
		return nil, fmt.Errorf("mcp server %q: unsupported transport %q", cfg.Name, cfg.Transport)
	}
}

type headerTransport struct {
	headers map[string]string
	base    http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

// Tools lists the tools of every connected server.
func (s *Source) Tools(ctx context.Context) ([]shuttle.Tool, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.sessions))
	for name := range s.sessions {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	var tools []shuttle.Tool
	for _, name := range names {
		serverTools, err := s.serverTools(ctx, name)
		if err != nil {
			return nil, err
		}
		tools = append(tools, serverTools...)
	}
	return tools, nil
}

func (s *Source) serverTools(ctx context.Context, server string) ([]shuttle.Tool, error) {
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanMCPToolsList,
		observability.WithAttribute(observability.AttrMCPServerName, server))
	defer s.tracer.EndSpan(span)

	session, ok := s.session(server)
	if !ok {
		return nil, fmt.Errorf("mcp server %q is not connected", server)
	}

	result, err := session.ListTools(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("tools/list on %q: %w", server, err)
	}

	tools := make([]shuttle.Tool, 0, len(result.Tools))
	for _, remote := range result.Tools {
		tools = append(tools, newTool(s, server, remote))
	}
	s.logger.Info("Loaded MCP tools", zap.String("server", server), zap.Int("tools", len(tools)))
	return tools, nil
}

// RegisterAll registers every MCP tool on reg and returns how many were added.
func (s *Source) RegisterAll(ctx context.Context, reg *shuttle.Registry) (int, error) {
	tools, err := s.Tools(ctx)
	if err != nil {
		return 0, err
	}
	for _, t := range tools {
		reg.Register(t)
	}
	return len(tools), nil
}

func (s *Source) session(name string) (*sdkmcp.ClientSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[name]
	return session, ok
}

// Close closes every session.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for name, session := range s.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close MCP server %q: %w", name, err)
		}
		delete(s.sessions, name)
	}
	return firstErr
}

// Tool adapts one remote MCP tool to shuttle.Tool.
type Tool struct {
	source *Source
	server string
	remote *sdkmcp.Tool
	schema *shuttle.JSONSchema
}

func newTool(source *Source, server string, remote *sdkmcp.Tool) *Tool {
	return &Tool{
		source: source,
		server: server,
		remote: remote,
		schema: convertSchema(remote.InputSchema),
	}
}

// Name returns mcp_<server>_<tool>, sanitized. A hash of the original names is
// appended when sanitizing lost information or the name is too long.
func (t *Tool) Name() string {
	return ToolName(t.server, t.remote.Name)
}

const maxToolNameLength = 64

// ToolName builds the local name for a remote tool.
func ToolName(server, tool string) string {
	s, tn := sanitize(server), sanitize(tool)
	full := fmt.Sprintf("mcp_%s_%s", s, tn)
	lossless := strings.ToLower(server) == s && strings.ToLower(tool) == tn
	if lossless && len(full) <= maxToolNameLength {
		return full
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(server + "\x00" + tool))
	base := full
	if len(base) > maxToolNameLength-9 {
		base = strings.TrimRight(full[:maxToolNameLength-9], "_")
	}
	return fmt.Sprintf("%s_%08x", base, h.Sum32())
}

func sanitize(s string) string {
	var b strings.Builder
	prevUnderscore := false
	for _, r := range strings.ToLower(s) {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-'
		if !ok {
			if !prevUnderscore {
				b.WriteRune('_')
				prevUnderscore = true
			}
			continue
		}
		prevUnderscore = false
		b.WriteRune(r)
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unnamed"
	}
	return out
}

func (t *Tool) Description() string {
	desc := t.remote.Description
	if desc == "" {
		desc = fmt.Sprintf("MCP tool from %s server", t.server)
	}
	return fmt.Sprintf("[MCP:%s] %s", t.server, desc)
}

func (t *Tool) InputSchema() *shuttle.JSONSchema {
	return t.schema
}

// Execute calls the remote tool. Transport failures and tool-reported errors
// both come back as failed Results.
func (t *Tool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	ctx, span := t.source.tracer.StartSpan(ctx, observability.SpanMCPToolsCall,
		observability.WithAttribute(observability.AttrMCPServerName, t.server),
		observability.WithAttribute(observability.AttrToolName, t.remote.Name))
	defer t.source.tracer.EndSpan(span)

	session, ok := t.source.session(t.server)
	if !ok {
		return shuttle.ErrorResult(shuttle.ErrCodeExecution, fmt.Sprintf("mcp server %q is not connected", t.server)), nil
	}

	result, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      t.remote.Name,
		Arguments: params,
	})
	if err != nil {
		span.RecordError(err)
		return &shuttle.Result{
			Success: false,
			Error: &shuttle.Error{
				Code:      shuttle.ErrCodeExecution,
				Message:   fmt.Sprintf("tools/call %s: %v", t.remote.Name, err),
				Retryable: true,
			},
		}, nil
	}

	text := extractText(result)
	if result.IsError {
		return shuttle.ErrorResult(shuttle.ErrCodeExecution, text), nil
	}
	return &shuttle.Result{
		Success:  true,
		Data:     text,
		Metadata: map[string]interface{}{"server": t.server},
	}, nil
}

func convertSchema(raw interface{}) *shuttle.JSONSchema {
	fallback := shuttle.NewObjectSchema("", map[string]*shuttle.JSONSchema{}, nil)
	if raw == nil {
		return fallback
	}
	var m map[string]interface{}
	switch v := raw.(type) {
	case map[string]interface{}:
		m = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fallback
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return fallback
		}
	}
	schema, err := shuttle.SchemaFromMap(m)
	if err != nil {
		return fallback
	}
	return schema
}

// extractText converts content blocks and structured content into text.
func extractText(result *sdkmcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		switch c := content.(type) {
		case *sdkmcp.TextContent:
			parts = append(parts, c.Text)
		case *sdkmcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image: %s, %d bytes]", c.MIMEType, len(c.Data)))
		case *sdkmcp.ResourceLink:
			parts = append(parts, fmt.Sprintf("[resource_link: %s]", c.URI))
		case *sdkmcp.EmbeddedResource:
			if c.Resource != nil && c.Resource.Text != "" {
				parts = append(parts, c.Resource.Text)
			}
		}
	}
	if len(parts) == 0 && result.StructuredContent != nil {
		if data, err := json.MarshalIndent(result.StructuredContent, "", "  "); err == nil {
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, "\n")
}

var _ shuttle.Tool = (*Tool)(nil)
