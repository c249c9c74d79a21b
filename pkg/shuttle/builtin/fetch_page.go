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
package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/teradata-labs/loom-research/pkg/shuttle"
)

const (
	// DefaultMaxFetchBytes caps how much of a response body is read.
	DefaultMaxFetchBytes = 5 << 20
	// DefaultMaxPageChars caps the text handed back to the model.
	DefaultMaxPageChars = 20000

	userAgent = "loom-research/1.0 (+https://github.com/teradata-labs/loom-research)"
)

// FetchConfig configures the page and document fetch tools.
type FetchConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxBytes int64         `mapstructure:"max_bytes"`
	MaxChars int           `mapstructure:"max_chars"`
}

func (c FetchConfig) withDefaults() FetchConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultSearchTimeout
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxFetchBytes
	}
	if c.MaxChars <= 0 {
		c.MaxChars = DefaultMaxPageChars
	}
	return c
}

// download performs a size-capped GET and returns the body and content type.
func download(ctx context.Context, client *http.Client, rawURL string, maxBytes int64) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, "", fmt.Errorf("invalid url %q: only absolute http(s) URLs are supported", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read body: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// FetchPageTool retrieves a web page and returns its readable text.
type FetchPageTool struct {
	client *http.Client
	cfg    FetchConfig
}

// NewFetchPageTool creates a new page fetch tool.
func NewFetchPageTool(cfg FetchConfig) *FetchPageTool {
	cfg = cfg.withDefaults()
	return &FetchPageTool{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

func (t *FetchPageTool) Name() string {
	return "fetch_page"
}

func (t *FetchPageTool) Description() string {
	return `Fetch a web page and return its title and readable text (scripts, styles and navigation removed).
Use after web_search to read a promising result in full.`
}

func (t *FetchPageTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema(
		"Parameters for page retrieval",
		map[string]*shuttle.JSONSchema{
			"url": shuttle.NewStringSchema("Absolute http(s) URL to fetch (required)"),
		},
		[]string{"url"},
	)
}

func (t *FetchPageTool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	rawURL, _ := params["url"].(string)
	if rawURL == "" {
		return shuttle.ErrorResult(shuttle.ErrCodeInvalidParams, "url is required"), nil
	}

	body, contentType, err := download(ctx, t.client, rawURL, t.cfg.MaxBytes)
	if err != nil {
		return &shuttle.Result{
			Success: false,
			Error: &shuttle.Error{
				Code:      shuttle.ErrCodeHTTP,
				Message:   err.Error(),
				Retryable: true,
			},
		}, nil
	}

	var title, text string
	if strings.Contains(contentType, "html") || contentType == "" {
		title, text, err = extractHTMLText(string(body))
		if err != nil {
			return shuttle.ErrorResult(shuttle.ErrCodeExecution, fmt.Sprintf("failed to parse HTML: %v", err)), nil
		}
	} else if strings.HasPrefix(contentType, "text/") || strings.Contains(contentType, "json") {
		text = string(body)
	} else {
		return &shuttle.Result{
			Success: false,
			Error: &shuttle.Error{
				Code:       shuttle.ErrCodeUnsupported,
				Message:    fmt.Sprintf("unsupported content type %q", contentType),
				Suggestion: "Use fetch_document for PDF and spreadsheet files",
			},
		}, nil
	}

	truncated := false
	if len(text) > t.cfg.MaxChars {
		text = text[:t.cfg.MaxChars]
		truncated = true
	}

	return &shuttle.Result{
		Success: true,
		Data: map[string]interface{}{
			"url":       rawURL,
			"title":     title,
			"text":      text,
			"truncated": truncated,
		},
	}, nil
}

var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "nav": true,
	"header": true, "footer": true, "svg": true, "iframe": true, "form": true,
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true,
	"article": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "ul": true, "ol": true, "blockquote": true,
}

// extractHTMLText walks the parsed document collecting visible text.
func extractHTMLText(doc string) (string, string, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return "", "", err
	}

	var title string
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skippedElements[n.Data] {
				return
			}
			if n.Data == "title" && n.FirstChild != nil && title == "" {
				title = strings.TrimSpace(n.FirstChild.Data)
				return
			}
		}
		if n.Type == html.TextNode {
			if s := strings.TrimSpace(n.Data); s != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.Data] {
			b.WriteByte('\n')
		}
	}
	walk(root)

	return title, collapseBlankLines(b.String()), nil
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

var _ shuttle.Tool = (*FetchPageTool)(nil)
