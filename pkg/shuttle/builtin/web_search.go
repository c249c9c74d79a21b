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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/teradata-labs/loom-research/pkg/shuttle"
)

// Default web search API endpoints.
const (
	DefaultSerperEndpoint = "https://google.serper.dev"
	DefaultTavilyEndpoint = "https://api.tavily.com/search"
	DefaultSearchTimeout  = 30 * time.Second
	DefaultMaxResults     = 10
)

// SearchConfig configures the web search tool. Keys come from the daemon
// config (file, env or keyring); nothing is read from the environment here.
type SearchConfig struct {
	// Provider is "serper" or "tavily". Empty picks whichever has a key,
	// preferring serper.
	Provider string `mapstructure:"provider"`

	SerperAPIKey string `mapstructure:"serper_api_key"`
	TavilyAPIKey string `mapstructure:"tavily_api_key"`

	SerperEndpoint string `mapstructure:"serper_endpoint"`
	TavilyEndpoint string `mapstructure:"tavily_endpoint"`

	Timeout    time.Duration `mapstructure:"timeout"`
	MaxResults int           `mapstructure:"max_results"`
}

// WebSearchTool searches the web through serper.dev (Google results, news and
// shopping verticals) or Tavily.
type WebSearchTool struct {
	client *http.Client
	cfg    SearchConfig
}

// NewWebSearchTool creates a new web search tool.
func NewWebSearchTool(cfg SearchConfig) *WebSearchTool {
	if cfg.SerperEndpoint == "" {
		cfg.SerperEndpoint = DefaultSerperEndpoint
	}
	if cfg.TavilyEndpoint == "" {
		cfg.TavilyEndpoint = DefaultTavilyEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSearchTimeout
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.Provider == "" {
		switch {
		case cfg.SerperAPIKey != "":
			cfg.Provider = "serper"
		case cfg.TavilyAPIKey != "":
			cfg.Provider = "tavily"
		default:
			cfg.Provider = "serper"
		}
	}

	return &WebSearchTool{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		cfg: cfg,
	}
}

func (t *WebSearchTool) Name() string {
	return "web_search"
}

func (t *WebSearchTool) Description() string {
	return `Search the web for current information: articles, news coverage and product listings.
Returns results with titles, URLs and snippets.

Use search_type:
- "search" for general web results (default)
- "news" for recent press coverage and announcements
- "shopping" for product listings and price points

Follow up with fetch_page or fetch_document to read a result in full.`
}

func (t *WebSearchTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema(
		"Parameters for web search",
		map[string]*shuttle.JSONSchema{
			"query": shuttle.NewStringSchema("The search query (required)"),
			"search_type": shuttle.NewStringSchema("Result vertical (default: search)").
				WithEnum("search", "news", "shopping").
				WithDefault("search"),
			"max_results": shuttle.NewNumberSchema("Maximum number of results to return (default: 10)").
				WithRange(1, 50),
		},
		[]string{"query"},
	)
}

// SearchResult represents a single search result.
type SearchResult struct {
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Snippet     string  `json:"snippet"`
	Source      string  `json:"source,omitempty"`
	PublishedAt string  `json:"published_at,omitempty"`
	Price       string  `json:"price,omitempty"`
	Score       float64 `json:"score,omitempty"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	query, ok := params["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return &shuttle.Result{
			Success: false,
			Error: &shuttle.Error{
				Code:       shuttle.ErrCodeInvalidParams,
				Message:    "query is required",
				Suggestion: "Provide a search query (e.g., 'home battery storage market size 2025')",
			},
		}, nil
	}

	searchType := "search"
	if s, ok := params["search_type"].(string); ok && s != "" {
		searchType = strings.ToLower(s)
	}

	maxResults := t.cfg.MaxResults
	if m, ok := params["max_results"].(float64); ok && m > 0 {
		maxResults = int(m)
	}

	var (
		results []SearchResult
		err     error
	)
	switch t.cfg.Provider {
	case "serper":
		if t.cfg.SerperAPIKey == "" {
			return missingKey("serper", "tools.serper_api_key"), nil
		}
		results, err = t.searchSerper(ctx, query, searchType, maxResults)
	case "tavily":
		if t.cfg.TavilyAPIKey == "" {
			return missingKey("tavily", "tools.tavily_api_key"), nil
		}
		results, err = t.searchTavily(ctx, query, searchType, maxResults)
	default:
		return &shuttle.Result{
			Success: false,
			Error: &shuttle.Error{
				Code:    "INVALID_PROVIDER",
				Message: fmt.Sprintf("Unknown search provider: %s", t.cfg.Provider),
			},
		}, nil
	}

	if err != nil {
		return &shuttle.Result{
			Success: false,
			Error: &shuttle.Error{
				Code:       "SEARCH_FAILED",
				Message:    fmt.Sprintf("Search failed: %v", err),
				Retryable:  true,
				Suggestion: "Try a broader query or retry later",
			},
		}, nil
	}

	return &shuttle.Result{
		Success: true,
		Data: map[string]interface{}{
			"query":        query,
			"search_type":  searchType,
			"results":      results,
			"result_count": len(results),
		},
		Metadata: map[string]interface{}{
			"provider":     t.cfg.Provider,
			"result_count": len(results),
		},
	}, nil
}

func missingKey(provider, key string) *shuttle.Result {
	return &shuttle.Result{
		Success: false,
		Error: &shuttle.Error{
			Code:       "MISSING_API_KEY",
			Message:    fmt.Sprintf("API key required for provider: %s", provider),
			Suggestion: fmt.Sprintf("Set %s in the config file, environment, or keyring", key),
		},
	}
}

// searchSerper queries serper.dev. The vertical maps onto the URL path
// (/search, /news, /shopping).
func (t *WebSearchTool) searchSerper(ctx context.Context, query, searchType string, maxResults int) ([]SearchResult, error) {
	endpoint := strings.TrimRight(t.cfg.SerperEndpoint, "/") + "/" + searchType

	body, err := json.Marshal(map[string]interface{}{
		"q":   query,
		"num": maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", t.cfg.SerperAPIKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(data))
	}

	var serperResp struct {
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Date    string `json:"date"`
		} `json:"organic"`
		News []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
			Date    string `json:"date"`
			Source  string `json:"source"`
		} `json:"news"`
		Shopping []struct {
			Title  string `json:"title"`
			Link   string `json:"link"`
			Source string `json:"source"`
			Price  string `json:"price"`
		} `json:"shopping"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&serperResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var results []SearchResult
	for _, r := range serperResp.Organic {
		results = append(results, SearchResult{Title: r.Title, URL: r.Link, Snippet: r.Snippet, PublishedAt: r.Date})
	}
	for _, r := range serperResp.News {
		results = append(results, SearchResult{Title: r.Title, URL: r.Link, Snippet: r.Snippet, PublishedAt: r.Date, Source: r.Source})
	}
	for _, r := range serperResp.Shopping {
		results = append(results, SearchResult{Title: r.Title, URL: r.Link, Source: r.Source, Price: r.Price})
	}
	if len(results) > maxResults {
		results = results[:maxResults]
	}
	return results, nil
}

// searchTavily searches using the Tavily API. Tavily has a "news" topic; the
// shopping vertical falls back to general search.
func (t *WebSearchTool) searchTavily(ctx context.Context, query, searchType string, maxResults int) ([]SearchResult, error) {
	topic := "general"
	if searchType == "news" {
		topic = "news"
	}

	body, err := json.Marshal(map[string]interface{}{
		"api_key":        t.cfg.TavilyAPIKey,
		"query":          query,
		"max_results":    maxResults,
		"topic":          topic,
		"search_depth":   "basic",
		"include_answer": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.TavilyEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(data))
	}

	var tavilyResp struct {
		Results []struct {
			Title         string  `json:"title"`
			URL           string  `json:"url"`
			Content       string  `json:"content"`
			Score         float64 `json:"score"`
			PublishedDate string  `json:"published_date"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tavilyResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]SearchResult, 0, len(tavilyResp.Results))
	for _, r := range tavilyResp.Results {
		results = append(results, SearchResult{
			Title:       r.Title,
			URL:         r.URL,
			Snippet:     r.Content,
			Score:       r.Score,
			PublishedAt: r.PublishedDate,
		})
	}
	return results, nil
}

var _ shuttle.Tool = (*WebSearchTool)(nil)
