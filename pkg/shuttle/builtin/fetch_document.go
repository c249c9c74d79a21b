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
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/teradata-labs/loom-research/pkg/shuttle"
)

// Extraction limits for fetched documents.
const (
	MaxPDFPages  = 50
	MaxSheetRows = 500
)

// FetchDocumentTool downloads a PDF or XLSX file (analyst reports, filings,
// data tables) and returns its text.
type FetchDocumentTool struct {
	client *http.Client
	cfg    FetchConfig
}

// NewFetchDocumentTool creates a new document fetch tool.
func NewFetchDocumentTool(cfg FetchConfig) *FetchDocumentTool {
	cfg = cfg.withDefaults()
	return &FetchDocumentTool{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

func (t *FetchDocumentTool) Name() string {
	return "fetch_document"
}

func (t *FetchDocumentTool) Description() string {
	return `Download a PDF or Excel (.xlsx) document from a URL and extract its text.
PDFs return page text; spreadsheets return each sheet as tab-separated rows.`
}

func (t *FetchDocumentTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema(
		"Parameters for document retrieval",
		map[string]*shuttle.JSONSchema{
			"url": shuttle.NewStringSchema("Absolute http(s) URL of the document (required)"),
			"format": shuttle.NewStringSchema("Document format; detected from the URL or content type when omitted").
				WithEnum("pdf", "xlsx"),
		},
		[]string{"url"},
	)
}

func (t *FetchDocumentTool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
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

	format, _ := params["format"].(string)
	if format == "" {
		format = detectFormat(rawURL, contentType, body)
	}

	var text string
	var pages int
	switch format {
	case "pdf":
		text, pages, err = extractPDF(body)
	case "xlsx":
		text, pages, err = extractSpreadsheet(body)
	default:
		return &shuttle.Result{
			Success: false,
			Error: &shuttle.Error{
				Code:       shuttle.ErrCodeUnsupported,
				Message:    fmt.Sprintf("cannot determine a supported document format for %s", rawURL),
				Suggestion: "Use fetch_page for HTML pages, or pass format explicitly",
			},
		}, nil
	}
	if err != nil {
		return shuttle.ErrorResult(shuttle.ErrCodeExecution, fmt.Sprintf("failed to extract %s: %v", format, err)), nil
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
			"format":    format,
			"sections":  pages,
			"text":      text,
			"truncated": truncated,
		},
	}, nil
}

func detectFormat(rawURL, contentType string, body []byte) string {
	switch {
	case strings.Contains(contentType, "pdf"), bytes.HasPrefix(body, []byte("%PDF")):
		return "pdf"
	case strings.Contains(contentType, "spreadsheetml"):
		return "xlsx"
	}
	switch strings.ToLower(path.Ext(strings.SplitN(rawURL, "?", 2)[0])) {
	case ".pdf":
		return "pdf"
	case ".xlsx":
		return "xlsx"
	}
	return ""
}

func extractPDF(body []byte) (string, int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", 0, fmt.Errorf("error opening PDF: %w", err)
	}

	total := reader.NumPage()
	var b strings.Builder
	extracted := 0
	for i := 1; i <= total && extracted < MaxPDFPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "--- page %d ---\n%s\n", i, strings.TrimSpace(text))
		extracted++
	}
	return b.String(), extracted, nil
}

func extractSpreadsheet(body []byte) (string, int, error) {
	file, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("error opening spreadsheet: %w", err)
	}
	defer file.Close()

	var b strings.Builder
	sheets := 0
	for _, sheet := range file.GetSheetList() {
		rows, err := file.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		sheets++
		fmt.Fprintf(&b, "--- sheet %s ---\n", sheet)
		for i, row := range rows {
			if i >= MaxSheetRows {
				fmt.Fprintf(&b, "... %d more rows\n", len(rows)-MaxSheetRows)
				break
			}
			b.WriteString(strings.Join(row, "\t"))
			b.WriteByte('\n')
		}
	}
	return b.String(), sheets, nil
}

var _ shuttle.Tool = (*FetchDocumentTool)(nil)
