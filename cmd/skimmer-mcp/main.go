// skimmer-mcp is an MCP stdio server bridging MCP clients to a running
// skimmer instance. It exposes page extraction and service health as tools.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// extractRequest mirrors the skimmer API request model.
type extractRequest struct {
	URL      string `json:"url"`
	ModeHint string `json:"mode_hint,omitempty"`
	Timeout  int    `json:"timeout,omitempty"`
}

// extractResponse mirrors the skimmer API response model.
type extractResponse struct {
	Success  bool `json:"success"`
	Document *struct {
		URL          string  `json:"url"`
		Title        string  `json:"title"`
		Byline       string  `json:"byline"`
		Markdown     string  `json:"markdown"`
		Text         string  `json:"text"`
		WordCount    int     `json:"word_count"`
		QualityScore float64 `json:"quality_score"`
		Degraded     bool    `json:"degraded"`
	} `json:"document"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	apiURL := os.Getenv("SKIMMER_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("SKIMMER_API_KEY")

	s := server.NewMCPServer(
		"skimmer",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	extractTool := mcp.NewTool("extract_page",
		mcp.WithDescription("Extract the main content of a web page as Markdown. Automatically picks between fast static extraction and headless rendering for JavaScript-heavy pages."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the page to extract"),
		),
		mcp.WithString("mode_hint",
			mcp.Description("Force an extraction mode instead of letting the gate decide: 'raw' (static HTML), 'probes_first' (CSS probes, then readability), or 'headless' (full browser render)"),
			mcp.Enum("raw", "probes_first", "headless"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Timeout in seconds for the whole extraction (default: server-side)"),
		),
	)
	s.AddTool(extractTool, handleExtractPage(apiURL, apiKey))

	statsTool := mcp.NewTool("service_stats",
		mcp.WithDescription("Report the skimmer service's reliability counters: attempts, successes, failures and circuit-breaker trips."),
	)
	s.AddTool(statsTool, handleServiceStats(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func handleExtractPage(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 150 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		reqBody := extractRequest{
			URL:      url,
			ModeHint: request.GetString("mode_hint", ""),
			Timeout:  request.GetInt("timeout", 0),
		}
		body, err := json.Marshal(reqBody)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal request: %v", err)), nil
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/api/v1/extract", bytes.NewReader(body))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create request: %v", err)), nil
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if apiKey != "" {
			httpReq.Header.Set("X-API-Key", apiKey)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("API request failed: %v", err)), nil
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read response: %v", err)), nil
		}

		var extractResp extractResponse
		if err := json.Unmarshal(respBody, &extractResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !extractResp.Success || extractResp.Document == nil {
			errMsg := "extraction failed"
			if extractResp.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", extractResp.Error.Code, extractResp.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		d := extractResp.Document
		header := fmt.Sprintf("Title: %s\nSource: %s\nWords: %d\nQuality: %.2f\n",
			d.Title, d.URL, d.WordCount, d.QualityScore)
		if d.Degraded {
			header += "Note: degraded result (extraction escalated or quality below threshold)\n"
		}
		content := d.Markdown
		if content == "" {
			content = d.Text
		}
		return mcp.NewToolResultText(header + "\n" + content), nil
	}
}

func handleServiceStats(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 10 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/api/v1/stats", nil)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create request: %v", err)), nil
		}
		if apiKey != "" {
			httpReq.Header.Set("X-API-Key", apiKey)
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("API request failed: %v", err)), nil
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read response: %v", err)), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}
