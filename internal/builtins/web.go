package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentcore/engine/internal/tools"
	"github.com/agentcore/engine/pkg/models"
)

const (
	httpMaxBodyBytes   = 200_000
	httpDefaultTimeout = 30 * time.Second
)

// HTTPRequestTool issues an HTTP request and returns its status, headers,
// and a capped body: a single synchronous call with a bounded response
// read, the same shape used by this codebase's other HTTP-backed calls.
type HTTPRequestTool struct {
	client *http.Client
}

func NewHTTPRequestTool() *HTTPRequestTool {
	return &HTTPRequestTool{client: &http.Client{Timeout: httpDefaultTimeout}}
}

func (t *HTTPRequestTool) Name() string { return "http_request" }
func (t *HTTPRequestTool) Description() string {
	return "Issue an HTTP request and return its status code, headers, and response body."
}

func (t *HTTPRequestTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "Target URL."},
			"method": {"type": "string", "description": "HTTP method, defaults to GET."},
			"headers": {"type": "object", "additionalProperties": {"type": "string"}},
			"body": {"type": "string", "description": "Request body for methods that accept one."}
		},
		"required": ["url"]
	}`)
}

func (t *HTTPRequestTool) Execute(ctx context.Context, params json.RawMessage, execCtx tools.ExecutionContext) (*models.ToolResult, error) {
	var input struct {
		URL     string            `json:"url"`
		Method  string            `json:"method"`
		Headers map[string]string `json:"headers"`
		Body    string            `json:"body"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.URL) == "" {
		return toolError("url is required"), nil
	}
	method := strings.ToUpper(strings.TrimSpace(input.Method))
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(ctx, method, input.URL, strings.NewReader(input.Body))
	if err != nil {
		return toolError(fmt.Sprintf("build request: %v", err)), nil
	}
	for k, v := range input.Headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return toolError(fmt.Sprintf("request failed: %v", err)), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpMaxBodyBytes))
	if err != nil {
		return toolError(fmt.Sprintf("read response: %v", err)), nil
	}

	payload, _ := json.Marshal(map[string]any{
		"status_code": resp.StatusCode,
		"headers":     flattenHeaders(resp.Header),
		"body":        string(body),
	})
	return &models.ToolResult{Content: string(payload), IsError: resp.StatusCode >= 400}, nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// WebSearchTool queries DuckDuckGo's HTML-free instant-answer endpoint
// and returns its abstract and related topics as search results, with no
// multi-backend selection, result cache, or content-extraction pass.
type WebSearchTool struct {
	client *http.Client
}

func NewWebSearchTool() *WebSearchTool {
	return &WebSearchTool{client: &http.Client{Timeout: httpDefaultTimeout}}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the web and return a list of result titles, URLs, and snippets."
}

func (t *WebSearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "Search query."},
			"result_count": {"type": "integer", "minimum": 1, "maximum": 10, "description": "Number of results to return, default 5."}
		},
		"required": ["query"]
	}`)
}

type webSearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage, execCtx tools.ExecutionContext) (*models.ToolResult, error) {
	var input struct {
		Query       string `json:"query"`
		ResultCount int    `json:"result_count"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Query) == "" {
		return toolError("query is required"), nil
	}
	limit := input.ResultCount
	if limit <= 0 {
		limit = 5
	}

	instantURL := "https://api.duckduckgo.com/?" + url.Values{
		"q":      {input.Query},
		"format": {"json"},
		"no_html": {"1"},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, instantURL, nil)
	if err != nil {
		return toolError(fmt.Sprintf("build request: %v", err)), nil
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return toolError(fmt.Sprintf("search request failed: %v", err)), nil
	}
	defer resp.Body.Close()

	var raw struct {
		AbstractText string `json:"AbstractText"`
		AbstractURL  string `json:"AbstractURL"`
		Heading      string `json:"Heading"`
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, httpMaxBodyBytes)).Decode(&raw); err != nil {
		return toolError(fmt.Sprintf("decode response: %v", err)), nil
	}

	var results []webSearchResult
	if raw.AbstractText != "" {
		results = append(results, webSearchResult{Title: raw.Heading, URL: raw.AbstractURL, Snippet: raw.AbstractText})
	}
	for _, rt := range raw.RelatedTopics {
		if len(results) >= limit {
			break
		}
		if rt.Text == "" {
			continue
		}
		results = append(results, webSearchResult{Title: rt.Text, URL: rt.FirstURL, Snippet: rt.Text})
	}

	payload, _ := json.Marshal(map[string]any{
		"query":   input.Query,
		"results": results,
	})
	return &models.ToolResult{Content: string(payload)}, nil
}
