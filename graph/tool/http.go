package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dshills/stepgraph/graph/model"
)

// DefaultMaxBody caps how much of a response body HTTPTool reads.
const DefaultMaxBody = 1 << 20

// HTTPTool performs HTTP requests on a model's behalf.
//
// Input: url (required), method (GET or POST, default GET), headers
// (map of strings) and body (string). Output: status_code, headers and
// body, truncated to MaxBody bytes.
type HTTPTool struct {
	client  *http.Client
	MaxBody int64
}

// NewHTTPTool returns an HTTPTool using client, or http.DefaultClient when
// client is nil. Timeouts come from the step context.
func NewHTTPTool(client *http.Client) *HTTPTool {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTool{client: client, MaxBody: DefaultMaxBody}
}

// Name implements Tool.
func (h *HTTPTool) Name() string { return "http_request" }

// Spec implements Describer.
func (h *HTTPTool) Spec() model.ToolSpec {
	return model.ToolSpec{
		Name:        h.Name(),
		Description: "Perform an HTTP GET or POST request and return the status, headers and body.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"url":     map[string]interface{}{"type": "string", "description": "absolute URL"},
				"method":  map[string]interface{}{"type": "string", "description": "GET or POST"},
				"body":    map[string]interface{}{"type": "string"},
				"headers": map[string]interface{}{"type": "object"},
			},
			"required": []string{"url"},
		},
	}
}

// Call implements Tool.
func (h *HTTPTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	url, ok := input["url"].(string)
	if !ok || url == "" {
		return nil, fmt.Errorf("url parameter required (string)")
	}

	method := http.MethodGet
	if m, ok := input["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, fmt.Errorf("unsupported HTTP method: %s (supported: GET, POST)", method)
	}

	var body io.Reader
	if s, ok := input["body"].(string); ok && s != "" {
		body = strings.NewReader(s)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if headers, ok := input["headers"].(map[string]interface{}); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	limit := h.MaxBody
	if limit <= 0 {
		limit = DefaultMaxBody
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	headers := make(map[string]interface{}, len(resp.Header))
	for key, values := range resp.Header {
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = values
		}
	}
	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        string(data),
	}, nil
}
