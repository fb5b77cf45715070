package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StdHTTPClient is the real HTTPClient over net/http.
type StdHTTPClient struct {
	Client *http.Client
}

// NewStdHTTPClient returns a client with a 30 second overall timeout.
func NewStdHTTPClient() *StdHTTPClient {
	return &StdHTTPClient{Client: &http.Client{Timeout: 30 * time.Second}}
}

// Do performs one request. Non-2xx statuses are not errors here; the step
// executor decides what the declared expectations make of them.
func (c *StdHTTPClient) Do(ctx context.Context, req *HTTPRequest) (*HTTPResult, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, req.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return &HTTPResult{
		Status:   resp.StatusCode,
		Headers:  headers,
		Body:     string(data),
		Duration: time.Since(start),
	}, nil
}
