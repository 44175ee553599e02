package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
)

// HttpClientWrapper wraps http.Client with the request shapes of the
// scheduling API
type HttpClientWrapper interface {
	DoGET(url string) (*Response, error)
	// DoPUT sends data, with If-Match set to etag unless it is empty.
	DoPUT(url string, contentType string, etag string, data []byte) (*Response, error)
	DoPOST(url string, contentType string, data []byte) (*Response, error)
	DoDELETE(url string) (*Response, error)
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// maxResponseSize bounds response bodies read into memory
const maxResponseSize = 16 << 20

type httpClientWrapper struct {
	client  *http.Client
	baseURL url.URL
	logger  *slog.Logger
}

// resolveURL resolves a URL string against the base URL
func (c *httpClientWrapper) resolveURL(urlStr string) (*url.URL, error) {
	ref, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL %q: %w", urlStr, err)
	}
	return c.baseURL.ResolveReference(ref), nil
}

// NewHttpClientWrapper creates a new client wrapper with logging
func NewHttpClientWrapper(client *http.Client, baseURL url.URL, logger *slog.Logger) (HttpClientWrapper, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &httpClientWrapper{client: client, baseURL: baseURL, logger: logger}, nil
}

// do sends one request. Any status is returned as a Response, interpreting
// it is left to the caller.
func (c *httpClientWrapper) do(method, urlStr, contentType, etag string, data []byte) (*Response, error) {
	c.logger.Debug("starting request",
		"method", method,
		"url", urlStr,
		"etag", etag,
		"data_length", len(data))

	resolvedURL, err := c.resolveURL(urlStr)
	if err != nil {
		c.logger.Debug("failed to resolve URL", "url", urlStr, "error", err)
		return nil, err
	}

	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, resolvedURL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", method, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if etag != "" {
		req.Header.Set("If-Match", etag)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "error", err)
		return nil, fmt.Errorf("failed to send %s request: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", method, err)
	}

	c.logger.Debug("request complete",
		"method", method,
		"status", resp.Status,
		"body_length", len(respBody))
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

func (c *httpClientWrapper) DoGET(urlStr string) (*Response, error) {
	return c.do(http.MethodGet, urlStr, "", "", nil)
}

func (c *httpClientWrapper) DoPUT(urlStr string, contentType string, etag string, data []byte) (*Response, error) {
	return c.do(http.MethodPut, urlStr, contentType, etag, data)
}

func (c *httpClientWrapper) DoPOST(urlStr string, contentType string, data []byte) (*Response, error) {
	return c.do(http.MethodPost, urlStr, contentType, "", data)
}

func (c *httpClientWrapper) DoDELETE(urlStr string) (*Response, error) {
	return c.do(http.MethodDelete, urlStr, "", "", nil)
}
