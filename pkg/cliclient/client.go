// Package cliclient is containerlessctl's HTTP client for the
// Controller API, grounded on cuemby-warren/pkg/client.Client: one
// struct wrapping a connection, one exported method per RPC. Each method
// takes the caller's context; the underlying http.Client bounds every
// request with its own 10s timeout.
package cliclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// Client talks to a single Controller API instance over plain HTTP —
// the original CLI's reqwest calls had no transport security either
// (spec.md's Non-goals exclude an auth/TLS layer for the CLI surface).
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a Client pointed at the controller's base URL, e.g.
// "http://localhost:9000".
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// SystemStatus fetches the one-line text status of /system_status.
func (c *Client) SystemStatus(ctx context.Context) (string, error) {
	return c.getText(ctx, "/system_status")
}

// CreateFunction uploads source for a new function.
func (c *Client) CreateFunction(ctx context.Context, name, contents string) error {
	body, err := json.Marshal(map[string]string{"contents": contents})
	if err != nil {
		return fmt.Errorf("cliclient: encode create_function body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/create_function/"+name, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cliclient: build create_function request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

// DeleteFunction removes a function's source and any live manager.
func (c *Client) DeleteFunction(ctx context.Context, name string) error {
	_, err := c.getText(ctx, "/delete_function/"+name)
	return err
}

// ResetFunction drops a function's compiled trace and redeploys it.
func (c *Client) ResetFunction(ctx context.Context, name string) error {
	_, err := c.getText(ctx, "/reset_function/"+name)
	return err
}

// ShutdownFunction scales a function to zero.
func (c *Client) ShutdownFunction(ctx context.Context, name string) error {
	_, err := c.getText(ctx, "/shutdown_function/"+name)
	return err
}

// GetFunction returns a function's uploaded source.
func (c *Client) GetFunction(ctx context.Context, name string) (string, error) {
	return c.getText(ctx, "/get_function/"+name)
}

// ListFunctions returns every function name currently registered.
func (c *Client) ListFunctions(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/list_functions", nil)
	if err != nil {
		return nil, fmt.Errorf("cliclient: build list_functions request: %w", err)
	}
	var names []string
	if err := c.do(req, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// DispatcherVersion returns the currently deployed dispatcher generation.
func (c *Client) DispatcherVersion(ctx context.Context) (int64, error) {
	text, err := c.getText(ctx, "/dispatcher_version")
	if err != nil {
		return 0, err
	}
	version, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cliclient: parse dispatcher version %q: %w", text, err)
	}
	return version, nil
}

func (c *Client) getText(ctx context.Context, path string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("cliclient: build request for %s: %w", path, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("cliclient: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("cliclient: read response from %s: %w", path, err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("cliclient: %s: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cliclient: request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("cliclient: read response from %s: %w", req.URL.Path, err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("cliclient: %s: %s: %s", req.URL.Path, resp.Status, strings.TrimSpace(string(body)))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("cliclient: decode response from %s: %w", req.URL.Path, err)
		}
	}
	return nil
}
