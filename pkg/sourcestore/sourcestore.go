// Package sourcestore is the HTTP client the controller and the
// function table use to reach the function source storage service
// (spec.md §2's "out of scope" remote key/value store). The wire
// contract is grounded on dispatcher-agent-lib's function_table.rs,
// which calls `reqwest::get("http://storage:8080/get_function/{name}")`
// directly; this client generalizes that one call into the full set of
// routes the controller API needs (create/get/delete), using the same
// path shapes the storage service's own original routes (and the
// controller API spec.md §6 lists) already imply.
package sourcestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/containerless/platform/pkg/clerr"
	"github.com/containerless/platform/pkg/config"
)

// Client is the source storage service's HTTP contract as seen by the
// controller and the function table.
type Client interface {
	// Exists returns nil if name has source stored, clerr.NotFound
	// otherwise.
	Exists(ctx context.Context, name string) error
	// Get returns the stored source bytes for name.
	Get(ctx context.Context, name string) ([]byte, error)
	// Create uploads source bytes under name. clerr.Conflict if name
	// already exists.
	Create(ctx context.Context, name string, contents []byte) error
	// Delete removes name's stored source.
	Delete(ctx context.Context, name string) error
}

type httpClient struct {
	baseURL string
	client  *http.Client
}

// New returns a Client talking to cfg.SourceStoreAddr.
func New(cfg config.Config) Client {
	dialer := &net.Dialer{Timeout: cfg.SourceStoreDeadline}
	return &httpClient{
		baseURL: "http://" + cfg.SourceStoreAddr,
		client: &http.Client{
			Timeout:   cfg.SourceStoreDeadline,
			Transport: &http.Transport{DialContext: dialer.DialContext},
		},
	}
}

type uploadBody struct {
	Contents string `json:"contents"`
}

func (c *httpClient) Exists(ctx context.Context, name string) error {
	_, err := c.Get(ctx, name)
	return err
}

func (c *httpClient) Get(ctx context.Context, name string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/get_function/", name), nil)
	if err != nil {
		return nil, clerr.New("sourcestore.get", clerr.Unknown, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, clerr.New("sourcestore.get", clerr.ClusterUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, clerr.New("sourcestore.get", clerr.ClusterUnavailable, err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, clerr.New("sourcestore.get", clerr.NotFound, fmt.Errorf("function %q not found", name))
	default:
		return nil, clerr.New("sourcestore.get", clerr.Unknown, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body))
	}
}

func (c *httpClient) Create(ctx context.Context, name string, contents []byte) error {
	payload, err := json.Marshal(uploadBody{Contents: string(contents)})
	if err != nil {
		return clerr.New("sourcestore.create", clerr.Unknown, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/create_function/", name), bytes.NewReader(payload))
	if err != nil {
		return clerr.New("sourcestore.create", clerr.Unknown, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return clerr.New("sourcestore.create", clerr.ClusterUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusConflict:
		return clerr.New("sourcestore.create", clerr.Conflict, fmt.Errorf("function %q already exists", name))
	default:
		body, _ := io.ReadAll(resp.Body)
		return clerr.New("sourcestore.create", clerr.Unknown, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body))
	}
}

func (c *httpClient) Delete(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/delete_function/", name), nil)
	if err != nil {
		return clerr.New("sourcestore.delete", clerr.Unknown, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return clerr.New("sourcestore.delete", clerr.ClusterUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return clerr.New("sourcestore.delete", clerr.NotFound, fmt.Errorf("function %q not found", name))
	default:
		body, _ := io.ReadAll(resp.Body)
		return clerr.New("sourcestore.delete", clerr.Unknown, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body))
	}
}

func (c *httpClient) url(route, name string) string {
	return c.baseURL + route + name
}
