package annotation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Faultbox/scenetag/internal/errs"
)

// StatusSuccess is the status of a successful write.
const StatusSuccess = "success"

// Result is the reply of the write endpoint.
type Result struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// OK reports whether the write succeeded.
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Backend reads annotation collections and stores annotation lists.
type Backend interface {
	// Fetch returns the raw collection name. A missing collection is
	// reported as errs.ErrResourceNotFound.
	Fetch(ctx context.Context, name string) ([]byte, error)
	// Submit stores the full list of annotations for mesh.
	Submit(ctx context.Context, mesh string, list []Annotation) (Result, error)
}

// HTTPClient talks to a running scenetag server: collections are read from
// /models/{name} and lists written to /api/save-annotation/{mesh}.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewHTTPClient creates a client for the server at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Fetch implements Backend.
func (c *HTTPClient) Fetch(ctx context.Context, name string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/models/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", errs.ErrResourceNotFound, name)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", name, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// Submit implements Backend.
func (c *HTTPClient) Submit(ctx context.Context, mesh string, list []Annotation) (Result, error) {
	if list == nil {
		list = []Annotation{}
	}
	body, err := json.Marshal(list)
	if err != nil {
		return Result{}, fmt.Errorf("encoding annotations: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+"/api/save-annotation/"+url.PathEscape(mesh), bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("posting annotations: %w", err)
	}
	defer resp.Body.Close()

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("decoding reply (%s): %w", resp.Status, err)
	}
	return res, nil
}
