// Package kernel talks to the platform kernel, the surrounding system that
// owns identity, tenancy, and policy. The action layer treats it as a plain
// HTTP service.
package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pohlai88/lynx/pkg/permissions"
)

const defaultTimeout = 30 * time.Second

// Client is an HTTP client for the kernel API. It satisfies
// permissions.PolicyClient so the checker can consult kernel policy.
type Client struct {
	baseURL  string
	apiKey   string
	tenantID string
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// NewClient creates a kernel client. Every request carries the tenant id
// header so the kernel scopes its answers.
func NewClient(baseURL, apiKey, tenantID string, opts ...Option) *Client {
	c := &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		tenantID: tenantID,
		http:     &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Tenant-Id", c.tenantID)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("kernel request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("kernel returned %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode kernel response: %w", err)
	}
	return nil
}

// CheckPermission implements permissions.PolicyClient against the kernel's
// policy endpoint.
func (c *Client) CheckPermission(ctx context.Context, userID, action, resourceType string) (permissions.PolicyDecision, error) {
	req := map[string]string{
		"user_id":       userID,
		"action":        action,
		"resource_type": resourceType,
	}
	var decision permissions.PolicyDecision
	if err := c.do(ctx, http.MethodPost, "/api/v1/policy/check", req, &decision); err != nil {
		return permissions.PolicyDecision{}, err
	}
	return decision, nil
}

// Metadata is ambient kernel state attached to execution contexts.
type Metadata struct {
	TenantName   string            `json:"tenant_name"`
	Mode         string            `json:"mode"`
	FeatureFlags map[string]bool   `json:"feature_flags"`
	Extra        map[string]string `json:"extra,omitempty"`
}

// GetMetadata fetches tenant metadata from the kernel.
func (c *Client) GetMetadata(ctx context.Context) (*Metadata, error) {
	var md Metadata
	if err := c.do(ctx, http.MethodGet, "/api/v1/metadata", nil, &md); err != nil {
		return nil, err
	}
	return &md, nil
}

// Health probes the kernel health endpoint. Used by the system health
// domain tool and the daemon readiness check.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/v1/health", nil, nil)
}
