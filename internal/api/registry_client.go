package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"facilitywatch/internal/artifact"
)

const defaultTimeout = 30 * time.Second

// RegistryClient fetches classifier artifacts from an HTTP model registry
type RegistryClient struct {
	client  *http.Client
	baseURL string
	token   string
	version string
}

type ArtifactParams struct {
	Name    string
	Version string // empty means the registry's latest
}

// NewRegistryClient creates a registry client rooted at baseURL. token, when
// set, is sent as a bearer token; version, when set, pins every Fetch.
func NewRegistryClient(baseURL, token, version string) *RegistryClient {
	return &RegistryClient{
		client:  &http.Client{Timeout: defaultTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		version: version,
	}
}

func (c *RegistryClient) Name() string { return "http" }

// Fetch downloads the artifact stored under name, at the pinned version or
// the latest one
func (c *RegistryClient) Fetch(ctx context.Context, name string) ([]byte, error) {
	return c.GetArtifact(ctx, ArtifactParams{Name: name, Version: c.version})
}

// GetArtifact downloads one artifact version
func (c *RegistryClient) GetArtifact(ctx context.Context, params ArtifactParams) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BuildURL(params), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch artifact %s: %w", params.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", artifact.ErrNotFound, c.BuildURL(params))
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("registry error: status %d, body: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", params.Name, err)
	}
	return data, nil
}

// BuildURL builds the registry URL for an artifact
func (c *RegistryClient) BuildURL(params ArtifactParams) string {
	u := c.baseURL + "/" + url.PathEscape(params.Name)
	if params.Version != "" {
		u += "?version=" + url.QueryEscape(params.Version)
	}
	return u
}
