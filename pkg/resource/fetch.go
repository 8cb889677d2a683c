package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	htransport "google.golang.org/api/transport/http"
)

// CloudPlatformScope is the OAuth scope used for read access to resource APIs.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// HTTPFetcher reads resources from their Google REST endpoints.
type HTTPFetcher struct {
	client  *http.Client
	baseURL string
}

type fetcherConfig struct {
	client  *http.Client
	baseURL string
	scopes  []string
	opts    []option.ClientOption
}

// FetcherOption configures an HTTPFetcher.
type FetcherOption func(*fetcherConfig)

// WithHTTPClient uses the given client as-is, skipping credential discovery.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(cfg *fetcherConfig) {
		cfg.client = c
	}
}

// WithBaseURL sends every request to baseURL instead of the per-type host.
func WithBaseURL(u string) FetcherOption {
	return func(cfg *fetcherConfig) {
		cfg.baseURL = u
	}
}

// WithScopes overrides the OAuth scopes requested for default credentials.
func WithScopes(scopes ...string) FetcherOption {
	return func(cfg *fetcherConfig) {
		cfg.scopes = scopes
	}
}

// WithClientOptions passes extra options to the authenticated transport.
func WithClientOptions(opts ...option.ClientOption) FetcherOption {
	return func(cfg *fetcherConfig) {
		cfg.opts = append(cfg.opts, opts...)
	}
}

// NewHTTPFetcher builds a fetcher authenticated with application default credentials.
func NewHTTPFetcher(ctx context.Context, opts ...FetcherOption) (*HTTPFetcher, error) {
	cfg := fetcherConfig{scopes: []string{CloudPlatformScope}}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.client != nil {
		return &HTTPFetcher{client: cfg.client, baseURL: cfg.baseURL}, nil
	}

	creds, err := google.FindDefaultCredentials(ctx, cfg.scopes...)
	if err != nil {
		return nil, fmt.Errorf("find default credentials: %w", err)
	}

	clientOpts := append([]option.ClientOption{option.WithCredentials(creds)}, cfg.opts...)
	client, _, err := htransport.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create http transport: %w", err)
	}

	return &HTTPFetcher{client: client, baseURL: cfg.baseURL}, nil
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, r *Resource) (map[string]any, error) {
	u, err := r.desc.endpointURL(f.baseURL, r.fields)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := googleapi.CheckResponse(resp); err != nil {
		return nil, fmt.Errorf("get %s: %w", u, err)
	}

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", u, err)
	}
	return data, nil
}

// Patch sends a partial update of the resource to its REST endpoint.
func (f *HTTPFetcher) Patch(ctx context.Context, r *Resource, body map[string]any) error {
	u, err := r.desc.endpointURL(f.baseURL, r.fields)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("patch %s: %w", u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := googleapi.CheckResponse(resp); err != nil {
		return fmt.Errorf("patch %s: %w", u, err)
	}
	return nil
}
