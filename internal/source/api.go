package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"dealsignal/internal/config"
	"dealsignal/internal/logger"
)

const rateLimitHeader = "X-RateLimit-Remaining"

// maxBodyBytes bounds a single API response.
const maxBodyBytes = 16 << 20

// APIConnector pulls JSON records from a REST endpoint.
type APIConnector struct {
	*healthTracker
	cfg    config.SourceConfig
	client *http.Client
	token  string
}

func NewAPIConnector(cfg config.SourceConfig, client *http.Client, limits Limits, log logger.Logger) *APIConnector {
	if client == nil {
		client = http.DefaultClient
	}
	return &APIConnector{
		healthTracker: newHealthTracker(cfg.ID, KindAPI, limits, log),
		cfg:           cfg,
		client:        client,
		token:         cfg.Auth.BearerToken(),
	}
}

func (c *APIConnector) CheckHealth(ctx context.Context) ConnectionStatus {
	return c.checkHealth(ctx, c.ping)
}

func (c *APIConnector) Fetch(ctx context.Context, endpointKey string, params map[string]string) ([]Record, error) {
	path, ok := c.cfg.Endpoints[endpointKey]
	if !ok {
		return nil, &FetchError{SourceID: c.id, Endpoint: endpointKey, Err: ErrUnknownEndpoint}
	}
	return c.fetch(ctx, endpointKey, c.ping, func(ctx context.Context) ([]Record, error) {
		target, err := resolveURL(c.cfg.BaseURL, path, params)
		if err != nil {
			return nil, err
		}
		resp, err := c.get(ctx, target)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		c.updateRateLimit(remainingFromHeader(resp.Header))
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return decodeRecords(io.LimitReader(resp.Body, maxBodyBytes))
	})
}

func (c *APIConnector) ping(ctx context.Context) (*int, error) {
	target := c.cfg.BaseURL
	if path, ok := c.cfg.Endpoints["health"]; ok {
		var err error
		if target, err = resolveURL(c.cfg.BaseURL, path, nil); err != nil {
			return nil, err
		}
	}
	resp, err := c.get(ctx, target)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return remainingFromHeader(resp.Header), nil
}

func (c *APIConnector) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.client.Do(req)
}

func remainingFromHeader(h http.Header) *int {
	raw := strings.TrimSpace(h.Get(rateLimitHeader))
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}

// resolveURL joins base and path unless path is already absolute, then
// appends params as a query string.
func resolveURL(base, path string, params map[string]string) (string, error) {
	target := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = strings.TrimRight(base, "/")
		if path != "" {
			target += "/" + strings.TrimLeft(path, "/")
		}
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", target, err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

var listKeys = []string{"data", "items", "results"}

// decodeRecords accepts a JSON array, a single object, or an object wrapping
// the array under data, items or results. Non-object array elements are
// skipped.
func decodeRecords(r io.Reader) ([]Record, error) {
	var body any
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	switch v := body.(type) {
	case []any:
		return objects(v), nil
	case map[string]any:
		for _, key := range listKeys {
			if list, ok := v[key].([]any); ok {
				return objects(list), nil
			}
		}
		return []Record{v}, nil
	default:
		return nil, fmt.Errorf("decode response: unexpected %T payload", body)
	}
}

func objects(list []any) []Record {
	out := make([]Record, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
