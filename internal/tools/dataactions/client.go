// Copyright (c) 2024-2026 Sonara Labs
//
// Licensed under GPL-2.0 with Sonara Additional Terms.
// See LICENSE.md for commercial usage.

// Package internal_dataactions exposes Genesys Cloud data actions as model
// tools: OAuth client-credentials auth, schema discovery, execution with
// retries, and per-session registration into the tool registry.
package internal_dataactions

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sonaralabs/audiobridge/pkg/commons"
)

// Config carries the Genesys Cloud API settings for data actions.
type Config struct {
	BaseURL          string
	LoginURL         string
	Region           string
	ClientID         string
	ClientSecret     string
	Timeout          time.Duration
	RetryMax         int
	RetryBackoff     time.Duration
	TokenCacheTTL    time.Duration
	AllowedActionIDs []string
	MaxTools         int
	MaxCalls         int
	MaxArgumentBytes int
	RedactionFields  []string
	StrictMode       bool
}

// Enabled reports whether data actions can be used at all.
func (c Config) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// APIBaseURL resolves the regional API endpoint.
func (c Config) APIBaseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	if c.Region != "" {
		if strings.Contains(c.Region, "mypurecloud.com") || strings.Contains(c.Region, "mypurecloud.de") {
			return "https://api." + c.Region
		}
		return fmt.Sprintf("https://api.%s.mypurecloud.com", c.Region)
	}
	return "https://api.mypurecloud.com"
}

// AuthBaseURL resolves the regional login endpoint.
func (c Config) AuthBaseURL() string {
	if c.LoginURL != "" {
		return strings.TrimRight(c.LoginURL, "/")
	}
	if c.Region != "" {
		if strings.Contains(c.Region, "mypurecloud.com") || strings.Contains(c.Region, "mypurecloud.de") {
			return "https://login." + c.Region
		}
		return fmt.Sprintf("https://login.%s.mypurecloud.com", c.Region)
	}
	return "https://login.mypurecloud.com"
}

const schemaCacheTTL = 10 * time.Minute

type cachedToken struct {
	accessToken string
	expiresAt   time.Time
}

type cachedSchema struct {
	schema    map[string]any
	expiresAt time.Time
}

// Client talks to the Genesys Cloud integrations API. Safe for concurrent
// use across sessions.
type Client struct {
	logger commons.Logger
	cfg    Config
	rest   *resty.Client

	tokenMu sync.Mutex
	token   *cachedToken

	schemaMu sync.Mutex
	schemas  map[string]cachedSchema
}

// NewClient creates a data-actions API client.
func NewClient(logger commons.Logger, cfg Config) *Client {
	rest := resty.New().SetTimeout(cfg.Timeout)
	return &Client{
		logger:  logger.With("component", "dataactions"),
		cfg:     cfg,
		rest:    rest,
		schemas: map[string]cachedSchema{},
	}
}

// accessToken returns a cached OAuth token, fetching a fresh one when the
// cached token is within a minute of expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.token != nil && time.Until(c.token.expiresAt) > time.Minute {
		return c.token.accessToken, nil
	}

	if !c.cfg.Enabled() {
		return "", fmt.Errorf("data action client credentials are not configured")
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryMax; attempt++ {
		resp, err := c.rest.R().
			SetContext(ctx).
			SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret).
			SetHeader("Content-Type", "application/x-www-form-urlencoded").
			SetFormData(map[string]string{"grant_type": "client_credentials"}).
			Post(c.cfg.AuthBaseURL() + "/oauth/token")
		if err != nil {
			lastErr = err
			c.sleep(ctx, c.backoffDelay(attempt))
			continue
		}

		switch {
		case resp.StatusCode() == 429:
			delay := retryAfterDelay(resp.Header().Get("Retry-After"))
			c.logger.Warnf("OAuth rate limited, retrying in %s", delay)
			c.sleep(ctx, delay)
			continue
		case resp.StatusCode() == 401 || resp.StatusCode() == 403:
			return "", fmt.Errorf("data action OAuth credentials rejected")
		case resp.StatusCode() >= 400:
			lastErr = fmt.Errorf("OAuth token request failed with status %d", resp.StatusCode())
			c.sleep(ctx, c.backoffDelay(attempt))
			continue
		}

		var payload struct {
			AccessToken string `json:"access_token"`
			ExpiresIn   int    `json:"expires_in"`
		}
		if err := json.Unmarshal(resp.Body(), &payload); err != nil {
			return "", fmt.Errorf("malformed OAuth token response: %w", err)
		}
		ttl := time.Duration(payload.ExpiresIn) * time.Second
		if c.cfg.TokenCacheTTL > 0 && ttl > c.cfg.TokenCacheTTL {
			ttl = c.cfg.TokenCacheTTL
		}
		c.token = &cachedToken{accessToken: payload.AccessToken, expiresAt: time.Now().Add(ttl)}
		c.logger.Infof("Data action OAuth token obtained, ttl=%s", ttl)
		return payload.AccessToken, nil
	}
	return "", fmt.Errorf("unable to fetch OAuth token after retries: %w", lastErr)
}

// request runs one authorized API call with 429/5xx retries.
func (c *Client) request(ctx context.Context, method, path string, body any) (map[string]any, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	url := c.cfg.APIBaseURL() + path
	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryMax; attempt++ {
		req := c.rest.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetHeader("Content-Type", "application/json")
		if body != nil {
			req.SetBody(body)
		}
		resp, err := req.Execute(method, url)
		if err != nil {
			lastErr = err
			c.sleep(ctx, c.backoffDelay(attempt))
			continue
		}

		switch {
		case resp.StatusCode() == 429:
			delay := retryAfterDelay(resp.Header().Get("Retry-After"))
			c.logger.Warnf("Data action API rate limited on %s, retrying in %s", path, delay)
			c.sleep(ctx, delay)
			continue
		case resp.StatusCode() >= 500:
			delay := c.backoffDelay(attempt)
			c.logger.Warnf("Data action API server error %d on %s, backing off %s", resp.StatusCode(), path, delay)
			c.sleep(ctx, delay)
			continue
		case resp.StatusCode() >= 400:
			return nil, fmt.Errorf("data action API request %s failed with status %d", path, resp.StatusCode())
		}

		var result map[string]any
		if err := json.Unmarshal(resp.Body(), &result); err != nil {
			return nil, fmt.Errorf("malformed data action API response: %w", err)
		}
		return result, nil
	}
	return nil, fmt.Errorf("data action API request exhausted retries for %s: %w", path, lastErr)
}

// InputSchema fetches (and caches) an action's input contract.
func (c *Client) InputSchema(ctx context.Context, actionID string) (map[string]any, error) {
	return c.schema(ctx, actionID, "input")
}

// SuccessSchema fetches (and caches) an action's success contract.
func (c *Client) SuccessSchema(ctx context.Context, actionID string) (map[string]any, error) {
	return c.schema(ctx, actionID, "success")
}

func (c *Client) schema(ctx context.Context, actionID, schemaType string) (map[string]any, error) {
	key := actionID + "/" + schemaType
	c.schemaMu.Lock()
	if cached, ok := c.schemas[key]; ok && time.Now().Before(cached.expiresAt) {
		c.schemaMu.Unlock()
		return cached.schema, nil
	}
	c.schemaMu.Unlock()

	raw, err := c.request(ctx, "GET",
		fmt.Sprintf("/api/v2/integrations/actions/%s/schemas/%sschema.json", actionID, schemaType), nil)
	if err != nil {
		return nil, err
	}

	normalized := map[string]any{"type": "object", "properties": map[string]any{}}
	for k, v := range raw {
		normalized[k] = v
	}

	c.schemaMu.Lock()
	c.schemas[key] = cachedSchema{schema: normalized, expiresAt: time.Now().Add(schemaCacheTTL)}
	c.schemaMu.Unlock()
	return normalized, nil
}

// Execute runs a data action with the given payload.
func (c *Client) Execute(ctx context.Context, actionID string, payload map[string]any) (map[string]any, error) {
	return c.request(ctx, "POST", fmt.Sprintf("/api/v2/integrations/actions/%s/test", actionID), payload)
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	return c.cfg.RetryBackoff * time.Duration(1<<attempt)
}

func (c *Client) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func retryAfterDelay(header string) time.Duration {
	if secs, err := strconv.ParseFloat(header, 64); err == nil && secs >= 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return time.Second
}
