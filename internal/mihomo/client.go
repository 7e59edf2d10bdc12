// Package mihomo is a thin client for mihomo's external controller API.
// The wire format is owned by mihomo; this package only consumes it.
package mihomo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const reloadPollInterval = 300 * time.Millisecond

// Client talks to a mihomo external controller endpoint.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// VersionInfo is the response of the /version endpoint.
type VersionInfo struct {
	Version string `json:"version"`
	Premium bool   `json:"premium"`
}

// RuntimeConfig is the subset of /configs the clients care about.
type RuntimeConfig struct {
	Mode      string `json:"mode"`
	MixedPort int    `json:"mixed-port"`
	SocksPort int    `json:"socks-port"`
	Port      int    `json:"port"`
	AllowLan  bool   `json:"allow-lan"`
	LogLevel  string `json:"log-level"`
}

// ProxyGroup is a selectable group reported by /proxies.
type ProxyGroup struct {
	Name string   `json:"name"`
	Type string   `json:"type"`
	Now  string   `json:"now"`
	All  []string `json:"all"`
}

// NewClient creates a Client for the controller at host:port. timeout covers
// each individual request.
func NewClient(host string, port int, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    fmt.Sprintf("http://%s:%d", host, port),
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if c.secret != "" {
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.httpClient.Do(req)
}

// TestConnection reports whether the controller answers on /version.
func (c *Client) TestConnection(ctx context.Context) bool {
	resp, err := c.do(ctx, http.MethodGet, "/version", nil)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// GetVersion returns the running mihomo version.
func (c *Client) GetVersion(ctx context.Context) (VersionInfo, error) {
	var info VersionInfo
	resp, err := c.do(ctx, http.MethodGet, "/version", nil)
	if err != nil {
		return info, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return info, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return info, fmt.Errorf("failed to decode version info: %w", err)
	}
	return info, nil
}

// GetConfig returns the controller's runtime configuration.
func (c *Client) GetConfig(ctx context.Context) (RuntimeConfig, error) {
	var cfg RuntimeConfig
	resp, err := c.do(ctx, http.MethodGet, "/configs", nil)
	if err != nil {
		return cfg, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return cfg, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// SetMode switches the proxy mode (rule, global, direct).
func (c *Client) SetMode(ctx context.Context, mode string) error {
	resp, err := c.do(ctx, http.MethodPatch, "/configs", map[string]string{"mode": mode})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// ReloadConfig asks mihomo to reload its configuration from path. The call
// is idempotent: reloading an already-loaded path is a no-op on mihomo's
// side.
func (c *Client) ReloadConfig(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodPut, "/configs", map[string]string{"path": path})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// ReloadConfigAndWait reloads the configuration and then polls the proxy
// groups until they are non-empty or maxWait elapses. The reload result is
// authoritative; an inconclusive poll does not fail the call.
func (c *Client) ReloadConfigAndWait(ctx context.Context, path string, maxWait time.Duration) error {
	if err := c.ReloadConfig(ctx, path); err != nil {
		return err
	}

	deadline := time.Now().Add(maxWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reloadPollInterval):
		}

		groups, err := c.GetProxyGroups(ctx)
		if err == nil && len(groups) > 0 {
			return nil
		}
	}
	return nil
}

// GetProxyGroups returns the selectable proxy groups, keyed by name.
func (c *Client) GetProxyGroups(ctx context.Context) (map[string]ProxyGroup, error) {
	resp, err := c.do(ctx, http.MethodGet, "/proxies", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var payload struct {
		Proxies map[string]struct {
			Type string   `json:"type"`
			Now  string   `json:"now"`
			All  []string `json:"all"`
		} `json:"proxies"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode proxies: %w", err)
	}

	groups := make(map[string]ProxyGroup)
	for name, p := range payload.Proxies {
		switch p.Type {
		case "Selector", "URLTest", "Fallback", "LoadBalance":
			groups[name] = ProxyGroup{Name: name, Type: p.Type, Now: p.Now, All: p.All}
		}
	}
	return groups, nil
}

// SelectProxy selects a proxy inside a group.
func (c *Client) SelectProxy(ctx context.Context, group, proxy string) error {
	resp, err := c.do(ctx, http.MethodPut, "/proxies/"+group, map[string]string{"name": proxy})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// TestDelay measures a proxy's latency against testURL. A zero delay from
// the controller counts as a failed probe.
func (c *Client) TestDelay(ctx context.Context, proxy, testURL string, timeout time.Duration) (int, error) {
	path := fmt.Sprintf("/proxies/%s/delay?url=%s&timeout=%d",
		url.PathEscape(proxy), url.QueryEscape(testURL), timeout.Milliseconds())
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var payload struct {
		Delay   int    `json:"delay"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("failed to decode delay response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || payload.Delay <= 0 {
		if payload.Message != "" {
			return 0, fmt.Errorf("%s", payload.Message)
		}
		return 0, fmt.Errorf("timeout")
	}
	return payload.Delay, nil
}

// ConnectionStats summarizes /connections.
type ConnectionStats struct {
	UploadTotal   int64 `json:"uploadTotal"`
	DownloadTotal int64 `json:"downloadTotal"`
	Active        int   `json:"-"`
}

// GetConnections returns traffic totals and the number of live connections.
func (c *Client) GetConnections(ctx context.Context) (ConnectionStats, error) {
	var stats ConnectionStats
	resp, err := c.do(ctx, http.MethodGet, "/connections", nil)
	if err != nil {
		return stats, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return stats, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var payload struct {
		UploadTotal   int64             `json:"uploadTotal"`
		DownloadTotal int64             `json:"downloadTotal"`
		Connections   []json.RawMessage `json:"connections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return stats, fmt.Errorf("failed to decode connections: %w", err)
	}

	stats.UploadTotal = payload.UploadTotal
	stats.DownloadTotal = payload.DownloadTotal
	stats.Active = len(payload.Connections)
	return stats, nil
}

// CloseAllConnections drops every live connection through the proxy.
func (c *Client) CloseAllConnections(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodDelete, "/connections", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}
