package platform

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/obsidianstack/devicealert/internal/config"
	"github.com/obsidianstack/devicealert/pkg/types"
)

// Client is the device platform API client. Request deadlines come from
// the caller's context.
type Client struct {
	base       string
	tagChannel string
	http       *http.Client
}

// New builds a Client for cfg.
func New(cfg config.PlatformConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("platform: base_url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("platform: base_url: %w", err)
	}
	channel := cfg.TagChannel
	if channel == "" {
		channel = config.DefaultTagChannel
	}
	return &Client{
		base:       strings.TrimRight(cfg.BaseURL, "/"),
		tagChannel: channel,
		http:       buildHTTPClient(cfg),
	}, nil
}

// Device returns the identity record of a device.
func (c *Client) Device(ctx context.Context, deviceID string) (types.Device, error) {
	var d types.Device
	if err := c.get(ctx, "/agents/"+url.PathEscape(deviceID), &d); err != nil {
		return types.Device{}, fmt.Errorf("platform: device %q: %w", deviceID, err)
	}
	return d, nil
}

// Connection returns the connection status of a device.
func (c *Client) Connection(ctx context.Context, deviceID string) (types.ConnectionInfo, error) {
	var ci types.ConnectionInfo
	if err := c.get(ctx, "/agents/"+url.PathEscape(deviceID)+"/connection", &ci); err != nil {
		return types.ConnectionInfo{}, fmt.Errorf("platform: connection %q: %w", deviceID, err)
	}
	return ci, nil
}

// AggregateTags returns the aggregate of the configured tag channel.
// A channel with no aggregate yet yields an empty map.
func (c *Client) AggregateTags(ctx context.Context, deviceID string) (map[string]any, error) {
	var agg struct {
		Data map[string]any `json:"data"`
	}
	path := "/agents/" + url.PathEscape(deviceID) + "/channels/" + url.PathEscape(c.tagChannel) + "/aggregate"
	if err := c.get(ctx, path, &agg); err != nil {
		return nil, fmt.Errorf("platform: tags %q: %w", deviceID, err)
	}
	if agg.Data == nil {
		agg.Data = map[string]any{}
	}
	return agg.Data, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.ClientAuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		header := t.auth.Header
		if header == "" {
			header = "x-api-key"
		}
		req = req.Clone(req.Context())
		req.Header.Set(header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the platform's auth and TLS settings.
func buildHTTPClient(cfg config.PlatformConfig) *http.Client {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}
	return &http.Client{
		Transport: &authRoundTripper{
			base: &http.Transport{TLSClientConfig: tlsCfg, Proxy: http.ProxyFromEnvironment},
			auth: cfg.Auth,
		},
	}
}
