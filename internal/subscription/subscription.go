// Package subscription downloads proxy subscription documents over HTTP.
package subscription

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	// Many subscription providers gate the Clash-flavored payload on this
	// User-Agent value.
	userAgent = "clash"

	connectTimeout  = 10 * time.Second
	downloadTimeout = 30 * time.Second
)

// HTTPClient wraps the Do method, allowing a custom HTTP client in tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Downloader fetches subscription content from remote URLs.
type Downloader struct {
	httpClient HTTPClient
}

// NewDownloader creates a Downloader with sane timeouts and redirect
// following.
func NewDownloader() *Downloader {
	return &Downloader{
		httpClient: &http.Client{
			Timeout: downloadTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: connectTimeout,
				}).DialContext,
			},
		},
	}
}

// NewDownloaderWithClient creates a Downloader backed by the given client.
func NewDownloaderWithClient(client HTTPClient) *Downloader {
	return &Downloader{httpClient: client}
}

// Download fetches the subscription body from url. Any non-200 status is an
// error; the body is returned verbatim on success.
func (d *Downloader) Download(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("invalid URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, nil
}
