package policysrc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// GitHubClient provides HTTP access to GitHub for downloading a single raw
// file's content (the configured policy bundle).
type GitHubClient struct {
	httpClient *http.Client
	token      string
	logger     *slog.Logger
}

// NewGitHubClient creates an HTTP client for GitHub operations.
// token may be empty (public repos only, lower rate limits).
func NewGitHubClient(token string) *GitHubClient {
	return &GitHubClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		token:      token,
		logger:     slog.Default(),
	}
}

// DownloadContent fetches raw content from a GitHub URL.
// Converts blob URLs to raw.githubusercontent.com URLs.
// Handles authentication via bearer token.
func (c *GitHubClient) DownloadContent(ctx context.Context, rawURL string) (string, error) {
	downloadURL := ConvertToRawURL(rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch runbook from %s: %w", downloadURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GitHub returned HTTP %d for %s", resp.StatusCode, downloadURL)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}

	return string(body), nil
}

func (c *GitHubClient) setAuthHeader(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
