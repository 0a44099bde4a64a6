package policysrc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/governed-swarm/swarmrt/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBundle = `
version: remote-1
mode: MITL
transition_rules:
  - from: ContextIngested
    to: FactsExtracted
    block_when:
      drift_level: [high]
    reason: drift too high
`

func TestLoader_Load(t *testing.T) {
	t.Run("fetches and parses the bundle", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(testBundle))
		}))
		defer server.Close()

		loader := newTestLoader(t, server, config.PolicySourceConfig{RepoURL: "org/repo", Ref: "main"})

		bundle, err := loader.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "remote-1", bundle.Version)
		assert.Equal(t, config.ModeMITL, bundle.Mode)
		require.Len(t, bundle.TransitionRules, 1)
		assert.Equal(t, "drift too high", bundle.TransitionRules[0].Reason)
	})

	t.Run("not enabled without a repo url", func(t *testing.T) {
		loader := NewLoader(config.PolicySourceConfig{}, "")
		assert.False(t, loader.Enabled())
		_, err := loader.Load(context.Background())
		require.Error(t, err)
	})

	t.Run("fetch failure returns error for caller to fall back on", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		loader := newTestLoader(t, server, config.PolicySourceConfig{RepoURL: "org/repo", Ref: "main"})
		_, err := loader.Load(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fetch policy bundle")
	})

	t.Run("invalid yaml returns error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not: [valid: yaml"))
		}))
		defer server.Close()

		loader := newTestLoader(t, server, config.PolicySourceConfig{RepoURL: "org/repo", Ref: "main"})
		_, err := loader.Load(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse policy bundle")
	})

	t.Run("caches fetched content", func(t *testing.T) {
		callCount := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			callCount++
			_, _ = w.Write([]byte(testBundle))
		}))
		defer server.Close()

		loader := newTestLoader(t, server, config.PolicySourceConfig{
			RepoURL: "org/repo", Ref: "main", CacheTTL: 1 * time.Minute,
		})

		_, err := loader.Load(context.Background())
		require.NoError(t, err)
		_, err = loader.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, callCount)
	})
}

func newTestLoader(t *testing.T, server *httptest.Server, cfg config.PolicySourceConfig) *Loader {
	t.Helper()
	loader := NewLoader(cfg, "")
	loader.OverrideHTTPClientForTest(&http.Client{
		Transport: &testTransport{server: server, delegate: http.DefaultTransport},
	})
	return loader
}

// testTransport redirects raw-content requests to the test server.
type testTransport struct {
	server   *httptest.Server
	delegate http.RoundTripper
}

func (t *testTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Host == "raw.githubusercontent.com" {
		parsed, _ := url.Parse(t.server.URL)
		req.URL.Scheme = parsed.Scheme
		req.URL.Host = parsed.Host
	}
	return t.delegate.RoundTrip(req)
}
