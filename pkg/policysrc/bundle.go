package policysrc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/governed-swarm/swarmrt/pkg/config"
	"gopkg.in/yaml.v3"
)

// Loader fetches the configured remote policy.yaml bundle over GitHub,
// caching the raw content for cfg.CacheTTL so a busy governance-agent
// replica set doesn't hammer GitHub on every reload (§4.7, SPEC_FULL §C.4).
type Loader struct {
	github *GitHubClient
	cache  *Cache
	cfg    config.PolicySourceConfig
}

// NewLoader builds a Loader. githubToken is the resolved token value
// (empty string = no auth, public repos only). A zero cfg.CacheTTL
// defaults to one minute.
func NewLoader(cfg config.PolicySourceConfig, githubToken string) *Loader {
	ttl := 1 * time.Minute
	if cfg.CacheTTL > 0 {
		ttl = cfg.CacheTTL
	}
	return &Loader{
		github: NewGitHubClient(githubToken),
		cache:  NewCache(ttl),
		cfg:    cfg,
	}
}

// Enabled reports whether remote policy loading is configured.
func (l *Loader) Enabled() bool {
	return l.cfg.RepoURL != ""
}

// Load fetches and parses the bundle at {RepoURL}/{Ref}/policy.yaml. Callers
// should fall back to the local policy.yaml on error — a remote outage must
// never block governance-agent startup (§4.7's fail-open posture, same as
// the teacher's runbook Resolve).
func (l *Loader) Load(ctx context.Context) (*config.PolicyFile, error) {
	if !l.Enabled() {
		return nil, fmt.Errorf("policysrc: no repo_url configured")
	}

	rawURL := fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/policy.yaml", l.cfg.RepoURL, l.cfg.Ref)

	if content, ok := l.cache.Get(rawURL); ok {
		return parseBundle(content)
	}

	content, err := l.github.DownloadContent(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch policy bundle from %s: %w", rawURL, err)
	}

	bundle, err := parseBundle(content)
	if err != nil {
		return nil, fmt.Errorf("parse policy bundle from %s: %w", rawURL, err)
	}

	l.cache.Set(rawURL, content)
	return bundle, nil
}

// OverrideHTTPClientForTest replaces the internal GitHub client's HTTP
// client. For testing only.
func (l *Loader) OverrideHTTPClientForTest(httpClient *http.Client) {
	l.github.httpClient = httpClient
}

func parseBundle(content string) (*config.PolicyFile, error) {
	var p config.PolicyFile
	if err := yaml.Unmarshal([]byte(content), &p); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	return &p, nil
}
