package config

import "time"

// SystemConfig groups process-wide infrastructure settings read from
// swarm.yaml's `system` section plus environment overrides.
type SystemConfig struct {
	// BearerToken authenticates the write/human-review endpoints (§6).
	BearerToken string `yaml:"-"` // always sourced from SWARM_BEARER_TOKEN
	// AllowedOrigins restricts CORS for the feed's SSE endpoint.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
	// HTTPPort is the port the feed/review HTTP servers bind to.
	HTTPPort string `yaml:"http_port,omitempty"`
}

// AgentLoopConfig controls how each role's Agent Loop Runtime polls the
// bus (§4.5, §5).
type AgentLoopConfig struct {
	BatchSize      int           `yaml:"batch_size" validate:"min=1"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxPollBackoff time.Duration `yaml:"max_poll_backoff"`
	MaxDeliver     int           `yaml:"max_deliver" validate:"min=1"`
	AckWait        time.Duration `yaml:"ack_wait"`
}

// DefaultAgentLoopConfig mirrors the spec's defaults: 500ms base poll,
// 5s backoff cap, max 5 deliveries before a message is treated as poison.
func DefaultAgentLoopConfig() *AgentLoopConfig {
	return &AgentLoopConfig{
		BatchSize:      10,
		PollInterval:   500 * time.Millisecond,
		MaxPollBackoff: 5 * time.Second,
		MaxDeliver:     5,
		AckWait:        30 * time.Second,
	}
}

// BusConfig configures the durable event/job bus (§4.1).
type BusConfig struct {
	URL              string        `yaml:"url,omitempty"`
	StreamName       string        `yaml:"stream_name,omitempty"`
	RetentionMaxAge  time.Duration `yaml:"retention_max_age,omitempty"`
	RetentionMaxSize int64         `yaml:"retention_max_size,omitempty"`
}

// DefaultBusConfig returns the spec's retention defaults: 7 days or
// 500MB, whichever comes first.
func DefaultBusConfig() *BusConfig {
	return &BusConfig{
		URL:              "nats://localhost:4222",
		StreamName:       "SWARM",
		RetentionMaxAge:  7 * 24 * time.Hour,
		RetentionMaxSize: 500 * 1024 * 1024,
	}
}

// ObjectStoreConfig configures the S3-compatible object store adapter
// (§4.3 Object Store Adapter, §6 Object store layout).
type ObjectStoreConfig struct {
	Bucket         string `yaml:"bucket" validate:"required"`
	Region         string `yaml:"region,omitempty"`
	Endpoint       string `yaml:"endpoint,omitempty"` // for S3-compatible (MinIO) deployments
	ForcePathStyle bool   `yaml:"force_path_style,omitempty"`
}

// RetentionConfig controls data-retention/cleanup behavior (SPEC_FULL §C.2).
type RetentionConfig struct {
	CleanupInterval       time.Duration `yaml:"cleanup_interval"`
	MITLPendingTTL        time.Duration `yaml:"mitl_pending_ttl"`
	ConvergenceKeepRounds int           `yaml:"convergence_keep_rounds"`
}

// DefaultRetentionConfig returns built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		CleanupInterval:       1 * time.Hour,
		MITLPendingTTL:        72 * time.Hour,
		ConvergenceKeepRounds: 500,
	}
}

// OrphanConfig controls the stale-scope sweep supplementing the Agent
// Loop Runtime (SPEC_FULL §C.1).
type OrphanConfig struct {
	ScanInterval time.Duration `yaml:"scan_interval"`
	Threshold    time.Duration `yaml:"threshold"`
}

// DefaultOrphanConfig scans every 5 minutes for scopes idle 15+ minutes —
// comfortably longer than AgentLoopConfig's default MaxPollBackoff so a
// normally-backing-off loop is never mistaken for a wedged one.
func DefaultOrphanConfig() *OrphanConfig {
	return &OrphanConfig{
		ScanInterval: 5 * time.Minute,
		Threshold:    15 * time.Minute,
	}
}

// NotifyConfig configures the best-effort operational webhook notifier
// (SPEC_FULL §C.3, adapted from the teacher's Slack integration).
type NotifyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"-"` // sourced from SWARM_NOTIFY_WEBHOOK_URL
	Channel    string `yaml:"channel,omitempty"`
}

// MaskingConfig controls payload redaction for WAL-persisted event
// envelopes and the human-review queue (SPEC_FULL §C.6): common secret
// shapes are scrubbed before a payload is durably stored or surfaced via
// GET /pending, independent of the narrower Kubernetes-Secret-only
// masking this was originally built for.
type MaskingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultMaskingConfig returns masking enabled by default: redaction is a
// safety net, not an opt-in feature.
func DefaultMaskingConfig() *MaskingConfig {
	return &MaskingConfig{Enabled: true}
}

// PolicySourceConfig configures remote policy-bundle loading with caching
// (SPEC_FULL §C.4, adapted from the teacher's runbook/github service).
type PolicySourceConfig struct {
	RepoURL  string        `yaml:"repo_url,omitempty"` // empty disables remote loading
	Ref      string        `yaml:"ref,omitempty"`
	CacheTTL time.Duration `yaml:"cache_ttl,omitempty"`
}

// LLMConfig configures the external sidecars a role loop or the governance
// agent may call: the extraction worker, the embedding service (§6), and
// the reasoning worker backing the governance agent's optional LLM-backed
// variant (SPEC_FULL §C.5).
type LLMConfig struct {
	ExtractionWorkerURL string        `yaml:"extraction_worker_url,omitempty"`
	ExtractionTimeout   time.Duration `yaml:"extraction_timeout,omitempty"`
	EmbeddingServiceURL string        `yaml:"embedding_service_url,omitempty"`
	EmbeddingTimeout    time.Duration `yaml:"embedding_timeout,omitempty"`

	// ReasoningWorkerURL, when set, enables the governance agent's
	// LLM-backed tool-calling variant. Empty means the deterministic path
	// in pkg/governance always runs.
	ReasoningWorkerURL string        `yaml:"reasoning_worker_url,omitempty"`
	ReasoningTimeout   time.Duration `yaml:"reasoning_timeout,omitempty"`
	MaxIterations      int           `yaml:"max_iterations,omitempty"`
}

// DefaultLLMConfig mirrors §6: "Configurable timeout (default ≥ 30s; must
// be increased for heavy models)".
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		ExtractionTimeout: 30 * time.Second,
		EmbeddingTimeout:  30 * time.Second,
		ReasoningTimeout:  30 * time.Second,
		MaxIterations:     6,
	}
}

// CertificateConfig configures Ed25519 signing of finality certificates
// (§4.14).
type CertificateConfig struct {
	// PrivateKeySeedEnv names the env var holding a base64 32-byte Ed25519
	// seed. If unset or empty, an ephemeral key is generated at process
	// start (§7: "signing falls back to ephemeral in-process key").
	PrivateKeySeedEnv string `yaml:"private_key_seed_env,omitempty"`
}
