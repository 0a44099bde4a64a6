package config

import (
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

const (
	policyFileName   = "policy.yaml"
	finalityFileName = "finality.yaml"
	systemFileName   = "swarm.yaml"
)

// Initialize loads the full configuration bundle from configDir, merging
// built-in defaults underneath whatever the user supplies and applying
// environment overrides for secrets. It mirrors the teacher's
// env-first-with-validated-defaults loading style.
func Initialize(configDir string) (*Config, error) {
	cfg := &Config{configDir: configDir}

	loaded, err := loadSystem(configDir)
	if err != nil {
		return nil, err
	}
	cfg.System = loaded.System
	cfg.AgentLoop = loaded.AgentLoop
	cfg.Bus = loaded.Bus
	cfg.ObjectStore = loaded.ObjectStore
	cfg.Retention = loaded.Retention
	cfg.Orphan = loaded.Orphan
	cfg.Notify = loaded.Notify
	cfg.PolicySrc = loaded.PolicySrc
	cfg.Certificate = loaded.Certificate
	cfg.LLM = loaded.LLM
	cfg.Masking = loaded.Masking

	policy, err := loadPolicy(configDir)
	if err != nil {
		return nil, err
	}
	cfg.Policy = policy

	finality, err := loadFinality(configDir)
	if err != nil {
		return nil, err
	}
	cfg.Finality = finality

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// systemFile is the decoded shape of swarm.yaml, merged over built-in
// defaults.
type systemFile struct {
	System      SystemConfig       `yaml:"system"`
	AgentLoop   AgentLoopConfig    `yaml:"agent_loop"`
	Bus         BusConfig          `yaml:"bus"`
	ObjectStore ObjectStoreConfig  `yaml:"object_store"`
	Retention   RetentionConfig    `yaml:"retention"`
	Orphan      OrphanConfig       `yaml:"orphan"`
	Notify      NotifyConfig       `yaml:"notify"`
	PolicySrc   PolicySourceConfig `yaml:"policy_source"`
	Certificate CertificateConfig  `yaml:"certificate"`
	LLM         LLMConfig          `yaml:"llm"`
	Masking     MaskingConfig      `yaml:"masking"`
}

func loadSystem(configDir string) (systemFile, error) {
	file := systemFile{
		AgentLoop: *DefaultAgentLoopConfig(),
		Bus:       *DefaultBusConfig(),
		Retention: *DefaultRetentionConfig(),
		Orphan:    *DefaultOrphanConfig(),
		LLM:       *DefaultLLMConfig(),
		Masking:   *DefaultMaskingConfig(),
	}

	path := filepath.Join(configDir, systemFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return file, nil
		}
		return systemFile{}, NewLoadError(path, err)
	}

	var loaded systemFile
	if err := yaml.Unmarshal(ExpandEnv(raw), &loaded); err != nil {
		return systemFile{}, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, path, err)
	}
	if err := mergo.Merge(&file, loaded, mergo.WithOverride); err != nil {
		return systemFile{}, fmt.Errorf("merging %s: %w", path, err)
	}
	return file, nil
}

func loadPolicy(configDir string) (*PolicyFile, error) {
	path := filepath.Join(configDir, policyFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &PolicyFile{Version: "builtin-1", Mode: ModeMITL}, nil
		}
		return nil, NewLoadError(path, err)
	}
	var p PolicyFile
	if err := yaml.Unmarshal(ExpandEnv(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, path, err)
	}
	return &p, nil
}

func loadFinality(configDir string) (*FinalityFile, error) {
	path := filepath.Join(configDir, finalityFileName)
	def := DefaultFinalityFile()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return def, nil
		}
		return nil, NewLoadError(path, err)
	}
	var loaded FinalityFile
	if err := yaml.Unmarshal(ExpandEnv(raw), &loaded); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidYAML, path, err)
	}
	if err := mergo.Merge(def, loaded, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merging %s: %w", path, err)
	}
	return def, nil
}

// applyEnvOverrides binds the secrets and runtime knobs that are never
// allowed to live in a YAML file on disk.
func applyEnvOverrides(cfg *Config) {
	cfg.System.BearerToken = os.Getenv("SWARM_BEARER_TOKEN")
	cfg.Notify.WebhookURL = os.Getenv("SWARM_NOTIFY_WEBHOOK_URL")
	if cfg.System.HTTPPort == "" {
		cfg.System.HTTPPort = getEnvOrDefault("SWARM_HTTP_PORT", "8080")
	}
	if url := os.Getenv("SWARM_BUS_URL"); url != "" {
		cfg.Bus.URL = url
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
