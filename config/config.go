package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
	"github.com/yairfalse/vahti/types"
	"gopkg.in/yaml.v3"
)

// Config represents the main configuration
type Config struct {
	Version           string                            `yaml:"version"`
	Mode              types.EnforcementMode             `yaml:"mode"`
	FailMode          types.FailMode                    `yaml:"fail_mode"`
	ProtectedBranches []string                          `yaml:"protected_branches"`
	BlockOperations   bool                              `yaml:"block_operations"`
	ShowWarnings      bool                              `yaml:"show_warnings"`
	RequireApproval   bool                              `yaml:"require_approval"`
	CIExempt          bool                              `yaml:"ci_exempt"`
	BypassEnvAllowed  bool                              `yaml:"bypass_env_allowed"`
	Rules             map[types.OperationType]RuleEntry `yaml:"rules,omitempty"`
	PolicyDir         string                            `yaml:"policy_dir,omitempty"`
	Service           ServiceConfig                     `yaml:"service"`
	Approval          ApprovalConfig                    `yaml:"approval"`
	Cache             CacheConfig                       `yaml:"cache"`
	Audit             AuditConfig                       `yaml:"audit"`
	Detection         DetectionConfig                   `yaml:"detection"`
	Secrets           SecretsConfig                     `yaml:"secrets"`
	History           HistoryConfig                     `yaml:"history"`
	Metrics           MetricsConfig                     `yaml:"metrics"`
	OTEL              OTELConfig                        `yaml:"otel"`

	protectedGlobs []glob.Glob
}

// RuleEntry is an explicit per-operation override. It wins over every
// computed decision, including detection escalation.
type RuleEntry struct {
	Action   types.Action `yaml:"action"`
	Branches []string     `yaml:"branches,omitempty"`
}

// ServiceConfig points at the policy service
type ServiceConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutMs  int    `yaml:"timeout_ms"`
	MaxRetries int    `yaml:"max_retries"`
	// TokenEnv names the environment variable holding the bearer
	// token. The token itself never lives in the config file.
	TokenEnv string `yaml:"token_env"`
}

// ApprovalConfig tunes the approval wait loop
type ApprovalConfig struct {
	PollIntervalMs     int `yaml:"poll_interval_ms"`
	TimeoutMs          int `yaml:"timeout_ms"`
	ReminderIntervalMs int `yaml:"reminder_interval_ms"`
}

// CacheConfig tunes the operation result cache
type CacheConfig struct {
	Dir            string `yaml:"dir,omitempty"`
	SafeTTLMs      int64  `yaml:"safe_ttl_ms"`
	DangerousTTLMs int64  `yaml:"dangerous_ttl_ms"`
}

// AuditConfig tunes the append-only audit log
type AuditConfig struct {
	Dir           string `yaml:"dir,omitempty"`
	RetentionDays int    `yaml:"retention_days"`
}

// DetectionConfig tunes agent detection
type DetectionConfig struct {
	Enabled       bool   `yaml:"enabled"`
	HandshakeFile string `yaml:"handshake_file,omitempty"`
}

// SecretsConfig tunes the pre-commit credential scan
type SecretsConfig struct {
	Enabled       bool     `yaml:"enabled"`
	ExtraPatterns []string `yaml:"extra_patterns,omitempty"`
}

// HistoryConfig tunes the local decision history store
type HistoryConfig struct {
	Path string `yaml:"path,omitempty"`
}

// MetricsConfig tunes local metrics batching
type MetricsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Dir             string `yaml:"dir,omitempty"`
	BatchSize       int    `yaml:"batch_size"`
	FlushIntervalMs int    `yaml:"flush_interval_ms"`
	PushgatewayURL  string `yaml:"pushgateway_url,omitempty"`
}

// OTELConfig enables trace and metric export
type OTELConfig struct {
	Endpoint string `yaml:"endpoint,omitempty"`
	Insecure bool   `yaml:"insecure"`
}

// DefaultConfig returns the configuration used when no file is found.
// Conservative on destructive operations, quiet on everything else.
func DefaultConfig() *Config {
	return &Config{
		Version:           "1",
		Mode:              types.ModeBlock,
		FailMode:          types.FailGraceful,
		ProtectedBranches: []string{"main", "master"},
		BlockOperations:   true,
		ShowWarnings:      true,
		RequireApproval:   true,
		CIExempt:          true,
		BypassEnvAllowed:  false,
		PolicyDir:         ".vahti/policies",
		Service: ServiceConfig{
			BaseURL:    "http://127.0.0.1:8787",
			TimeoutMs:  5000,
			MaxRetries: 2,
			TokenEnv:   "VAHTI_TOKEN",
		},
		Approval: ApprovalConfig{
			PollIntervalMs:     2000,
			TimeoutMs:          300000,
			ReminderIntervalMs: 30000,
		},
		Cache: CacheConfig{
			SafeTTLMs:      300000,
			DangerousTTLMs: 60000,
		},
		Audit: AuditConfig{
			RetentionDays: 30,
		},
		Detection: DetectionConfig{
			Enabled: true,
		},
		Secrets: SecretsConfig{
			Enabled: true,
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			BatchSize:       20,
			FlushIntervalMs: 5000,
		},
		OTEL: OTELConfig{
			Insecure: true,
		},
	}
}

// LoadConfig loads configuration from file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Discover resolves the config for a repository. Search order:
// $VAHTI_CONFIG, <repo>/.vahti.yaml, ~/.config/vahti/config.yaml,
// then built-in defaults. The first file that exists wins outright;
// files are not merged.
func Discover(repoRoot string) (*Config, error) {
	if path := os.Getenv("VAHTI_CONFIG"); path != "" {
		return LoadConfig(path)
	}

	if repoRoot != "" {
		path := filepath.Join(repoRoot, ".vahti.yaml")
		if _, err := os.Stat(path); err == nil {
			return LoadConfig(path)
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".config", "vahti", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return LoadConfig(path)
		}
	}

	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid defaults: %w", err)
	}
	return cfg, nil
}

// Validate ensures config has required fields and compiles the
// protected branch patterns.
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if err := c.Mode.Validate(); err != nil {
		return err
	}
	if err := c.FailMode.Validate(); err != nil {
		return err
	}
	for op, rule := range c.Rules {
		if err := rule.Action.Validate(); err != nil {
			return fmt.Errorf("rule for %s: %w", op, err)
		}
	}
	if c.Cache.SafeTTLMs <= 0 || c.Cache.DangerousTTLMs <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.Service.TimeoutMs <= 0 {
		return fmt.Errorf("service timeout must be positive")
	}

	return c.compileProtectedGlobs()
}

func (c *Config) compileProtectedGlobs() error {
	c.protectedGlobs = c.protectedGlobs[:0]
	for _, pattern := range c.ProtectedBranches {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return fmt.Errorf("invalid protected branch pattern %q: %w", pattern, err)
		}
		c.protectedGlobs = append(c.protectedGlobs, g)
	}
	return nil
}

// IsProtected reports whether branch matches any protected pattern.
// Patterns support wildcards (release/*) with / as separator.
func (c *Config) IsProtected(branch string) bool {
	if branch == "" {
		return false
	}
	if len(c.protectedGlobs) != len(c.ProtectedBranches) {
		// Config built by hand in tests, compile lazily.
		if err := c.compileProtectedGlobs(); err != nil {
			return false
		}
	}
	for _, g := range c.protectedGlobs {
		if g.Match(branch) {
			return true
		}
	}
	return false
}

// RuleFor returns the explicit override for op on branch, if any.
func (c *Config) RuleFor(op types.OperationType, branch string) (types.Action, bool) {
	rule, ok := c.Rules[op]
	if !ok {
		return "", false
	}
	if len(rule.Branches) == 0 {
		return rule.Action, true
	}
	for _, pattern := range rule.Branches {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			continue
		}
		if g.Match(branch) {
			return rule.Action, true
		}
	}
	return "", false
}
