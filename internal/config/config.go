// Package config loads kira's vault/agent/policy/router configuration from a
// YAML file, with every field overridable via a KIRA_-prefixed environment
// variable, the way the teacher's infrastructure/config/services.go loads
// config/services.yaml and its siblings support env overrides.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	kerrors "github.com/kira-host/kira/infrastructure/errors"
	"github.com/kira-host/kira/infrastructure/runtime"
)

// VaultConfig configures the filesystem root Host API operates against.
type VaultConfig struct {
	Path            string `yaml:"path"`
	TZ              string `yaml:"tz"`
	EnableFileLocks bool   `yaml:"enable_file_locks"`
}

// CleanupConfig configures maintenance TTLs, in days.
type CleanupConfig struct {
	DedupeTTLDays     int `yaml:"dedupe_ttl_days"`
	QuarantineTTLDays int `yaml:"quarantine_ttl_days"`
	LogTTLDays        int `yaml:"log_ttl_days"`
}

// BackupConfig configures vault archive/restore.
type BackupConfig struct {
	BackupDir      string `yaml:"backup_dir"`
	RetentionCount int    `yaml:"retention_count"`
	Compress       bool   `yaml:"compress"`
}

// AgentBudget bounds one agent graph run.
type AgentBudget struct {
	MaxSteps          int `yaml:"max_steps"`
	MaxTokens         int `yaml:"max_tokens"`
	MaxWallTimeSecond int `yaml:"max_wall_time_seconds"`
}

// AgentFlags toggles optional agent graph behavior.
type AgentFlags struct {
	DryRun              bool `yaml:"dry_run"`
	RequireConfirmation bool `yaml:"require_confirmation"`
	EnableReflection    bool `yaml:"enable_reflection"`
	EnableVerification  bool `yaml:"enable_verification"`
}

// AgentConfig groups the agent graph's budget and flags.
type AgentConfig struct {
	Budget AgentBudget `yaml:"budget"`
	Flags  AgentFlags  `yaml:"flags"`
}

// PolicyConfig configures the policy enforcer's allowlists and limits.
type PolicyConfig struct {
	AllowedCapabilities    []string `yaml:"allowed_capabilities"`
	AllowedTools           []string `yaml:"allowed_tools"`
	RequireConfirmation    bool     `yaml:"require_confirmation"`
	MaxToolCallsPerRequest int      `yaml:"max_tool_calls_per_request"`
}

// MemoryConfig configures conversation history retention and RAG retrieval.
type MemoryConfig struct {
	MaxExchanges int    `yaml:"max_exchanges"`
	RAGPath      string `yaml:"rag_path"`
}

// RouterConfig configures the LLM router's static task-type -> provider map.
type RouterConfig struct {
	PlanningProvider     string `yaml:"planning_provider"`
	StructuringProvider  string `yaml:"structuring_provider"`
	DefaultProvider      string `yaml:"default_provider"`
	EnableLocalFallback  bool   `yaml:"enable_local_fallback"`
	MaxRetries           int    `yaml:"max_retries"`
}

// Config is kira's complete, resolved configuration.
type Config struct {
	Vault   VaultConfig   `yaml:"vault"`
	Cleanup CleanupConfig `yaml:"cleanup"`
	Backup  BackupConfig  `yaml:"backup"`
	Agent   AgentConfig   `yaml:"agent"`
	Policy  PolicyConfig  `yaml:"policy"`
	Router  RouterConfig  `yaml:"router"`
	Memory  MemoryConfig  `yaml:"memory"`
}

// Default returns the configuration spec.md prescribes when no file and no
// env var overrides anything.
func Default() *Config {
	return &Config{
		Vault: VaultConfig{
			TZ:              "Europe/Brussels",
			EnableFileLocks: true,
		},
		Cleanup: CleanupConfig{
			DedupeTTLDays:     30,
			QuarantineTTLDays: 90,
			LogTTLDays:        7,
		},
		Backup: BackupConfig{
			RetentionCount: 7,
			Compress:       true,
		},
		Agent: AgentConfig{
			Budget: AgentBudget{
				MaxSteps:          10,
				MaxTokens:         10000,
				MaxWallTimeSecond: 300,
			},
			Flags: AgentFlags{
				DryRun:              false,
				RequireConfirmation: false,
				EnableReflection:    true,
				EnableVerification:  true,
			},
		},
		Policy: PolicyConfig{
			MaxToolCallsPerRequest: 10,
		},
		Router: RouterConfig{},
		Memory: MemoryConfig{
			MaxExchanges: 20,
		},
	}
}

// Load reads a YAML config file at path, falling back to defaults for any
// field the file omits, then applies KIRA_* environment overrides on top.
// A missing file is not an error: it yields Default() with env overrides
// still applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, kerrors.Internal("read config file", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, kerrors.InvalidFormat("config", "valid YAML: "+err.Error())
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides resolves every field through infrastructure/runtime's
// Resolve* helpers. ResolveString/ResolveInt/ResolveDuration treat their
// first argument as an explicit, already-authoritative override (e.g. a CLI
// flag) that beats the environment; since no such higher-precedence source
// exists here, that argument is always passed empty/zero so the env var gets
// its chance, and the YAML-or-default value already sitting on cfg is passed
// as the fallback. ResolveBool's contract is the inverse (env beats cfgValue
// outright), so it takes the field directly.
func applyEnvOverrides(cfg *Config) {
	cfg.Vault.Path = runtime.ResolveString("", "KIRA_VAULT_PATH", cfg.Vault.Path)
	cfg.Vault.TZ = runtime.ResolveString("", "KIRA_VAULT_TZ", cfg.Vault.TZ)
	cfg.Vault.EnableFileLocks = runtime.ResolveBool(cfg.Vault.EnableFileLocks, "KIRA_VAULT_ENABLE_FILE_LOCKS")

	cfg.Cleanup.DedupeTTLDays = runtime.ResolveInt(0, "KIRA_CLEANUP_DEDUPE_TTL_DAYS", cfg.Cleanup.DedupeTTLDays)
	cfg.Cleanup.QuarantineTTLDays = runtime.ResolveInt(0, "KIRA_CLEANUP_QUARANTINE_TTL_DAYS", cfg.Cleanup.QuarantineTTLDays)
	cfg.Cleanup.LogTTLDays = runtime.ResolveInt(0, "KIRA_CLEANUP_LOG_TTL_DAYS", cfg.Cleanup.LogTTLDays)

	cfg.Backup.BackupDir = runtime.ResolveString("", "KIRA_BACKUP_BACKUP_DIR", cfg.Backup.BackupDir)
	cfg.Backup.RetentionCount = runtime.ResolveInt(0, "KIRA_BACKUP_RETENTION_COUNT", cfg.Backup.RetentionCount)
	cfg.Backup.Compress = runtime.ResolveBool(cfg.Backup.Compress, "KIRA_BACKUP_COMPRESS")

	cfg.Agent.Budget.MaxSteps = runtime.ResolveInt(0, "KIRA_AGENT_BUDGET_MAX_STEPS", cfg.Agent.Budget.MaxSteps)
	cfg.Agent.Budget.MaxTokens = runtime.ResolveInt(0, "KIRA_AGENT_BUDGET_MAX_TOKENS", cfg.Agent.Budget.MaxTokens)
	cfg.Agent.Budget.MaxWallTimeSecond = runtime.ResolveInt(0, "KIRA_AGENT_BUDGET_MAX_WALL_TIME_SECONDS", cfg.Agent.Budget.MaxWallTimeSecond)

	cfg.Agent.Flags.DryRun = runtime.ResolveBool(cfg.Agent.Flags.DryRun, "KIRA_AGENT_FLAGS_DRY_RUN")
	cfg.Agent.Flags.RequireConfirmation = runtime.ResolveBool(cfg.Agent.Flags.RequireConfirmation, "KIRA_AGENT_FLAGS_REQUIRE_CONFIRMATION")
	cfg.Agent.Flags.EnableReflection = runtime.ResolveBool(cfg.Agent.Flags.EnableReflection, "KIRA_AGENT_FLAGS_ENABLE_REFLECTION")
	cfg.Agent.Flags.EnableVerification = runtime.ResolveBool(cfg.Agent.Flags.EnableVerification, "KIRA_AGENT_FLAGS_ENABLE_VERIFICATION")

	cfg.Policy.AllowedCapabilities = runtime.ResolveStringSlice(cfg.Policy.AllowedCapabilities, "KIRA_POLICY_ALLOWED_CAPABILITIES")
	cfg.Policy.AllowedTools = runtime.ResolveStringSlice(cfg.Policy.AllowedTools, "KIRA_POLICY_ALLOWED_TOOLS")
	cfg.Policy.RequireConfirmation = runtime.ResolveBool(cfg.Policy.RequireConfirmation, "KIRA_POLICY_REQUIRE_CONFIRMATION")
	cfg.Policy.MaxToolCallsPerRequest = runtime.ResolveInt(0, "KIRA_POLICY_MAX_TOOL_CALLS_PER_REQUEST", cfg.Policy.MaxToolCallsPerRequest)

	cfg.Router.PlanningProvider = runtime.ResolveString("", "KIRA_ROUTER_PLANNING_PROVIDER", cfg.Router.PlanningProvider)
	cfg.Router.StructuringProvider = runtime.ResolveString("", "KIRA_ROUTER_STRUCTURING_PROVIDER", cfg.Router.StructuringProvider)
	cfg.Router.DefaultProvider = runtime.ResolveString("", "KIRA_ROUTER_DEFAULT_PROVIDER", cfg.Router.DefaultProvider)
	cfg.Router.EnableLocalFallback = runtime.ResolveBool(cfg.Router.EnableLocalFallback, "KIRA_ROUTER_ENABLE_LOCAL_FALLBACK")
	cfg.Router.MaxRetries = runtime.ResolveInt(0, "KIRA_ROUTER_MAX_RETRIES", cfg.Router.MaxRetries)

	cfg.Memory.MaxExchanges = runtime.ResolveInt(0, "KIRA_MEMORY_MAX_EXCHANGES", cfg.Memory.MaxExchanges)
	cfg.Memory.RAGPath = runtime.ResolveString("", "KIRA_MEMORY_RAG_PATH", cfg.Memory.RAGPath)
}

// PluginOverride holds local developer overrides for plugin-scoped settings
// that must not live in the versioned kira-plugin.json manifest.
type PluginOverride struct {
	LogLevel     string `toml:"log_level"`
	KVNamespace  string `toml:"kv_namespace"`
	KVQuotaBytes int64  `toml:"kv_quota_bytes"`
}

// LoadPluginOverride reads an optional kira-plugin.toml sitting next to a
// plugin's kira-plugin.json manifest. A missing file yields a zero-value
// PluginOverride, not an error: the override is optional by design.
func LoadPluginOverride(path string) (*PluginOverride, error) {
	var override PluginOverride
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &override, nil
	}
	if _, err := toml.DecodeFile(path, &override); err != nil {
		return nil, kerrors.InvalidFormat("kira-plugin.toml", "valid TOML: "+err.Error())
	}
	return &override, nil
}
