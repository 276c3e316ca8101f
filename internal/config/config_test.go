package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesSpecDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Vault.TZ != "Europe/Brussels" {
		t.Errorf("vault.tz = %q, want Europe/Brussels", cfg.Vault.TZ)
	}
	if !cfg.Vault.EnableFileLocks {
		t.Error("vault.enable_file_locks should default true")
	}
	if cfg.Cleanup.DedupeTTLDays != 30 || cfg.Cleanup.QuarantineTTLDays != 90 || cfg.Cleanup.LogTTLDays != 7 {
		t.Errorf("cleanup TTL defaults = %+v, want 30/90/7", cfg.Cleanup)
	}
	if cfg.Backup.RetentionCount != 7 || !cfg.Backup.Compress {
		t.Errorf("backup defaults = %+v, want retention=7 compress=true", cfg.Backup)
	}
	if cfg.Agent.Budget.MaxSteps != 10 || cfg.Agent.Budget.MaxTokens != 10000 || cfg.Agent.Budget.MaxWallTimeSecond != 300 {
		t.Errorf("agent budget defaults = %+v, want 10/10000/300", cfg.Agent.Budget)
	}
	if cfg.Agent.Flags.DryRun || cfg.Agent.Flags.RequireConfirmation || !cfg.Agent.Flags.EnableReflection || !cfg.Agent.Flags.EnableVerification {
		t.Errorf("agent flags defaults = %+v, want false/false/true/true", cfg.Agent.Flags)
	}
	if cfg.Policy.MaxToolCallsPerRequest != 10 {
		t.Errorf("policy.max_tool_calls_per_request = %d, want 10", cfg.Policy.MaxToolCallsPerRequest)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if cfg.Vault.TZ != "Europe/Brussels" {
		t.Errorf("vault.tz = %q, want default", cfg.Vault.TZ)
	}
}

func TestLoadOverlaysYAMLOnDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kira.yaml")
	content := `
vault:
  path: /tmp/myvault
  tz: America/New_York
cleanup:
  dedupe_ttl_days: 5
agent:
  budget:
    max_steps: 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Vault.Path != "/tmp/myvault" {
		t.Errorf("vault.path = %q, want /tmp/myvault", cfg.Vault.Path)
	}
	if cfg.Vault.TZ != "America/New_York" {
		t.Errorf("vault.tz = %q, want America/New_York", cfg.Vault.TZ)
	}
	if cfg.Cleanup.DedupeTTLDays != 5 {
		t.Errorf("cleanup.dedupe_ttl_days = %d, want 5", cfg.Cleanup.DedupeTTLDays)
	}
	// Fields omitted from the file keep their defaults.
	if cfg.Cleanup.QuarantineTTLDays != 90 {
		t.Errorf("cleanup.quarantine_ttl_days = %d, want default 90", cfg.Cleanup.QuarantineTTLDays)
	}
	if cfg.Agent.Budget.MaxSteps != 4 {
		t.Errorf("agent.budget.max_steps = %d, want 4", cfg.Agent.Budget.MaxSteps)
	}
}

func TestLoadInvalidYAMLReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("vault: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestEnvOverrideWinsOverFileAndDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kira.yaml")
	if err := os.WriteFile(path, []byte("vault:\n  tz: America/New_York\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("KIRA_VAULT_TZ", "Asia/Tokyo")
	t.Setenv("KIRA_AGENT_BUDGET_MAX_STEPS", "99")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Vault.TZ != "Asia/Tokyo" {
		t.Errorf("vault.tz = %q, want env override Asia/Tokyo", cfg.Vault.TZ)
	}
	if cfg.Agent.Budget.MaxSteps != 99 {
		t.Errorf("agent.budget.max_steps = %d, want env override 99", cfg.Agent.Budget.MaxSteps)
	}
}

func TestEnvOverrideCSVListsForPolicy(t *testing.T) {
	t.Setenv("KIRA_POLICY_ALLOWED_TOOLS", "task_create, task_update ,task_get")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []string{"task_create", "task_update", "task_get"}
	if len(cfg.Policy.AllowedTools) != len(want) {
		t.Fatalf("policy.allowed_tools = %v, want %v", cfg.Policy.AllowedTools, want)
	}
	for i, v := range want {
		if cfg.Policy.AllowedTools[i] != v {
			t.Errorf("policy.allowed_tools[%d] = %q, want %q", i, cfg.Policy.AllowedTools[i], v)
		}
	}
}

func TestLoadPluginOverrideMissingFileIsZeroValue(t *testing.T) {
	override, err := LoadPluginOverride(filepath.Join(t.TempDir(), "kira-plugin.toml"))
	if err != nil {
		t.Fatalf("LoadPluginOverride() error = %v", err)
	}
	if override.LogLevel != "" || override.KVNamespace != "" || override.KVQuotaBytes != 0 {
		t.Errorf("expected zero-value override, got %+v", override)
	}
}

func TestLoadPluginOverrideParsesTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kira-plugin.toml")
	content := `
log_level = "debug"
kv_namespace = "my-plugin"
kv_quota_bytes = 1048576
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	override, err := LoadPluginOverride(path)
	if err != nil {
		t.Fatalf("LoadPluginOverride() error = %v", err)
	}
	if override.LogLevel != "debug" {
		t.Errorf("log_level = %q, want debug", override.LogLevel)
	}
	if override.KVNamespace != "my-plugin" {
		t.Errorf("kv_namespace = %q, want my-plugin", override.KVNamespace)
	}
	if override.KVQuotaBytes != 1048576 {
		t.Errorf("kv_quota_bytes = %d, want 1048576", override.KVQuotaBytes)
	}
}
