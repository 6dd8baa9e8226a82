package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("RELAY_DESTINATION", "+15550001111")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ChatID != 1 {
		t.Fatalf("ChatID = %d, want 1", cfg.ChatID)
	}
	if cfg.PollInterval != 3*time.Second {
		t.Fatalf("PollInterval = %v, want 3s", cfg.PollInterval)
	}
	if cfg.FetchWindow != 3 || cfg.FetchWindowMax != 50 {
		t.Fatalf("FetchWindow = %d/%d, want 3/50", cfg.FetchWindow, cfg.FetchWindowMax)
	}
	if cfg.MaxPartSize != 1600 {
		t.Fatalf("MaxPartSize = %d, want 1600", cfg.MaxPartSize)
	}
	if cfg.PartDelay != 1500*time.Millisecond {
		t.Fatalf("PartDelay = %v, want 1.5s", cfg.PartDelay)
	}
	if cfg.CursorPath != "imsg-state.json" {
		t.Fatalf("CursorPath = %q", cfg.CursorPath)
	}
	if cfg.TranscriptSource != "imsg" || cfg.PolicyMode != "keyword" {
		t.Fatalf("source/policy = %q/%q", cfg.TranscriptSource, cfg.PolicyMode)
	}
	if !cfg.PolicyGuard {
		t.Fatalf("PolicyGuard should default to true")
	}
	if cfg.OpenClawAdapterMode != "auto" {
		t.Fatalf("OpenClawAdapterMode = %q, want %q", cfg.OpenClawAdapterMode, "auto")
	}
	if cfg.OpenClawHTTPURL != "" {
		t.Fatalf("OpenClawHTTPURL = %q, want empty default", cfg.OpenClawHTTPURL)
	}
}

func TestLoadRequiresDestinationUnlessDryRun(t *testing.T) {
	setCoreEnvEmpty(t)
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "RELAY_DESTINATION") {
		t.Fatalf("Load() error = %v, want destination error", err)
	}

	t.Setenv("RELAY_DRY_RUN", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() dry run error = %v", err)
	}
	if !cfg.DryRun {
		t.Fatalf("DryRun = false")
	}
}

func TestLoadBareNumberUnits(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("RELAY_DESTINATION", "x")
	t.Setenv("RELAY_POLL_INTERVAL", "5")
	t.Setenv("RELAY_PART_DELAY", "250")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Fatalf("PollInterval = %v, want 5s", cfg.PollInterval)
	}
	if cfg.PartDelay != 250*time.Millisecond {
		t.Fatalf("PartDelay = %v, want 250ms", cfg.PartDelay)
	}

	t.Setenv("RELAY_POLL_INTERVAL", "1500ms")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PollInterval != 1500*time.Millisecond {
		t.Fatalf("PollInterval = %v, want 1.5s", cfg.PollInterval)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"RELAY_CHAT_ID", "0", "RELAY_CHAT_ID"},
		{"RELAY_CHAT_ID", "abc", "RELAY_CHAT_ID"},
		{"RELAY_POLL_INTERVAL", "10ms", "RELAY_POLL_INTERVAL"},
		{"RELAY_FETCH_WINDOW", "0", "RELAY_FETCH_WINDOW"},
		{"RELAY_FETCH_WINDOW_MAX", "2", "RELAY_FETCH_WINDOW_MAX"},
		{"RELAY_MAX_PART_SIZE", "-1", "RELAY_MAX_PART_SIZE"},
		{"RELAY_DRY_RUN", "maybe", "RELAY_DRY_RUN"},
		{"TRANSCRIPT_SOURCE", "sms", "TRANSCRIPT_SOURCE"},
		{"POLICY_MODE", "oracle", "POLICY_MODE"},
		{"POLICY_MODE", "openai", "OPENAI_API_KEY"},
		{"APP_LOG_FORMAT", "xml", "APP_LOG_FORMAT"},
	}
	for _, tc := range tests {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv("RELAY_DESTINATION", "x")
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load() error = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestLoadFileEnvOverridesFile(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "relay.yaml")
	body := `RELAY_DESTINATION: "+15550002222"
RELAY_CHAT_ID: 7
RELAY_POLL_INTERVAL: 10
RELAY_DRY_RUN: false
POLICY_MODE: openclaw
OPENCLAW_HTTP_URL: http://localhost:7777/custom
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("APP_CONFIG_FILE", path)
	t.Setenv("RELAY_CHAT_ID", "9")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Destination != "+15550002222" {
		t.Fatalf("Destination = %q, want file value", cfg.Destination)
	}
	if cfg.ChatID != 9 {
		t.Fatalf("ChatID = %d, want env override 9", cfg.ChatID)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Fatalf("PollInterval = %v, want 10s", cfg.PollInterval)
	}
	if cfg.PolicyMode != "openclaw" || cfg.OpenClawHTTPURL != "http://localhost:7777/custom" {
		t.Fatalf("policy = %q url = %q", cfg.PolicyMode, cfg.OpenClawHTTPURL)
	}
}

func TestLoadFileRejectsNestedValues(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte("RELAY_DESTINATION:\n  nested: true\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected error for nested value")
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/relay")
	if got := expandHome("~/Library/Messages/chat.db"); got != "/home/relay/Library/Messages/chat.db" {
		t.Fatalf("expandHome() = %q", got)
	}
	if got := expandHome("/abs/chat.db"); got != "/abs/chat.db" {
		t.Fatalf("expandHome() = %q", got)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_CONFIG_FILE",
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LOG_LEVEL",
		"APP_LOG_FORMAT",
		"RELAY_CHAT_ID",
		"RELAY_DESTINATION",
		"RELAY_POLL_INTERVAL",
		"RELAY_FETCH_WINDOW",
		"RELAY_FETCH_WINDOW_MAX",
		"RELAY_MAX_PART_SIZE",
		"RELAY_PART_DELAY",
		"RELAY_FETCH_TIMEOUT",
		"RELAY_POLICY_TIMEOUT",
		"RELAY_SEND_TIMEOUT",
		"RELAY_CURSOR_PATH",
		"RELAY_CURSOR_NAME",
		"RELAY_WATCH_PATH",
		"RELAY_DRY_RUN",
		"TRANSCRIPT_SOURCE",
		"IMSG_CLI_PATH",
		"IMSG_SERVICE",
		"CHAT_DB_PATH",
		"POLICY_MODE",
		"POLICY_RULES_FILE",
		"POLICY_FALLBACK_REPLY",
		"POLICY_DEFAULT_REPLY",
		"POLICY_GUARD",
		"OPENCLAW_ADAPTER_MODE",
		"OPENCLAW_HTTP_URL",
		"OPENCLAW_CLI_PATH",
		"OPENCLAW_SESSION_KEY",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"OPENAI_MODEL",
		"OPENAI_SYSTEM_PROMPT",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
