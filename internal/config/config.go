package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the relay.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool
	LogLevel         string
	LogFormat        string

	ChatID         int64
	Destination    string
	PollInterval   time.Duration
	FetchWindow    int
	FetchWindowMax int
	MaxPartSize    int
	PartDelay      time.Duration
	FetchTimeout   time.Duration
	PolicyTimeout  time.Duration
	SendTimeout    time.Duration
	CursorPath     string
	CursorName     string
	WatchPath      string
	DryRun         bool

	TranscriptSource string
	IMsgCLIPath      string
	IMsgService      string
	ChatDBPath       string

	PolicyMode          string
	PolicyRulesFile     string
	PolicyFallbackReply string
	PolicyDefaultReply  string
	PolicyGuard         bool

	OpenClawAdapterMode string
	OpenClawHTTPURL     string
	OpenClawCLIPath     string
	OpenClawSessionKey  string

	OpenAIAPIKey       string
	OpenAIBaseURL      string
	OpenAIModel        string
	OpenAISystemPrompt string

	DatabaseURL string
}

// Load reads APP_CONFIG_FILE (if set) and the environment.
func Load() (Config, error) {
	return LoadFile(stringsTrimSpace("APP_CONFIG_FILE"))
}

// LoadFile reads base values from a flat YAML file keyed by the same names
// as the environment variables; the environment overrides the file.
func LoadFile(path string) (Config, error) {
	cfg, err := Parse(path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse is LoadFile without cross-field validation. Diagnostic commands
// use it to inspect incomplete setups.
func Parse(path string) (Config, error) {
	src := source{file: map[string]string{}}
	if path = trimSpace(path); path != "" {
		file, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		src.file = file
	}

	cfg := Config{
		BindAddr:         src.orDefault("APP_BIND_ADDR", "127.0.0.1:8089"),
		MetricsNamespace: src.orDefault("APP_METRICS_NAMESPACE", "imsgrelay"),
		LogLevel:         strings.ToLower(src.orDefault("APP_LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(src.orDefault("APP_LOG_FORMAT", "json")),

		Destination: src.get("RELAY_DESTINATION"),
		CursorPath:  src.orDefault("RELAY_CURSOR_PATH", "imsg-state.json"),
		CursorName:  src.orDefault("RELAY_CURSOR_NAME", "default"),
		WatchPath:   expandHome(src.get("RELAY_WATCH_PATH")),

		TranscriptSource: strings.ToLower(src.orDefault("TRANSCRIPT_SOURCE", "imsg")),
		IMsgCLIPath:      src.orDefault("IMSG_CLI_PATH", "imsg"),
		IMsgService:      src.get("IMSG_SERVICE"),
		ChatDBPath:       expandHome(src.orDefault("CHAT_DB_PATH", "~/Library/Messages/chat.db")),

		PolicyMode:          strings.ToLower(src.orDefault("POLICY_MODE", "keyword")),
		PolicyRulesFile:     src.get("POLICY_RULES_FILE"),
		PolicyFallbackReply: src.get("POLICY_FALLBACK_REPLY"),
		PolicyDefaultReply:  src.get("POLICY_DEFAULT_REPLY"),

		OpenClawAdapterMode: src.orDefault("OPENCLAW_ADAPTER_MODE", "auto"),
		OpenClawHTTPURL:     src.get("OPENCLAW_HTTP_URL"),
		OpenClawCLIPath:     src.orDefault("OPENCLAW_CLI_PATH", "openclaw"),
		OpenClawSessionKey:  src.orDefault("OPENCLAW_SESSION_KEY", "agent:main:main"),

		OpenAIAPIKey:       src.get("OPENAI_API_KEY"),
		OpenAIBaseURL:      src.get("OPENAI_BASE_URL"),
		OpenAIModel:        src.orDefault("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAISystemPrompt: src.get("OPENAI_SYSTEM_PROMPT"),

		DatabaseURL: src.get("DATABASE_URL"),
	}

	var err error
	if cfg.ShutdownTimeout, err = src.duration("APP_SHUTDOWN_TIMEOUT", 15*time.Second, time.Second); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = src.bool("APP_ALLOW_ANY_ORIGIN", false); err != nil {
		return Config{}, err
	}
	if cfg.ChatID, err = src.int64("RELAY_CHAT_ID", 1); err != nil {
		return Config{}, err
	}
	// Bare numbers: seconds for the poll interval, milliseconds for the part delay.
	if cfg.PollInterval, err = src.duration("RELAY_POLL_INTERVAL", 3*time.Second, time.Second); err != nil {
		return Config{}, err
	}
	if cfg.PartDelay, err = src.duration("RELAY_PART_DELAY", 1500*time.Millisecond, time.Millisecond); err != nil {
		return Config{}, err
	}
	if cfg.FetchWindow, err = src.int("RELAY_FETCH_WINDOW", 3); err != nil {
		return Config{}, err
	}
	if cfg.FetchWindowMax, err = src.int("RELAY_FETCH_WINDOW_MAX", 50); err != nil {
		return Config{}, err
	}
	if cfg.MaxPartSize, err = src.int("RELAY_MAX_PART_SIZE", 1600); err != nil {
		return Config{}, err
	}
	if cfg.FetchTimeout, err = src.duration("RELAY_FETCH_TIMEOUT", 10*time.Second, time.Second); err != nil {
		return Config{}, err
	}
	if cfg.PolicyTimeout, err = src.duration("RELAY_POLICY_TIMEOUT", 30*time.Second, time.Second); err != nil {
		return Config{}, err
	}
	if cfg.SendTimeout, err = src.duration("RELAY_SEND_TIMEOUT", 30*time.Second, time.Second); err != nil {
		return Config{}, err
	}
	if cfg.DryRun, err = src.bool("RELAY_DRY_RUN", false); err != nil {
		return Config{}, err
	}
	if cfg.PolicyGuard, err = src.bool("POLICY_GUARD", true); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field requirements.
func (c Config) Validate() error {
	if c.ChatID <= 0 {
		return fmt.Errorf("RELAY_CHAT_ID must be positive")
	}
	if trimSpace(c.Destination) == "" && !c.DryRun {
		return fmt.Errorf("RELAY_DESTINATION is required unless RELAY_DRY_RUN=true")
	}
	if c.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("RELAY_POLL_INTERVAL must be at least 100ms")
	}
	if c.FetchWindow <= 0 {
		return fmt.Errorf("RELAY_FETCH_WINDOW must be positive")
	}
	if c.FetchWindowMax < c.FetchWindow {
		return fmt.Errorf("RELAY_FETCH_WINDOW_MAX must be >= RELAY_FETCH_WINDOW")
	}
	if c.MaxPartSize <= 0 {
		return fmt.Errorf("RELAY_MAX_PART_SIZE must be positive")
	}
	if c.PartDelay < 0 {
		return fmt.Errorf("RELAY_PART_DELAY must be >= 0")
	}
	for key, d := range map[string]time.Duration{
		"RELAY_FETCH_TIMEOUT":  c.FetchTimeout,
		"RELAY_POLICY_TIMEOUT": c.PolicyTimeout,
		"RELAY_SEND_TIMEOUT":   c.SendTimeout,
		"APP_SHUTDOWN_TIMEOUT": c.ShutdownTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	if trimSpace(c.CursorPath) == "" && trimSpace(c.DatabaseURL) == "" && !c.DryRun {
		return fmt.Errorf("RELAY_CURSOR_PATH or DATABASE_URL is required")
	}

	switch c.TranscriptSource {
	case "imsg", "chatdb":
	default:
		return fmt.Errorf("TRANSCRIPT_SOURCE must be imsg or chatdb, got %q", c.TranscriptSource)
	}
	switch c.PolicyMode {
	case "keyword", "openclaw":
	case "openai":
		if trimSpace(c.OpenAIAPIKey) == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for POLICY_MODE=openai")
		}
	default:
		return fmt.Errorf("POLICY_MODE must be keyword, openclaw or openai, got %q", c.PolicyMode)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("APP_LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	return nil
}

type source struct {
	file map[string]string
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			return nil, fmt.Errorf("config file %s: %s must be a scalar", path, k)
		}
		out[strings.ToUpper(trimSpace(k))] = fmt.Sprint(v)
	}
	return out, nil
}

func (s source) get(key string) string {
	if v := stringsTrimSpace(key); v != "" {
		return v
	}
	return trimSpace(s.file[key])
}

func (s source) orDefault(key, fallback string) string {
	if v := s.get(key); v != "" {
		return v
	}
	return fallback
}

func (s source) duration(key string, fallback, bareUnit time.Duration) (time.Duration, error) {
	v := s.get(key)
	if v == "" {
		return fallback, nil
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(n) * bareUnit, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func (s source) int(key string, fallback int) (int, error) {
	v := s.get(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func (s source) int64(key string, fallback int64) (int64, error) {
	v := s.get(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func (s source) bool(key string, fallback bool) (bool, error) {
	v := strings.ToLower(s.get(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	return strings.TrimSpace(v)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
