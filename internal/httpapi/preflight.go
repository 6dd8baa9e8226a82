package httpapi

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ent0n29/imsgrelay/internal/config"
)

// Check is one preflight finding.
type Check struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type PreflightReport struct {
	OK          bool    `json:"ok"`
	Source      string  `json:"transcript_source"`
	PolicyMode  string  `json:"policy_mode"`
	BrainMode   string  `json:"brain_mode,omitempty"`
	CursorStore string  `json:"cursor_store"`
	Checks      []Check `json:"checks"`
}

var lookPath = exec.LookPath

// Preflight inspects the local environment the relay depends on. It never
// sends or fetches messages.
func Preflight(cfg config.Config) PreflightReport {
	report := PreflightReport{
		Source:     cfg.TranscriptSource,
		PolicyMode: cfg.PolicyMode,
		Checks:     make([]Check, 0, 8),
	}
	add := func(c Check) { report.Checks = append(report.Checks, c) }

	switch {
	case strings.TrimSpace(cfg.Destination) != "":
		add(Check{ID: "destination", Status: "ok", Label: "Reply destination", Detail: cfg.Destination})
	case cfg.DryRun:
		add(Check{
			ID:     "destination",
			Status: "warn",
			Label:  "Reply destination",
			Detail: "not set; dry run only logs replies",
		})
	default:
		add(Check{
			ID:     "destination",
			Status: "error",
			Label:  "Reply destination",
			Detail: "RELAY_DESTINATION is empty",
			Fix:    "Set RELAY_DESTINATION to a phone number or Apple ID.",
		})
	}

	needCLI := !cfg.DryRun
	switch cfg.TranscriptSource {
	case "chatdb":
		add(chatDBCheck(cfg.ChatDBPath))
	default:
		needCLI = true
	}
	if needCLI {
		add(imsgCheck(cfg.IMsgCLIPath))
	}

	report.CursorStore, report.Checks = cursorChecks(cfg, report.Checks)

	switch cfg.PolicyMode {
	case "openclaw":
		var brain []Check
		report.BrainMode, brain = brainChecks(cfg)
		report.Checks = append(report.Checks, brain...)
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			add(Check{
				ID:     "openai_key",
				Status: "error",
				Label:  "OpenAI API key",
				Detail: "OPENAI_API_KEY is not set",
				Fix:    "Set OPENAI_API_KEY or switch to POLICY_MODE=keyword.",
			})
		} else {
			add(Check{ID: "openai_key", Status: "ok", Label: "OpenAI API key", Detail: "present (" + cfg.OpenAIModel + ")"})
		}
	default:
		rules := strings.TrimSpace(cfg.PolicyRulesFile)
		if rules == "" {
			add(Check{ID: "policy_rules", Status: "ok", Label: "Keyword rules", Detail: "built-in defaults"})
		} else if _, err := os.Stat(rules); err != nil {
			add(Check{
				ID:     "policy_rules",
				Status: "error",
				Label:  "Keyword rules",
				Detail: fmt.Sprintf("rules file unreadable (%s)", rules),
				Fix:    "Fix POLICY_RULES_FILE or unset it to use the defaults.",
			})
		} else {
			add(Check{ID: "policy_rules", Status: "ok", Label: "Keyword rules", Detail: rules})
		}
	}

	if watch := strings.TrimSpace(cfg.WatchPath); watch != "" {
		if _, err := os.Stat(watch); err != nil {
			add(Check{
				ID:     "watch_path",
				Status: "warn",
				Label:  "Change watcher",
				Detail: fmt.Sprintf("%s not found; polling on the interval only", watch),
			})
		} else {
			add(Check{ID: "watch_path", Status: "ok", Label: "Change watcher", Detail: watch})
		}
	}

	report.OK = true
	for _, c := range report.Checks {
		if c.Status == "error" {
			report.OK = false
			break
		}
	}
	return report
}

func imsgCheck(path string) Check {
	cli := strings.TrimSpace(path)
	if cli == "" {
		cli = "imsg"
	}
	if _, err := lookPath(cli); err != nil {
		return Check{
			ID:     "imsg_cli",
			Status: "error",
			Label:  "imsg CLI",
			Detail: fmt.Sprintf("%s not found", cli),
			Fix:    "Install imsg (brew install steipete/tap/imsg) or set IMSG_CLI_PATH.",
		}
	}
	return Check{ID: "imsg_cli", Status: "ok", Label: "imsg CLI", Detail: cli + " found"}
}

func chatDBCheck(path string) Check {
	f, err := os.Open(path)
	if err != nil {
		return Check{
			ID:     "chat_db",
			Status: "error",
			Label:  "Messages database",
			Detail: fmt.Sprintf("cannot open %s", path),
			Fix:    "Grant Full Disk Access to the terminal running the relay, or set CHAT_DB_PATH.",
		}
	}
	_ = f.Close()
	return Check{ID: "chat_db", Status: "ok", Label: "Messages database", Detail: path}
}

func cursorChecks(cfg config.Config, checks []Check) (string, []Check) {
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		return "postgres", append(checks, Check{
			ID:     "cursor_store",
			Status: "ok",
			Label:  "Cursor persistence",
			Detail: "postgres (" + cfg.CursorName + ")",
		})
	}
	path := strings.TrimSpace(cfg.CursorPath)
	if path == "" {
		return "in-memory", append(checks, Check{
			ID:     "cursor_store",
			Status: "warn",
			Label:  "Cursor persistence",
			Detail: "in-memory only",
			Fix:    "Set RELAY_CURSOR_PATH or DATABASE_URL so restarts do not re-baseline.",
		})
	}
	if !filepath.IsAbs(path) {
		if wd, err := os.Getwd(); err == nil {
			path = filepath.Join(wd, path)
		}
	}
	if _, err := os.Stat(path); err != nil {
		return "file", append(checks, Check{
			ID:     "cursor_store",
			Status: "ok",
			Label:  "Cursor persistence",
			Detail: fmt.Sprintf("%s (created on first save; first run baselines)", path),
		})
	}
	return "file", append(checks, Check{ID: "cursor_store", Status: "ok", Label: "Cursor persistence", Detail: path})
}

func brainChecks(cfg config.Config) (string, []Check) {
	mode := strings.ToLower(strings.TrimSpace(cfg.OpenClawAdapterMode))
	if mode == "" {
		mode = "auto"
	}
	cli := strings.TrimSpace(cfg.OpenClawCLIPath)
	if cli == "" {
		cli = "openclaw"
	}
	httpURL := strings.TrimSpace(cfg.OpenClawHTTPURL)

	cliFound := func() Check {
		return Check{ID: "brain_cli", Status: "ok", Label: "Brain (OpenClaw CLI)", Detail: "openclaw found"}
	}
	httpConfigured := func() Check {
		return Check{ID: "brain_http", Status: "ok", Label: "Brain (OpenClaw HTTP)", Detail: "configured"}
	}

	switch mode {
	case "cli":
		if _, err := lookPath(cli); err != nil {
			return "mock", []Check{{
				ID:     "brain_cli",
				Status: "warn",
				Label:  "Brain (OpenClaw CLI)",
				Detail: "openclaw not found; falling back to mock",
				Fix:    "Install OpenClaw or set OPENCLAW_ADAPTER_MODE=mock.",
			}}
		}
		return "cli", []Check{cliFound()}
	case "http":
		if httpURL == "" {
			return "http", []Check{{
				ID:     "brain_http",
				Status: "error",
				Label:  "Brain (OpenClaw HTTP)",
				Detail: "OPENCLAW_HTTP_URL is empty",
			}}
		}
		return "http", []Check{httpConfigured()}
	case "mock":
		return "mock", []Check{{
			ID:     "brain_mock",
			Status: "warn",
			Label:  "Brain (mock)",
			Detail: "Replies are placeholders.",
			Fix:    "Install OpenClaw and use OPENCLAW_ADAPTER_MODE=auto.",
		}}
	case "auto":
		if _, err := lookPath(cli); err == nil {
			return "cli", []Check{cliFound()}
		}
		if httpURL != "" {
			return "http", []Check{httpConfigured()}
		}
		return "mock", []Check{{
			ID:     "brain_mock",
			Status: "warn",
			Label:  "Brain (mock)",
			Detail: "OpenClaw not configured.",
			Fix:    "Install OpenClaw, or set OPENCLAW_HTTP_URL.",
		}}
	default:
		return "mock", []Check{{
			ID:     "brain_mode",
			Status: "warn",
			Label:  "Brain",
			Detail: "unknown OPENCLAW_ADAPTER_MODE; using mock",
		}}
	}
}
