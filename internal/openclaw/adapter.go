package openclaw

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const DefaultSessionKey = "agent:main:main"

// Request is one inbound message routed to an OpenClaw agent session.
type Request struct {
	SessionKey string `json:"session_key"`
	Message    string `json:"message"`
}

// Response is the agent's final reply text.
type Response struct {
	Text string `json:"text"`
}

// Adapter bridges the relay with an OpenClaw agent.
type Adapter interface {
	Reply(ctx context.Context, req Request) (Response, error)
}

// Config controls adapter construction.
type Config struct {
	Mode       string
	HTTPURL    string
	CLIPath    string
	SessionKey string
	// Timeout is the agent-side budget passed to the CLI; the process
	// itself is allowed a few extra seconds.
	Timeout time.Duration
}

func NewAdapter(cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoAdapter(cfg), nil
	case "cli":
		if strings.TrimSpace(cfg.CLIPath) == "" {
			return nil, errors.New("openclaw CLI path is required for cli mode")
		}
		return NewCLIAdapter(cfg.CLIPath, cfg.Timeout), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("openclaw HTTP url is required for http mode")
		}
		return NewHTTPAdapter(cfg.HTTPURL, cfg.Timeout), nil
	case "mock":
		return NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported openclaw adapter mode %q", cfg.Mode)
	}
}

func newAutoAdapter(cfg Config) Adapter {
	var primary Adapter
	cliPath := strings.TrimSpace(cfg.CLIPath)
	if cliPath != "" {
		if _, err := exec.LookPath(cliPath); err == nil {
			primary = NewCLIAdapter(cliPath, cfg.Timeout)
		}
	}

	httpURL := strings.TrimSpace(cfg.HTTPURL)
	if httpURL != "" {
		h := NewHTTPAdapter(httpURL, cfg.Timeout)
		if primary == nil {
			return h
		}
		return NewFallbackAdapter(primary, h)
	}
	if primary != nil {
		return primary
	}
	return NewMockAdapter()
}

func sessionKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return DefaultSessionKey
	}
	return key
}
