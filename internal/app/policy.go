package app

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/imsgrelay/internal/config"
	"github.com/ent0n29/imsgrelay/internal/observability"
	"github.com/ent0n29/imsgrelay/internal/openclaw"
	"github.com/ent0n29/imsgrelay/internal/policy"
)

// newPolicy resolves POLICY_MODE into a reply policy and a short label
// describing the backend that will answer.
func newPolicy(cfg config.Config) (policy.Policy, string, error) {
	var (
		p     policy.Policy
		brain string
	)

	switch strings.ToLower(strings.TrimSpace(cfg.PolicyMode)) {
	case "keyword", "":
		var (
			kp  *policy.KeywordPolicy
			err error
		)
		if rules := strings.TrimSpace(cfg.PolicyRulesFile); rules != "" {
			kp, err = policy.LoadKeywordPolicy(rules)
			brain = "keyword (" + rules + ")"
		} else {
			kp, err = policy.NewKeywordPolicy(policy.DefaultRules(), "")
			brain = "keyword (defaults)"
		}
		if err != nil {
			return nil, "", fmt.Errorf("keyword policy init failed: %w", err)
		}
		p = kp
	case "openclaw":
		adapter, err := openclaw.NewAdapter(openclaw.Config{
			Mode:       cfg.OpenClawAdapterMode,
			HTTPURL:    cfg.OpenClawHTTPURL,
			CLIPath:    cfg.OpenClawCLIPath,
			SessionKey: cfg.OpenClawSessionKey,
			Timeout:    cfg.PolicyTimeout,
		})
		if err != nil {
			return nil, "", fmt.Errorf("openclaw adapter init failed: %w", err)
		}
		p = policy.NewOpenClawPolicy(adapter, cfg.OpenClawSessionKey)
		brain = "openclaw (" + strings.ToLower(strings.TrimSpace(cfg.OpenClawAdapterMode)) + ")"
	case "openai":
		op, err := policy.NewOpenAIPolicy(policy.OpenAIConfig{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			Model:        cfg.OpenAIModel,
			SystemPrompt: cfg.OpenAISystemPrompt,
		})
		if err != nil {
			return nil, "", fmt.Errorf("openai policy init failed: %w", err)
		}
		p = op
		brain = "openai (" + cfg.OpenAIModel + ")"
	default:
		return nil, "", fmt.Errorf("invalid POLICY_MODE: %q (expected keyword|openclaw|openai)", cfg.PolicyMode)
	}

	if cfg.PolicyGuard {
		p = policy.NewGuard(p, "")
	}
	return p, brain, nil
}

func newRouter(cfg config.Config, p policy.Policy, logger *zap.Logger, metrics *observability.Metrics) *policy.Router {
	return policy.NewRouter(p, policy.RouterOptions{
		Timeout:       cfg.PolicyTimeout,
		FallbackReply: cfg.PolicyFallbackReply,
		DefaultReply:  cfg.PolicyDefaultReply,
		Logger:        logger,
		Metrics:       metrics,
	})
}
