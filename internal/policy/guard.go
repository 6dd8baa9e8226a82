package policy

import (
	"context"
	"regexp"
	"strings"
)

const DefaultRefusalReply = "I can't help with that one."

var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+-rf\s+/(?:\s|$)`),
	regexp.MustCompile(`(?i)\b(sudo\s+)?cat\s+.*(?:id_rsa|id_ed25519|\.env|auth\.json)`),
	regexp.MustCompile(`(?i)\b(exfiltrate|steal|dump credentials|leak secrets?)\b`),
	regexp.MustCompile(`(?i)\b(print|show|reveal)\b.*\b(api[_ -]?key|token|password|secret)\b`),
	regexp.MustCompile(`(?i)\bignore (all )?(previous|prior) instructions\b`),
}

// Verdict is the outcome of screening one inbound message.
type Verdict struct {
	Blocked bool
	Reason  string
}

// Screen flags messages that ask an agent for destructive actions or secrets.
func Screen(text string) Verdict {
	in := strings.TrimSpace(text)
	for _, re := range blockedPatterns {
		if re.MatchString(in) {
			return Verdict{Blocked: true, Reason: "destructive or secret-exfiltration request"}
		}
	}
	return Verdict{}
}

// Guard answers blocked messages itself and passes the rest to next.
type Guard struct {
	next    Policy
	refusal string
}

func NewGuard(next Policy, refusal string) *Guard {
	refusal = strings.TrimSpace(refusal)
	if refusal == "" {
		refusal = DefaultRefusalReply
	}
	return &Guard{next: next, refusal: refusal}
}

func (g *Guard) Respond(ctx context.Context, text string) (string, error) {
	if Screen(text).Blocked {
		return g.refusal, nil
	}
	return g.next.Respond(ctx, text)
}
