package policy

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Rule replies with Reply when the message contains any of Keywords as a
// whole word or phrase (case-insensitive).
type Rule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Reply    string   `yaml:"reply"`

	pattern *regexp.Regexp
}

type ruleFile struct {
	Default string `yaml:"default"`
	Rules   []Rule `yaml:"rules"`
}

// KeywordPolicy answers from a static rule table; first match wins.
// Default may contain one %q verb for the quoted inbound text.
type KeywordPolicy struct {
	rules    []Rule
	fallback string
}

func DefaultRules() []Rule {
	return []Rule{
		{Name: "greeting", Keywords: []string{"hello", "hi", "hey"}, Reply: "Hey! I'm here and watching this thread. Ask me anything."},
		{Name: "health", Keywords: []string{"test", "working", "are you there"}, Reply: "Yes, the relay is up and replying to new messages."},
		{Name: "help", Keywords: []string{"help", "what can you do"}, Reply: "Send me a question and I'll answer here. Long answers arrive in a few parts."},
	}
}

const defaultKeywordReply = "Message received: %q"

func NewKeywordPolicy(rules []Rule, def string) (*KeywordPolicy, error) {
	compiled := make([]Rule, 0, len(rules))
	for i, r := range rules {
		reply := strings.TrimSpace(r.Reply)
		if reply == "" {
			return nil, fmt.Errorf("rule %d (%s): reply is required", i, r.Name)
		}
		alts := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			kw = strings.TrimSpace(strings.ToLower(kw))
			if kw == "" {
				continue
			}
			alts = append(alts, regexp.QuoteMeta(kw))
		}
		if len(alts) == 0 {
			return nil, fmt.Errorf("rule %d (%s): at least one keyword is required", i, r.Name)
		}
		r.Reply = reply
		r.pattern = regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
		compiled = append(compiled, r)
	}

	def = strings.TrimSpace(def)
	if def == "" {
		def = defaultKeywordReply
	}
	return &KeywordPolicy{rules: compiled, fallback: def}, nil
}

// LoadKeywordPolicy reads a YAML rule file:
//
//	default: "Got %q"
//	rules:
//	  - name: greeting
//	    keywords: [hello, hi]
//	    reply: "Hey!"
func LoadKeywordPolicy(path string) (*KeywordPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return NewKeywordPolicy(f.Rules, f.Default)
}

func (p *KeywordPolicy) Respond(_ context.Context, text string) (string, error) {
	for _, r := range p.rules {
		if r.pattern.MatchString(text) {
			return r.Reply, nil
		}
	}
	return strings.Replace(p.fallback, "%q", strconv.Quote(text), 1), nil
}
