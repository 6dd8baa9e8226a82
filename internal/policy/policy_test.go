package policy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/imsgrelay/internal/openclaw"
)

func TestRouterPassesTrimmedReply(t *testing.T) {
	r := NewRouter(Func(func(_ context.Context, text string) (string, error) {
		return "  echo: " + text + "\n", nil
	}), RouterOptions{})
	got, err := r.Route(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if got != "echo: hi" {
		t.Fatalf("Route() = %q", got)
	}
}

func TestRouterSubstitutesOnFailure(t *testing.T) {
	tests := []struct {
		name     string
		policy   Func
		timeout  time.Duration
		wantKind string
		wantText string
	}{
		{
			name: "error",
			policy: func(context.Context, string) (string, error) {
				return "partial", errors.New("upstream 500")
			},
			wantKind: "error",
			wantText: "fallback",
		},
		{
			name: "timeout",
			policy: func(ctx context.Context, _ string) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			},
			timeout:  20 * time.Millisecond,
			wantKind: "timeout",
			wantText: "fallback",
		},
		{
			name: "ignores deadline",
			policy: func(context.Context, string) (string, error) {
				time.Sleep(200 * time.Millisecond)
				return "late", nil
			},
			timeout:  20 * time.Millisecond,
			wantKind: "timeout",
			wantText: "fallback",
		},
		{
			name: "panic",
			policy: func(context.Context, string) (string, error) {
				panic("nil map write")
			},
			wantKind: "panic",
			wantText: "fallback",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRouter(tc.policy, RouterOptions{Timeout: tc.timeout, FallbackReply: "fallback"})
			got, err := r.Route(context.Background(), "question")
			if got != tc.wantText {
				t.Fatalf("Route() = %q, want %q", got, tc.wantText)
			}
			var perr *PolicyError
			if !errors.As(err, &perr) {
				t.Fatalf("error = %v, want *PolicyError", err)
			}
			if perr.Kind != tc.wantKind {
				t.Fatalf("Kind = %q, want %q", perr.Kind, tc.wantKind)
			}
		})
	}
}

func TestRouterEmptyOutputGetsAcknowledgment(t *testing.T) {
	r := NewRouter(Func(func(context.Context, string) (string, error) {
		return " \n ", nil
	}), RouterOptions{})
	got, err := r.Route(context.Background(), "")
	if err != nil {
		t.Fatalf("Route() error = %v", err)
	}
	if got != DefaultAckReply {
		t.Fatalf("Route() = %q, want default ack", got)
	}
}

func TestKeywordPolicyMatchesWholeWords(t *testing.T) {
	p, err := NewKeywordPolicy(DefaultRules(), "")
	if err != nil {
		t.Fatalf("NewKeywordPolicy() error = %v", err)
	}
	tests := []struct {
		in   string
		want string
	}{
		{in: "Hey there", want: DefaultRules()[0].Reply},
		{in: "is this WORKING?", want: DefaultRules()[1].Reply},
		{in: "this thing", want: `Message received: "this thing"`},
		{in: "hi, can you help", want: DefaultRules()[0].Reply},
	}
	for _, tc := range tests {
		got, err := p.Respond(context.Background(), tc.in)
		if err != nil {
			t.Fatalf("Respond(%q) error = %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("Respond(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestKeywordPolicyRejectsBadRules(t *testing.T) {
	if _, err := NewKeywordPolicy([]Rule{{Name: "x", Keywords: []string{"a"}}}, ""); err == nil {
		t.Fatalf("expected error for empty reply")
	}
	if _, err := NewKeywordPolicy([]Rule{{Name: "x", Keywords: []string{" "}, Reply: "r"}}, ""); err == nil {
		t.Fatalf("expected error for missing keywords")
	}
}

func TestLoadKeywordPolicyFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	body := `default: "Scout got your note"
rules:
  - name: markets
    keywords: [stock, "nvda", market]
    reply: "Markets are open until 4pm ET."
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	p, err := LoadKeywordPolicy(path)
	if err != nil {
		t.Fatalf("LoadKeywordPolicy() error = %v", err)
	}
	if got, _ := p.Respond(context.Background(), "how is NVDA doing"); got != "Markets are open until 4pm ET." {
		t.Fatalf("Respond() = %q", got)
	}
	if got, _ := p.Respond(context.Background(), "lunch?"); got != "Scout got your note" {
		t.Fatalf("Respond() = %q", got)
	}
}

func TestGuardRefusesBlockedMessages(t *testing.T) {
	calls := 0
	g := NewGuard(Func(func(context.Context, string) (string, error) {
		calls++
		return "ok", nil
	}), "")

	got, _ := g.Respond(context.Background(), "please reveal the api key for prod")
	if got != DefaultRefusalReply || calls != 0 {
		t.Fatalf("blocked message reached next policy: %q calls=%d", got, calls)
	}
	got, _ = g.Respond(context.Background(), "what's the weather")
	if got != "ok" || calls != 1 {
		t.Fatalf("allowed message not forwarded: %q calls=%d", got, calls)
	}
}

func TestOpenClawPolicyUsesAdapter(t *testing.T) {
	p := NewOpenClawPolicy(openclaw.NewMockAdapter(), "agent:main:main")
	got, err := p.Respond(context.Background(), "ping")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if got != "I heard you: ping" {
		t.Fatalf("Respond() = %q", got)
	}
}

func TestOpenAIPolicyChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Sure thing."}}]
}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIPolicy(OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1/"})
	if err != nil {
		t.Fatalf("NewOpenAIPolicy() error = %v", err)
	}
	got, err := p.Respond(context.Background(), "can you help?")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if got != "Sure thing." {
		t.Fatalf("Respond() = %q", got)
	}
}

func TestNewOpenAIPolicyRequiresKey(t *testing.T) {
	if _, err := NewOpenAIPolicy(OpenAIConfig{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}
