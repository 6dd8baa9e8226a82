package openclaw

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CLIAdapter sends the message into an agent session with
// `openclaw sessions send` and extracts the reply.
type CLIAdapter struct {
	binaryPath string
	timeout    time.Duration
}

func NewCLIAdapter(binaryPath string, timeout time.Duration) *CLIAdapter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CLIAdapter{
		binaryPath: strings.TrimSpace(binaryPath),
		timeout:    timeout,
	}
}

func (a *CLIAdapter) Reply(ctx context.Context, req Request) (Response, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return Response{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout+5*time.Second)
	defer cancel()

	args := []string{
		"sessions", "send",
		"--sessionKey", sessionKey(req.SessionKey),
		"--message", message,
		"--timeoutSeconds", strconv.Itoa(int(a.timeout / time.Second)),
	}

	cmd := exec.CommandContext(ctx, a.binaryPath, args...)
	cmd.WaitDelay = time.Second
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			// exec.CommandContext may surface "signal: killed" instead of context cancellation.
			return Response{}, ctx.Err()
		}
		errText := strings.TrimSpace(stderr.String())
		if errText == "" {
			errText = strings.TrimSpace(stdout.String())
		}
		if errText != "" {
			return Response{}, fmt.Errorf("openclaw cli failed: %w: %s", err, errText)
		}
		return Response{}, fmt.Errorf("openclaw cli failed: %w", err)
	}

	text := parseCLIReply(stdout.String())
	if text == "" {
		text = CleanReply(stdout.String())
	}
	return Response{Text: text}, nil
}

var metadataLine = regexp.MustCompile(`^(Session.*|Agent.*|\[.*\])$`)

// CleanReply drops the session banner and bracketed status lines the CLI
// prints around the agent's text.
func CleanReply(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if metadataLine.MatchString(strings.TrimSpace(line)) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func parseCLIReply(raw string) string {
	obj, ok := parseJSONObject(raw)
	if !ok {
		return ""
	}

	payloads := payloadArrayFrom(obj)
	if len(payloads) == 0 {
		return pickStringField(obj, "reply", "text", "output", "message")
	}

	parts := make([]string, 0, len(payloads))
	for _, payload := range payloads {
		if text := pickStringField(payload, "text"); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func payloadArrayFrom(obj map[string]any) []map[string]any {
	if direct := asObjectArray(obj["payloads"]); len(direct) > 0 {
		return direct
	}
	if result, ok := obj["result"].(map[string]any); ok {
		return asObjectArray(result["payloads"])
	}
	return nil
}

func asObjectArray(v any) []map[string]any {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func pickStringField(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func parseJSONObject(raw string) (map[string]any, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		return obj, true
	}

	// Log lines may precede the JSON block.
	if start := strings.LastIndex(raw, "\n{"); start >= 0 {
		if err := json.Unmarshal([]byte(raw[start+1:]), &obj); err == nil {
			return obj, true
		}
	}
	return nil, false
}
