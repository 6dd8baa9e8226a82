package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/imsgrelay/internal/policy"
)

// Sender delivers one text blob to one destination.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

// SendError reports a failed part. It is logged, never retried.
type SendError struct {
	DispatchID string
	RecordID   int64
	Part       int
	Total      int
	Err        error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send part %d/%d of record %d: %v", e.Part, e.Total, e.RecordID, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// IMsgSender sends through `imsg send`. Text is passed as a single argv
// element, never through a shell.
type IMsgSender struct {
	binaryPath string
	service    string
}

func NewIMsgSender(binaryPath, service string) *IMsgSender {
	return &IMsgSender{
		binaryPath: strings.TrimSpace(binaryPath),
		service:    strings.TrimSpace(service),
	}
}

func (s *IMsgSender) Send(ctx context.Context, to, text string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("destination is required")
	}
	args := []string{"send", "--to", to, "--text", text}
	if s.service != "" {
		args = append(args, "--service", s.service)
	}

	cmd := exec.CommandContext(ctx, s.binaryPath, args...)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errText := strings.TrimSpace(stderr.String()); errText != "" {
			return fmt.Errorf("imsg send: %w: %s", err, errText)
		}
		return fmt.Errorf("imsg send: %w", err)
	}
	return nil
}

// LogSender records parts instead of sending them (dry run).
type LogSender struct {
	logger *zap.Logger

	mu   sync.Mutex
	sent []string
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, to, text string) error {
	s.mu.Lock()
	s.sent = append(s.sent, text)
	s.mu.Unlock()
	s.logger.Info("dry run send",
		zap.String("to", to),
		zap.Int("chars", len([]rune(text))),
		zap.String("preview", policy.Preview(text, 80)),
	)
	return nil
}

func (s *LogSender) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}
