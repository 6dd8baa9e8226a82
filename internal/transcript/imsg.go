package transcript

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// IMsgFetcher reads conversation history through the imsg CLI.
type IMsgFetcher struct {
	binaryPath string
	chatID     int64
	timeout    time.Duration
}

func NewIMsgFetcher(binaryPath string, chatID int64, timeout time.Duration) *IMsgFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &IMsgFetcher{
		binaryPath: strings.TrimSpace(binaryPath),
		chatID:     chatID,
		timeout:    timeout,
	}
}

func (f *IMsgFetcher) Fetch(ctx context.Context, limit int) ([]RawRecord, error) {
	if limit <= 0 {
		limit = 1
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	args := []string{
		"history",
		"--chat-id", strconv.FormatInt(f.chatID, 10),
		"--limit", strconv.Itoa(limit),
		"--json",
	}
	cmd := exec.CommandContext(ctx, f.binaryPath, args...)
	cmd.WaitDelay = time.Second
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			// exec.CommandContext may surface "signal: killed" instead of the deadline.
			return nil, &FetchError{Source: "imsg", Err: ctx.Err()}
		}
		errText := strings.TrimSpace(stderr.String())
		if errText != "" {
			return nil, &FetchError{Source: "imsg", Err: fmt.Errorf("%w: %s", err, errText)}
		}
		return nil, &FetchError{Source: "imsg", Err: err}
	}

	lines, err := SplitLines(stdout.Bytes())
	if err != nil {
		return nil, &FetchError{Source: "imsg", Err: err}
	}
	return lines, nil
}

var errNoRecords = errors.New("output contains no json records")

// SplitLines splits line-delimited transcript output. Output that is not
// blank but has no object-shaped line at all is rejected as malformed.
func SplitLines(out []byte) ([]RawRecord, error) {
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		lines     []RawRecord
		nonBlank  int
		objectish int
	)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		nonBlank++
		if line[0] == '{' {
			objectish++
		}
		lines = append(lines, RawRecord(bytes.Clone(line)))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read output: %w", err)
	}
	if nonBlank > 0 && objectish == 0 {
		return nil, errNoRecords
	}
	return lines, nil
}
