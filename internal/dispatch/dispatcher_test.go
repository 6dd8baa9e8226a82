package dispatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/ent0n29/imsgrelay/internal/events"
	"github.com/ent0n29/imsgrelay/internal/reply"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type sentPart struct {
	to   string
	text string
	at   time.Time
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentPart
	failOn map[string]error
	block  chan struct{}
}

func (s *fakeSender) Send(ctx context.Context, to, text string) error {
	s.mu.Lock()
	s.sent = append(s.sent, sentPart{to: to, text: text, at: time.Now()})
	err := s.failOn[text]
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *fakeSender) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.sent))
	for _, p := range s.sent {
		out = append(out, p.text)
	}
	return out
}

func parts(texts ...string) []reply.Part {
	out := make([]reply.Part, 0, len(texts))
	for i, t := range texts {
		out = append(out, reply.Part{Index: i + 1, Total: len(texts), Text: t, Sep: " "})
	}
	return out
}

func closeWithin(t *testing.T, d *Dispatcher, timeout time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return d.Close(ctx)
}

func TestDispatcherPreservesOrderAndSpacing(t *testing.T) {
	sender := &fakeSender{}
	delay := 20 * time.Millisecond
	d := New(sender, Options{
		Destination: "+15550001111",
		PartDelay:   delay,
		Logger:      zaptest.NewLogger(t),
	})

	if _, err := d.Dispatch(119, parts("a1", "a2")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if _, err := d.Dispatch(121, parts("b1")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := closeWithin(t, d, 2*time.Second); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if diff := cmp.Diff([]string{"a1", "a2", "b1"}, sender.texts()); diff != "" {
		t.Fatalf("send order mismatch (-want +got):\n%s", diff)
	}
	for i := 1; i < len(sender.sent); i++ {
		if gap := sender.sent[i].at.Sub(sender.sent[i-1].at); gap < delay {
			t.Fatalf("gap between sends %d and %d = %v, want >= %v", i-1, i, gap, delay)
		}
	}
	for _, p := range sender.sent {
		if p.to != "+15550001111" {
			t.Fatalf("destination = %q", p.to)
		}
	}
}

func TestDispatcherContinuesAfterSendError(t *testing.T) {
	sender := &fakeSender{failOn: map[string]error{"a2": errors.New("transport down")}}
	bus := events.NewBus(16)
	sub, cancel := bus.Subscribe()
	defer cancel()

	d := New(sender, Options{Destination: "x", Bus: bus})
	if _, err := d.Dispatch(5, parts("a1", "a2", "a3")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := closeWithin(t, d, 2*time.Second); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if diff := cmp.Diff([]string{"a1", "a2", "a3"}, sender.texts()); diff != "" {
		t.Fatalf("send attempts mismatch (-want +got):\n%s", diff)
	}

	var got []events.Type
	for len(sub) > 0 {
		evt := <-sub
		got = append(got, evt.Type)
		if evt.Type == events.TypePartFailed && (evt.Part != 2 || !strings.Contains(evt.Detail, "transport down")) {
			t.Fatalf("unexpected failure event: %+v", evt)
		}
	}
	want := []events.Type{events.TypePartSent, events.TypePartFailed, events.TypePartSent}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchDoesNotWaitForSends(t *testing.T) {
	release := make(chan struct{})
	sender := &fakeSender{block: release}
	d := New(sender, Options{Destination: "x", PartDelay: time.Second})

	start := time.Now()
	for i := int64(1); i <= 3; i++ {
		if _, err := d.Dispatch(i, parts("one", "two")); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("Dispatch blocked for %v", elapsed)
	}
	if d.Pending() < 5 {
		t.Fatalf("Pending = %d, want at least 5 queued", d.Pending())
	}

	close(release)
	err := closeWithin(t, d, 50*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close err = %v, want deadline exceeded", err)
	}
	if d.Pending() != 0 {
		t.Fatalf("queue not cleared after abandoned drain")
	}
	if _, err := d.Dispatch(9, parts("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Dispatch after close err = %v, want ErrClosed", err)
	}
}

func TestDispatcherSkipsBlankParts(t *testing.T) {
	sender := &fakeSender{}
	d := New(sender, Options{Destination: "x"})
	if _, err := d.Dispatch(1, parts("", "  ", "real")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if err := closeWithin(t, d, time.Second); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if diff := cmp.Diff([]string{"real"}, sender.texts()); diff != "" {
		t.Fatalf("sent mismatch (-want +got):\n%s", diff)
	}
}

func TestIMsgSenderPassesTextAsSingleArg(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "args")
	script := filepath.Join(dir, "imsg")
	body := "#!/bin/sh\nfor a in \"$@\"; do printf '%s\\n--\\n' \"$a\" >> " + out + "; done\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	s := NewIMsgSender(script, "iMessage")
	text := "hello $(whoami); `id` \"quoted\""
	if err := s.Send(context.Background(), "+15550001111", text); err != nil {
		t.Fatalf("Send: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read args: %v", err)
	}
	args := strings.Split(strings.TrimSuffix(string(data), "\n--\n"), "\n--\n")
	want := []string{"send", "--to", "+15550001111", "--text", text, "--service", "iMessage"}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Fatalf("argv mismatch (-want +got):\n%s", diff)
	}
}

func TestIMsgSenderFailure(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "imsg")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho 'no such buddy' >&2\nexit 3\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	err := NewIMsgSender(script, "").Send(context.Background(), "x", "hi")
	if err == nil || !strings.Contains(err.Error(), "no such buddy") {
		t.Fatalf("err = %v, want stderr text", err)
	}
	if err := NewIMsgSender(script, "").Send(context.Background(), " ", "hi"); err == nil {
		t.Fatalf("expected error for blank destination")
	}
}

func TestLogSenderRecords(t *testing.T) {
	s := NewLogSender(zaptest.NewLogger(t))
	_ = s.Send(context.Background(), "x", "first")
	_ = s.Send(context.Background(), "x", "second")
	if diff := cmp.Diff([]string{"first", "second"}, s.Sent()); diff != "" {
		t.Fatalf("sent mismatch (-want +got):\n%s", diff)
	}
}
