package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/imsgrelay/internal/observability"
)

const (
	DefaultFallbackReply = "Sorry, I couldn't put a reply together just now. Please try again in a bit."
	DefaultAckReply      = "Got it. Message received."
)

type RouterOptions struct {
	Timeout       time.Duration
	FallbackReply string
	DefaultReply  string
	Logger        *zap.Logger
	Metrics       *observability.Metrics
}

// Router wraps a Policy so that every call yields a non-empty reply:
// failures, timeouts and panics become the fallback reply, empty output
// becomes the default acknowledgment.
type Router struct {
	policy   Policy
	timeout  time.Duration
	fallback string
	ack      string
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func NewRouter(p Policy, opts RouterOptions) *Router {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if strings.TrimSpace(opts.FallbackReply) == "" {
		opts.FallbackReply = DefaultFallbackReply
	}
	if strings.TrimSpace(opts.DefaultReply) == "" {
		opts.DefaultReply = DefaultAckReply
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		policy:   p,
		timeout:  opts.Timeout,
		fallback: strings.TrimSpace(opts.FallbackReply),
		ack:      strings.TrimSpace(opts.DefaultReply),
		logger:   logger.With(zap.String("component", "router")),
		metrics:  opts.Metrics,
	}
}

// Route never fails. The returned error, when non-nil, is a *PolicyError
// describing why the fallback reply was used.
func (r *Router) Route(ctx context.Context, text string) (string, error) {
	start := time.Now()
	out, err := r.call(ctx, text)
	r.metrics.ObserveStage(observability.StagePolicy, time.Since(start))

	if err != nil {
		var perr *PolicyError
		if !errors.As(err, &perr) {
			perr = &PolicyError{Kind: "error", Err: err}
		}
		r.metrics.Policy(perr.Kind)
		r.logger.Warn("policy failed; using fallback reply",
			zap.String("kind", perr.Kind),
			zap.String("input_preview", Preview(text, 60)),
			zap.Error(perr.Err),
		)
		return r.fallback, perr
	}

	out = strings.TrimSpace(out)
	if out == "" {
		r.metrics.Policy("empty")
		return r.ack, nil
	}
	r.metrics.Policy("ok")
	return out, nil
}

type result struct {
	text string
	err  error
}

func (r *Router) call(parent context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()

	// Buffered so an abandoned policy goroutine can still finish.
	done := make(chan result, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- result{err: &PolicyError{Kind: "panic", Err: fmt.Errorf("%v", v)}}
			}
		}()
		out, err := r.policy.Respond(ctx, text)
		done <- result{text: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() != nil && errors.Is(res.err, context.DeadlineExceeded) {
			return "", &PolicyError{Kind: "timeout", Err: res.err}
		}
		return res.text, res.err
	case <-ctx.Done():
		return "", &PolicyError{Kind: "timeout", Err: ctx.Err()}
	}
}
