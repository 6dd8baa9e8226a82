package openclaw

import (
	"context"
	"errors"
	"fmt"
)

// FallbackAdapter attempts a primary adapter first and falls back on error.
type FallbackAdapter struct {
	primary  Adapter
	fallback Adapter
}

func NewFallbackAdapter(primary Adapter, fallback Adapter) *FallbackAdapter {
	return &FallbackAdapter{
		primary:  primary,
		fallback: fallback,
	}
}

func (a *FallbackAdapter) Reply(ctx context.Context, req Request) (Response, error) {
	if a.primary == nil {
		if a.fallback != nil {
			return a.fallback.Reply(ctx, req)
		}
		return Response{}, errors.New("fallback adapter misconfigured")
	}

	resp, err := a.primary.Reply(ctx, req)
	if err == nil {
		return resp, nil
	}
	// Cancelled or out of time: no fallback attempt.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return Response{}, err
	}
	if a.fallback == nil {
		return Response{}, err
	}

	fallbackResp, fallbackErr := a.fallback.Reply(ctx, req)
	if fallbackErr != nil {
		return Response{}, fmt.Errorf("primary adapter error: %w; fallback adapter error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}
