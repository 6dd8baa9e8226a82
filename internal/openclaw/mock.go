package openclaw

import (
	"context"
	"fmt"
	"strings"
)

// MockAdapter provides deterministic local replies when OpenClaw is unavailable.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Reply(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	base := strings.TrimSpace(req.Message)
	if base == "" {
		return Response{}, nil
	}
	return Response{Text: fmt.Sprintf("I heard you: %s", base)}, nil
}
