package policy

import (
	"context"
	"fmt"
)

// Policy maps cleaned inbound text to reply text. Implementations may call
// out to other services and are treated as fallible.
type Policy interface {
	Respond(ctx context.Context, text string) (string, error)
}

// Func adapts a plain function to Policy.
type Func func(ctx context.Context, text string) (string, error)

func (f Func) Respond(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// PolicyError classifies a failed policy call.
type PolicyError struct {
	Kind string // "error", "timeout", "panic"
	Err  error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy %s: %v", e.Kind, e.Err)
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}
