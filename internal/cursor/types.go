package cursor

import (
	"context"
	"fmt"
	"time"
)

// State is the persisted watermark: the highest record id fully processed.
type State struct {
	ID        int64     `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists the cursor. Only the poll loop writes to it.
type Store interface {
	// Load returns the persisted state and whether one exists.
	Load(ctx context.Context) (State, bool, error)
	Save(ctx context.Context, id int64) error
	Close() error
}

// PersistenceError reports that the cursor could not be read or written.
type PersistenceError struct {
	Backend string
	Op      string // "load", "save"
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("cursor %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
