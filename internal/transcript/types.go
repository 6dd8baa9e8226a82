package transcript

import (
	"context"
	"fmt"
	"time"
)

// Record is one normalized inbound transcript entry.
type Record struct {
	ID     int64     `json:"id"`
	Text   string    `json:"text"`
	FromMe bool      `json:"is_from_me"`
	Sender string    `json:"sender,omitempty"`
	SentAt time.Time `json:"created_at"`
}

// RawRecord is a single line of transcript output before parsing.
type RawRecord []byte

// Fetcher returns the most recent records of one conversation, newest first.
type Fetcher interface {
	Fetch(ctx context.Context, limit int) ([]RawRecord, error)
}

// FetchError reports that the transcript source could not be read.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch error [%s]: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError describes why a single raw record was dropped.
type ParseError struct {
	Line   int
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error line %d: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse error line %d: %s", e.Line, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
