package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// appleEpoch is the reference date used by the Messages database.
var appleEpoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

const chatDBHistoryQuery = `SELECT m.ROWID, m.text, m.is_from_me, COALESCE(h.id, ''), COALESCE(m.date, 0)
FROM message m
JOIN chat_message_join cmj ON cmj.message_id = m.ROWID
LEFT JOIN handle h ON h.ROWID = m.handle_id
WHERE cmj.chat_id = ?
ORDER BY m.ROWID DESC
LIMIT ?`

// ChatDBFetcher reads the Messages sqlite database directly, read-only.
// It emits the same line shape as the imsg CLI so both share one normalizer.
type ChatDBFetcher struct {
	db      *sql.DB
	chatID  int64
	timeout time.Duration
}

// OpenChatDB opens a Messages database in read-only mode.
func OpenChatDB(path string, chatID int64, timeout time.Duration) (*ChatDBFetcher, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("chat database path is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open chat database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("chat database ping failed: %w", err)
	}
	// The Messages app writes concurrently; one reader connection is plenty.
	db.SetMaxOpenConns(1)

	return &ChatDBFetcher{db: db, chatID: chatID, timeout: timeout}, nil
}

type chatDBLine struct {
	ID        int64   `json:"id"`
	Text      *string `json:"text"`
	IsFromMe  bool    `json:"is_from_me"`
	Sender    string  `json:"sender,omitempty"`
	CreatedAt string  `json:"created_at,omitempty"`
}

func (f *ChatDBFetcher) Fetch(ctx context.Context, limit int) ([]RawRecord, error) {
	if limit <= 0 {
		limit = 1
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	rows, err := f.db.QueryContext(ctx, chatDBHistoryQuery, f.chatID, limit)
	if err != nil {
		return nil, &FetchError{Source: "chatdb", Err: fmt.Errorf("query failed: %w", err)}
	}
	defer rows.Close()

	var out []RawRecord
	for rows.Next() {
		var (
			id     int64
			text   sql.NullString
			fromMe int64
			sender string
			date   int64
		)
		if err := rows.Scan(&id, &text, &fromMe, &sender, &date); err != nil {
			return nil, &FetchError{Source: "chatdb", Err: fmt.Errorf("scan failed: %w", err)}
		}
		line := chatDBLine{
			ID:       id,
			IsFromMe: fromMe != 0,
			Sender:   sender,
		}
		if text.Valid {
			s := text.String
			line.Text = &s
		}
		if date != 0 {
			line.CreatedAt = appleTime(date).Format(time.RFC3339Nano)
		}
		raw, err := json.Marshal(line)
		if err != nil {
			return nil, &FetchError{Source: "chatdb", Err: fmt.Errorf("encode row %d: %w", id, err)}
		}
		out = append(out, RawRecord(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, &FetchError{Source: "chatdb", Err: fmt.Errorf("rows iteration error: %w", err)}
	}
	return out, nil
}

func (f *ChatDBFetcher) Close() error {
	return f.db.Close()
}

// appleTime converts a Messages date column. Newer databases store
// nanoseconds since 2001-01-01, older ones seconds.
func appleTime(v int64) time.Time {
	if v > 1_000_000_000_000 || v < -1_000_000_000_000 {
		return appleEpoch.Add(time.Duration(v))
	}
	return appleEpoch.Add(time.Duration(v) * time.Second)
}
